package revdb

import (
	"fmt"
	"log/slog"
	"slices"
)

type (
	// Change describes one committed document mutation.
	Change struct {
		DocID    string
		RevID    RevID
		Sequence uint64
		BodySize int
		Op       Op
	}

	Op int
)

const (
	OpNone  Op = 0
	OpPut   Op = 1
	OpPurge Op = 2
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpPurge:
		return "purge"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

type observer struct {
	f func([]Change)
}

// Observe registers f to receive the changes of every committed outermost
// transaction, in commit order. f runs synchronously on the committing
// goroutine after the commit, outside any transaction; it must not call
// Begin on the same goroutine's open transaction. The returned function
// unregisters f.
func (db *DB) Observe(f func([]Change)) (cancel func()) {
	o := &observer{f: f}
	db.obsMu.Lock()
	db.observers = append(db.observers, o)
	db.obsMu.Unlock()
	return func() {
		db.obsMu.Lock()
		defer db.obsMu.Unlock()
		db.observers = slices.DeleteFunc(db.observers, func(x *observer) bool { return x == o })
	}
}

func (db *DB) notify(changes []Change) {
	db.obsMu.Lock()
	obs := slices.Clone(db.observers)
	db.obsMu.Unlock()
	for _, o := range obs {
		func() {
			defer func() {
				if p := recover(); p != nil {
					db.logger.Error("revdb: observer panicked", slog.String("db", db.path), slog.Any("panic", p))
				}
			}()
			o.f(slices.Clone(changes))
		}()
	}
}
