package revdb

import (
	"encoding/hex"
	"log/slog"
	"strings"
	"unicode/utf8"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func nonNil[T comparable](v T) T {
	var zero T
	if v == zero {
		panic("nil")
	}
	return v
}

func splitByte(s string, sep byte) (string, string, bool) {
	i := strings.IndexByte(s, sep)
	if i < 0 {
		return s, "", false
	} else {
		return s[:i], s[i+1:], true
	}
}

func rpad(s string, n int, pad rune) string {
	rem := n - len(s)
	if rem <= 0 {
		return s
	}
	return s + strings.Repeat(string(pad), rem)
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexAttr(key string, b []byte) slog.Attr {
	return slog.String(key, hexstr(b))
}

// printableID returns docID as-is when it is printable, or hex otherwise.
func printableID(docID string) string {
	for _, r := range docID {
		if r < 0x20 || r == 0x7F || r == utf8.RuneError {
			return "0x" + hex.EncodeToString([]byte(docID))
		}
	}
	return docID
}
