package revdb

import (
	"fmt"
	"io/fs"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/dgraph-io/badger/v4"
	"go.etcd.io/bbolt"
)

// ErrorDomain identifies where an error originated.
type ErrorDomain int

const (
	EngineDomain  ErrorDomain = 1 // revdb itself
	StorageDomain ErrorDomain = 2 // bolt or badger
	POSIXDomain   ErrorDomain = 3 // host OS, Code is an errno
)

// ErrorCode values in EngineDomain.
type ErrorCode int

const (
	AssertionFailed ErrorCode = iota + 1
	Unimplemented
	UnsupportedEncryption
	BadRevisionID
	CorruptRevisionData
	NotOpen
	NotFound
	Conflict
	InvalidParameter
	UnexpectedError
	CantOpenFile
	IOError
	CommitFailed
	CorruptData
	Busy
	OutsideTransaction
	TransactionNotClosed
	UnsupportedOperation
	NotADatabase
	WrongFormat
	CryptoError
)

// Codes in StorageDomain. Neither bolt nor badger exposes numeric codes, so
// their sentinel errors are mapped onto this fixed table.
const (
	StorageTimeout ErrorCode = iota + 1
	StorageCorrupt
	StorageNotOpen
	StorageReadOnly
	StorageTxClosed
	StorageTxTooBig
	StorageConflict
	StorageValueTooLarge
	StorageOther
)

var engineMessages = map[ErrorCode]string{
	AssertionFailed:       "internal assertion failure",
	Unimplemented:         "unimplemented",
	UnsupportedEncryption: "unsupported encryption algorithm",
	BadRevisionID:         "invalid revision ID syntax",
	CorruptRevisionData:   "corrupt revision data",
	NotOpen:               "database not open",
	NotFound:              "not found",
	Conflict:              "conflict",
	InvalidParameter:      "invalid parameter",
	UnexpectedError:       "unexpected exception",
	CantOpenFile:          "can't open file",
	IOError:               "file I/O error",
	CommitFailed:          "transaction commit failed",
	CorruptData:           "data is corrupted",
	Busy:                  "database busy/locked",
	OutsideTransaction:    "must be called during a transaction",
	TransactionNotClosed:  "database has open transactions",
	UnsupportedOperation:  "unsupported operation for this database type",
	NotADatabase:          "file is not a database, or encryption key is wrong",
	WrongFormat:           "database exists but not in the format/storage requested",
	CryptoError:           "encryption/decryption error",
}

var storageMessages = map[ErrorCode]string{
	StorageTimeout:       "database lock timeout",
	StorageCorrupt:       "database disk image is malformed",
	StorageNotOpen:       "database not open",
	StorageReadOnly:      "attempt to write a readonly database",
	StorageTxClosed:      "transaction closed",
	StorageTxTooBig:      "transaction too big",
	StorageConflict:      "transaction conflict",
	StorageValueTooLarge: "value too large",
	StorageOther:         "storage engine error",
}

// ErrorMessage returns the fixed human-readable message for a (domain, code)
// pair. Code 0 means "no error" and yields an empty string.
func ErrorMessage(domain ErrorDomain, code int) string {
	if code == 0 {
		return ""
	}
	switch domain {
	case EngineDomain:
		if msg, ok := engineMessages[ErrorCode(code)]; ok {
			return msg
		}
		return "unknown error"
	case StorageDomain:
		if msg, ok := storageMessages[ErrorCode(code)]; ok {
			return msg
		}
		return "unknown error"
	case POSIXDomain:
		if code < 0 {
			return "unknown error"
		}
		return syscall.Errno(code).Error()
	default:
		return "unknown error domain"
	}
}

func (d ErrorDomain) String() string {
	switch d {
	case EngineDomain:
		return "revdb"
	case StorageDomain:
		return "storage"
	case POSIXDomain:
		return "posix"
	default:
		return fmt.Sprintf("domain(%d)", int(d))
	}
}

// Error is the structured error returned by every public operation.
type Error struct {
	Domain  ErrorDomain
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = ErrorMessage(e.Domain, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Domain, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Domain, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same domain and code, so the sentinels below
// work with errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Domain == e.Domain && t.Code == e.Code
}

var (
	ErrNotFound             = &Error{Domain: EngineDomain, Code: int(NotFound)}
	ErrConflict             = &Error{Domain: EngineDomain, Code: int(Conflict)}
	ErrOutsideTransaction   = &Error{Domain: EngineDomain, Code: int(OutsideTransaction)}
	ErrTransactionNotClosed = &Error{Domain: EngineDomain, Code: int(TransactionNotClosed)}
	ErrInvalidParameter     = &Error{Domain: EngineDomain, Code: int(InvalidParameter)}
	ErrBadRevisionID        = &Error{Domain: EngineDomain, Code: int(BadRevisionID)}
	ErrCorruptData          = &Error{Domain: EngineDomain, Code: int(CorruptData)}
	ErrNotADatabase         = &Error{Domain: EngineDomain, Code: int(NotADatabase)}
	ErrWrongFormat          = &Error{Domain: EngineDomain, Code: int(WrongFormat)}
	ErrBusy                 = &Error{Domain: EngineDomain, Code: int(Busy)}
	ErrNotOpen              = &Error{Domain: EngineDomain, Code: int(NotOpen)}
	ErrFileExists           = &Error{Domain: POSIXDomain, Code: int(syscall.EEXIST)}
)

func engineErr(code ErrorCode, cause error) *Error {
	return &Error{Domain: EngineDomain, Code: int(code), Err: cause}
}

func engineErrf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Domain: EngineDomain, Code: int(code), Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) *Error {
	return engineErrf(NotFound, format, args...)
}

// storageErr converts a native bolt/badger error into an *Error. Errors that
// are already structured pass through unchanged.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	code := StorageOther
	switch {
	case errors.Is(err, bbolt.ErrTimeout):
		code = StorageTimeout
	case errors.Is(err, bbolt.ErrInvalid), errors.Is(err, bbolt.ErrChecksum), errors.Is(err, bbolt.ErrVersionMismatch):
		code = StorageCorrupt
	case errors.Is(err, bbolt.ErrDatabaseNotOpen), errors.Is(err, badger.ErrDBClosed):
		code = StorageNotOpen
	case errors.Is(err, bbolt.ErrDatabaseReadOnly), errors.Is(err, bbolt.ErrTxNotWritable), errors.Is(err, badger.ErrReadOnlyTxn):
		code = StorageReadOnly
	case errors.Is(err, bbolt.ErrTxClosed), errors.Is(err, badger.ErrDiscardedTxn):
		code = StorageTxClosed
	case errors.Is(err, badger.ErrTxnTooBig):
		code = StorageTxTooBig
	case errors.Is(err, badger.ErrConflict):
		code = StorageConflict
	case errors.Is(err, bbolt.ErrValueTooLarge), errors.Is(err, bbolt.ErrKeyTooLarge):
		code = StorageValueTooLarge
	default:
		if perr := posixErr(err); perr != nil {
			return perr
		}
	}
	return &Error{Domain: StorageDomain, Code: int(code), Message: err.Error(), Err: err}
}

// posixErr extracts an errno from filesystem errors, or returns nil.
func posixErr(err error) *Error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &Error{Domain: POSIXDomain, Code: int(errno), Err: err}
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		switch {
		case oserror.IsExist(err):
			return &Error{Domain: POSIXDomain, Code: int(syscall.EEXIST), Err: err}
		case oserror.IsNotExist(err):
			return &Error{Domain: POSIXDomain, Code: int(syscall.ENOENT), Err: err}
		case oserror.IsPermission(err):
			return &Error{Domain: POSIXDomain, Code: int(syscall.EACCES), Err: err}
		}
	}
	return nil
}

// ioErr classifies a host filesystem failure, falling back to EngineDomain
// IOError when no errno is available.
func ioErr(err error) error {
	if err == nil {
		return nil
	}
	if perr := posixErr(err); perr != nil {
		return perr
	}
	return engineErr(IOError, err)
}

// IsTransient reports whether the operation that returned err may succeed if
// retried unchanged.
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Domain {
	case EngineDomain:
		return ErrorCode(e.Code) == Busy
	case StorageDomain:
		switch ErrorCode(e.Code) {
		case StorageTimeout, StorageConflict:
			return true
		}
	case POSIXDomain:
		switch syscall.Errno(e.Code) {
		case syscall.EAGAIN, syscall.EBUSY, syscall.EINTR, syscall.ETIMEDOUT:
			return true
		}
	}
	return false
}

// DataError describes undecodable stored bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &Error{
		Domain: EngineDomain,
		Code:   int(CorruptRevisionData),
		Err:    &DataError{data, off, err, fmt.Sprintf(format, args...)},
	}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// DocError attaches a document ID (and optionally a revision) to an error.
type DocError struct {
	DocID string
	RevID RevID
	Msg   string
	Err   error
}

func (e *DocError) Unwrap() error {
	return e.Err
}

func (e *DocError) Error() string {
	s := fmt.Sprintf("doc %q", e.DocID)
	if e.RevID != "" {
		s += " rev " + string(e.RevID)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func docErr(docID string, revID RevID, code ErrorCode, msg string) *Error {
	return &Error{
		Domain: EngineDomain,
		Code:   int(code),
		Err:    &DocError{DocID: docID, RevID: revID, Msg: msg},
	}
}

// catch converts an *Error panic raised below an API boundary into a return
// value. Other panics propagate.
func catch(errp *error) {
	if p := recover(); p != nil {
		if e, ok := p.(*Error); ok {
			*errp = e
			return
		}
		panic(p)
	}
}
