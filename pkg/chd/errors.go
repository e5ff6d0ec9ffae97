package chd

import (
	"errors"
	"fmt"

	"github.com/samcharles93/chdkit/pkg/libchd"
)

// Kind classifies a failure.
type Kind int

const (
	KindOutOfMemory Kind = iota + 1
	KindInvalidArgument
	KindDataInvalid
	KindNotFound
	KindNotWritable
	KindUnsupported
	KindParentRequired
	KindParentInvalid
	KindIOFailure
	KindNotSupportedOperation
	KindClosedSession
	KindOutOfRange
	KindInvariantViolation
	KindAllocationFailure
	KindInvalidTag
)

var (
	ErrOutOfMemory           = errors.New("out of memory")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrDataInvalid           = errors.New("invalid data")
	ErrNotFound              = errors.New("not found")
	ErrNotWritable           = errors.New("not writable")
	ErrUnsupported           = errors.New("unsupported")
	ErrParentRequired        = errors.New("parent required")
	ErrParentInvalid         = errors.New("invalid parent")
	ErrIOFailure             = errors.New("i/o failure")
	ErrNotSupportedOperation = errors.New("operation not supported")
	ErrClosedSession         = errors.New("session is closed")
	ErrOutOfRange            = errors.New("out of range")
	ErrInvariantViolation    = errors.New("invariant violation")
	ErrAllocationFailure     = errors.New("allocation failure")
	ErrInvalidTag            = errors.New("invalid metadata tag")
)

var errNegativeOffset = errors.New("negative offset")

var kindErrors = map[Kind]error{
	KindOutOfMemory:           ErrOutOfMemory,
	KindInvalidArgument:       ErrInvalidArgument,
	KindDataInvalid:           ErrDataInvalid,
	KindNotFound:              ErrNotFound,
	KindNotWritable:           ErrNotWritable,
	KindUnsupported:           ErrUnsupported,
	KindParentRequired:        ErrParentRequired,
	KindParentInvalid:         ErrParentInvalid,
	KindIOFailure:             ErrIOFailure,
	KindNotSupportedOperation: ErrNotSupportedOperation,
	KindClosedSession:         ErrClosedSession,
	KindOutOfRange:            ErrOutOfRange,
	KindInvariantViolation:    ErrInvariantViolation,
	KindAllocationFailure:     ErrAllocationFailure,
	KindInvalidTag:            ErrInvalidTag,
}

func (k Kind) String() string {
	if err, ok := kindErrors[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every File operation. It matches its Kind's sentinel
// and the underlying engine status with errors.Is.
type Error struct {
	Kind  Kind
	Op    string
	Index int64
	Limit int64
	Err   error
}

func (e *Error) Error() string {
	msg := "chd: " + e.Op + ": " + e.Kind.String()
	if e.Kind == KindOutOfRange {
		msg += fmt.Sprintf(" (index %d, limit %d)", e.Index, e.Limit)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if k, ok := kindErrors[e.Kind]; ok {
		errs = append(errs, k)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the Kind carried by err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op, Index: -1, Limit: -1}
}

func outOfRange(op string, index, limit uint64) *Error {
	return &Error{Kind: KindOutOfRange, Op: op, Index: clampInt64(index), Limit: clampInt64(limit)}
}

func clampInt64(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}

// translate converts an engine failure into an *Error. Engine failures that
// are not a libchd.Status are reported as KindIOFailure.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var st libchd.Status
	if !errors.As(err, &st) {
		e := newError(KindIOFailure, op)
		e.Err = err
		return e
	}
	if st == libchd.StatusNone {
		return nil
	}
	e := newError(statusKind(st), op)
	e.Err = st
	return e
}

// statusKind maps an engine status to its Kind. Statuses the engine must
// never produce through this layer, metadata-not-found included, panic.
func statusKind(st libchd.Status) Kind {
	switch st {
	case libchd.StatusOutOfMemory:
		return KindOutOfMemory
	case libchd.StatusInvalidParameter:
		return KindInvalidArgument
	case libchd.StatusInvalidFile, libchd.StatusInvalidData:
		return KindDataInvalid
	case libchd.StatusFileNotFound:
		return KindNotFound
	case libchd.StatusFileNotWriteable:
		return KindNotWritable
	case libchd.StatusUnsupportedVersion, libchd.StatusUnsupportedFormat:
		return KindUnsupported
	case libchd.StatusRequiresParent:
		return KindParentRequired
	case libchd.StatusInvalidParent:
		return KindParentInvalid
	case libchd.StatusReadError, libchd.StatusWriteError, libchd.StatusCodecError,
		libchd.StatusHunkOutOfRange, libchd.StatusDecompressionError, libchd.StatusCompressionError:
		return KindIOFailure
	case libchd.StatusNotSupported:
		return KindNotSupportedOperation
	case libchd.StatusMetadataNotFound, libchd.StatusInvalidMetadata, libchd.StatusInvalidMetadataSize,
		libchd.StatusInvalidState, libchd.StatusCantCreateFile, libchd.StatusCantVerify,
		libchd.StatusVerifyIncomplete, libchd.StatusOperationPending, libchd.StatusNoAsyncOperation,
		libchd.StatusNoInterface:
		panic(fmt.Sprintf("chd: engine status %q not handled by the access layer", st.Error()))
	}
	panic(fmt.Sprintf("chd: unknown engine status %d", int(st)))
}
