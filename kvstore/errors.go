package kvstore

import (
	"github.com/pkg/errors"
)

// Kind classifies a store error per the taxonomy in the design: Io,
// Corrupt and CodecError. Recovery swallows Corrupt and truncates on it;
// outside recovery it reaches callers of Open (an unparsable key-log line
// during replay) and Get (an unknown encoding tag).
type Kind int

const (
	// KindIO covers failures of the underlying file operations.
	KindIO Kind = iota + 1
	// KindCorrupt covers a malformed key-log entry, an unknown encoding
	// tag, or a read or checksum failure hit during recovery. Recovery
	// truncates on it instead of returning it.
	KindCorrupt
	// KindCodec covers an encode of an unsupported value or a decode
	// failure on a payload that is not itself corrupt.
	KindCodec
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCorrupt:
		return "corrupt"
	case KindCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// StoreError is the concrete error type returned by every public
// operation that can fail. Wrap with errors.Is(err, ErrIO) and friends,
// or inspect Kind directly.
type StoreError struct {
	Kind Kind
	Op   string
	Path string
	err  error
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.err.Error()
	}
	return e.Op + ": " + e.err.Error()
}

func (e *StoreError) Unwrap() error { return e.err }

// Sentinels usable with errors.Is against the wrapped Kind.
var (
	ErrIO     = errors.New("kvstore: io error")
	ErrCorrupt = errors.New("kvstore: corrupt entry")
	ErrCodec  = errors.New("kvstore: codec error")
)

func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrIO:
		return e.Kind == KindIO
	case ErrCorrupt:
		return e.Kind == KindCorrupt
	case ErrCodec:
		return e.Kind == KindCodec
	}
	return false
}

// errFile wraps an I/O-class failure with the operation and path it
// occurred under.
func errFile(err error, path, op string) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: KindIO, Op: op, Path: path, err: errors.WithStack(err)}
}

// errIOMsg builds an I/O-class error from a message alone, for failures
// that aren't wrapping an underlying *os.PathError (e.g. a lock already
// held).
func errIOMsg(path, op, msg string) error {
	return &StoreError{Kind: KindIO, Op: op, Path: path, err: errors.New(msg)}
}

// errCorrupt wraps a parse failure of a key-log entry or an unknown
// encoding tag. The recovery pass swallows it; replay during Open and
// the decode in Get return it.
func errCorrupt(err error, op string) error {
	if err == nil {
		err = errors.New(op)
	}
	return &StoreError{Kind: KindCorrupt, Op: op, err: errors.WithStack(err)}
}

// errCodec wraps an encode/decode failure.
func errCodec(err error, op string) error {
	return &StoreError{Kind: KindCodec, Op: op, err: errors.WithStack(err)}
}
