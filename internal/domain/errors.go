package domain

import "fmt"

// ErrorKind classifies failures so callers can decide between fallback and failing the request.
type ErrorKind string

const (
	KindStorage    ErrorKind = "storage"
	KindEmbedding  ErrorKind = "embedding"
	KindGeneration ErrorKind = "generation"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
)

// Error is the error type returned across package boundaries.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrStorage    = &Error{Kind: KindStorage}
	ErrEmbedding  = &Error{Kind: KindEmbedding}
	ErrGeneration = &Error{Kind: KindGeneration}
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

func StorageError(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

func EmbeddingError(op string, err error) error {
	return &Error{Kind: KindEmbedding, Op: op, Err: err}
}

func GenerationError(op string, err error) error {
	return &Error{Kind: KindGeneration, Op: op, Err: err}
}

func ValidationError(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf("%s", msg)}
}

func NotFoundError(op string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}
