package ingest

import "fmt"

// Kind classifies a fatal ingestion failure.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindStorage
	KindThumbnail
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindStorage:
		return "storage"
	case KindThumbnail:
		return "thumbnail"
	case KindPersistence:
		return "persistence"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a fatal ingestion failure. No throw record exists when one is returned.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }
