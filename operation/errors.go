package operation

import "github.com/pkg/errors"

var (
	// ErrUnknown is returned for operations outside the vocabulary.
	ErrUnknown = errors.New("unknown operation")
	// ErrKind is returned when a digital operation is used as analog or vice versa.
	ErrKind = errors.New("operation kind mismatch")
	// ErrNotOwner is returned when a writer does not own the operation this tick.
	ErrNotOwner = errors.New("operation not owned by writer")
	// ErrPublished is returned for writes after the state was published.
	ErrPublished = errors.New("operation state already published")
)
