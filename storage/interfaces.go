package storage

import (
	"context"
	"iter"
	"time"

	"github.com/poiesic/qarchive/core"
)

// PutResult describes the outcome of a Put.
type PutResult struct {
	// Changed is false when the stored content was already identical and
	// only the envelope version and timestamp were bumped.
	Changed bool

	// Version counts how many times the key has been written, starting at 1.
	Version uint64

	// StoredAt is the time the envelope was written.
	StoredAt time.Time

	// Previous is the record that was replaced, or nil for an insert.
	Previous core.Record
}

// Violation describes a broken Question/Answer back-reference.
type Violation struct {
	Question core.ID
	Answer   core.ID
	Reason   string
}

// RecordSource yields every stored record of a kind in ascending id order.
// It is the read-only slice of Store that index rebuilds depend on.
type RecordSource interface {
	// Iterate lazily yields every record of the given kind.
	// Each call starts a fresh pass from the lowest id. Iteration stops at
	// the first error, which is yielded with a nil record.
	Iterate(ctx context.Context, kind core.Kind) iter.Seq2[core.Record, error]

	// Count returns the number of records of the given kind.
	Count(ctx context.Context, kind core.Kind) (int, error)
}

// Store is a durable mapping from (kind, id) to a record.
// Implementations must be thread-safe: any number of concurrent readers,
// with writers serialized.
type Store interface {
	RecordSource

	// Put inserts or replaces a record under its key.
	// Returns core.ErrInvalidRecord for malformed records without touching state.
	Put(ctx context.Context, record core.Record) (PutResult, error)

	// Get retrieves a record by key.
	// Returns ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, key core.Key) (core.Record, error)

	// GetQuestion retrieves a question by id.
	// Returns ErrNotFound if the question doesn't exist.
	GetQuestion(ctx context.Context, id core.ID) (*core.Question, error)

	// GetAnswer retrieves an answer by id.
	// Returns ErrNotFound if the answer doesn't exist.
	GetAnswer(ctx context.Context, id core.ID) (*core.Answer, error)

	// AnswersFor returns the stored answers whose QuestionId is questionID,
	// ordered by answer id.
	AnswersFor(ctx context.Context, questionID core.ID) ([]*core.Answer, error)

	// Delete removes a record and its secondary index entries.
	// Returns ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, key core.Key) (core.Record, error)

	// Flush forces buffered writes to the durable medium.
	Flush(ctx context.Context) error

	// Load verifies the persisted state. Returns ErrCorruptStore if any
	// stored value fails its integrity check and ErrIO on device failures.
	Load(ctx context.Context) error

	// Verify checks the Question/Answer back-reference invariant.
	Verify(ctx context.Context) ([]Violation, error)

	// Err returns the error that put the store in a degraded state, or nil.
	// A degraded store fails every read with this error.
	Err() error

	// Close flushes and releases resources.
	Close() error
}
