package reindex

import (
	"context"
	"iter"

	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/storage"
)

// trackedSource counts every record it yields into a ProgressTracker.
type trackedSource struct {
	storage.RecordSource
	tracker *ProgressTracker
}

func (s *trackedSource) Iterate(ctx context.Context, kind core.Kind) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		for record, err := range s.RecordSource.Iterate(ctx, kind) {
			if err == nil {
				s.tracker.Increment(1)
			}
			if !yield(record, err) {
				return
			}
		}
	}
}
