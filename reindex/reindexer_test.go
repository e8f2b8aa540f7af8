package reindex

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/search"
	"github.com/poiesic/qarchive/storage"
	"github.com/poiesic/qarchive/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySource fails the first failures iterations with a transient error.
type flakySource struct {
	storage.RecordSource
	failures atomic.Int32
}

func (s *flakySource) Iterate(ctx context.Context, kind core.Kind) iter.Seq2[core.Record, error] {
	if s.failures.Add(-1) >= 0 {
		return func(yield func(core.Record, error) bool) {
			yield(nil, fmt.Errorf("%w: device busy", storage.ErrIO))
		}
	}
	return s.RecordSource.Iterate(ctx, kind)
}

func seededStore(t *testing.T, questions int) *badger.Store {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for i := 1; i <= questions; i++ {
		_, err := store.Put(ctx, &core.Question{
			Id:        core.ID(i),
			Title:     fmt.Sprintf("question about topic%d", i),
			AnswerIds: []core.ID{core.ID(1000 + i)},
		})
		require.NoError(t, err)
		_, err = store.Put(ctx, &core.Answer{Id: core.ID(1000 + i), QuestionId: core.ID(i), Body: "shared answer text"})
		require.NoError(t, err)
	}
	return store
}

func newIndex(t *testing.T) *search.Index {
	t.Helper()
	index, err := search.NewIndex(search.WithPoolSize(2))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	return index
}

func TestNewReindexer(t *testing.T) {
	store := seededStore(t, 0)
	index := newIndex(t)

	_, err := NewReindexer(nil, index, nil, nil)
	assert.Equal(t, ErrSourceRequired, err)

	_, err = NewReindexer(store, nil, nil, nil)
	assert.Equal(t, ErrIndexRequired, err)

	r, err := NewReindexer(store, index, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), r.config)
}

func TestReindexer_Run(t *testing.T) {
	store := seededStore(t, 25)
	index := newIndex(t)

	var buf bytes.Buffer
	r, err := NewReindexer(store, index, &Config{ReportInterval: 10, MaxAttempts: 1}, &buf)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, result.Questions)
	assert.Equal(t, 25, result.Answers)
	assert.Equal(t, 50, result.Indexed)
	assert.Equal(t, 1, result.Attempts)

	output := buf.String()
	assert.Contains(t, output, "Rebuilding index from 25 questions and 25 answers")
	assert.Contains(t, output, "50/50")
	assert.Contains(t, output, "Rebuild complete. Indexed 50 records")

	ids, err := index.Search(context.Background(), "topic7", 0)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{7}, ids)

	stats := index.Stats()
	assert.Equal(t, 25, stats.Documents)
	assert.False(t, stats.LastRebuild.IsZero())
}

func TestReindexer_EmptyStore(t *testing.T) {
	store := seededStore(t, 0)
	index := newIndex(t)

	var buf bytes.Buffer
	r, err := NewReindexer(store, index, nil, &buf)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Indexed)
	assert.Contains(t, buf.String(), "0/0")
}

func TestReindexer_RetriesTransientErrors(t *testing.T) {
	store := seededStore(t, 3)
	index := newIndex(t)

	source := &flakySource{RecordSource: store}
	source.failures.Store(2)

	r, err := NewReindexer(source, index, &Config{ReportInterval: 1, MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 6, result.Indexed, "progress restarts with each attempt")
}

func TestReindexer_GivesUp(t *testing.T) {
	store := seededStore(t, 3)
	index := newIndex(t)

	// Index an old version first; a failed rebuild keeps serving it.
	ctx := context.Background()
	require.NoError(t, index.Add(&core.Question{Id: 99, Title: "legacy"}))

	source := &flakySource{RecordSource: store}
	source.failures.Store(10)

	r, err := NewReindexer(source, index, &Config{ReportInterval: 1, MaxAttempts: 2, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.ErrorIs(t, err, storage.ErrIO)
	assert.Equal(t, 2, result.Attempts)

	ids, err := index.Search(ctx, "legacy", 0)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{99}, ids)
}

func TestReindexer_Cancelled(t *testing.T) {
	store := seededStore(t, 5)
	index := newIndex(t)

	r, err := NewReindexer(store, index, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, search.StateReady, index.State())
}
