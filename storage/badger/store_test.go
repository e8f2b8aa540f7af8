package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := NewMemoryStore(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	q := &core.Question{
		Id:        1,
		Title:     "How do I reverse a slice?",
		Body:      "In place, without allocating.",
		Tags:      []string{" Go ", "slices", "go"},
		AnswerIds: []core.ID{10},
		CreatedAt: time.Date(2021, 3, 4, 5, 6, 7, 891011, time.UTC),
	}
	result, err := store.Put(ctx, q)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, uint64(1), result.Version)
	assert.Nil(t, result.Previous)

	got, err := store.GetQuestion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "How do I reverse a slice?", got.Title)
	assert.Equal(t, []string{"Go", "go", "slices"}, got.Tags)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 891000, time.UTC), got.CreatedAt)

	// Caller's record is not modified by normalization.
	assert.Equal(t, []string{" Go ", "slices", "go"}, q.Tags)

	a := &core.Answer{Id: 10, QuestionId: 1, Body: "slices.Reverse", Accepted: true}
	_, err = store.Put(ctx, a)
	require.NoError(t, err)

	gotA, err := store.GetAnswer(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, a, gotA)

	// Question and answer id spaces do not collide.
	_, err = store.GetAnswer(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetQuestion(ctx, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_PutInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		record core.Record
	}{
		{"nil", nil},
		{"zero question id", &core.Question{Title: "x"}},
		{"zero answer id", &core.Answer{QuestionId: 1}},
		{"answer without question", &core.Answer{Id: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Put(ctx, tt.record)
			assert.ErrorIs(t, err, core.ErrInvalidRecord)
		})
	}

	count, err := store.Count(ctx, core.KindQuestion)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_IdempotentPut(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := first
	store := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	q := &core.Question{Id: 7, Title: "same", Tags: []string{"b", "a"}}
	r1, err := store.Put(ctx, q)
	require.NoError(t, err)

	now = first.Add(time.Hour)
	r2, err := store.Put(ctx, &core.Question{Id: 7, Title: "same", Tags: []string{"a", "b", " a"}})
	require.NoError(t, err)

	assert.True(t, r1.Changed)
	assert.False(t, r2.Changed)
	assert.Equal(t, uint64(2), r2.Version)
	assert.Equal(t, now, r2.StoredAt)
	assert.Equal(t, "same", r2.Previous.(*core.Question).Title)

	r3, err := store.Put(ctx, &core.Question{Id: 7, Title: "revised"})
	require.NoError(t, err)
	assert.True(t, r3.Changed)
	assert.Equal(t, uint64(3), r3.Version)

	got, err := store.GetQuestion(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "revised", got.Title)
}

func TestStore_IterateOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []core.ID{300, 2, 1 << 33, 17} {
		_, err := store.Put(ctx, &core.Question{Id: id})
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, &core.Answer{Id: 5, QuestionId: 2})
	require.NoError(t, err)

	var ids []core.ID
	for record, err := range store.Iterate(ctx, core.KindQuestion) {
		require.NoError(t, err)
		ids = append(ids, record.Key().ID)
	}
	assert.Equal(t, []core.ID{2, 17, 300, 1 << 33}, ids)

	// Restartable: a second pass yields the same sequence.
	var again []core.ID
	for q, err := range store.Questions(ctx) {
		require.NoError(t, err)
		again = append(again, q.Id)
	}
	assert.Equal(t, ids, again)

	// Early break stops cleanly.
	n := 0
	for range store.Iterate(ctx, core.KindQuestion) {
		n++
		break
	}
	assert.Equal(t, 1, n)

	var answers []core.ID
	for a, err := range store.Answers(ctx) {
		require.NoError(t, err)
		answers = append(answers, a.Id)
	}
	assert.Equal(t, []core.ID{5}, answers)

	count, err := store.Count(ctx, core.KindQuestion)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	count, err = store.Count(ctx, core.KindAnswer)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_IterateCancelled(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	for id := core.ID(1); id <= 3; id++ {
		_, err := store.Put(ctx, &core.Question{Id: id})
		require.NoError(t, err)
	}

	var lastErr error
	seen := 0
	for _, err := range store.Iterate(ctx, core.KindQuestion) {
		if err != nil {
			lastErr = err
			break
		}
		seen++
		cancel()
	}
	assert.Equal(t, 1, seen)
	assert.ErrorIs(t, lastErr, context.Canceled)
	assert.NoError(t, store.Err())
}

func TestStore_AnswersFor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, &core.Question{Id: 1, AnswerIds: []core.ID{12, 11}})
	require.NoError(t, err)
	for _, a := range []*core.Answer{
		{Id: 12, QuestionId: 1, Body: "second"},
		{Id: 11, QuestionId: 1, Body: "first"},
		{Id: 20, QuestionId: 2, Body: "other"},
	} {
		_, err := store.Put(ctx, a)
		require.NoError(t, err)
	}

	answers, err := store.AnswersFor(ctx, 1)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, core.ID(11), answers[0].Id)
	assert.Equal(t, core.ID(12), answers[1].Id)

	// Moving an answer to another question updates the index.
	_, err = store.Put(ctx, &core.Answer{Id: 12, QuestionId: 2, Body: "moved"})
	require.NoError(t, err)

	answers, err = store.AnswersFor(ctx, 1)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, core.ID(11), answers[0].Id)

	answers, err = store.AnswersFor(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, answers, 2)

	answers, err = store.AnswersFor(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, &core.Question{Id: 1, AnswerIds: []core.ID{2}})
	require.NoError(t, err)
	_, err = store.Put(ctx, &core.Answer{Id: 2, QuestionId: 1, Body: "gone soon"})
	require.NoError(t, err)

	removed, err := store.Delete(ctx, core.AnswerKey(2))
	require.NoError(t, err)
	assert.Equal(t, "gone soon", removed.(*core.Answer).Body)

	_, err = store.GetAnswer(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	answers, err := store.AnswersFor(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, answers)

	_, err = store.Delete(ctx, core.AnswerKey(2))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The index stays consistent, so a reload succeeds.
	require.NoError(t, store.Load(ctx))
}

func TestStore_ReopenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	stamp := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)

	store, err := Open(dir, WithClock(fixedClock(stamp)))
	require.NoError(t, err)

	q := &core.Question{
		Id:        42,
		Title:     "Borrow checker",
		Body:      "Why can't I hold two mutable references?",
		Tags:      []string{"rust"},
		Score:     -3,
		AnswerIds: []core.ID{420},
		CreatedAt: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	a := &core.Answer{Id: 420, QuestionId: 42, Body: "Aliasing XOR mutation.", Score: 99, Accepted: true}
	_, err = store.Put(ctx, q)
	require.NoError(t, err)
	_, err = store.Put(ctx, a)
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	gotQ, err := reopened.GetQuestion(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, q, gotQ)

	gotA, err := reopened.GetAnswer(ctx, 420)
	require.NoError(t, err)
	assert.Equal(t, a, gotA)

	// Version keeps counting across reopen.
	result, err := reopened.Put(ctx, q)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, uint64(2), result.Version)
}

func TestStore_ReopenKeepsTagCase(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir)
	require.NoError(t, err)

	created := time.Date(2024, 2, 3, 4, 5, 5, 123456789, time.FixedZone("CET", 3600))
	q := &core.Question{
		Id:        7,
		Title:     "Mixed case tags",
		Tags:      []string{"Rust", "Go", "Rust"},
		CreatedAt: created,
	}
	_, err = store.Put(ctx, q)
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetQuestion(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Rust"}, got.Tags)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.True(t, got.CreatedAt.Equal(created.Truncate(time.Microsecond)))

	// The argument is unchanged and loads back equal to its normalized form.
	assert.Equal(t, []string{"Rust", "Go", "Rust"}, q.Tags)
	normalized, err := core.Normalize(q)
	require.NoError(t, err)
	assert.Equal(t, normalized, core.Record(got))
}

func TestStore_CorruptValueDetectedOnLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir)
	require.NoError(t, err)
	_, err = store.Put(ctx, &core.Question{Id: 1, Title: "fine"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	backend, err := OpenBackend(dir, false, nil)
	require.NoError(t, err)
	key, err := makeRecordKey(core.QuestionKey(1))
	require.NoError(t, err)
	setRaw(t, backend, key, []byte("QA\x01garbage-with-no-valid-checksum"))
	require.NoError(t, backend.Sync())
	require.NoError(t, backend.Close())

	_, err = Open(dir)
	assert.ErrorIs(t, err, storage.ErrCorruptStore)
}

func TestStore_CorruptReadDegrades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, &core.Question{Id: 1, Title: "healthy"})
	require.NoError(t, err)

	key, err := makeRecordKey(core.QuestionKey(2))
	require.NoError(t, err)
	setRaw(t, store.backend, key, []byte("not an envelope"))

	_, err = store.GetQuestion(ctx, 2)
	require.ErrorIs(t, err, storage.ErrCorruptStore)
	require.ErrorIs(t, store.Err(), storage.ErrCorruptStore)

	// Fails closed: even healthy records are refused.
	_, err = store.GetQuestion(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrCorruptStore)
	_, err = store.Put(ctx, &core.Question{Id: 3})
	assert.ErrorIs(t, err, storage.ErrCorruptStore)

	for _, err := range store.Iterate(ctx, core.KindQuestion) {
		assert.ErrorIs(t, err, storage.ErrCorruptStore)
	}

	assert.ErrorIs(t, store.Load(ctx), storage.ErrCorruptStore)
}

func TestStore_KindMismatchIsCorruption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, &core.Answer{Id: 5, QuestionId: 1})
	require.NoError(t, err)

	// Copy the answer envelope under a question key.
	var value []byte
	answerKey, _ := makeRecordKey(core.AnswerKey(5))
	questionKey, _ := makeRecordKey(core.QuestionKey(5))
	err = store.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(answerKey)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	}, false)
	require.NoError(t, err)
	setRaw(t, store.backend, questionKey, value)

	_, err = store.Get(ctx, core.QuestionKey(5))
	assert.ErrorIs(t, err, storage.ErrCorruptStore)
}

func TestStore_Closed(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err = store.Get(ctx, core.QuestionKey(1))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = store.Put(ctx, &core.Question{Id: 1})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, store.Flush(ctx), storage.ErrStorageClosed)
}

func TestStore_BackendClosedUnderneath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, &core.Question{Id: 1, Title: "before"})
	require.NoError(t, err)
	require.NoError(t, store.backend.Close())

	_, err = store.Get(ctx, core.QuestionKey(1))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = store.Put(ctx, &core.Question{Id: 2, Title: "after"})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, store.Load(ctx), storage.ErrStorageClosed)
}

func TestStore_ConcurrentPutsAndReads(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter*2)

	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				id := core.ID(w*perWriter + i + 1)
				if _, err := store.Put(ctx, &core.Question{Id: id, Title: "concurrent"}); err != nil {
					errs <- err
				}
				if _, err := store.GetQuestion(ctx, id); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	count, err := store.Count(ctx, core.KindQuestion)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, count)
}

func TestStore_FlushLoop(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	store.StartFlushLoop(ctx, 5*time.Millisecond)
	_, err := store.Put(ctx, &core.Question{Id: 1})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !store.dirty.Load() }, time.Second, 5*time.Millisecond)

	cancel()
	// Close waits for the loop to exit.
	require.NoError(t, store.Close())
}

func TestStore_RetryPolicyApplied(t *testing.T) {
	store := newTestStore(t, WithRetryPolicy(storage.RetryPolicy{MaxAttempts: 0}))
	_, err := store.Put(context.Background(), &core.Question{Id: 1})
	assert.True(t, errors.Is(err, storage.ErrInvalidMaxAttempts))
}
