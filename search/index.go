package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/storage"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of an Index.
type State int

const (
	// StateReady serves queries from the latest committed table.
	StateReady State = iota
	// StateBuilding serves queries from the previous table while a rebuild runs.
	StateBuilding
	// StateClosed rejects every operation.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateBuilding:
		return "building"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats summarizes the contents of an Index.
type Stats struct {
	State          State
	Documents      int
	Tokens         int
	PendingAnswers int
	LastRebuild    time.Time
}

// Index is an inverted index over questions and their answers.
// It is safe for concurrent use: updates are serialized and queries run in
// parallel under a read lock.
type Index struct {
	mu          sync.RWMutex
	table       *table
	state       State
	journal     []update
	lastRebuild time.Time

	rebuilds singleflight.Group
	pool     *ants.Pool
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures an Index.
type Option func(*Index) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
		return nil
	}
}

// WithPoolSize sets the number of workers that tokenize records during a
// rebuild. Default is runtime.NumCPU().
func WithPoolSize(size int) Option {
	return func(ix *Index) error {
		if size < 1 {
			return fmt.Errorf("%w: %d", ErrInvalidPoolSize, size)
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if ix.pool != nil {
			ix.pool.Release()
		}
		ix.pool = pool
		return nil
	}
}

// WithMetrics records query and update metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(ix *Index) error {
		ix.metrics = m
		return nil
	}
}

// NewIndex creates an empty, ready index.
func NewIndex(opts ...Option) (*Index, error) {
	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, err
	}

	ix := &Index{
		table:  newTable(),
		state:  StateReady,
		pool:   pool,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(ix); err != nil {
			ix.pool.Release()
			return nil, err
		}
	}

	return ix, nil
}

// Add indexes a question or answer, replacing any earlier contribution made
// under the same key. An answer whose question is not indexed yet is held
// until the question arrives.
func (ix *Index) Add(record core.Record) error {
	if err := core.ValidateRecord(record); err != nil {
		return err
	}
	return ix.commit(newAddUpdate(record), "add")
}

// Remove drops the contribution made under key. Removing a question keeps
// its answers pending so a re-added question picks them up again.
func (ix *Index) Remove(key core.Key) error {
	if key.Kind != core.KindQuestion && key.Kind != core.KindAnswer {
		return fmt.Errorf("%w: %w: %d", core.ErrInvalidRecord, core.ErrInvalidKind, key.Kind)
	}
	if key.ID == 0 {
		return fmt.Errorf("%w: %s: %w", core.ErrInvalidRecord, key.Kind, core.ErrEmptyID)
	}
	return ix.commit(newRemoveUpdate(key), "remove")
}

func (ix *Index) commit(u update, op string) error {
	ix.mu.Lock()
	if ix.state == StateClosed {
		ix.mu.Unlock()
		return ErrIndexClosed
	}
	ix.table.apply(u)
	if ix.state == StateBuilding {
		ix.journal = append(ix.journal, u)
	}
	documents := ix.table.indexed
	ix.mu.Unlock()

	if ix.metrics != nil {
		ix.metrics.UpdatesTotal.WithLabelValues(op).Inc()
		ix.metrics.Documents.Set(float64(documents))
	}
	return nil
}

// Search returns the ids of questions matching query, best first.
// A limit of zero or less returns every match. Empty queries, queries made
// only of stop words and queries against an empty index return an empty
// slice.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]core.ID, error) {
	return ix.SearchWithMonitor(ctx, query, limit, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (ix *Index) SearchWithMonitor(ctx context.Context, query string, limit int, monitor SearchMonitor) ([]core.ID, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	start := time.Now()
	monitor.Start(query)

	if err := ctx.Err(); err != nil {
		ix.observeQuery(start, -1)
		return nil, err
	}

	terms := queryTerms(query)
	monitor.AfterTokenize(terms)

	ix.mu.RLock()
	if ix.state == StateClosed {
		ix.mu.RUnlock()
		ix.observeQuery(start, -1)
		return nil, ErrIndexClosed
	}
	hits := ix.table.search(terms)
	ix.mu.RUnlock()
	monitor.AfterScoring(len(hits))

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]core.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}

	monitor.Finish(ids)
	ix.observeQuery(start, len(ids))
	ix.logger.Debug("search complete", "query", query, "terms", len(terms), "results", len(ids))
	return ids, nil
}

// observeQuery records a finished query; a negative count means it failed.
func (ix *Index) observeQuery(start time.Time, results int) {
	if ix.metrics == nil {
		return
	}
	ix.metrics.QueryLatency.Observe(time.Since(start).Seconds())
	switch {
	case results < 0:
		ix.metrics.QueriesTotal.WithLabelValues("error").Inc()
	case results == 0:
		ix.metrics.QueriesTotal.WithLabelValues("zero_result").Inc()
		ix.metrics.ResultsCount.Observe(0)
	default:
		ix.metrics.QueriesTotal.WithLabelValues("hit").Inc()
		ix.metrics.ResultsCount.Observe(float64(results))
	}
}

// Rebuild replaces the index contents with a fresh table built from every
// record in source. Queries keep being served from the previous table while
// the build runs; updates made meanwhile are applied to both and replayed
// onto the fresh table before it is swapped in. On error or cancellation the
// fresh table is discarded and the previous one stays in service.
//
// Concurrent calls share a single build, run with the first caller's ctx.
func (ix *Index) Rebuild(ctx context.Context, source storage.RecordSource) error {
	if source == nil {
		return ErrSourceRequired
	}
	_, err, shared := ix.rebuilds.Do("rebuild", func() (any, error) {
		return nil, ix.rebuild(ctx, source)
	})
	if shared {
		ix.logger.Debug("joined in-flight rebuild")
	}
	return err
}

func (ix *Index) rebuild(ctx context.Context, source storage.RecordSource) (err error) {
	ix.mu.Lock()
	if ix.state == StateClosed {
		ix.mu.Unlock()
		return ErrIndexClosed
	}
	ix.state = StateBuilding
	ix.journal = nil
	ix.mu.Unlock()

	start := time.Now()
	ix.logger.Info("index rebuild started")

	defer func() {
		if err == nil {
			return
		}
		ix.mu.Lock()
		if ix.state == StateBuilding {
			ix.state = StateReady
		}
		ix.journal = nil
		ix.mu.Unlock()

		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		ix.logger.Warn("index rebuild abandoned", "outcome", outcome, "error", err)
		if ix.metrics != nil {
			ix.metrics.RebuildsTotal.WithLabelValues(outcome).Inc()
		}
	}()

	fresh, records, err := ix.build(ctx, source)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	if ix.state == StateClosed {
		ix.mu.Unlock()
		return ErrIndexClosed
	}
	replayed := len(ix.journal)
	for _, u := range ix.journal {
		fresh.apply(u)
	}
	ix.table = fresh
	ix.journal = nil
	ix.state = StateReady
	ix.lastRebuild = time.Now()
	documents := fresh.indexed
	ix.mu.Unlock()

	elapsed := time.Since(start)
	ix.logger.Info("index rebuild complete",
		"records", records,
		"documents", documents,
		"replayed", replayed,
		"elapsed", elapsed)
	if ix.metrics != nil {
		ix.metrics.RebuildsTotal.WithLabelValues("ok").Inc()
		ix.metrics.RebuildDuration.Observe(elapsed.Seconds())
		ix.metrics.Documents.Set(float64(documents))
	}
	return nil
}

// build fills a fresh table from source. Records are tokenized on the
// worker pool and applied to the table one at a time.
func (ix *Index) build(ctx context.Context, source storage.RecordSource) (*table, int, error) {
	fresh := newTable()
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		records int
	)

	for _, kind := range []core.Kind{core.KindQuestion, core.KindAnswer} {
		for record, err := range source.Iterate(ctx, kind) {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				wg.Wait()
				return nil, 0, fmt.Errorf("rebuilding index: %w", err)
			}

			records++
			wg.Add(1)
			submitErr := ix.pool.Submit(func() {
				defer wg.Done()
				u := newAddUpdate(record)
				mu.Lock()
				fresh.apply(u)
				mu.Unlock()
			})
			if submitErr != nil {
				wg.Done()
				wg.Wait()
				if errors.Is(submitErr, ants.ErrPoolClosed) {
					return nil, 0, ErrIndexClosed
				}
				return nil, 0, submitErr
			}
		}
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("rebuilding index: %w", err)
	}
	return fresh, records, nil
}

// State returns the current lifecycle state.
func (ix *Index) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.state
}

// Stats returns a snapshot of the index contents.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		State:          ix.state,
		Documents:      ix.table.indexed,
		Tokens:         len(ix.table.postings),
		PendingAnswers: ix.table.pending(),
		LastRebuild:    ix.lastRebuild,
	}
}

// Close releases the worker pool. Later calls fail with ErrIndexClosed.
func (ix *Index) Close() error {
	ix.mu.Lock()
	if ix.state == StateClosed {
		ix.mu.Unlock()
		return nil
	}
	ix.state = StateClosed
	ix.journal = nil
	ix.mu.Unlock()

	ix.pool.Release()
	ix.logger.Debug("index closed")
	return nil
}
