package ingestion

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
)

// Indexer is the part of search.Index the pipeline feeds.
type Indexer interface {
	Add(record core.Record) error
	Remove(key core.Key) error
}

// Pipeline orchestrates storing and indexing of scraped records.
type Pipeline struct {
	store   storage.Store
	index   Indexer
	pool    *ants.Pool
	metrics *Metrics
	logger  *slog.Logger
}

// BatchResult summarizes an IngestBatch call.
type BatchResult struct {
	// Stored counts records whose stored content changed.
	Stored int
	// Unchanged counts records that were already stored verbatim.
	Unchanged int
	// Duplicates counts records dropped because a later record in the batch
	// had the same key.
	Duplicates int
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for batch ingestion.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMetrics records ingestion metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store storage.Store, index Indexer, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:  store,
		index:  index,
		pool:   pool,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	return p, nil
}

// Ingest validates record, stores it and indexes it. Invalid records are
// rejected before storage is touched. The record is indexed even when its
// stored content was unchanged, which repairs an index that missed it.
func (p *Pipeline) Ingest(ctx context.Context, record core.Record) (storage.PutResult, error) {
	start := time.Now()
	if err := core.ValidateRecord(record); err != nil {
		p.observe(record, outcomeRejected, start)
		return storage.PutResult{}, err
	}

	result, err := p.store.Put(ctx, record)
	if err != nil {
		p.logger.Error("error storing record", "key", record.Key(), "err", err)
		p.observe(record, outcomeFailed, start)
		return storage.PutResult{}, err
	}

	if err := p.index.Add(record); err != nil {
		p.logger.Error("error indexing record", "key", record.Key(), "err", err)
		p.observe(record, outcomeFailed, start)
		return result, fmt.Errorf("indexing %s: %w", record.Key(), err)
	}

	if result.Changed {
		p.observe(record, outcomeStored, start)
	} else {
		p.observe(record, outcomeUnchanged, start)
	}
	return result, nil
}

// IngestBatch ingests records concurrently. When several records share a
// key only the last one is ingested. Every record is validated before any
// is stored; a single invalid record rejects the whole batch.
func (p *Pipeline) IngestBatch(ctx context.Context, records []core.Record) (BatchResult, error) {
	var result BatchResult

	for i, record := range records {
		if err := core.ValidateRecord(record); err != nil {
			p.observe(record, outcomeRejected, time.Now())
			return result, fmt.Errorf("record %d: %w", i, err)
		}
	}

	latest := make(map[core.Key]int, len(records))
	for i, record := range records {
		latest[record.Key()] = i
	}
	result.Duplicates = len(records) - len(latest)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for i, record := range records {
		if latest[record.Key()] != i {
			continue
		}
		if err := ctx.Err(); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}

		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			put, err := p.Ingest(ctx, record)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case put.Changed:
				result.Stored++
			default:
				result.Unchanged++
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, submitErr)
			mu.Unlock()
			break
		}
	}
	wg.Wait()

	p.logger.Info("batch ingested",
		"records", len(records),
		"stored", result.Stored,
		"unchanged", result.Unchanged,
		"duplicates", result.Duplicates,
		"errors", len(errs))
	return result, errors.Join(errs...)
}

// Delete removes a record from the index and then from storage, so no
// query returns an id whose record is already gone. If the storage delete
// fails the record is indexed again.
func (p *Pipeline) Delete(ctx context.Context, key core.Key) (core.Record, error) {
	record, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := p.index.Remove(key); err != nil {
		return nil, fmt.Errorf("unindexing %s: %w", key, err)
	}

	removed, err := p.store.Delete(ctx, key)
	if err != nil {
		if addErr := p.index.Add(record); addErr != nil {
			p.logger.Error("error restoring index entry", "key", key, "err", addErr)
		}
		return nil, err
	}
	return removed, nil
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
