// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package qarchive

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/ingestion"
	"github.com/poiesic/qarchive/reindex"
	"github.com/poiesic/qarchive/search"
	"github.com/poiesic/qarchive/storage"
	"github.com/poiesic/qarchive/storage/badger"
	"github.com/prometheus/client_golang/prometheus"
)

// Archive owns the record store, the search index built from it and the
// ingestion pipeline feeding both.
type Archive struct {
	store    storage.Store
	index    *search.Index
	pipeline *ingestion.Pipeline
	logger   *slog.Logger

	stopFlush context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Stats describes the archive contents.
type Stats struct {
	Questions int
	Answers   int
	Index     search.Stats
}

// Option configures an Archive.
type Option func(*options)

type options struct {
	inMemory       bool
	flushInterval  time.Duration
	retry          storage.RetryPolicy
	searchPoolSize int
	ingestPoolSize int
	registerer     prometheus.Registerer
	logger         *slog.Logger
}

// WithInMemory keeps the archive in memory. The path passed to Open is ignored.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithFlushInterval sets how often buffered writes are flushed to disk.
// Zero disables the background flush; Close still flushes.
// Default is 1 second.
func WithFlushInterval(interval time.Duration) Option {
	return func(o *options) {
		o.flushInterval = interval
	}
}

// WithRetryPolicy sets the retry policy for storage I/O.
func WithRetryPolicy(policy storage.RetryPolicy) Option {
	return func(o *options) {
		o.retry = policy
	}
}

// WithSearchPoolSize sets the number of workers used to tokenize records
// during index rebuilds.
func WithSearchPoolSize(size int) Option {
	return func(o *options) {
		o.searchPoolSize = size
	}
}

// WithIngestPoolSize sets the number of workers used by batch ingestion.
func WithIngestPoolSize(size int) Option {
	return func(o *options) {
		o.ingestPoolSize = size
	}
}

// WithMetrics registers search and ingestion metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Open opens the archive stored at path, creating it if needed, and builds
// the search index from the stored records. Open fails if the stored data
// does not pass its integrity checks.
func Open(ctx context.Context, path string, opts ...Option) (*Archive, error) {
	o := &options{
		flushInterval: time.Second,
		retry:         storage.DefaultRetryPolicy(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	storeOpts := []badger.Option{
		badger.WithLogger(o.logger),
		badger.WithRetryPolicy(o.retry),
	}
	var (
		store *badger.Store
		err   error
	)
	if o.inMemory {
		store, err = badger.NewMemoryStore(storeOpts...)
	} else {
		store, err = badger.Open(path, storeOpts...)
	}
	if err != nil {
		return nil, err
	}

	indexOpts := []search.Option{search.WithLogger(o.logger)}
	pipelineOpts := []ingestion.Option{ingestion.WithLogger(o.logger)}
	if o.searchPoolSize > 0 {
		indexOpts = append(indexOpts, search.WithPoolSize(o.searchPoolSize))
	}
	if o.ingestPoolSize > 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithPoolSize(o.ingestPoolSize))
	}
	if o.registerer != nil {
		indexOpts = append(indexOpts, search.WithMetrics(search.NewMetrics(o.registerer)))
		pipelineOpts = append(pipelineOpts, ingestion.WithMetrics(ingestion.NewMetrics(o.registerer)))
	}

	index, err := search.NewIndex(indexOpts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := index.Rebuild(ctx, store); err != nil {
		index.Close()
		store.Close()
		return nil, err
	}

	pipeline, err := ingestion.NewPipeline(store, index, pipelineOpts...)
	if err != nil {
		index.Close()
		store.Close()
		return nil, err
	}

	flushCtx, stopFlush := context.WithCancel(context.Background())
	store.StartFlushLoop(flushCtx, o.flushInterval)

	return &Archive{
		store:     store,
		index:     index,
		pipeline:  pipeline,
		logger:    o.logger,
		stopFlush: stopFlush,
	}, nil
}

// Close stops background work, flushes and releases every resource.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() {
		a.stopFlush()
		a.pipeline.Release()
		if err := a.index.Close(); err != nil {
			a.logger.Error("error closing search index", "err", err)
		}
		if err := a.store.Close(); err != nil {
			a.logger.Error("error closing store", "err", err)
			a.closeErr = err
		}
	})
	return a.closeErr
}

// Ingest stores record and indexes it.
func (a *Archive) Ingest(ctx context.Context, record core.Record) (storage.PutResult, error) {
	return a.pipeline.Ingest(ctx, record)
}

// IngestBatch stores and indexes records concurrently.
func (a *Archive) IngestBatch(ctx context.Context, records []core.Record) (ingestion.BatchResult, error) {
	return a.pipeline.IngestBatch(ctx, records)
}

// Delete removes a record from the index and then the store.
func (a *Archive) Delete(ctx context.Context, key core.Key) (core.Record, error) {
	return a.pipeline.Delete(ctx, key)
}

// Search returns the ids of the questions matching query, best first.
// A limit of zero or less returns every match. Search fails with the
// store's error when the store is degraded.
func (a *Archive) Search(ctx context.Context, query string, limit int) ([]core.ID, error) {
	return a.SearchWithMonitor(ctx, query, limit, nil)
}

// SearchWithMonitor is Search with hooks observing each stage.
func (a *Archive) SearchWithMonitor(ctx context.Context, query string, limit int, monitor search.SearchMonitor) ([]core.ID, error) {
	if err := a.store.Err(); err != nil {
		return nil, err
	}
	return a.index.SearchWithMonitor(ctx, query, limit, monitor)
}

// Get retrieves a record by key.
func (a *Archive) Get(ctx context.Context, key core.Key) (core.Record, error) {
	return a.store.Get(ctx, key)
}

// GetQuestion retrieves a question by id.
func (a *Archive) GetQuestion(ctx context.Context, id core.ID) (*core.Question, error) {
	return a.store.GetQuestion(ctx, id)
}

// GetAnswer retrieves an answer by id.
func (a *Archive) GetAnswer(ctx context.Context, id core.ID) (*core.Answer, error) {
	return a.store.GetAnswer(ctx, id)
}

// AnswersFor returns the stored answers to a question, ordered by id.
func (a *Archive) AnswersFor(ctx context.Context, questionID core.ID) ([]*core.Answer, error) {
	return a.store.AnswersFor(ctx, questionID)
}

// Iterate yields every stored record of kind in ascending id order.
func (a *Archive) Iterate(ctx context.Context, kind core.Kind) iter.Seq2[core.Record, error] {
	return a.store.Iterate(ctx, kind)
}

// Rebuild rebuilds the search index from the store.
func (a *Archive) Rebuild(ctx context.Context) error {
	return a.index.Rebuild(ctx, a.store)
}

// Reindex rebuilds the search index from the store, reporting progress to w.
func (a *Archive) Reindex(ctx context.Context, config *reindex.Config, w io.Writer) (reindex.Result, error) {
	r, err := reindex.NewReindexer(a.store, a.index, config, w)
	if err != nil {
		return reindex.Result{}, err
	}
	return r.Run(ctx)
}

// Verify checks that every question's answer ids point at answers that
// point back at it.
func (a *Archive) Verify(ctx context.Context) ([]storage.Violation, error) {
	return a.store.Verify(ctx)
}

// Flush forces buffered writes to disk.
func (a *Archive) Flush(ctx context.Context) error {
	return a.store.Flush(ctx)
}

// Err returns the error that degraded the store, or nil.
func (a *Archive) Err() error {
	return a.store.Err()
}

// Stats returns record counts and index statistics.
func (a *Archive) Stats(ctx context.Context) (Stats, error) {
	questions, err := a.store.Count(ctx, core.KindQuestion)
	if err != nil {
		return Stats{}, err
	}
	answers, err := a.store.Count(ctx, core.KindAnswer)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Questions: questions,
		Answers:   answers,
		Index:     a.index.Stats(),
	}, nil
}

// IsNotFound reports whether err means a record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
