package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/qarchive/storage"
)

// Store implements storage.Store on BadgerDB.
//
// Reads run in badger read transactions and proceed concurrently. Writers
// are serialized by writeMu. A store that fails Load, or detects a corrupt
// value while reading, becomes degraded and fails every later read.
type Store struct {
	backend *Backend
	logger  *slog.Logger
	retry   storage.RetryPolicy
	now     func() time.Time

	writeMu sync.Mutex
	dirty   atomic.Bool

	stateMu  sync.RWMutex
	degraded error
	closed   bool

	done      chan struct{}
	loops     sync.WaitGroup
	closeOnce sync.Once
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store and by badger itself.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryPolicy sets the retry policy applied to writes and flushes.
func WithRetryPolicy(policy storage.RetryPolicy) Option {
	return func(s *Store) {
		s.retry = policy
	}
}

// WithClock overrides the clock used to stamp envelopes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens or creates a store in the directory at path and loads it.
func Open(path string, opts ...Option) (*Store, error) {
	return open(path, false, opts...)
}

func open(path string, inMemory bool, opts ...Option) (*Store, error) {
	s := &Store{
		logger: slog.Default(),
		retry:  storage.DefaultRetryPolicy(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	backend, err := OpenBackend(path, inMemory, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %q: %w", storage.ErrIO, path, err)
	}
	s.backend = backend

	if err := s.Load(context.Background()); err != nil {
		backend.Close()
		return nil, err
	}

	s.logger.Debug("store opened", "path", path, "in_memory", inMemory)
	return s, nil
}

// StartFlushLoop flushes buffered writes every interval until ctx is
// cancelled or the store is closed, and once more on the way out.
func (s *Store) StartFlushLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("flush loop stopping, performing final flush")
				if err := s.Flush(context.Background()); err != nil && !errors.Is(err, storage.ErrStorageClosed) {
					s.logger.Error("final flush failed", "error", err)
				}
				return
			case <-s.done:
				return
			case <-ticker.C:
				if !s.dirty.Load() {
					continue
				}
				if err := s.Flush(ctx); err != nil {
					s.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Flush forces every completed write to disk.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Store) flushLocked(ctx context.Context) error {
	err := storage.RetryIO(ctx, s.retry, func() error {
		if err := s.backend.Sync(); err != nil {
			return badgerError("sync", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.dirty.Store(false)
	return nil
}

// Close stops the flush loop, flushes and closes the database.
// Calling Close more than once is safe.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.loops.Wait()

		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		if flushErr := s.flushLocked(context.Background()); flushErr != nil {
			s.logger.Error("final flush on close failed", "error", flushErr)
			err = flushErr
		}

		s.stateMu.Lock()
		s.closed = true
		s.stateMu.Unlock()

		if closeErr := s.backend.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: closing: %w", storage.ErrIO, closeErr))
		}
	})
	return err
}

// Err returns the error that degraded the store, or nil.
func (s *Store) Err() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.degraded
}

// checkOpen fails once the store is closed.
func (s *Store) checkOpen() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.closed || s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

// checkReadable fails when the store is closed or degraded.
func (s *Store) checkReadable() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.closed || s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return s.degraded
}

// noteFailure degrades the store when err reports corruption.
func (s *Store) noteFailure(err error) {
	if err == nil || !errors.Is(err, storage.ErrCorruptStore) {
		return
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.degraded == nil {
		s.degraded = err
		s.logger.Error("store degraded", "error", err)
	}
}

// badgerError classifies a badger failure.
func badgerError(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %s", storage.ErrStorageClosed, op)
	}
	return fmt.Errorf("%w: %s: %w", storage.ErrIO, op, err)
}
