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


package reindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/storage"
)

// Config holds configuration for a reindex run.
type Config struct {
	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxAttempts is the total number of rebuild attempts on transient
	// storage errors, including the first
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReportInterval: 1000,
		MaxAttempts:    3,
		RetryDelay:     1 * time.Second,
	}
}

// Rebuilder is the part of search.Index a Reindexer drives.
type Rebuilder interface {
	Rebuild(ctx context.Context, source storage.RecordSource) error
}

// Result summarizes a completed run.
type Result struct {
	Questions int
	Answers   int
	Indexed   int
	Attempts  int
	Elapsed   time.Duration
}

// Reindexer orchestrates a full rebuild of an index from a record source.
type Reindexer struct {
	source   storage.RecordSource
	index    Rebuilder
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr); nil discards it
func NewReindexer(source storage.RecordSource, index Rebuilder, config *Config, progress io.Writer) (*Reindexer, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reindexer{
		source:   source,
		index:    index,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "reindex"),
	}, nil
}

// Run rebuilds the index from every stored record and reports progress to
// the configured writer. The index keeps serving its previous contents
// until the rebuild succeeds.
func (r *Reindexer) Run(ctx context.Context) (Result, error) {
	var result Result

	questions, err := r.source.Count(ctx, core.KindQuestion)
	if err != nil {
		return result, fmt.Errorf("failed to count questions: %w", err)
	}
	answers, err := r.source.Count(ctx, core.KindAnswer)
	if err != nil {
		return result, fmt.Errorf("failed to count answers: %w", err)
	}
	result.Questions = questions
	result.Answers = answers
	total := questions + answers

	fmt.Fprintf(r.progress, "Rebuilding index from %d questions and %d answers\n", questions, answers)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	source := &trackedSource{RecordSource: r.source, tracker: tracker}

	policy := storage.RetryPolicy{MaxAttempts: r.config.MaxAttempts, BaseDelay: r.config.RetryDelay}
	err = storage.RetryIO(ctx, policy, func() error {
		result.Attempts++
		if result.Attempts > 1 {
			r.logger.Warn("restarting rebuild after storage error", "attempt", result.Attempts)
		}
		tracker.Start()
		return r.index.Rebuild(ctx, source)
	})
	if err != nil {
		fmt.Fprintln(r.progress)
		return result, err
	}

	tracker.Finish()
	result.Indexed = tracker.Current()
	result.Elapsed = tracker.Elapsed()

	rate := 0.0
	if secs := result.Elapsed.Seconds(); secs > 0 {
		rate = float64(result.Indexed) / secs
	}
	fmt.Fprintf(r.progress, "Rebuild complete. Indexed %d records in %v (%.1f records/sec)\n",
		result.Indexed, result.Elapsed.Round(time.Millisecond), rate)

	r.logger.Info("reindex complete",
		"questions", questions,
		"answers", answers,
		"indexed", result.Indexed,
		"attempts", result.Attempts)
	return result, nil
}
