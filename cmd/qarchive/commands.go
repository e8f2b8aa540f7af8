package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/poiesic/qarchive"
	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/ingestion"
	"github.com/poiesic/qarchive/reindex"
	"github.com/poiesic/qarchive/storage"
	"github.com/urfave/cli/v2"
)

// ErrVerifyFailed is returned by the verify command when violations exist.
var ErrVerifyFailed = errors.New("archive has inconsistent references")

func openArchive(c *cli.Context) (*qarchive.Archive, error) {
	cfg := configFrom(c)

	opts := []qarchive.Option{
		qarchive.WithFlushInterval(cfg.Storage.FlushInterval),
		qarchive.WithRetryPolicy(storage.RetryPolicy{
			MaxAttempts: cfg.Storage.RetryAttempts,
			BaseDelay:   cfg.Storage.RetryDelay,
		}),
		qarchive.WithSearchPoolSize(cfg.Search.PoolSize),
		qarchive.WithIngestPoolSize(cfg.Ingestion.PoolSize),
		qarchive.WithLogger(slog.Default()),
	}
	if cfg.Storage.InMemory {
		opts = append(opts, qarchive.WithInMemory())
	}

	archive, err := qarchive.Open(c.Context, cfg.Storage.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", cfg.Storage.Path, err)
	}
	return archive, nil
}

func importCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("import takes exactly one FILE argument")
	}
	batchSize := c.Int("batch-size")
	if batchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}

	var in io.Reader
	if name := c.Args().First(); name == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	var (
		total   ingestion.BatchResult
		batch   = make([]core.Record, 0, batchSize)
		records int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := archive.IngestBatch(c.Context, batch)
		total.Stored += result.Stored
		total.Unchanged += result.Unchanged
		total.Duplicates += result.Duplicates
		batch = batch[:0]
		return err
	}

	err = decodeRecords(in, func(line int, record core.Record) error {
		if err := core.ValidateRecord(record); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		records++
		batch = append(batch, record)
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Imported %d records: %d stored, %d unchanged, %d duplicates\n",
		records, total.Stored, total.Unchanged, total.Duplicates)
	return nil
}

func exportCommand(c *cli.Context) error {
	out := c.App.Writer
	if name := c.String("output"); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	w := bufio.NewWriter(out)
	enc := newRecordEncoder(w)
	count := 0
	for _, kind := range []core.Kind{core.KindQuestion, core.KindAnswer} {
		for record, err := range archive.Iterate(c.Context, kind) {
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			if err := enc.Encode(record); err != nil {
				return err
			}
			count++
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	slog.Info("export complete", "records", count)
	return nil
}

// explainMonitor prints each stage of a query.
type explainMonitor struct {
	w io.Writer
}

func (m *explainMonitor) Start(query string) {
	fmt.Fprintf(m.w, "query: %q\n", query)
}

func (m *explainMonitor) AfterTokenize(terms []string) {
	fmt.Fprintf(m.w, "terms: %s\n", strings.Join(terms, " "))
}

func (m *explainMonitor) AfterScoring(candidates int) {
	fmt.Fprintf(m.w, "candidates: %d\n", candidates)
}

func (m *explainMonitor) Finish(results []core.ID) {
	fmt.Fprintf(m.w, "results: %d\n", len(results))
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search requires a QUERY")
	}
	limit := c.Int("limit")
	if limit < 0 {
		limit = configFrom(c).Search.DefaultLimit
	}

	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	var ids []core.ID
	if c.Bool("explain") {
		ids, err = archive.SearchWithMonitor(c.Context, query, limit, &explainMonitor{w: c.App.ErrWriter})
	} else {
		ids, err = archive.Search(c.Context, query, limit)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(ids) == 0 {
		fmt.Fprintln(c.App.Writer, "No matches")
		return nil
	}
	for i, id := range ids {
		q, err := archive.GetQuestion(c.Context, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%d: %s (%d)[%d]\n", i+1, q.Title, q.Id, q.Score)
	}
	return nil
}

func showCommand(c *cli.Context) error {
	id, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("show requires a question ID, got %q", c.Args().First())
	}

	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	q, err := archive.GetQuestion(c.Context, core.ID(id))
	if err != nil {
		if qarchive.IsNotFound(err) {
			return fmt.Errorf("question %d not found", id)
		}
		return err
	}
	answers, err := archive.AnswersFor(c.Context, q.Id)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Question %d [score %d]\n", q.Id, q.Score)
	fmt.Fprintf(w, "Title: %s\n", q.Title)
	if len(q.Tags) > 0 {
		fmt.Fprintf(w, "Tags: %s\n", strings.Join(q.Tags, ", "))
	}
	if !q.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Asked: %s\n", q.CreatedAt.Format("2006-01-02 15:04"))
	}
	if q.Body != "" {
		fmt.Fprintf(w, "\n%s\n", q.Body)
	}
	for _, a := range answers {
		marker := ""
		if a.Accepted {
			marker = " (accepted)"
		}
		fmt.Fprintf(w, "\n--- Answer %d [score %d]%s\n%s\n", a.Id, a.Score, marker, a.Body)
	}
	return nil
}

func rebuildCommand(c *cli.Context) error {
	cfg := configFrom(c)
	reindexConfig := &reindex.Config{
		ReportInterval: cfg.Reindex.ReportInterval,
		MaxAttempts:    cfg.Reindex.MaxAttempts,
		RetryDelay:     cfg.Reindex.RetryDelay,
	}
	if n := c.Int("report-interval"); n > 0 {
		reindexConfig.ReportInterval = n
	}

	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	fmt.Fprintf(c.App.ErrWriter, "Archive: %s\n", cfg.Storage.Path)
	if _, err := archive.Reindex(c.Context, reindexConfig, c.App.ErrWriter); err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	return nil
}

func verifyCommand(c *cli.Context) error {
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	violations, err := archive.Verify(c.Context)
	if err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}
	for _, v := range violations {
		fmt.Fprintf(c.App.Writer, "question %d / answer %d: %s\n", v.Question, v.Answer, v.Reason)
	}
	if len(violations) > 0 {
		return fmt.Errorf("%w: %d violations", ErrVerifyFailed, len(violations))
	}
	fmt.Fprintln(c.App.Writer, "OK")
	return nil
}

func statsCommand(c *cli.Context) error {
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	stats, err := archive.Stats(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Questions: %d\n", stats.Questions)
	fmt.Fprintf(w, "Answers: %d\n", stats.Answers)
	fmt.Fprintf(w, "Indexed questions: %d\n", stats.Index.Documents)
	fmt.Fprintf(w, "Tokens: %d\n", stats.Index.Tokens)
	fmt.Fprintf(w, "Pending answers: %d\n", stats.Index.PendingAnswers)
	fmt.Fprintf(w, "Index state: %s\n", stats.Index.State)
	return nil
}
