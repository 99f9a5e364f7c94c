// Package pipeline runs many book searches concurrently and writes the
// validated, de-duplicated results to an output sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rrh2023/book-finder/models"
	"github.com/rrh2023/book-finder/parser"
	"github.com/rrh2023/book-finder/searchclient"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

const defaultBatchSize = 64

// Searcher runs one search.
type Searcher interface {
	Search(ctx context.Context, description string) ([]models.Book, error)
}

// Record is one output row: a book and the description that found it.
type Record struct {
	Query string
	Book  models.Book
}

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []Record) error
	Close() error
	Validate() error
}

// Pipeline fans descriptions out to workers, each of which searches, filters
// and batches the results for the writer.
type Pipeline struct {
	ctx       context.Context
	searcher  Searcher
	writer    OutputWriter
	jobs      chan string
	batchSize int
	logger    *slog.Logger
	progress  func()

	wg sync.WaitGroup

	seen   map[string]struct{}
	seenMu sync.Mutex

	stats stats

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets how many records a worker buffers before writing.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithProgress registers a callback invoked after every finished query.
func WithProgress(fn func()) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// New builds a pipeline. Searches inherit ctx.
func New(ctx context.Context, searcher Searcher, writer OutputWriter, opts ...Option) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &Pipeline{
		ctx:       ctx,
		searcher:  searcher,
		writer:    writer,
		jobs:      make(chan string, 128),
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
		seen:      make(map[string]struct{}),
		stats:     newStats(),
		shutdown:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues descriptions. Blank descriptions are skipped.
func (p *Pipeline) Process(descriptions ...string) error {
	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, d := range descriptions {
		if strings.TrimSpace(d) == "" {
			p.stats.addValidation("blank_query")
			continue
		}
		if err := p.enqueue(d); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to drain the queue and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.jobs)
	})

	p.wg.Wait()
	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the internal counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// StartStatsReporting emits periodic progress logs until Close.
func (p *Pipeline) StartStatsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				p.logger.Info("pipeline progress",
					slog.Int64("queries", s.Queries),
					slog.Int64("failed_queries", s.FailedQueries),
					slog.Int64("books", s.Books),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]Record, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for query := range p.jobs {
		select {
		case <-p.shutdown:
			// A writer failed; drain without searching.
			continue
		default:
		}
		for _, rec := range p.search(query) {
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				if err := flush(); err != nil {
					p.setErr(fmt.Errorf("write batch: %w", err))
					return
				}
			}
		}
		if p.progress != nil {
			p.progress()
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) search(query string) []Record {
	p.stats.incrementQueries()

	books, err := p.searcher.Search(p.ctx, query)
	switch {
	case searchclient.IsNoResults(err):
		p.stats.addValidation("no_results")
		return nil
	case err != nil:
		p.stats.incrementFailed()
		p.logger.Warn("search failed", slog.String("query", query), slog.Any("error", err))
		return nil
	}

	records := make([]Record, 0, len(books))
	for i := range books {
		if book, ok := p.prepare(&books[i]); ok {
			records = append(records, Record{Query: query, Book: book})
		}
	}
	return records
}

func (p *Pipeline) prepare(book *models.Book) (models.Book, bool) {
	if err := parser.ValidateBook(book); err != nil {
		p.stats.addValidation("invalid_record")
		return models.Book{}, false
	}

	key := parser.DedupeKey(*book)
	p.seenMu.Lock()
	if _, ok := p.seen[key]; ok {
		p.seenMu.Unlock()
		p.stats.addValidation("duplicate_book")
		return models.Book{}, false
	}
	p.seen[key] = struct{}{}
	p.seenMu.Unlock()

	p.stats.incrementBooks()
	return *book, true
}

func (p *Pipeline) enqueue(query string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- query:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Queries       int64
	FailedQueries int64
	Books         int64
	Validation    map[string]int
}

type stats struct {
	mu         sync.Mutex
	queries    int64
	failed     int64
	books      int64
	validation map[string]int
}

func newStats() stats {
	return stats{
		validation: make(map[string]int),
	}
}

func (s *stats) incrementQueries() {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
}

func (s *stats) incrementFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *stats) incrementBooks() {
	s.mu.Lock()
	s.books++
	s.mu.Unlock()
}

func (s *stats) addValidation(kind string) {
	s.mu.Lock()
	s.validation[kind]++
	s.mu.Unlock()
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	validation := make(map[string]int, len(s.validation))
	for k, v := range s.validation {
		validation[k] = v
	}
	return Stats{
		Queries:       s.queries,
		FailedQueries: s.failed,
		Books:         s.books,
		Validation:    validation,
	}
}
