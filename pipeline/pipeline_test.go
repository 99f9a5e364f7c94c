package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/rrh2023/book-finder/models"
	"github.com/rrh2023/book-finder/searchclient"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]Record
	closed      bool
	validateErr error
	writeErr    error
}

func (mw *mockWriter) Write(records []Record) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]Record, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) records() []Record {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	var all []Record
	for _, batch := range mw.batches {
		all = append(all, batch...)
	}
	return all
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

// mapSearcher answers from a fixed table; unknown queries fail.
type mapSearcher struct {
	mu      sync.Mutex
	results map[string][]models.Book
	errs    map[string]error
	calls   int
}

func (s *mapSearcher) Search(_ context.Context, description string) ([]models.Book, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if err, ok := s.errs[description]; ok {
		return nil, err
	}
	if books, ok := s.results[description]; ok {
		return books, nil
	}
	return nil, fmt.Errorf("unexpected query %q", description)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipelineValidationAndDedup(t *testing.T) {
	searcher := &mapSearcher{results: map[string][]models.Book{
		"clean code": {
			{Title: "Clean Architecture", Authors: "Robert C. Martin"},
			{Title: "", Authors: "Nobody"},
		},
		"software design": {
			{Title: "clean architecture", Authors: "robert c. martin"},
			{Title: "A Philosophy of Software Design", Authors: "John Ousterhout", PageCount: models.IntPtr(190)},
		},
	}}
	writer := &mockWriter{}
	p := New(context.Background(), searcher, writer, WithLogger(quietLogger()))
	p.Start(1)

	if err := p.Process("clean code", "software design"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	records := writer.records()
	if len(records) != 2 {
		t.Fatalf("written records = %d, want 2", len(records))
	}
	if records[0].Query != "clean code" || records[0].Book.Title != "Clean Architecture" {
		t.Fatalf("first record = %+v", records[0])
	}

	stats := p.Stats()
	if stats.Queries != 2 {
		t.Fatalf("queries = %d, want 2", stats.Queries)
	}
	if stats.Books != 2 {
		t.Fatalf("books = %d, want 2", stats.Books)
	}
	if stats.Validation["invalid_record"] != 1 {
		t.Fatalf("invalid_record = %d, want 1", stats.Validation["invalid_record"])
	}
	if stats.Validation["duplicate_book"] != 1 {
		t.Fatalf("duplicate_book = %d, want 1", stats.Validation["duplicate_book"])
	}
}

func TestPipelineCountsFailures(t *testing.T) {
	searcher := &mapSearcher{
		results: map[string][]models.Book{"ok": {{Title: "Found"}}},
		errs: map[string]error{
			"sentinel": &searchclient.NoResultsError{Message: "none"},
			"down":     &searchclient.TransportError{StatusCode: 502, Err: errors.New("bad gateway")},
		},
	}
	writer := &mockWriter{}
	p := New(context.Background(), searcher, writer, WithLogger(quietLogger()))
	p.Start(2)

	if err := p.Process("ok", "sentinel", "down", "  "); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	stats := p.Stats()
	if stats.Queries != 3 {
		t.Fatalf("queries = %d, want 3", stats.Queries)
	}
	if stats.FailedQueries != 1 {
		t.Fatalf("failed queries = %d, want 1", stats.FailedQueries)
	}
	if stats.Validation["no_results"] != 1 {
		t.Fatalf("no_results = %d, want 1", stats.Validation["no_results"])
	}
	if stats.Validation["blank_query"] != 1 {
		t.Fatalf("blank_query = %d, want 1", stats.Validation["blank_query"])
	}
	if got := len(writer.records()); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	books := make([]models.Book, 0, 5)
	for i := 0; i < 5; i++ {
		books = append(books, models.Book{Title: fmt.Sprintf("Book %d", i)})
	}
	searcher := &mapSearcher{results: map[string][]models.Book{"many": books}}
	writer := &mockWriter{}
	p := New(context.Background(), searcher, writer, WithBatchSize(4), WithLogger(quietLogger()))
	p.Start(1)

	if err := p.Process("many"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 || sizes[0] != 4 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [4 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingQueries(t *testing.T) {
	results := make(map[string][]models.Book)
	queries := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		q := fmt.Sprintf("query %d", i)
		queries = append(queries, q)
		results[q] = []models.Book{{Title: fmt.Sprintf("Title %d", i)}}
	}
	searcher := &mapSearcher{results: results}
	writer := &mockWriter{}

	var mu sync.Mutex
	done := 0
	p := New(context.Background(), searcher, writer,
		WithLogger(quietLogger()),
		WithProgress(func() {
			mu.Lock()
			done++
			mu.Unlock()
		}),
	)
	p.Start(4)

	if err := p.Process(queries...); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(writer.records()); got != 100 {
		t.Fatalf("written records = %d, want 100", got)
	}
	if done != 100 {
		t.Fatalf("progress callbacks = %d, want 100", done)
	}
}

func TestPipelineWriteErrorStopsProcessing(t *testing.T) {
	searcher := &mapSearcher{results: map[string][]models.Book{
		"a": {{Title: "A"}},
		"b": {{Title: "B"}},
	}}
	writer := &mockWriter{writeErr: errors.New("disk full")}
	p := New(context.Background(), searcher, writer, WithBatchSize(1), WithLogger(quietLogger()))
	p.Start(1)

	_ = p.Process("a")
	err := p.Close()
	if err == nil || !errors.Is(err, writer.writeErr) {
		t.Fatalf("close error = %v, want disk full", err)
	}
	if err := p.Process("b"); err == nil {
		t.Fatalf("process after failure should fail")
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := New(context.Background(), &mapSearcher{}, &mockWriter{}, WithLogger(quietLogger()))
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process("late"); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}
