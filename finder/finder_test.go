package finder

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rrh2023/book-finder/config"
)

var volumesPattern = regexp.MustCompile(`^https://books\.test/books/v1/volumes`)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.VolumesURL = "https://books.test/books/v1/volumes"
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

func newTestFinder(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) *Finder {
	t.Helper()
	f, err := NewFinder(cfg, WithTransport(transport))
	if err != nil {
		t.Fatalf("new finder: %v", err)
	}
	return f
}

func volumesBody() map[string]any {
	return map[string]any{
		"totalItems": 2,
		"items": []map[string]any{
			{
				"id": "a1",
				"volumeInfo": map[string]any{
					"title":         "The Name of the Rose",
					"authors":       []string{"Umberto Eco"},
					"description":   "<p>A murder mystery in a <i>medieval</i> abbey.</p>",
					"publishedDate": "1980",
					"pageCount":     512,
					"categories":    []string{"Fiction", "Mystery"},
					"imageLinks":    map[string]string{"thumbnail": "http://img.test/rose.jpg"},
				},
			},
			{
				"id": "b2",
				"volumeInfo": map[string]any{
					"title": "Untitled Draft",
				},
			},
		},
	}
}

func TestFindMapsVolumes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxResults = 7

	var captured *http.Request
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", volumesPattern, func(req *http.Request) (*http.Response, error) {
		captured = req
		return httpmock.NewJsonResponse(http.StatusOK, volumesBody())
	})

	f := newTestFinder(t, cfg, transport)
	books, err := f.Find(context.Background(), "  medieval   murder mystery ")
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if captured == nil {
		t.Fatalf("expected an upstream request")
	}
	if got := captured.URL.Query().Get("q"); got != "medieval murder mystery" {
		t.Fatalf("q = %q, want normalised description", got)
	}
	if got := captured.URL.Query().Get("maxResults"); got != "7" {
		t.Fatalf("maxResults = %q, want 7", got)
	}
	if got := captured.Header.Get("User-Agent"); got != cfg.UserAgent {
		t.Fatalf("user agent = %q", got)
	}

	if len(books) != 2 {
		t.Fatalf("books = %d, want 2", len(books))
	}
	first := books[0]
	if first.Title != "The Name of the Rose" || first.Authors != "Umberto Eco" {
		t.Fatalf("unexpected first book: %+v", first)
	}
	if first.Description != "A murder mystery in a medieval abbey." {
		t.Fatalf("description = %q", first.Description)
	}
	if first.Categories != "Fiction, Mystery" || first.Pages() != 512 {
		t.Fatalf("unexpected metadata: %+v", first)
	}
	if books[1].PageCount != nil || books[1].Authors != "" {
		t.Fatalf("second book should have no optional fields: %+v", books[1])
	}
}

func TestFindEmptyDescription(t *testing.T) {
	transport := httpmock.NewMockTransport()
	f := newTestFinder(t, testConfig(), transport)

	if _, err := f.Find(context.Background(), " \n\t "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("upstream calls = %d, want 0", got)
	}
}

func TestFindCachesResults(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", volumesPattern, httpmock.NewJsonResponderOrPanic(http.StatusOK, volumesBody()))

	f := newTestFinder(t, testConfig(), transport)
	for i := 0; i < 3; i++ {
		books, err := f.Find(context.Background(), "Medieval Mystery")
		if err != nil {
			t.Fatalf("find #%d: %v", i, err)
		}
		if len(books) != 2 {
			t.Fatalf("find #%d books = %d, want 2", i, len(books))
		}
	}
	if _, err := f.Find(context.Background(), "medieval   mystery"); err != nil {
		t.Fatalf("find normalised: %v", err)
	}

	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
	if got := testutil.ToFloat64(f.Metrics.CacheHitsTotal); got != 3 {
		t.Fatalf("cache hits = %v, want 3", got)
	}
}

func TestFindCacheReturnsCopies(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", volumesPattern, httpmock.NewJsonResponderOrPanic(http.StatusOK, volumesBody()))

	f := newTestFinder(t, testConfig(), transport)
	books, err := f.Find(context.Background(), "rose")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	books[0].Title = "mutated"

	again, err := f.Find(context.Background(), "rose")
	if err != nil {
		t.Fatalf("find again: %v", err)
	}
	if again[0].Title != "The Name of the Rose" {
		t.Fatalf("cache entry was mutated: %q", again[0].Title)
	}
}

func TestFindRetriesUpstreamErrors(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var mu sync.Mutex
	calls := 0
	transport.RegisterRegexpResponder("GET", volumesPattern, func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, volumesBody())
	})

	f := newTestFinder(t, testConfig(), transport)
	books, err := f.Find(context.Background(), "abbey")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("books = %d, want 2", len(books))
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("upstream calls = %d, want 2", got)
	}
	if got := testutil.ToFloat64(f.Metrics.RetriesTotal); got != 1 {
		t.Fatalf("retries = %v, want 1", got)
	}
}

func TestFindGivesUpAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", volumesPattern, httpmock.NewStringResponder(http.StatusTooManyRequests, ""))

	f := newTestFinder(t, cfg, transport)
	_, err := f.Find(context.Background(), "abbey")

	if kind := KindOf(err); kind != KindRateLimited {
		t.Fatalf("expected rate_limited lookup error, got %q (%v)", kind, err)
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("upstream calls = %d, want 2", got)
	}
}

func TestFindDoesNotRetryForbidden(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", volumesPattern, httpmock.NewStringResponder(http.StatusForbidden, ""))

	f := newTestFinder(t, testConfig(), transport)
	_, err := f.Find(context.Background(), "abbey")

	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) || lookupErr.Kind != KindForbidden || lookupErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden lookup error, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
	if got := testutil.ToFloat64(f.Metrics.ErrorsTotal.WithLabelValues("forbidden")); got != 1 {
		t.Fatalf("forbidden errors = %v, want 1", got)
	}
}

func TestFindCancelledContext(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", volumesPattern, httpmock.NewJsonResponderOrPanic(http.StatusOK, volumesBody()))

	f := newTestFinder(t, testConfig(), transport)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Find(ctx, "abbey"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("upstream calls = %d, want 0", got)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	f := newTestFinder(t, cfg, httpmock.NewMockTransport())
	if delay := f.backoff(1); delay != 200*time.Millisecond {
		t.Fatalf("first delay = %v, want 200ms", delay)
	}
	if delay := f.backoff(4); delay != cfg.RetryBackoffMax {
		t.Fatalf("delay %v, want cap %v", delay, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "bad gateway", err: errors.New("Bad Gateway"), statusCode: http.StatusBadGateway, expected: "upstream"},
		{name: "bad request", err: errors.New("Bad Request"), statusCode: http.StatusBadRequest, expected: "other"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFindSharedLookupSurvivesCallerCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", volumesPattern, func(req *http.Request) (*http.Response, error) {
		started <- struct{}{}
		<-release
		return httpmock.NewJsonResponse(http.StatusOK, volumesBody())
	})

	f := newTestFinder(t, testConfig(), transport)

	type result struct {
		n   int
		err error
	}
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resA := make(chan result, 1)
	go func() {
		books, err := f.Find(ctxA, "dune")
		resA <- result{len(books), err}
	}()
	<-started

	resB := make(chan result, 1)
	go func() {
		books, err := f.Find(context.Background(), "dune")
		resB <- result{len(books), err}
	}()
	// Give the second caller time to join the in-flight lookup.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if got := <-resA; !errors.Is(got.err, context.Canceled) {
		t.Fatalf("cancelled caller: err = %v, want context.Canceled", got.err)
	}

	close(release)
	got := <-resB
	if got.err != nil || got.n != 2 {
		t.Fatalf("live caller: books = %d err = %v, want 2 books", got.n, got.err)
	}
	if calls := transport.GetTotalCallCount(); calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls)
	}

	if books, err := f.Find(context.Background(), "dune"); err != nil || len(books) != 2 {
		t.Fatalf("cached lookup: books = %d err = %v", len(books), err)
	}
	if calls := transport.GetTotalCallCount(); calls != 1 {
		t.Fatalf("upstream calls after cache hit = %d, want 1", calls)
	}
}

func TestLookupCancelledIsNotCountedAsError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	f := newTestFinder(t, testConfig(), transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.lookup(ctx, "dune"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := testutil.ToFloat64(f.Metrics.ErrorsTotal.WithLabelValues("other")); got != 0 {
		t.Fatalf("other errors = %v, want 0", got)
	}
	if got := testutil.ToFloat64(f.Metrics.RequestsTotal.WithLabelValues("canceled")); got != 1 {
		t.Fatalf("canceled requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.Metrics.RequestsTotal.WithLabelValues("error")); got != 0 {
		t.Fatalf("error requests = %v, want 0", got)
	}
}

func TestLookupBudgetCoversRetries(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = time.Second
	cfg.MaxRetries = 2

	f := newTestFinder(t, cfg, httpmock.NewMockTransport())
	want := 3*time.Second + f.backoff(1) + f.backoff(2)
	if got := f.lookupBudget(); got != want {
		t.Fatalf("budget = %v, want %v", got, want)
	}
}
