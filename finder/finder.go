// Package finder looks up books matching a free-text description in the
// Google Books volumes catalogue.
package finder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/rrh2023/book-finder/config"
	"github.com/rrh2023/book-finder/models"
	"github.com/rrh2023/book-finder/parser"
)

// Finder issues volume lookups through a colly collector with retries,
// caching and deduplication of concurrent identical lookups.
type Finder struct {
	cfg       *config.Config
	volumes   *url.URL
	transport http.RoundTripper
	Metrics   *Metrics

	cache *expirable.LRU[string, []models.Book]
	group singleflight.Group
}

// Option customises a Finder.
type Option func(*Finder)

// WithTransport replaces the HTTP transport used by lookups.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Finder) {
		f.transport = rt
	}
}

// WithMetrics shares a metrics bundle with the caller.
func WithMetrics(m *Metrics) Option {
	return func(f *Finder) {
		f.Metrics = m
	}
}

// NewFinder builds a finder configured from cfg.
func NewFinder(cfg *config.Config, opts ...Option) (*Finder, error) {
	parsed, err := url.Parse(cfg.VolumesURL)
	if err != nil {
		return nil, fmt.Errorf("parse volumes url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("volumes url must include a host")
	}

	f := &Finder{
		cfg:     cfg,
		volumes: parsed,
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.Metrics == nil {
		f.Metrics = NewMetrics(nil)
	}
	if cfg.CacheSize > 0 {
		f.cache = expirable.NewLRU[string, []models.Book](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return f, nil
}

// Find returns the books matching description in catalogue order.
func (f *Finder) Find(ctx context.Context, description string) ([]models.Book, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	query := normalizeQuery(description)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	key := strings.ToLower(query)

	if f.cache != nil {
		if books, ok := f.cache.Get(key); ok {
			f.Metrics.IncCache(true)
			return cloneBooks(books), nil
		}
		f.Metrics.IncCache(false)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The shared lookup outlives any single caller so one disconnect does
	// not fail the others; each caller still honours its own ctx.
	ch := f.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.lookupBudget())
		defer cancel()
		books, err := f.lookup(lookupCtx, query)
		if err == nil && f.cache != nil {
			f.cache.Add(key, books)
		}
		return books, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("volume lookup shared", slog.String("query", query))
		}
		return cloneBooks(res.Val.([]models.Book)), nil
	}
}

// lookupBudget bounds a detached lookup: every attempt plus its backoff.
func (f *Finder) lookupBudget() time.Duration {
	budget := f.cfg.Timeout
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		budget += f.cfg.Timeout + f.backoff(attempt)
	}
	return budget
}

func (f *Finder) lookup(ctx context.Context, query string) ([]models.Book, error) {
	reqURL := f.requestURL(query)

	for attempt := 0; ; attempt++ {
		books, err := f.fetch(ctx, reqURL)
		if err == nil {
			f.Metrics.IncRequest("ok")
			f.Metrics.AddBooks(len(books))
			return books, nil
		}

		if errors.Is(err, context.Canceled) {
			f.Metrics.IncRequest("canceled")
			return nil, err
		}

		category := errorTypeLabel(err)
		f.Metrics.IncRequest("error")
		f.Metrics.IncError(category)
		slog.Warn("volume lookup failed",
			slog.String("query", query),
			slog.String("category", category),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)

		if attempt >= f.cfg.MaxRetries || !retryable(err) || ctx.Err() != nil {
			return nil, err
		}

		f.Metrics.IncRetries()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.backoff(attempt + 1)):
		}
	}
}

func (f *Finder) fetch(ctx context.Context, reqURL string) ([]models.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(f.volumes.Hostname()),
		colly.UserAgent(f.cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(&contextTransport{ctx: ctx, base: f.transport})

	var (
		list       parser.VolumeList
		decodeErr  error
		fetchErr   error
		statusCode int
	)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		decodeErr = json.Unmarshal(r.Body, &list)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	visitErr := collector.Visit(reqURL)
	f.Metrics.ObserveDuration(time.Since(start))

	if fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr != nil {
		return nil, classifyError(fetchErr, statusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode volumes response: %w", decodeErr)
	}

	return parser.BooksFromVolumes(list, f.cfg.DescriptionLimit), nil
}

func (f *Finder) requestURL(query string) string {
	u := *f.volumes
	params := u.Query()
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(f.cfg.MaxResults))
	u.RawQuery = params.Encode()
	return u.String()
}

func (f *Finder) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func normalizeQuery(description string) string {
	return strings.Join(strings.Fields(description), " ")
}

func cloneBooks(books []models.Book) []models.Book {
	out := make([]models.Book, len(books))
	copy(out, books)
	return out
}

// contextTransport binds the lookup context to every request the collector
// sends, so cancelling the caller aborts the upstream call.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(t.ctx, cancel)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: func() {
		stop()
		cancel()
	}}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
