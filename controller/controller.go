// Package controller owns the interaction state of a book search session:
// the query text, the result list, the loading flag and the transient
// message shown to the user.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rrh2023/book-finder/models"
	"github.com/rrh2023/book-finder/searchclient"
)

// DefaultMessageTimeout is how long the empty-query message stays visible.
const DefaultMessageTimeout = 5 * time.Second

// Searcher runs one search against the remote endpoint.
type Searcher interface {
	Search(ctx context.Context, description string) ([]models.Book, error)
}

// Timer is the handle returned by an AfterFunc implementation.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Controller mediates between user input and the search endpoint. All
// methods are safe for concurrent use.
type Controller struct {
	searcher       Searcher
	messageTimeout time.Duration
	afterFunc      AfterFunc
	logger         *slog.Logger
	onChange       func(Snapshot)

	mu          sync.Mutex
	query       string
	state       State
	books       []models.Book
	message     string
	hasSearched bool

	// generation invalidates in-flight searches on Clear and Close.
	generation   uint64
	cancel       context.CancelFunc
	messageSeq   uint64
	messageTimer Timer
}

// Option customises a Controller.
type Option func(*Controller)

// WithMessageTimeout overrides how long the empty-query message is shown.
func WithMessageTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.messageTimeout = d
		}
	}
}

// WithAfterFunc replaces the timer implementation.
func WithAfterFunc(fn AfterFunc) Option {
	return func(c *Controller) {
		c.afterFunc = fn
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithOnChange registers an observer called after every state change, outside
// the controller lock.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// New returns an idle controller backed by searcher.
func New(searcher Searcher, opts ...Option) *Controller {
	c := &Controller{
		searcher:       searcher,
		messageTimeout: DefaultMessageTimeout,
		afterFunc:      stdAfterFunc,
		logger:         slog.Default(),
		state:          Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SetQuery replaces the query text.
func (c *Controller) SetQuery(query string) Snapshot {
	c.mu.Lock()
	c.query = query
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return snap
}

// Submit validates the query and starts a search. The returned channel
// receives the settled snapshot once and is then closed.
//
// An empty or whitespace-only query never reaches the searcher; it shows
// MsgEmptyQuery, which clears itself after the message timeout unless another
// action happens first. A Submit while a search is outstanding is ignored.
func (c *Controller) Submit(ctx context.Context) <-chan Snapshot {
	if ctx == nil {
		ctx = context.Background()
	}
	out := make(chan Snapshot, 1)

	c.mu.Lock()
	c.hasSearched = true

	if c.state == Loading {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		out <- snap
		close(out)
		return out
	}

	if strings.TrimSpace(c.query) == "" {
		c.stopMessageTimerLocked()
		c.state = Failed
		c.message = MsgEmptyQuery
		seq := c.messageSeq
		c.messageTimer = c.afterFunc(c.messageTimeout, func() {
			c.expireMessage(seq)
		})
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.notify(snap)
		out <- snap
		close(out)
		return out
	}

	c.stopMessageTimerLocked()
	c.generation++
	gen := c.generation
	searchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.books = nil
	c.message = ""
	c.state = Loading
	query := c.query
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)

	go func() {
		defer close(out)
		defer cancel()
		books, err := c.run(searchCtx, query)
		out <- c.settle(gen, query, books, err)
	}()
	return out
}

// KeyDown handles a key press in the query input. When the key submits, the
// default newline insertion is suppressed (handled is true) and the search
// channel is returned.
func (c *Controller) KeyDown(ctx context.Context, ev KeyEvent) (<-chan Snapshot, bool) {
	if !ev.Submits() {
		return nil, false
	}
	return c.Submit(ctx), true
}

// Clear resets every field to its initial value and abandons any
// outstanding search. It is idempotent.
func (c *Controller) Clear() Snapshot {
	c.mu.Lock()
	c.abandonLocked()
	c.query = ""
	c.books = nil
	c.message = ""
	c.hasSearched = false
	c.state = Idle
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return snap
}

// Close abandons any outstanding search and pending timer without touching
// the visible state.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
}

func (c *Controller) run(ctx context.Context, query string) (books []models.Book, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("search panicked: %v", r)
		}
	}()
	return c.searcher.Search(ctx, query)
}

func (c *Controller) settle(gen uint64, query string, books []models.Book, err error) Snapshot {
	c.mu.Lock()
	if gen != c.generation {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.logger.Debug("discarding stale search result", slog.String("query", query))
		return snap
	}

	c.cancel = nil
	switch {
	case err != nil:
		c.books = nil
		c.message = messageFor(err)
		c.state = Failed
	case len(books) == 0:
		c.books = nil
		c.message = ""
		c.state = Empty
	default:
		c.books = books
		c.message = ""
		c.state = Success
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("book search failed", slog.String("query", query), slog.Any("error", err))
	} else {
		c.logger.Debug("book search settled", slog.String("query", query), slog.Int("books", len(books)))
	}
	c.notify(snap)
	return snap
}

func (c *Controller) expireMessage(seq uint64) {
	c.mu.Lock()
	if seq != c.messageSeq || c.state != Failed {
		c.mu.Unlock()
		return
	}
	c.messageTimer = nil
	c.message = ""
	if len(c.books) > 0 {
		c.state = Success
	} else {
		c.state = Idle
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Controller) abandonLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.stopMessageTimerLocked()
}

func (c *Controller) stopMessageTimerLocked() {
	if c.messageTimer != nil {
		c.messageTimer.Stop()
		c.messageTimer = nil
	}
	c.messageSeq++
}

func (c *Controller) snapshotLocked() Snapshot {
	books := make([]models.Book, len(c.books))
	copy(books, c.books)
	return Snapshot{
		State:       c.state,
		Query:       c.query,
		Books:       books,
		Message:     c.message,
		HasSearched: c.hasSearched,
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

func messageFor(err error) string {
	switch {
	case searchclient.IsNoResults(err):
		return MsgNoBooks
	case searchclient.IsTransport(err):
		return MsgTransport
	default:
		return MsgNoBooks
	}
}
