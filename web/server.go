// Package web serves the book search page. Each browser session owns a
// controller; the page is rendered on the server from its state.
package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rrh2023/book-finder/config"
	"github.com/rrh2023/book-finder/controller"
	"github.com/rrh2023/book-finder/httpx"
	"github.com/rrh2023/book-finder/render"
)

const (
	maxFormBytes = 64 << 10

	contentSecurityPolicy = "default-src 'self'; img-src * data:; style-src 'unsafe-inline'; script-src 'unsafe-inline'; form-action 'self'"

	defaultSettleWait = 3 * time.Second
)

// Server is the web UI.
type Server struct {
	cfg        *config.Config
	searcher   controller.Searcher
	renderer   *render.Renderer
	sessions   *sessions
	logger     *slog.Logger
	registry   *prometheus.Registry
	settleWait time.Duration
	afterFunc  controller.AfterFunc

	ctx    context.Context
	cancel context.CancelFunc

	searches *prometheus.CounterVec
}

// Option customises a Server.
type Option func(*Server)

// WithRegistry exposes registry on /metrics and counts submitted searches on it.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithSettleWait bounds how long a POST waits for its search before
// redirecting to the page. Zero redirects at once.
func WithSettleWait(d time.Duration) Option {
	return func(s *Server) {
		s.settleWait = d
	}
}

// WithAfterFunc replaces the timer used by session controllers.
func WithAfterFunc(fn controller.AfterFunc) Option {
	return func(s *Server) {
		s.afterFunc = fn
	}
}

// NewServer builds the UI around searcher.
func NewServer(searcher controller.Searcher, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	renderer, err := render.NewRenderer()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		searcher:   searcher,
		renderer:   renderer,
		logger:     logger,
		settleWait: defaultSettleWait,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sessions, err = newSessions(cfg.SessionLimit, s.newController)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating session table: %w", err)
	}

	if s.registry != nil {
		s.searches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookfinder_web_searches_total",
				Help: "Searches submitted from the web UI by trigger.",
			},
			[]string{"trigger"},
		)
		s.registry.MustRegister(s.searches)
	}
	return s, nil
}

func (s *Server) newController(id string) *controller.Controller {
	opts := []controller.Option{
		controller.WithMessageTimeout(s.cfg.MessageTimeout),
		controller.WithLogger(s.logger.With(slog.String("session", id))),
	}
	if s.afterFunc != nil {
		opts = append(opts, controller.WithAfterFunc(s.afterFunc))
	}
	return controller.New(s.searcher, opts...)
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /key", s.handleKey)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return httpx.Chain(mux,
		httpx.RequestID(s.logger),
		httpx.AccessLog("web", nil),
		httpx.Recover,
		httpx.SecurityHeaders(contentSecurityPolicy),
		httpx.LimitBody(maxFormBytes),
	)
}

// Close abandons every session's outstanding search.
func (s *Server) Close() {
	s.cancel()
	s.sessions.closeAll()
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.lookup(w, r)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.renderer.Page(w, render.NewPage(c.Snapshot())); err != nil {
		httpx.LoggerFrom(r.Context()).Error("page render failed", slog.Any("error", err))
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	_, c := s.sessions.lookup(w, r)
	c.SetQuery(r.PostFormValue("description"))
	s.count("button")
	s.await(c.Submit(s.ctx))
	redirectHome(w, r)
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	_, c := s.sessions.lookup(w, r)
	c.SetQuery(r.PostFormValue("description"))

	ev := controller.KeyEvent{
		Key:   r.PostFormValue("key"),
		Shift: r.PostFormValue("shift") == "true",
	}
	if ch, handled := c.KeyDown(s.ctx, ev); handled {
		s.count("enter")
		s.await(ch)
	}
	redirectHome(w, r)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.lookup(w, r)
	c.Clear()
	redirectHome(w, r)
}

func (s *Server) await(ch <-chan controller.Snapshot) {
	if ch == nil || s.settleWait <= 0 {
		return
	}
	timer := time.NewTimer(s.settleWait)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	}
}

func (s *Server) count(trigger string) {
	if s.searches != nil {
		s.searches.WithLabelValues(trigger).Inc()
	}
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
