// Package api serves the book search endpoint: POST {"description": ...}
// answered with {"books": [...]}.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/rrh2023/book-finder/config"
	"github.com/rrh2023/book-finder/finder"
	"github.com/rrh2023/book-finder/httpx"
	"github.com/rrh2023/book-finder/models"
)

const (
	maxBodyBytes = 64 << 10

	msgDescriptionRequired = "Description is required"
)

// Finder looks up books for a description.
type Finder interface {
	Find(ctx context.Context, description string) ([]models.Book, error)
}

// Server is the HTTP front of a Finder.
type Server struct {
	finder   Finder
	logger   *slog.Logger
	limiter  *httpx.RateLimiter
	schema   *gojsonschema.Schema
	requests *prometheus.CounterVec
}

// NewServer builds the search API. Request counts are registered on registry
// when it is non-nil.
func NewServer(f Finder, cfg *config.Config, registry prometheus.Registerer, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling request schema: %w", err)
	}

	var limitOpts []httpx.RateLimitOption
	if cfg.TrustProxy {
		limitOpts = append(limitOpts, httpx.TrustForwardedFor())
	}
	s := &Server{
		finder:  f,
		logger:  logger,
		limiter: httpx.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, limitOpts...),
		schema:  schema,
	}
	if registry != nil {
		s.requests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookfinder_api_requests_total",
				Help: "Search API responses by status code.",
			},
			[]string{"status"},
		)
		registry.MustRegister(s.requests)
	}
	return s, nil
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	search := httpx.Chain(http.HandlerFunc(s.handleSearch),
		cors,
		s.limiter.Middleware,
		httpx.LimitBody(maxBodyBytes),
	)

	mux := http.NewServeMux()
	mux.Handle("/search", search)
	mux.Handle("/", search)
	mux.HandleFunc("/healthz", handleHealth)

	return httpx.Chain(mux,
		httpx.RequestID(s.logger),
		httpx.AccessLog("api", s.countStatus),
		httpx.Recover,
	)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		httpx.JSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	logger := httpx.LoggerFrom(r.Context())

	req, err := s.decode(r.Body)
	if err != nil {
		logger.Debug("rejected search request", slog.Any("error", err))
		httpx.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Description == "" {
		httpx.JSONError(w, http.StatusBadRequest, msgDescriptionRequired)
		return
	}

	books, err := s.finder.Find(r.Context(), req.Description)
	switch {
	case errors.Is(err, finder.ErrEmptyQuery):
		httpx.JSONError(w, http.StatusBadRequest, msgDescriptionRequired)
		return
	case err != nil:
		// Lookup failures answer an empty list; the caller cannot tell them
		// apart from a genuine miss.
		logger.Warn("volume lookup failed",
			slog.String("description", req.Description),
			slog.Any("error", err),
		)
		books = []models.Book{}
	}
	if books == nil {
		books = []models.Book{}
	}

	logger.Info("search served", slog.Int("books", len(books)))
	httpx.JSON(w, http.StatusOK, models.SearchResponse{Books: books})
}

func (s *Server) countStatus(status int) {
	if s.requests == nil {
		return
	}
	s.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// cors sets the headers every search response carries, error responses
// included.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
