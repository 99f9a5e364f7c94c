package web

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rrh2023/book-finder/controller"
)

const sessionCookie = "bookfinder_session"

// sessions maps session ids to controllers. The least recently used session
// is closed when the table is full.
type sessions struct {
	cache *lru.Cache[string, *controller.Controller]
	build func(id string) *controller.Controller
}

func newSessions(limit int, build func(id string) *controller.Controller) (*sessions, error) {
	cache, err := lru.NewWithEvict(limit, func(_ string, c *controller.Controller) {
		c.Close()
	})
	if err != nil {
		return nil, err
	}
	return &sessions{cache: cache, build: build}, nil
}

// lookup returns the controller bound to the request's cookie, creating a
// session (and setting the cookie) when the request has none or an unknown
// one.
func (s *sessions) lookup(w http.ResponseWriter, r *http.Request) (string, *controller.Controller) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if c, ok := s.cache.Get(cookie.Value); ok {
			return cookie.Value, c
		}
	}

	id := uuid.NewString()
	c := s.build(id)
	s.cache.Add(id, c)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Debug("session started", slog.String("session", id))
	return id, c
}

func (s *sessions) len() int {
	return s.cache.Len()
}

func (s *sessions) closeAll() {
	s.cache.Purge()
}
