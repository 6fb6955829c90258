package coderunner

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TemplatesService fetches starter source per language.
type TemplatesService struct {
	c     *Client
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]string
}

// Get returns the starter source for language. Templates are cached, and
// concurrent calls for the same language share one request.
func (s *TemplatesService) Get(ctx context.Context, language string) (string, error) {
	s.mu.RLock()
	tmpl, ok := s.cache[language]
	s.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	// The shared fetch must not die with whichever caller happened to start it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(language, func() (any, error) {
		tmpl, err := doText(fetchCtx, s.c, http.MethodGet, "/get_template",
			map[string]string{"language": language}, nil)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.cache[language] = tmpl
		s.mu.Unlock()
		return tmpl, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Forget drops the cached template for language.
func (s *TemplatesService) Forget(language string) {
	s.mu.Lock()
	delete(s.cache, language)
	s.mu.Unlock()
}
