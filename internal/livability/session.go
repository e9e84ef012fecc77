package livability

import (
	"context"
	"errors"
	"time"

	"livability/internal/debounce"
)

const (
	DefaultSuggestWait = 300 * time.Millisecond
	suggestTimeout     = 30 * time.Second
)

var ErrSuperseded = errors.New("superseded by a newer query")

// SearchSession debounces search-as-you-type input from one client. Each
// Suggest call replaces the pending one; only the last call within the wait
// window reaches the geocoder, and earlier callers get ErrSuperseded.
type SearchSession struct {
	debouncer *debounce.Debouncer
	guard     debounce.Guard
	search    func(ctx context.Context, query string) ([]Place, error)
}

func NewSearchSession(wait time.Duration, search func(ctx context.Context, query string) ([]Place, error)) *SearchSession {
	return &SearchSession{
		debouncer: debounce.New(wait),
		search:    search,
	}
}

type suggestResult struct {
	places []Place
	err    error
}

func (ss *SearchSession) Suggest(ctx context.Context, query string) ([]Place, error) {
	token, superseded := ss.guard.Next()

	out := make(chan suggestResult, 1)
	// The lookup is not tied to this request: a newer query discards its
	// result but does not abort it.
	fetchCtx := context.WithoutCancel(ctx)
	ss.debouncer.Trigger(func() {
		ctx, cancel := context.WithTimeout(fetchCtx, suggestTimeout)
		defer cancel()
		places, err := ss.search(ctx, query)
		out <- suggestResult{places: places, err: err}
	})

	select {
	case r := <-out:
		if !ss.guard.IsLatest(token) {
			return nil, ErrSuperseded
		}
		return r.places, r.err
	case <-superseded:
		return nil, ErrSuperseded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Suggest runs a debounced search for the client identified by sessionID.
func (s *Service) Suggest(ctx context.Context, sessionID, query string) ([]Place, error) {
	return s.session(sessionID).Suggest(ctx, query)
}

func (s *Service) session(id string) *SearchSession {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if v, ok := s.sessions.Read(id); ok {
		if ss, ok := v.(*SearchSession); ok {
			s.sessions.Write(id, ss, 0)
			return ss
		}
	}
	ss := NewSearchSession(s.suggestWait, s.Search)
	s.sessions.Write(id, ss, 0)
	return ss
}
