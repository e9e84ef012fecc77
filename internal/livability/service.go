package livability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"livability/internal/cache"
	"livability/internal/history"
)

const (
	MaxLocations   = 3
	MinQueryLength = 3
	AddressTTL     = time.Hour

	scoreDataType   = "score"
	addressDataType = "address"
)

var ErrInvalidLocations = errors.New("between 1 and 3 valid locations are required")

type Scorer interface {
	Score(ctx context.Context, locations []Coordinates) ([]LocationScore, error)
}

type Geocoder interface {
	Search(ctx context.Context, query string) ([]Place, error)
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, prompt, mode, language string) (string, error)
}

type Service struct {
	cache      *cache.Store
	history    *history.Store
	scorer     Scorer
	geocoder   Geocoder
	summarizer Summarizer

	sessionsMu  sync.Mutex
	sessions    *cache.Store
	suggestWait time.Duration
}

func NewService(c *cache.Store, h *history.Store, scorer Scorer, geocoder Geocoder, summarizer Summarizer) *Service {
	return &Service{
		cache:      c,
		history:    h,
		scorer:     scorer,
		geocoder:   geocoder,
		summarizer: summarizer,
		sessions: cache.New(cache.Options{
			Name:       "search-sessions",
			Capacity:   1000,
			DefaultTTL: 15 * time.Minute,
		}),
		suggestWait: DefaultSuggestWait,
	}
}

// Score returns scores for 1 to 3 locations in request order. Cached
// locations are served from the cache; the rest go to the backend in one
// batch and are cached only once the whole batch has succeeded.
func (s *Service) Score(ctx context.Context, locations []Coordinates) ([]ScoredLocation, error) {
	if err := validateLocations(locations); err != nil {
		return nil, err
	}

	results := make([]ScoredLocation, len(locations))
	var missing []int
	for i, loc := range locations {
		results[i].Coordinates = loc
		key := cache.LocationKey(loc.Lat, loc.Lng, scoreDataType)
		if v, ok := s.cache.Read(key); ok {
			if score, ok := v.(LocationScore); ok {
				results[i].Score = score
				results[i].Cached = true
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		batch := make([]Coordinates, len(missing))
		for j, i := range missing {
			batch[j] = locations[i]
		}
		scores, err := s.scorer.Score(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("score locations: %w", err)
		}
		for j, i := range missing {
			results[i].Score = scores[j]
			key := cache.LocationKey(locations[i].Lat, locations[i].Lng, scoreDataType)
			s.cache.Write(key, scores[j], cache.LocationTTL)
		}
	}

	// ReverseGeocode always yields an address; the group bounds and joins
	// the lookups.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxLocations)
	for i := range results {
		if addr := results[i].Score.Address; addr != "" {
			results[i].Address = addr
			continue
		}
		g.Go(func() error {
			results[i].Address = s.ReverseGeocode(gctx, results[i].Coordinates.Lat, results[i].Coordinates.Lng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve addresses: %w", err)
	}

	return results, nil
}

// ReverseGeocode resolves a display address. Geocoder failures fall back to
// the formatted coordinates, which are cached like a real address unless the
// caller's context ended first.
func (s *Service) ReverseGeocode(ctx context.Context, lat, lng float64) string {
	addr, err := cache.CacheLocationData(ctx, s.cache, lat, lng, addressDataType, func(ctx context.Context) (string, error) {
		addr, err := s.geocoder.Reverse(ctx, lat, lng)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			slog.Warn("reverse geocode failed, using coordinates", "err", err, "lat", lat, "lng", lng)
			return fallbackAddress(lat, lng), nil
		}
		return addr, nil
	}, AddressTTL)
	if err != nil {
		return fallbackAddress(lat, lng)
	}
	return addr
}

func fallbackAddress(lat, lng float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lng)
}

// Search runs a free-text place search. Queries shorter than 3 characters
// return no results without calling the geocoder.
func (s *Service) Search(ctx context.Context, query string) ([]Place, error) {
	if utf8.RuneCountInString(strings.TrimSpace(query)) < MinQueryLength {
		return []Place{}, nil
	}
	places, err := cache.CacheSearchResults(ctx, s.cache, query, func(ctx context.Context) ([]Place, error) {
		return s.geocoder.Search(ctx, query)
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return places, nil
}

// Summarize returns generated text describing a scored location for the
// given audience and language.
func (s *Service) Summarize(ctx context.Context, loc ScoredLocation, mode, language string) (string, error) {
	prompt := BuildPrompt(loc)
	text, err := cache.CacheAIResponse(ctx, s.cache, prompt, mode, language, func(ctx context.Context) (string, error) {
		return s.summarizer.Summarize(ctx, prompt, mode, language)
	}, 0)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return text, nil
}

// BuildPrompt leads with the coordinates and scores so that the first 100
// characters, which key the AI cache, differ between locations.
func BuildPrompt(loc ScoredLocation) string {
	sc := loc.Score.Scores
	var b strings.Builder
	fmt.Fprintf(&b, "%s,%s o%.1f s%.1f m%.1f sf%.1f e%.1f\n",
		cache.QuantizeCoord(loc.Coordinates.Lat), cache.QuantizeCoord(loc.Coordinates.Lng),
		sc.Overall, sc.Services, sc.Mobility, sc.Safety, sc.Environment)
	fmt.Fprintf(&b, "Describe the livability of %s.\n", loc.Address)
	fmt.Fprintf(&b, "Overall score %.1f/100. Services %.1f, mobility %.1f, safety %.1f, environment %.1f.\n",
		sc.Overall, sc.Services, sc.Mobility, sc.Safety, sc.Environment)
	fc := loc.Score.FacilityCounts
	fmt.Fprintf(&b, "Within 1 km: %d health, %d education, %d market, %d transport, %d recreation, %d police, %d religious.\n",
		fc.Health, fc.Education, fc.Market, fc.Transport, fc.Recreation, fc.Police, fc.Religious)
	if len(loc.Score.NearbyFacilities) > 0 {
		fmt.Fprintf(&b, "Nearby: %s.\n", strings.Join(loc.Score.NearbyFacilities, ", "))
	}
	return b.String()
}

func (s *Service) SelectLocation(ctx context.Context, query, address string, coords Coordinates) ([]history.Item, error) {
	if !validCoordinates(coords) {
		return nil, ErrInvalidLocations
	}
	return s.history.Record(ctx, query, address, coords), nil
}

func (s *Service) RecentSelections(ctx context.Context, limit int) []history.Item {
	return s.history.Recent(ctx, limit)
}

func (s *Service) AllSelections(ctx context.Context) []history.Item {
	return s.history.List(ctx)
}

func (s *Service) ForgetSelection(ctx context.Context, id string) []history.Item {
	return s.history.Forget(ctx, id)
}

func (s *Service) ForgetAllSelections(ctx context.Context) {
	s.history.ForgetAll(ctx)
}

func (s *Service) IsSelected(ctx context.Context, coords Coordinates) bool {
	return s.history.Contains(ctx, coords)
}

func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *Service) ClearCache() {
	s.cache.Clear()
}

func (s *Service) RemoveCacheEntry(key string) bool {
	return s.cache.Remove(key)
}

func validateLocations(locations []Coordinates) error {
	if len(locations) == 0 || len(locations) > MaxLocations {
		return ErrInvalidLocations
	}
	for _, loc := range locations {
		if !validCoordinates(loc) {
			return ErrInvalidLocations
		}
	}
	return nil
}

func validCoordinates(c Coordinates) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
