package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"livability/internal/livability"
)

const (
	MaxLocations   = 3
	DefaultTimeout = 3 * time.Minute
	DefaultRetries = 3
	DefaultBackoff = time.Second
)

var (
	ErrBadRequest  = errors.New("scoring request needs 1 to 3 locations")
	ErrBadResponse = errors.New("malformed scoring response")
)

var retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "livability_scoring_retries_total",
	Help: "Total number of retried scoring backend calls",
})

// RegisterMetrics registers the client's collectors on reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(retriesTotal)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets how many times a failed attempt is retried.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithBackoff sets the first retry delay; each further retry doubles it.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		retries:    DefaultRetries,
		backoff:    DefaultBackoff,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type locationJSON struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type requestJSON struct {
	Locations []locationJSON `json:"locations"`
}

// Score asks the backend to score 1 to 3 locations. Results are returned in
// input order. Failed attempts, timeouts included, are retried with
// exponential backoff.
func (c *Client) Score(ctx context.Context, locations []livability.Coordinates) ([]livability.LocationScore, error) {
	if len(locations) == 0 || len(locations) > MaxLocations {
		return nil, ErrBadRequest
	}

	req := requestJSON{Locations: make([]locationJSON, len(locations))}
	for i, l := range locations {
		req.Locations[i] = locationJSON{Lat: l.Lat, Lng: l.Lng}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode scoring request: %w", err)
	}

	delay := c.backoff
	for attempt := 0; ; attempt++ {
		scores, err := c.attempt(ctx, body, len(locations))
		if err == nil {
			return scores, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("calculate score: %w", ctx.Err())
		}
		if attempt >= c.retries {
			return nil, fmt.Errorf("calculate score after %d attempts: %w", attempt+1, err)
		}

		slog.Warn("scoring backend call failed, retrying",
			"err", err,
			"attempt", attempt+1,
			"delay", delay,
		)
		retriesTotal.Inc()
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("calculate score: %w", err)
		}
		delay *= 2
	}
}

func (c *Client) attempt(ctx context.Context, body []byte, want int) ([]livability.LocationScore, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calculate-score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read scoring response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring backend returned %d: %s", resp.StatusCode, string(data))
	}

	return ParseScores(data, want)
}

// ParseScores decodes the backend's response array and checks that it holds
// one result per requested location.
func ParseScores(data []byte, want int) ([]livability.LocationScore, error) {
	var scores []livability.LocationScore
	if err := json.Unmarshal(data, &scores); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(scores) != want {
		return nil, fmt.Errorf("%w: got %d results for %d locations", ErrBadResponse, len(scores), want)
	}
	for i := range scores {
		if scores[i].NearbyFacilities == nil {
			scores[i].NearbyFacilities = []string{}
		}
		if scores[i].Facilities == nil {
			scores[i].Facilities = []livability.Facility{}
		}
	}
	return scores, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
