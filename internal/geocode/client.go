package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"livability/internal/livability"
)

const SearchLimit = 5

var ErrNoAddress = errors.New("geocoder returned no address")

type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewClient(baseURL, userAgent string) *Client {
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type placeJSON struct {
	PlaceID     int64  `json:"place_id"`
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

func (c *Client) Search(ctx context.Context, query string) ([]livability.Place, error) {
	params := url.Values{
		"format":         {"json"},
		"q":              {query},
		"limit":          {strconv.Itoa(SearchLimit)},
		"addressdetails": {"1"},
	}
	data, err := c.fetch(ctx, "/search", params)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return ParsePlaces(data)
}

func (c *Client) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	params := url.Values{
		"format":         {"json"},
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lng, 'f', -1, 64)},
		"addressdetails": {"1"},
		"zoom":           {"18"},
	}
	data, err := c.fetch(ctx, "/reverse", params)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}

	var raw struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("decode reverse response: %w", err)
	}
	if raw.DisplayName == "" {
		return "", ErrNoAddress
	}
	return raw.DisplayName, nil
}

// ParsePlaces decodes a search response. Hits with unparseable coordinates
// are skipped.
func ParsePlaces(data []byte) ([]livability.Place, error) {
	var raw []placeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	places := make([]livability.Place, 0, len(raw))
	for _, r := range raw {
		lat, err := strconv.ParseFloat(r.Lat, 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(r.Lon, 64)
		if err != nil {
			continue
		}
		places = append(places, livability.Place{
			PlaceID:     r.PlaceID,
			DisplayName: r.DisplayName,
			Lat:         lat,
			Lng:         lng,
		})
	}
	return places, nil
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("geocoder returned %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
