package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livability/internal/history"
	"livability/internal/livability"
	"livability/internal/summary"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service  *livability.Service
	gatherer prometheus.Gatherer
}

func NewHandler(service *livability.Service, gatherer prometheus.Gatherer) *Handler {
	return &Handler{service: service, gatherer: gatherer}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/score", h.score)
	mux.HandleFunc("GET /v1/search", h.search)
	mux.HandleFunc("GET /v1/search/suggest", h.suggest)
	mux.HandleFunc("GET /v1/reverse", h.reverse)
	mux.HandleFunc("POST /v1/summary", h.summarize)

	mux.HandleFunc("GET /v1/history", h.listHistory)
	mux.HandleFunc("POST /v1/history", h.recordHistory)
	mux.HandleFunc("DELETE /v1/history", h.clearHistory)
	mux.HandleFunc("DELETE /v1/history/{id}", h.forgetHistory)
	mux.HandleFunc("GET /v1/history/contains", h.historyContains)

	mux.HandleFunc("GET /v1/cache", h.cacheStats)
	mux.HandleFunc("DELETE /v1/cache", h.clearCache)
	mux.HandleFunc("DELETE /v1/cache/{key}", h.removeCacheEntry)

	mux.HandleFunc("GET /health", h.health)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

type coordinatesJSON struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (c coordinatesJSON) value() (livability.Coordinates, bool) {
	if c.Lat == nil || c.Lng == nil {
		return livability.Coordinates{}, false
	}
	return livability.Coordinates{Lat: *c.Lat, Lng: *c.Lng}, true
}

type scoreRequest struct {
	Locations []coordinatesJSON `json:"locations"`
}

type scoredLocationJSON struct {
	Coordinates livability.Coordinates `json:"coordinates"`
	Address     string                 `json:"address"`
	Cached      bool                   `json:"cached"`
	livability.LocationScore
}

type placeJSON struct {
	PlaceID     int64   `json:"place_id"`
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

type summaryRequest struct {
	Coordinates coordinatesJSON          `json:"coordinates"`
	Address     string                   `json:"address"`
	Score       livability.LocationScore `json:"score"`
	Mode        string                   `json:"mode"`
	Language    string                   `json:"language"`
}

type historyRequest struct {
	Query       string          `json:"query"`
	Address     string          `json:"address"`
	Coordinates coordinatesJSON `json:"coordinates"`
}

func (h *Handler) score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	locations := make([]livability.Coordinates, 0, len(req.Locations))
	for _, l := range req.Locations {
		c, ok := l.value()
		if !ok {
			writeJSONError(w, "every location needs lat and lng", http.StatusBadRequest)
			return
		}
		locations = append(locations, c)
	}

	results, err := h.service.Score(r.Context(), locations)
	if errors.Is(err, livability.ErrInvalidLocations) {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("score failed", "err", err, "locations", len(locations))
		writeJSONError(w, "scoring service unavailable", http.StatusBadGateway)
		return
	}

	resp := make([]scoredLocationJSON, 0, len(results))
	for _, res := range results {
		resp = append(resp, scoredLocationJSON{
			Coordinates:   res.Coordinates,
			Address:       res.Address,
			Cached:        res.Cached,
			LocationScore: res.Score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": resp})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	places, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("search failed", "err", err)
		writeJSONError(w, "geocoder unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toPlacesJSON(places)})
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		session = r.Header.Get(signatureHeaderClientID)
	}
	if session == "" {
		writeJSONError(w, "session parameter is required", http.StatusBadRequest)
		return
	}

	places, err := h.service.Suggest(r.Context(), session, r.URL.Query().Get("q"))
	switch {
	case errors.Is(err, livability.ErrSuperseded):
		w.WriteHeader(http.StatusNoContent)
		return
	case r.Context().Err() != nil:
		return
	case err != nil:
		slog.Error("suggest failed", "err", err, "session", session)
		writeJSONError(w, "geocoder unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toPlacesJSON(places)})
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	coords, ok := parseLatLng(w, r)
	if !ok {
		return
	}
	addr := h.service.ReverseGeocode(r.Context(), coords.Lat, coords.Lng)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]string{"address": addr})
}

func (h *Handler) summarize(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	coords, ok := req.Coordinates.value()
	if !ok {
		writeJSONError(w, "coordinates are required", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = "general"
	}
	if req.Language == "" {
		req.Language = "en"
	}

	text, err := h.service.Summarize(r.Context(), livability.ScoredLocation{
		Coordinates: coords,
		Address:     req.Address,
		Score:       req.Score,
	}, req.Mode, req.Language)
	if errors.Is(err, summary.ErrUnavailable) {
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		slog.Error("summarize failed", "err", err, "mode", req.Mode)
		writeJSONError(w, "summary service unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		writeJSON(w, http.StatusOK, historyResponse(h.service.AllSelections(r.Context())))
		return
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeJSONError(w, "invalid limit parameter", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse(h.service.RecentSelections(r.Context(), limit)))
}

func (h *Handler) recordHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	coords, ok := req.Coordinates.value()
	if !ok {
		writeJSONError(w, "coordinates are required", http.StatusBadRequest)
		return
	}
	items, err := h.service.SelectLocation(r.Context(), req.Query, req.Address, coords)
	if err != nil {
		writeJSONError(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, historyResponse(items))
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	h.service.ForgetAllSelections(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) forgetHistory(w http.ResponseWriter, r *http.Request) {
	items := h.service.ForgetSelection(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, historyResponse(items))
}

func (h *Handler) historyContains(w http.ResponseWriter, r *http.Request) {
	coords, ok := parseLatLng(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"contains": h.service.IsSelected(r.Context(), coords)})
}

func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, h.service.CacheStats())
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	h.service.ClearCache()
	slog.Info("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeCacheEntry(w http.ResponseWriter, r *http.Request) {
	if !h.service.RemoveCacheEntry(r.PathValue("key")) {
		writeJSONError(w, "no such cache entry", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func historyResponse(items []history.Item) map[string]any {
	if items == nil {
		items = []history.Item{}
	}
	return map[string]any{"items": items}
}

func toPlacesJSON(places []livability.Place) []placeJSON {
	out := make([]placeJSON, 0, len(places))
	for _, p := range places {
		out = append(out, placeJSON{
			PlaceID:     p.PlaceID,
			DisplayName: p.DisplayName,
			Lat:         p.Lat,
			Lng:         p.Lng,
		})
	}
	return out
}

func parseLatLng(w http.ResponseWriter, r *http.Request) (livability.Coordinates, bool) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		writeJSONError(w, "invalid lat parameter", http.StatusBadRequest)
		return livability.Coordinates{}, false
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err != nil || lng < -180 || lng > 180 {
		writeJSONError(w, "invalid lng parameter", http.StatusBadRequest)
		return livability.Coordinates{}, false
	}
	return livability.Coordinates{Lat: lat, Lng: lng}, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Wrap applies the request logger and, when secrets are configured, request
// signing to h.
func Wrap(h http.Handler, clientSecrets map[string]string) http.Handler {
	if len(clientSecrets) > 0 {
		h = NewRequestSignatureMiddleware(clientSecrets, 5*time.Minute)(h)
	}
	return requestLogger(h)
}
