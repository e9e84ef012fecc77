package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testClientID = "web-app"
	testSecret   = "top-secret"
)

func signedRequest(t *testing.T, method, target, body, secret string, at time.Time) *http.Request {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	ts := strconv.FormatInt(at.Unix(), 10)
	req.Header.Set("X-Client-ID", testClientID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", signForTest(secret, req.Method, req.URL.Path, req.URL.RawQuery, ts, body))
	return req
}

func runMiddleware(req *http.Request) (*httptest.ResponseRecorder, string, bool) {
	rr := httptest.NewRecorder()
	var seenBody string
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	})
	NewRequestSignatureMiddleware(map[string]string{testClientID: testSecret}, 5*time.Minute)(next).ServeHTTP(rr, req)
	return rr, seenBody, nextCalled
}

func TestRequestSignatureMiddleware_AllowsValidSignedRequest(t *testing.T) {
	req := signedRequest(t, http.MethodGet, "/v1/reverse?lat=-6.2&lng=106.8", "", testSecret, time.Now())

	rr, _, called := runMiddleware(req)
	require.True(t, called)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequestSignatureMiddleware_SignsBodyAndRestoresIt(t *testing.T) {
	body := `{"locations":[{"lat":-6.2,"lng":106.8}]}`
	req := signedRequest(t, http.MethodPost, "/v1/score", body, testSecret, time.Now())

	rr, seen, called := runMiddleware(req)
	require.True(t, called)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, body, seen)
}

func TestRequestSignatureMiddleware_RejectsTamperedBody(t *testing.T) {
	req := signedRequest(t, http.MethodPost, "/v1/score", `{"locations":[]}`, testSecret, time.Now())
	req.Body = io.NopCloser(strings.NewReader(`{"locations":[{"lat":1,"lng":1}]}`))

	rr, _, called := runMiddleware(req)
	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequestSignatureMiddleware_RejectsUnsignedRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=jakarta", nil)

	rr, _, _ := runMiddleware(req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequestSignatureMiddleware_RejectsUnknownClient(t *testing.T) {
	req := signedRequest(t, http.MethodGet, "/v1/search?q=jakarta", "", "wrong-secret", time.Now())
	req.Header.Set("X-Client-ID", "unknown")

	rr, _, _ := runMiddleware(req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequestSignatureMiddleware_RejectsStaleTimestamp(t *testing.T) {
	req := signedRequest(t, http.MethodGet, "/v1/search?q=jakarta", "", testSecret, time.Now().Add(-10*time.Minute))

	rr, _, _ := runMiddleware(req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequestSignatureMiddleware_BypassesNonAPIRoutes(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	rr, _, called := runMiddleware(req)
	require.True(t, called)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func signForTest(secret, method, path, rawQuery, ts, body string) string {
	sum := sha256.Sum256([]byte(body))
	msg := method + "\n" + path + "\n" + rawQuery + "\n" + ts + "\n" + hex.EncodeToString(sum[:])
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
