package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/maltedev/storefront-scraper/internal/metrics"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/proxy"
	"github.com/maltedev/storefront-scraper/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScraper struct {
	result   *models.ScrapeResult
	err      error
	gotURL   string
	gotID    string
	platform string
}

func (s *stubScraper) Scrape(ctx context.Context, platform, url, requestID string) (*models.ScrapeResult, error) {
	s.platform, s.gotURL, s.gotID = platform, url, requestID
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	res.RequestID = requestID
	return &res, nil
}

func (s *stubScraper) Platforms() []string { return []string{"naver"} }

type stubProxies []proxy.Status

func (s stubProxies) Snapshot() []proxy.Status { return s }

type stubQueue struct{ waiting, running, limit int }

func (s stubQueue) Stats() (int, int) { return s.waiting, s.running }
func (s stubQueue) Limit() int        { return s.limit }

type stubOutbox struct {
	counts *database.OutboxCounts
	err    error
}

func (s stubOutbox) Counts(ctx context.Context) (*database.OutboxCounts, error) {
	return s.counts, s.err
}

const productURL = "https://smartstore.naver.com/store/products/1001"

func scrapePath(platform, product string) string {
	return fmt.Sprintf("/api/v1/%s/scrape?productUrl=%s", platform, url.QueryEscape(product))
}

func TestScrapeSuccess(t *testing.T) {
	scr := &stubScraper{result: &models.ScrapeResult{
		Success:  true,
		Platform: "naver",
		Data: &models.Capture{
			Benefits:       json.RawMessage(`{"point":100}`),
			ProductDetails: json.RawMessage(`{"id":1001}`),
		},
		Timestamp: time.Now(),
	}}
	router := NewRouter(NewHandlers(scr, nil, nil, nil, nil), RouterConfig{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, scrapePath("naver", productURL), nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "naver", scr.platform)
	assert.Equal(t, productURL, scr.gotURL)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["fromCache"])
	assert.Equal(t, "req-42", body["requestId"])
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "benefits")
	assert.Contains(t, data, "productDetails")
}

func TestScrapeGeneratesRequestID(t *testing.T) {
	scr := &stubScraper{result: &models.ScrapeResult{Success: true}}
	router := NewRouter(NewHandlers(scr, nil, nil, nil, nil), RouterConfig{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, scrapePath("naver", productURL), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, scr.gotID, 36)
	assert.Equal(t, scr.gotID, rec.Header().Get("X-Request-ID"))
}

func TestScrapeMissingProductURL(t *testing.T) {
	scr := &stubScraper{}
	router := NewRouter(NewHandlers(scr, nil, nil, nil, nil), RouterConfig{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/naver/scrape", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, scr.platform)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_URL", body.Code)
	assert.NotEmpty(t, body.RequestID)
}

func TestScrapeErrorStatus(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid url", models.NewError(models.CodeInvalidURL, "bad url", nil), http.StatusBadRequest, "INVALID_URL"},
		{"unsupported platform", models.NewError(models.CodeUnsupportedPlatform, "unknown", nil), http.StatusNotFound, "UNSUPPORTED_PLATFORM"},
		{"proxy", models.NewError(models.CodeProxy, "no proxy", nil), http.StatusServiceUnavailable, "PROXY_ERROR"},
		{"queue closed", queue.ErrQueueClosed, http.StatusServiceUnavailable, "SCRAPER_ERROR"},
		{"navigation", models.NewError(models.CodeNavigation, "closed", nil), http.StatusInternalServerError, "NAVIGATION_ERROR"},
		{"exhausted", models.Errorf(models.CodeScraper, "incomplete data"), http.StatusInternalServerError, "SCRAPER_ERROR"},
		{"deadline", fmt.Errorf("scrape cancelled: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "SCRAPER_ERROR"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "SCRAPER_ERROR"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(NewHandlers(&stubScraper{err: tc.err}, nil, nil, nil, nil), RouterConfig{}, nil, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, scrapePath("naver", productURL), nil))

			assert.Equal(t, tc.status, rec.Code)
			var body models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHealth(t *testing.T) {
	badUntil := time.Now().Add(time.Minute)

	t.Run("reports proxies queue and outbox", func(t *testing.T) {
		h := NewHandlers(&stubScraper{},
			stubProxies{
				{Proxy: "http://10.0.0.1:8080", Healthy: true},
				{Proxy: "http://10.0.0.2:8080", BadUntil: badUntil, Reason: "rate limited"},
			},
			stubQueue{waiting: 2, running: 5, limit: 5},
			stubOutbox{counts: &database.OutboxCounts{Pending: 3}},
			nil)
		router := NewRouter(h, RouterConfig{}, nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, []string{"naver"}, body.Platforms)
		require.Len(t, body.Proxies, 2)
		assert.True(t, body.Proxies[0].Healthy)
		assert.Nil(t, body.Proxies[0].BadUntil)
		assert.Equal(t, "rate limited", body.Proxies[1].Reason)
		assert.NotNil(t, body.Proxies[1].BadUntil)
		require.NotNil(t, body.Queue)
		assert.Equal(t, 2, body.Queue.Waiting)
		assert.Equal(t, 5, body.Queue.Limit)
		require.NotNil(t, body.Outbox)
		assert.Equal(t, int64(3), body.Outbox.Pending)
	})

	t.Run("all proxies quarantined is a warning", func(t *testing.T) {
		h := NewHandlers(&stubScraper{},
			stubProxies{{Proxy: "http://10.0.0.2:8080", BadUntil: badUntil, Reason: "probe failed"}},
			nil, nil, nil)
		router := NewRouter(h, RouterConfig{}, nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "warning", body.Status)
	})

	t.Run("dead letters make the service unavailable", func(t *testing.T) {
		h := NewHandlers(&stubScraper{}, nil, nil,
			stubOutbox{counts: &database.OutboxCounts{DeadLetter: 101}}, nil)
		router := NewRouter(h, RouterConfig{}, nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("outbox error is ignored", func(t *testing.T) {
		h := NewHandlers(&stubScraper{}, nil, nil, stubOutbox{err: errors.New("db down")}, nil)
		router := NewRouter(h, RouterConfig{}, nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Nil(t, body.Outbox)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewCollector("storefront")
	scr := &stubScraper{err: models.NewError(models.CodeProxy, "no proxy", nil)}
	router := NewRouter(NewHandlers(scr, nil, nil, nil, nil), RouterConfig{}, m, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, scrapePath("naver", productURL), nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `endpoint="/api/v1/{platform}/scrape"`)
	assert.Contains(t, rec.Body.String(), `status="503"`)
}
