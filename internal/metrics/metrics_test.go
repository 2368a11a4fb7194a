package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("storefront")
	b := NewCollector("storefront")

	a.RecordScrape("naver", "success", 3.2)
	a.RecordScrape("naver", "success", 1.1)
	b.RecordScrape("naver", "error", 9)

	assert.Equal(t, float64(2), testutil.ToFloat64(a.scrapesTotal.WithLabelValues("naver", "success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.scrapesTotal.WithLabelValues("naver", "success")))
}

func TestGauges(t *testing.T) {
	c := NewCollector("storefront")

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	c.SetQueue(4, 2)
	c.RecordProxyQuarantined("probe failed", 3)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.activeSessions))
	assert.Equal(t, float64(4), testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.inFlight))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.badProxies))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordScrape("naver", "success", 1)
		c.RecordCaptcha("resolved")
		c.RecordProxyCheck(false)
		c.SetQueue(1, 1)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	c := NewCollector("storefront")
	c.RecordRateLimited()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_rate_limited_total 1")
}
