package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProberThroughProxy(t *testing.T) {
	var seenUA, seenHost string
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUA = r.UserAgent()
		seenHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer proxySrv.Close()

	prober := NewHTTPProber("http://smartstore.example.com/", time.Second, func() string { return "test-agent" })
	err := prober.Probe(context.Background(), models.ProxyIdentity{Server: proxySrv.URL})

	require.NoError(t, err)
	assert.Equal(t, "test-agent", seenUA)
	assert.Equal(t, "smartstore.example.com", seenHost)
}

func TestHTTPProberNon200(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer proxySrv.Close()

	prober := NewHTTPProber("http://smartstore.example.com/", time.Second, nil)
	err := prober.Probe(context.Background(), models.ProxyIdentity{Server: proxySrv.URL})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestHTTPProberUnsupportedScheme(t *testing.T) {
	prober := NewHTTPProber("http://smartstore.example.com/", time.Second, nil)
	err := prober.Probe(context.Background(), models.ProxyIdentity{Server: "ftp://10.0.0.1:21"})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"server": "http://1.2.3.4:8080", "username": "a", "password": "b"},
		{"server": ""},
		{"server": "socks5://5.6.7.8:1080"}
	]`), 0o600))

	proxies, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	assert.Equal(t, "a", proxies[0].Username)
	assert.Equal(t, "socks5", proxies[1].Scheme())

	missing, err := LoadFile(filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	list := []models.ProxyIdentity{{Server: "http://1.2.3.4:8080", Username: "a"}}
	merged := Merge(list,
		models.ProxyIdentity{Server: "http://1.2.3.4:8080", Username: "a"},
		models.ProxyIdentity{Server: "http://9.9.9.9:8080"},
		models.ProxyIdentity{},
	)
	assert.Len(t, merged, 2)
}
