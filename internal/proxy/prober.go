package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/maltedev/storefront-scraper/internal/models"
	xproxy "golang.org/x/net/proxy"
)

const DefaultProbeTimeout = 10 * time.Second

// HTTPProber fetches TargetURL through the proxy and expects a 200.
type HTTPProber struct {
	TargetURL string
	Timeout   time.Duration
	UserAgent func() string
}

func NewHTTPProber(targetURL string, timeout time.Duration, userAgent func() string) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{TargetURL: targetURL, Timeout: timeout, UserAgent: userAgent}
}

func (p *HTTPProber) Probe(ctx context.Context, identity models.ProxyIdentity) error {
	transport, err := transportFor(identity)
	if err != nil {
		return err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   p.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.TargetURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	if p.UserAgent != nil {
		req.Header.Set("User-Agent", p.UserAgent())
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func transportFor(identity models.ProxyIdentity) (*http.Transport, error) {
	switch identity.Scheme() {
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if identity.Username != "" {
			auth = &xproxy.Auth{User: identity.Username, Password: identity.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", identity.Host(), auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(xproxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}, nil
	case "http", "https":
		return &http.Transport{Proxy: http.ProxyURL(identity.URL())}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", identity.Scheme())
	}
}
