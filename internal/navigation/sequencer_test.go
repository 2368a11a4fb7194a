package navigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maltedev/storefront-scraper/internal/browser"
	"github.com/maltedev/storefront-scraper/internal/browser/browsertest"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/pacing"
	"github.com/maltedev/storefront-scraper/internal/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ref = models.ProductRef{StoreName: "mystore", ProductID: "12345"}

const (
	storeURL   = "https://smartstore.naver.com/mystore/"
	searchURL  = "https://smartstore.naver.com/mystore/search?q=12345"
	productURL = "https://smartstore.naver.com/mystore/products/12345"
	link       = `a[href*="/products/12345"]`
)

func newSequencer(responseTimeout time.Duration) *Sequencer {
	return NewSequencer(
		Config{NavigationTimeout: time.Second, ResponseTimeout: responseTimeout},
		site.Naver("https://smartstore.naver.com"),
		pacing.New(1, pacing.WithSleeper(pacing.NoSleep)),
		nil, nil,
	)
}

func emitProductOnClick(p *browsertest.Page, selector string) {
	p.Emit(&browsertest.Response{RawURL: productURL, StatusCode: 200, ContentType: "text/html"})
}

func TestBrowseHomeClicksVisibleLink(t *testing.T) {
	page := browsertest.NewPage()
	page.Visible[link] = true
	page.OnClick = emitProductOnClick

	out, err := newSequencer(time.Second).Navigate(context.Background(), page, ref)

	require.NoError(t, err)
	assert.Equal(t, StrategyBrowseHome, out.Strategy)
	assert.True(t, out.Clicked)
	assert.True(t, out.Corroborated)
	assert.Equal(t, []string{storeURL}, page.Visited)
	assert.Equal(t, 1, page.CallCount("scrollIntoView "+link))
	assert.Equal(t, 0, page.Subscribers())
}

func TestClickWithoutCorroborationIsTolerated(t *testing.T) {
	page := browsertest.NewPage()
	page.Visible[link] = true

	out, err := newSequencer(10*time.Millisecond).Navigate(context.Background(), page, ref)

	require.NoError(t, err)
	assert.True(t, out.Clicked)
	assert.False(t, out.Corroborated)
	assert.Equal(t, 0, page.Subscribers())
}

func TestResponsesBeforeClickDoNotCorroborate(t *testing.T) {
	page := browsertest.NewPage()
	page.Visible[link] = true
	page.OnGoto = func(p *browsertest.Page, url string) {
		p.Emit(&browsertest.Response{RawURL: productURL, StatusCode: 200})
	}

	out, err := newSequencer(10*time.Millisecond).Navigate(context.Background(), page, ref)

	require.NoError(t, err)
	assert.False(t, out.Corroborated)
}

type topCheckPage struct {
	*browsertest.Page
	atTop bool
}

func (p *topCheckPage) Evaluate(expression string, arg any) (any, error) {
	p.atTop = true
	return p.Page.Evaluate(expression, arg)
}

func (p *topCheckPage) IsVisible(selector string) (bool, error) {
	_, _ = p.Page.IsVisible(selector)
	return p.atTop, nil
}

func TestTopCheckFindsLink(t *testing.T) {
	page := &topCheckPage{Page: browsertest.NewPage()}

	out, err := newSequencer(10*time.Millisecond).Navigate(context.Background(), page, ref)

	require.NoError(t, err)
	assert.Equal(t, StrategyTopCheck, out.Strategy)
	assert.True(t, out.Clicked)

	scrolls := page.CallCount("wheel")
	assert.GreaterOrEqual(t, scrolls, 3)
	assert.LessOrEqual(t, scrolls, 5)
	assert.Equal(t, scrolls+1, page.CallCount("visible "+link))
}

func TestStoreSearchFallback(t *testing.T) {
	page := browsertest.NewPage()
	page.OnGoto = func(p *browsertest.Page, url string) {
		if url == searchURL {
			p.Present[link] = true
		}
	}
	page.OnClick = emitProductOnClick

	out, err := newSequencer(time.Second).Navigate(context.Background(), page, ref)

	require.NoError(t, err)
	assert.Equal(t, StrategyStoreSearch, out.Strategy)
	assert.True(t, out.Corroborated)
	assert.Equal(t, []string{storeURL, searchURL}, page.Visited)
}

func TestDirectFallbackSetsReferer(t *testing.T) {
	page := browsertest.NewPage()

	out, err := newSequencer(time.Second).Navigate(context.Background(), page, ref)

	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, out.Strategy)
	assert.False(t, out.Clicked)
	assert.Equal(t, []string{storeURL, searchURL, productURL}, page.Visited)
	assert.Equal(t, storeURL, page.Referer[productURL])
}

func TestStoreHomeFailureFallsThrough(t *testing.T) {
	page := browsertest.NewPage()
	page.GotoErr[storeURL] = errors.New("net::ERR_CONNECTION_RESET")
	page.Present[link] = true

	out, err := newSequencer(10*time.Millisecond).Navigate(context.Background(), page, ref)

	require.NoError(t, err)
	assert.Equal(t, StrategyStoreSearch, out.Strategy)
	assert.Zero(t, page.CallCount("wheel"))
}

func TestDirectFailureIsNavigationError(t *testing.T) {
	page := browsertest.NewPage()
	page.GotoErr[storeURL] = errors.New("timeout")
	page.GotoErr[searchURL] = errors.New("timeout")
	page.GotoErr[productURL] = errors.New("net::ERR_TUNNEL_CONNECTION_FAILED")

	_, err := newSequencer(time.Second).Navigate(context.Background(), page, ref)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNavigation))
}

func TestCancelledContextStopsBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := browsertest.NewPage()
	page.OnGoto = func(p *browsertest.Page, url string) { cancel() }

	_, err := newSequencer(time.Second).Navigate(ctx, page, ref)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{storeURL}, page.Visited)
}

var _ browser.Page = (*topCheckPage)(nil)
