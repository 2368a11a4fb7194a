package captcha

import (
	"context"
	"errors"
	"testing"

	"github.com/maltedev/storefront-scraper/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	challenges []Challenge
	err        error
}

func (n *recordingNotifier) Notify(ctx context.Context, c Challenge) error {
	n.challenges = append(n.challenges, c)
	return n.err
}

func testConfig() Config {
	return Config{
		TitleMarker:       "CAPTCHA",
		ErrorMarker:       "에러가 발생했습니다",
		ImageCSS:          "#captcha_img_cover",
		ImageXPath:        "/html/body/div/img",
		ResolvedSelectors: []string{"h3._22_f_UC9_j", ".product_detail"},
	}
}

func TestNoChallenge(t *testing.T) {
	page := browsertest.NewPage()
	page.TitleText = "Product page"
	notifier := &recordingNotifier{}

	res, err := NewHandler(testConfig(), notifier, nil, nil).Handle(context.Background(), page, "target")

	require.NoError(t, err)
	assert.Equal(t, StateNoChallenge, res.State)
	assert.Empty(t, notifier.challenges)
	assert.Zero(t, page.CallCount("waitFor h3._22_f_UC9_j, .product_detail"))
}

func TestChallengeResolved(t *testing.T) {
	page := browsertest.NewPage()
	page.TitleText = "네이버 CAPTCHA"
	page.HTML = `<html><body><img id="captcha_img_cover" src="https://captcha.example.com/img.png"></body></html>`
	notifier := &recordingNotifier{}

	res, err := NewHandler(testConfig(), notifier, nil, nil).Handle(context.Background(), page, "https://smartstore.naver.com/s/products/1")

	require.NoError(t, err)
	assert.Equal(t, StateResolved, res.State)
	assert.True(t, res.HasImage)
	assert.Equal(t, "https://captcha.example.com/img.png", res.ImageURL)
	require.Len(t, notifier.challenges, 1)
	assert.Equal(t, "https://captcha.example.com/img.png", notifier.challenges[0].ImageURL)
	assert.Equal(t, 1, page.CallCount("waitFor h3._22_f_UC9_j, .product_detail"))
	assert.Zero(t, page.CallCount("evaluate"))
}

func TestChallengeTimeoutIsNotAnError(t *testing.T) {
	page := browsertest.NewPage()
	page.TitleText = "CAPTCHA"
	page.WaitErr = errors.New("timeout 60000ms exceeded")

	res, err := NewHandler(testConfig(), nil, nil, nil).Handle(context.Background(), page, "target")

	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, res.State)
}

func TestImageFallsBackToXPath(t *testing.T) {
	page := browsertest.NewPage()
	page.TitleText = "CAPTCHA"
	page.EvalResults[xpathImageScript] = "https://captcha.example.com/xpath.png"

	res, err := NewHandler(testConfig(), nil, nil, nil).Handle(context.Background(), page, "target")

	require.NoError(t, err)
	assert.True(t, res.HasImage)
	assert.Equal(t, "https://captcha.example.com/xpath.png", res.ImageURL)
}

func TestImageAbsent(t *testing.T) {
	page := browsertest.NewPage()
	page.TitleText = "CAPTCHA"
	page.EvalResults[xpathImageScript] = nil

	res, err := NewHandler(testConfig(), nil, nil, nil).Handle(context.Background(), page, "target")

	require.NoError(t, err)
	assert.False(t, res.HasImage)
	assert.Empty(t, res.ImageURL)
	assert.Equal(t, StateResolved, res.State)
}

func TestErrorMarkerTriggersReload(t *testing.T) {
	page := browsertest.NewPage()
	page.TitleText = "CAPTCHA"
	page.HTML = `<p>에러가 발생했습니다</p>`

	_, err := NewHandler(testConfig(), nil, nil, nil).Handle(context.Background(), page, "target")

	require.NoError(t, err)
	assert.Equal(t, 1, page.CallCount("reload"))
}

func TestNotifierFailureIsIgnored(t *testing.T) {
	page := browsertest.NewPage()
	page.TitleText = "CAPTCHA"
	notifier := &recordingNotifier{err: errors.New("redis down")}

	res, err := NewHandler(testConfig(), notifier, nil, nil).Handle(context.Background(), page, "target")

	require.NoError(t, err)
	assert.Equal(t, StateResolved, res.State)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHandler(testConfig(), nil, nil, nil).Handle(ctx, browsertest.NewPage(), "target")

	assert.ErrorIs(t, err, context.Canceled)
}
