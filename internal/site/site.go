// Package site describes the navigation topology of a target storefront:
// how product URLs are shaped, where the store home and search pages live,
// and which background API responses carry the data we want.
package site

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/maltedev/storefront-scraper/internal/models"
)

// Site is an immutable description of one storefront.
type Site struct {
	Name    string
	BaseURL string

	productURL     *regexp.Regexp
	benefits       []*regexp.Regexp
	productDetails *regexp.Regexp
	detailsFlag    string

	ChallengeTitleMarker string
	ChallengeErrorMarker string
	ChallengeImageCSS    string
	ChallengeImageXPath  string
	ResolvedSelectors    []string
}

// Naver returns the SmartStore profile rooted at baseURL.
func Naver(baseURL string) *Site {
	baseURL = strings.TrimSuffix(baseURL, "/")
	host := regexp.QuoteMeta(hostOf(baseURL))

	return &Site{
		Name:    "naver",
		BaseURL: baseURL,

		productURL: regexp.MustCompile(`^https?://` + host + `/([^/?#]+)/products/(\d+)(?:[/?#].*)?$`),
		benefits: []*regexp.Regexp{
			regexp.MustCompile(`/benefits/by-product`),
		},
		productDetails: regexp.MustCompile(`/i/v2/channels/[^/]+/products/\d+`),
		detailsFlag:    "withWindow=false",

		ChallengeTitleMarker: "CAPTCHA",
		ChallengeErrorMarker: "에러가 발생했습니다",
		ChallengeImageCSS:    "#captcha_img_cover",
		ChallengeImageXPath:  "/html/body/div/div/div[2]/div/div/div/div[2]/div[1]/div/div[1]/img",
		ResolvedSelectors:    []string{"h3._22_f_UC9_j", "._1_v1461f4", ".product_detail"},
	}
}

func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	}
	return u.Host
}

// ParseURL extracts the store and product id from a product URL of the
// shape host/{store}/products/{numericId}.
func (s *Site) ParseURL(raw string) (models.ProductRef, error) {
	m := s.productURL.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return models.ProductRef{}, models.NewError(models.CodeInvalidURL,
			fmt.Sprintf("url does not match %s/{store}/products/{id}", s.BaseURL), nil)
	}
	return models.ProductRef{StoreName: m[1], ProductID: m[2]}, nil
}

// StoreURL is the store landing page.
func (s *Site) StoreURL(ref models.ProductRef) string {
	return fmt.Sprintf("%s/%s/", s.BaseURL, ref.StoreName)
}

// SearchURL is the store-internal search for the product id.
func (s *Site) SearchURL(ref models.ProductRef) string {
	return fmt.Sprintf("%s/%s/search?q=%s", s.BaseURL, ref.StoreName, url.QueryEscape(ref.ProductID))
}

// ProductURL is the canonical product page, also used as the cache key.
func (s *Site) ProductURL(ref models.ProductRef) string {
	return fmt.Sprintf("%s/%s/products/%s", s.BaseURL, ref.StoreName, ref.ProductID)
}

// ProductLinkSelector matches anchors pointing at the product.
func (s *Site) ProductLinkSelector(ref models.ProductRef) string {
	return fmt.Sprintf(`a[href*="/products/%s"]`, ref.ProductID)
}

// ProductPathFragment is what a navigation response URL contains once the
// product page is being served.
func (s *Site) ProductPathFragment(ref models.ProductRef) string {
	return "/products/" + ref.ProductID
}

// IsBenefitsURL reports whether an API response URL carries benefits data.
func (s *Site) IsBenefitsURL(u string) bool {
	for _, re := range s.benefits {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

// IsProductDetailsURL reports whether an API response URL carries the
// product details payload. Both the path shape and the query flag must match.
func (s *Site) IsProductDetailsURL(u string) bool {
	return s.productDetails.MatchString(u) && strings.Contains(u, s.detailsFlag)
}

// IsInteresting reports whether a response URL belongs to the storefront API
// surface, used to surface error statuses in logs.
func (s *Site) IsInteresting(u string) bool {
	if !strings.Contains(u, hostOf(s.BaseURL)) {
		return false
	}
	return strings.Contains(u, "/api") || strings.Contains(u, "/i/") || strings.Contains(u, "/benefits/")
}

// WithChallenge overrides the challenge detection settings. Empty values
// keep the defaults.
func (s *Site) WithChallenge(titleMarker, imageCSS, imageXPath string, resolved []string) *Site {
	cp := *s
	if titleMarker != "" {
		cp.ChallengeTitleMarker = titleMarker
	}
	if imageCSS != "" {
		cp.ChallengeImageCSS = imageCSS
	}
	if imageXPath != "" {
		cp.ChallengeImageXPath = imageXPath
	}
	if len(resolved) > 0 {
		cp.ResolvedSelectors = append([]string(nil), resolved...)
	}
	return &cp
}
