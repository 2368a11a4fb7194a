package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/maltedev/storefront-scraper/internal/models"
)

// LoadFile reads a JSON array of {server, username?, password?}. A missing
// file yields an empty list.
func LoadFile(path string) ([]models.ProxyIdentity, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}

	var proxies []models.ProxyIdentity
	if err := json.Unmarshal(data, &proxies); err != nil {
		return nil, fmt.Errorf("failed to parse proxy file: %w", err)
	}

	out := proxies[:0]
	for _, p := range proxies {
		if p.Server != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Merge appends extra identities not already present by key.
func Merge(list []models.ProxyIdentity, extra ...models.ProxyIdentity) []models.ProxyIdentity {
	seen := make(map[string]bool, len(list))
	for _, p := range list {
		seen[p.Key()] = true
	}
	for _, p := range extra {
		if p.Server == "" || seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		list = append(list, p)
	}
	return list
}
