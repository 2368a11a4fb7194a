package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// ProductRef identifies a product on a storefront. It is produced by a
// site's URL parser and never changes afterwards.
type ProductRef struct {
	StoreName string `json:"store_name"`
	ProductID string `json:"product_id"`
}

// Capture holds the background API payloads observed during one attempt.
type Capture struct {
	Benefits       json.RawMessage `json:"benefits"`
	ProductDetails json.RawMessage `json:"productDetails"`
}

// Complete reports whether both payloads were captured and are non-empty.
func (c *Capture) Complete() bool {
	if c == nil {
		return false
	}
	return IsValidData(c.Benefits) && IsValidData(c.ProductDetails)
}

// Missing lists the fields that do not yet hold valid data.
func (c *Capture) Missing() []string {
	var missing []string
	if c == nil || !IsValidData(c.Benefits) {
		missing = append(missing, "benefits")
	}
	if c == nil || !IsValidData(c.ProductDetails) {
		missing = append(missing, "productDetails")
	}
	return missing
}

// Clone returns a deep copy so callers never share buffers with a tracker.
func (c *Capture) Clone() *Capture {
	if c == nil {
		return nil
	}
	return &Capture{
		Benefits:       cloneRaw(c.Benefits),
		ProductDetails: cloneRaw(c.ProductDetails),
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// IsValidData applies the completeness rule to a single payload: any
// non-null scalar, an array with at least one element, or an object with
// at least one key.
func IsValidData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}

	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return false
	}

	switch val := v.(type) {
	case nil:
		return false
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return true
	}
}

// ScrapeResult is the envelope returned to HTTP callers.
type ScrapeResult struct {
	Success   bool      `json:"success"`
	Platform  string    `json:"platform,omitempty"`
	FromCache bool      `json:"fromCache"`
	Data      *Capture  `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

// ErrorResponse is the envelope returned to HTTP callers on failure.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}
