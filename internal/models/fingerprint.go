package models

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fingerprint is the randomized browser identity attached to one session.
type Fingerprint struct {
	UserAgent string   `json:"userAgent"`
	Viewport  Viewport `json:"viewport"`
}
