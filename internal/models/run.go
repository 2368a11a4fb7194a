package models

import (
	"time"

	"github.com/google/uuid"
)

// ScrapeRun is the audit record of one scrape request.
type ScrapeRun struct {
	ID         uuid.UUID     `json:"id"`
	RequestID  string        `json:"requestId"`
	Platform   string        `json:"platform"`
	URL        string        `json:"url"`
	Success    bool          `json:"success"`
	FromCache  bool          `json:"fromCache"`
	ErrorCode  string        `json:"errorCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Data       *Capture      `json:"data,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}
