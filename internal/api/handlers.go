package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/proxy"
	"github.com/maltedev/storefront-scraper/internal/queue"
)

// Scraper is implemented by scraper.Service.
type Scraper interface {
	Scrape(ctx context.Context, platform, url, requestID string) (*models.ScrapeResult, error)
	Platforms() []string
}

// ProxyHealth is implemented by proxy.Registry.
type ProxyHealth interface {
	Snapshot() []proxy.Status
}

// QueueStats is implemented by queue.Pool.
type QueueStats interface {
	Stats() (waiting, running int)
	Limit() int
}

// OutboxStats is implemented by database.Relay.
type OutboxStats interface {
	Counts(ctx context.Context) (*database.OutboxCounts, error)
}

type Handlers struct {
	scraper Scraper
	proxies ProxyHealth
	queue   QueueStats
	outbox  OutboxStats
	logger  *slog.Logger
}

// NewHandlers wires the handlers. proxies, queue and outbox are optional
// and only feed /health.
func NewHandlers(scraper Scraper, proxies ProxyHealth, queue QueueStats, outbox OutboxStats, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		scraper: scraper,
		proxies: proxies,
		queue:   queue,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

// Scrape handles GET /api/v1/{platform}/scrape?productUrl=...
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	w.Header().Set("X-Request-ID", requestID)

	platform := chi.URLParam(r, "platform")
	productURL := r.URL.Query().Get("productUrl")
	if productURL == "" {
		h.respondError(w, http.StatusBadRequest, models.CodeInvalidURL, "productUrl is required", requestID)
		return
	}

	result, err := h.scraper.Scrape(r.Context(), platform, productURL, requestID)
	if err != nil {
		status := statusFor(err)
		h.logger.Error("scrape request failed",
			"request_id", requestID,
			"platform", platform,
			"status", status,
			"error", err)
		h.respondError(w, status, models.CodeOf(err), err.Error(), requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Platforms []string               `json:"platforms"`
	Proxies   []ProxyHealthEntry     `json:"proxies,omitempty"`
	Queue     *QueueHealth           `json:"queue,omitempty"`
	Outbox    *database.OutboxCounts `json:"outbox,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type ProxyHealthEntry struct {
	Server   string     `json:"server"`
	Healthy  bool       `json:"healthy"`
	BadUntil *time.Time `json:"badUntil,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

type QueueHealth struct {
	Waiting int `json:"waiting"`
	Running int `json:"running"`
	Limit   int `json:"limit"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Platforms: h.scraper.Platforms(),
		Timestamp: time.Now().UTC(),
	}
	status := http.StatusOK

	if h.proxies != nil {
		snapshot := h.proxies.Snapshot()
		healthy := 0
		for _, s := range snapshot {
			entry := ProxyHealthEntry{Server: s.Proxy, Healthy: s.Healthy, Reason: s.Reason}
			if !s.Healthy {
				until := s.BadUntil
				entry.BadUntil = &until
			} else {
				healthy++
			}
			health.Proxies = append(health.Proxies, entry)
		}
		if len(snapshot) > 0 && healthy == 0 {
			health.Status = "warning"
			health.Message = "all proxies are quarantined"
		}
	}

	if h.queue != nil {
		waiting, running := h.queue.Stats()
		health.Queue = &QueueHealth{Waiting: waiting, Running: running, Limit: h.queue.Limit()}
	}

	if h.outbox != nil {
		counts, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox counts", "error", err)
		} else {
			health.Outbox = counts
			if counts.DeadLetter > 100 {
				health.Status = "error"
				health.Message = "high number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

// statusFor maps a classified scrape error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnsupportedPlatform):
		return http.StatusNotFound
	case errors.Is(err, models.ErrProxy), errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, code models.Code, message, requestID string) {
	h.respondJSON(w, status, models.ErrorResponse{
		Error:     message,
		Code:      string(code),
		RequestID: requestID,
	})
}
