package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis the relay publishes with.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is implemented by OutboxRepository.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// Relay moves scrape_run outbox rows onto their Redis streams. Each entry
// carries the run's routing fields flat next to the raw payload.
type Relay struct {
	db        *DB
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	source    string
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Source       string
}

func NewRelay(db *DB, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Source == "" {
		config.Source = "storefront-scraper"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		db:        db,
		redis:     redisClient,
		outbox:    NewOutboxRepository(db),
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		source:    config.Source,
	}
}

// Start polls the outbox until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.interval,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.processEvents(ctx); err != nil {
		r.logger.Error("failed to process events on startup", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.processEvents(ctx); err != nil {
				r.logger.Error("failed to process events", "error", err)
			}
		}
	}
}

func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("processing events", "count", len(events))

	for _, event := range events {
		if err := r.processEvent(ctx, event); err != nil {
			r.logger.Error("failed to process event",
				"event_id", event.ID,
				"run_id", event.AggregateID,
				"error", err)
		}
	}

	return nil
}

func (r *Relay) processEvent(ctx context.Context, event *OutboxEvent) error {
	if err := r.publishToRedis(ctx, event); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed",
				"event_id", event.ID,
				"error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		r.logger.Error("failed to mark event as processed",
			"event_id", event.ID,
			"error", err)
		return err
	}

	r.logger.Info("event processed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"run_id", event.AggregateID,
		"target_stream", event.TargetStream)

	return nil
}

// runFields are the scrape_run payload fields copied onto each stream
// entry so consumers can route on them without decoding data.
type runFields struct {
	RunID     string    `json:"run_id"`
	RequestID string    `json:"request_id"`
	Platform  string    `json:"platform"`
	URL       string    `json:"url"`
	Success   bool      `json:"success"`
	ErrorCode string    `json:"error_code"`
	Timestamp time.Time `json:"timestamp"`
}

func decodeRunFields(event *OutboxEvent) (*runFields, error) {
	var f runFields
	if err := json.Unmarshal(event.Payload, &f); err != nil {
		return nil, fmt.Errorf("failed to decode scrape run payload: %w", err)
	}
	switch {
	case f.RunID == "":
		return nil, fmt.Errorf("%w: scrape run payload missing run_id", ErrInvalidEvent)
	case f.Platform == "":
		return nil, fmt.Errorf("%w: scrape run payload missing platform", ErrInvalidEvent)
	case f.URL == "":
		return nil, fmt.Errorf("%w: scrape run payload missing url", ErrInvalidEvent)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = event.CreatedAt
	}
	return &f, nil
}

func streamValues(event *OutboxEvent, f *runFields, source string) map[string]any {
	values := map[string]any{
		"outbox_id":   event.ID.String(),
		"event_type":  event.EventType,
		"run_id":      f.RunID,
		"request_id":  f.RequestID,
		"platform":    f.Platform,
		"url":         f.URL,
		"success":     strconv.FormatBool(f.Success),
		"scraped_at":  f.Timestamp.UTC().Format(time.RFC3339Nano),
		"source":      source,
		"retry_count": strconv.Itoa(event.RetryCount),
		"data":        string(event.Payload),
	}
	if f.ErrorCode != "" {
		values["error_code"] = f.ErrorCode
	}
	return values
}

func (r *Relay) publishToRedis(ctx context.Context, event *OutboxEvent) error {
	fields, err := decodeRunFields(event)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: streamValues(event, fields, r.source),
	}
	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	r.logger.Debug("published scrape run",
		"run_id", fields.RunID,
		"platform", fields.Platform,
		"success", fields.Success)
	return nil
}

// OutboxCounts is reported by the health endpoint.
type OutboxCounts struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

func (r *Relay) Counts(ctx context.Context) (*OutboxCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`

	counts := &OutboxCounts{}
	err := r.db.pool.QueryRow(ctx, query,
		OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter,
	).Scan(&counts.Pending, &counts.DeadLetter)
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox counts: %w", err)
	}
	return counts, nil
}
