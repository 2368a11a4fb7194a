package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/maltedev/storefront-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductScraped is published for every successful live scrape
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"

	aggregateType = "scrape_run"
)

// ProductScrapedPayload is the body of a PRODUCT_SCRAPED event.
type ProductScrapedPayload struct {
	RunID     string          `json:"run_id"`
	RequestID string          `json:"request_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Platform  string          `json:"platform"`
	URL       string          `json:"url"`
	Success   bool            `json:"success"`
	ErrorCode string          `json:"error_code,omitempty"`
	Data      *models.Capture `json:"data"`
	Source    string          `json:"source"`
}

// TxRunner is implemented by *database.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type RunWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, run *models.ScrapeRun) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher records scrape runs and, for live successes, the matching
// outbox event in the same transaction.
type Publisher struct {
	db     TxRunner
	runs   RunWriter
	outbox OutboxWriter
	logger *slog.Logger
}

// NewPublisher wires a Publisher to the postgres repositories.
func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewRunRepository(db), database.NewOutboxRepository(db), logger)
}

func newPublisher(db TxRunner, runs RunWriter, outbox OutboxWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:     db,
		runs:   runs,
		outbox: outbox,
		logger: logger.With("component", "event_publisher"),
	}
}

// Record implements scraper.RunRecorder. Cache hits and failures only
// produce a run row.
func (p *Publisher) Record(ctx context.Context, run models.ScrapeRun) error {
	var event *database.OutboxEvent
	if run.Success && !run.FromCache && run.Data != nil {
		payload := ProductScrapedPayload{
			RunID:     run.ID.String(),
			RequestID: run.RequestID,
			EventType: string(EventTypeProductScraped),
			Timestamp: run.FinishedAt,
			Platform:  run.Platform,
			URL:       run.URL,
			Success:   run.Success,
			ErrorCode: run.ErrorCode,
			Data:      run.Data,
			Source:    "scraper",
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		event = &database.OutboxEvent{
			AggregateType: aggregateType,
			AggregateID:   run.ID.String(),
			EventType:     string(EventTypeProductScraped),
			Payload:       data,
			TargetStream:  database.DefaultStream,
		}
	}

	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.runs.InsertWithTx(ctx, tx, &run); err != nil {
			return err
		}
		if event == nil {
			return nil
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to record scrape run: %w", err)
	}

	if event != nil {
		p.logger.Info("event published to outbox",
			"type", event.EventType,
			"run_id", run.ID,
			"request_id", run.RequestID,
			"outbox_id", event.ID,
		)
	}
	return nil
}
