package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/storefront-scraper/internal/models"
)

// RunRepository persists scrape_run rows.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, run *models.ScrapeRun) error {
	var data []byte
	if run.Data != nil {
		var err error
		if data, err = json.Marshal(run.Data); err != nil {
			return fmt.Errorf("failed to marshal run data: %w", err)
		}
	}

	query := `
		INSERT INTO scrape_run (
			id, request_id, platform, url, success, from_cache,
			error_code, error_message, duration_ms, data,
			started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := tx.Exec(ctx, query,
		run.ID, run.RequestID, run.Platform, run.URL, run.Success, run.FromCache,
		nullable(run.ErrorCode), nullable(run.Error), run.Duration.Milliseconds(), data,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scrape run: %w", err)
	}
	return nil
}

// RunStats summarizes recent runs for the health endpoint.
type RunStats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

func (r *RunRepository) Stats(ctx context.Context, platform string) (*RunStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success)
		FROM scrape_run
		WHERE platform = $1
			AND started_at > NOW() - INTERVAL '24 hours'`

	stats := &RunStats{}
	if err := r.db.pool.QueryRow(ctx, query, platform).Scan(&stats.Total, &stats.Succeeded, &stats.Failed); err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}
	return stats, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
