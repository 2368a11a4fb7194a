package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/storefront-scraper/internal/captcha"
	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/redis/go-redis/v9"
)

// ChallengeStream is consumed by the operator UI that solves CAPTCHAs.
const ChallengeStream = "stream:captcha_challenges"

// ChallengePublisher implements captcha.Notifier on a Redis stream. It
// skips the outbox: a challenge is only useful while the page waits.
type ChallengePublisher struct {
	redis  database.RedisClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewChallengePublisher(client database.RedisClient, logger *slog.Logger) *ChallengePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChallengePublisher{
		redis:  client,
		stream: ChallengeStream,
		maxLen: 1000,
		logger: logger.With("component", "challenge_publisher"),
	}
}

func (p *ChallengePublisher) Notify(ctx context.Context, c captcha.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	id := uuid.New().String()
	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":        id,
			"data":      string(data),
			"target":    c.Target,
			"image_url": c.ImageURL,
			"timestamp": fmt.Sprintf("%d", c.DetectedAt.UnixNano()),
		},
	}
	if _, err := p.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish challenge: %w", err)
	}

	p.logger.Info("challenge published",
		"id", id,
		"target", c.Target,
		"has_image", c.ImageURL != "",
		"age", time.Since(c.DetectedAt).Round(time.Millisecond),
	)
	return nil
}
