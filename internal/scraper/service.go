package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/storefront-scraper/internal/metrics"
	"github.com/maltedev/storefront-scraper/internal/models"
)

// Cache stores complete captures by platform and canonical URL.
type Cache interface {
	Get(ctx context.Context, key string) (*models.Capture, bool)
	Set(ctx context.Context, key string, data *models.Capture) error
}

// Runner bounds how many scrapes drive a browser at once.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunRecorder persists the outcome of each request.
type RunRecorder interface {
	Record(ctx context.Context, run models.ScrapeRun) error
}

// Service is the boundary used by the HTTP API and the CLI: it validates,
// consults the cache, queues the scrape and records the outcome.
type Service struct {
	registry *Registry
	cache    Cache
	runner   Runner
	recorder RunRecorder
	logger   *slog.Logger
	metrics  *metrics.Collector
}

func NewService(registry *Registry, cache Cache, runner Runner, recorder RunRecorder, logger *slog.Logger, m *metrics.Collector) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		cache:    cache,
		runner:   runner,
		recorder: recorder,
		logger:   logger.With("component", "scrape_service"),
		metrics:  m,
	}
}

func (s *Service) Platforms() []string {
	return s.registry.Platforms()
}

// Scrape returns cached data when present, otherwise runs the platform
// scraper under the concurrency limit. Only complete captures are cached.
func (s *Service) Scrape(ctx context.Context, platform, url, requestID string) (*models.ScrapeResult, error) {
	scr, err := s.registry.Get(platform)
	if err != nil {
		return nil, err
	}

	key := platform + ":" + url
	if n, ok := scr.(KeyNormalizer); ok {
		canonical, err := n.CacheKey(url)
		if err != nil {
			return nil, err
		}
		key = platform + ":" + canonical
	}

	logger := s.logger.With("request_id", requestID, "platform", platform, "url", url)
	started := time.Now()

	if s.cache != nil {
		if data, ok := s.cache.Get(ctx, key); ok {
			s.metrics.RecordCacheLookup(true)
			logger.Info("cache hit")
			result := &models.ScrapeResult{
				Success:   true,
				Platform:  platform,
				FromCache: true,
				Data:      data,
				Timestamp: time.Now().UTC(),
				RequestID: requestID,
			}
			s.record(ctx, requestID, platform, url, started, result.Data, true, nil)
			return result, nil
		}
		s.metrics.RecordCacheLookup(false)
	}

	var data *models.Capture
	err = s.run(ctx, func(ctx context.Context) error {
		var scrapeErr error
		data, scrapeErr = scr.Scrape(ctx, url, logger)
		return scrapeErr
	})

	elapsed := time.Since(started)
	if err != nil {
		s.metrics.RecordScrape(platform, "error", elapsed.Seconds())
		logger.Error("scrape failed", "error", err, "code", models.CodeOf(err), "duration", elapsed)
		s.record(ctx, requestID, platform, url, started, nil, false, err)
		return nil, err
	}

	s.metrics.RecordScrape(platform, "success", elapsed.Seconds())
	logger.Info("scrape succeeded", "duration", elapsed)

	if s.cache != nil && data.Complete() {
		if err := s.cache.Set(ctx, key, data); err != nil {
			logger.Warn("failed to cache result", "error", err)
		}
	}
	s.record(ctx, requestID, platform, url, started, data, false, nil)

	return &models.ScrapeResult{
		Success:   true,
		Platform:  platform,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}, nil
}

func (s *Service) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.runner == nil {
		return fn(ctx)
	}
	return s.runner.Do(ctx, fn)
}

// record is fire-and-forget: a storage failure never fails the request.
func (s *Service) record(ctx context.Context, requestID, platform, url string, started time.Time, data *models.Capture, fromCache bool, scrapeErr error) {
	if s.recorder == nil {
		return
	}

	run := models.ScrapeRun{
		ID:         uuid.New(),
		RequestID:  requestID,
		Platform:   platform,
		URL:        url,
		Success:    scrapeErr == nil,
		FromCache:  fromCache,
		Duration:   time.Since(started),
		Data:       data,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if scrapeErr != nil {
		run.ErrorCode = string(models.CodeOf(scrapeErr))
		run.Error = scrapeErr.Error()
	}

	if err := s.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("failed to record scrape run", "request_id", requestID, "error", err)
	}
}
