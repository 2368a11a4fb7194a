package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if err := mockArgs.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func newTestRelay(rdb RedisClient, outbox OutboxRepo) *Relay {
	return &Relay{
		redis:     rdb,
		outbox:    outbox,
		logger:    slog.Default(),
		interval:  10 * time.Millisecond,
		batchSize: 10,
		source:    "storefront-scraper",
	}
}

func runEvent(payload string) *OutboxEvent {
	runID := uuid.New()
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "scrape_run",
		AggregateID:   runID.String(),
		EventType:     "PRODUCT_SCRAPED",
		Payload:       json.RawMessage(payload),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

const successPayload = `{
	"run_id": "3f6c1f9e-2c1b-4d7e-9a53-0a9f1c2b7e11",
	"request_id": "req-42",
	"event_type": "PRODUCT_SCRAPED",
	"timestamp": "2026-03-01T12:00:05Z",
	"platform": "naver",
	"url": "https://smartstore.naver.com/mystore/products/12345",
	"success": true,
	"data": {"benefits": {"discount": 1000}, "productDetails": {"name": "shoe"}},
	"source": "scraper"
}`

func xaddValues(args mock.Arguments) map[string]any {
	return args.Get(1).(*redis.XAddArgs).Values.(map[string]any)
}

func TestRelayPublishesRunFields(t *testing.T) {
	ctx := context.Background()
	rdb := new(MockRedisClient)
	outbox := new(MockOutboxRepository)
	relay := newTestRelay(rdb, outbox)
	event := runEvent(successPayload)

	var values map[string]any
	rdb.On("XAdd", ctx, mock.MatchedBy(func(a *redis.XAddArgs) bool {
		return a.Stream == "stream:product_scraped"
	})).Run(func(args mock.Arguments) {
		values = xaddValues(args)
	}).Return(nil).Once()
	outbox.On("MarkProcessed", ctx, event.ID).Return(nil).Once()

	require.NoError(t, relay.processEvent(ctx, event))

	require.NotNil(t, values)
	assert.Equal(t, "naver", values["platform"])
	assert.Equal(t, "https://smartstore.naver.com/mystore/products/12345", values["url"])
	assert.Equal(t, "3f6c1f9e-2c1b-4d7e-9a53-0a9f1c2b7e11", values["run_id"])
	assert.Equal(t, "req-42", values["request_id"])
	assert.Equal(t, "true", values["success"])
	assert.Equal(t, "2026-03-01T12:00:05Z", values["scraped_at"])
	assert.Equal(t, "PRODUCT_SCRAPED", values["event_type"])
	assert.Equal(t, event.ID.String(), values["outbox_id"])
	assert.Equal(t, "storefront-scraper", values["source"])
	assert.NotContains(t, values, "error_code")
	assert.JSONEq(t, successPayload, values["data"].(string))

	rdb.AssertExpectations(t)
	outbox.AssertExpectations(t)
}

func TestRelayCarriesErrorCodeOfFailedRun(t *testing.T) {
	ctx := context.Background()
	rdb := new(MockRedisClient)
	outbox := new(MockOutboxRepository)
	relay := newTestRelay(rdb, outbox)
	event := runEvent(`{"run_id":"r-1","platform":"naver","url":"https://smartstore.naver.com/s/products/1","success":false,"error_code":"PROXY_ERROR"}`)
	event.RetryCount = 2

	var values map[string]any
	rdb.On("XAdd", ctx, mock.Anything).Run(func(args mock.Arguments) {
		values = xaddValues(args)
	}).Return(nil).Once()
	outbox.On("MarkProcessed", ctx, event.ID).Return(nil).Once()

	require.NoError(t, relay.processEvent(ctx, event))

	assert.Equal(t, "false", values["success"])
	assert.Equal(t, "PROXY_ERROR", values["error_code"])
	assert.Equal(t, "2", values["retry_count"])
	assert.Equal(t, "2026-03-01T12:00:00Z", values["scraped_at"])
}

func TestRelayRejectsIncompleteRunPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"run_id":`},
		{"missing run id", `{"platform":"naver","url":"https://smartstore.naver.com/s/products/1"}`},
		{"missing platform", `{"run_id":"r-1","url":"https://smartstore.naver.com/s/products/1"}`},
		{"missing url", `{"run_id":"r-1","platform":"naver"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			rdb := new(MockRedisClient)
			outbox := new(MockOutboxRepository)
			relay := newTestRelay(rdb, outbox)
			event := runEvent(tt.payload)

			outbox.On("MarkFailed", ctx, event.ID, mock.Anything).Return(nil).Once()

			err := relay.processEvent(ctx, event)

			require.Error(t, err)
			rdb.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
			outbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
			outbox.AssertExpectations(t)
		})
	}
}

func TestRelayRedisFailureMarksEventFailed(t *testing.T) {
	ctx := context.Background()
	rdb := new(MockRedisClient)
	outbox := new(MockOutboxRepository)
	relay := newTestRelay(rdb, outbox)
	event := runEvent(successPayload)
	redisErr := errors.New("connection reset")

	rdb.On("XAdd", ctx, mock.Anything).Return(redisErr).Once()
	outbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
		return errors.Is(err, redisErr)
	})).Return(nil).Once()

	err := relay.processEvent(ctx, event)

	require.ErrorIs(t, err, redisErr)
	outbox.AssertExpectations(t)
}

func TestRelayProcessesBatchInOrder(t *testing.T) {
	ctx := context.Background()
	rdb := new(MockRedisClient)
	outbox := new(MockOutboxRepository)
	relay := newTestRelay(rdb, outbox)

	first := runEvent(`{"run_id":"r-1","platform":"naver","url":"https://smartstore.naver.com/a/products/1","success":true}`)
	broken := runEvent(`not json`)
	second := runEvent(`{"run_id":"r-2","platform":"naver","url":"https://smartstore.naver.com/b/products/2","success":true}`)

	var published []string
	outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{first, broken, second}, nil).Once()
	rdb.On("XAdd", ctx, mock.Anything).Run(func(args mock.Arguments) {
		published = append(published, xaddValues(args)["run_id"].(string))
	}).Return(nil).Twice()
	outbox.On("MarkProcessed", ctx, first.ID).Return(nil).Once()
	outbox.On("MarkFailed", ctx, broken.ID, mock.Anything).Return(nil).Once()
	outbox.On("MarkProcessed", ctx, second.ID).Return(nil).Once()

	require.NoError(t, relay.processEvents(ctx))

	assert.Equal(t, []string{"r-1", "r-2"}, published)
	rdb.AssertExpectations(t)
	outbox.AssertExpectations(t)
}

func TestRelayPendingQueryError(t *testing.T) {
	ctx := context.Background()
	outbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), outbox)

	outbox.On("GetPending", ctx, 10).Return(nil, errors.New("pool closed")).Once()

	err := relay.processEvents(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get pending events")
}

func TestRelayStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	outbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), outbox)

	polled := make(chan struct{}, 16)
	outbox.On("GetPending", mock.Anything, 10).Run(func(mock.Arguments) {
		select {
		case polled <- struct{}{}:
		default:
		}
	}).Return([]*OutboxEvent{}, nil)

	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()

	// one poll on startup, then one per tick
	for i := 0; i < 2; i++ {
		select {
		case <-polled:
		case <-time.After(time.Second):
			t.Fatal("relay did not poll the outbox")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}
