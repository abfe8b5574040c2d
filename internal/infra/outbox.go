package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rle/grps/internal/repository"
)

// EventPublisher delivers one message to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// OutboxPoller relays event_outbox rows to Kafka. All events of one aggregate
// type share a topic and are keyed by aggregate id, so per-player order holds.
type OutboxPoller struct {
	db          repository.DBTX
	outbox      repository.OutboxRepository
	publisher   EventPublisher
	metrics     *Metrics
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	topicPrefix string
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(db repository.DBTX, outbox repository.OutboxRepository, publisher EventPublisher,
	cfg *Config, metrics *Metrics, logger *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		db:          db,
		outbox:      outbox,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		interval:    cfg.OutboxPollInterval,
		batchSize:   cfg.OutboxBatchSize,
		topicPrefix: cfg.KafkaTopicPrefix,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// PollOnce publishes one batch and returns how many events were marked published.
// Events that fail to publish stay in the table for the next poll.
func (p *OutboxPoller) PollOnce(ctx context.Context) (int, error) {
	events, err := p.outbox.FetchUnpublished(ctx, p.db, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	blocked := make(map[string]bool)
	for _, e := range events {
		// A failed event blocks later events of the same aggregate in this batch.
		if blocked[e.PartitionKey] {
			continue
		}

		topic := p.topicPrefix + "." + string(e.AggregateType)
		msg, _ := json.Marshal(map[string]interface{}{
			"event_id":       e.EventID,
			"aggregate_type": e.AggregateType,
			"aggregate_id":   e.AggregateID,
			"event_type":     e.EventType,
			"headers":        e.Headers,
			"payload":        e.Payload,
			"occurred_at":    e.OccurredAt,
		})

		if err := p.publisher.Publish(ctx, topic, []byte(e.PartitionKey), msg); err != nil {
			p.logger.Error("kafka publish failed", "event_id", e.EventID, "error", err)
			p.metrics.IncOutbox("failed")
			blocked[e.PartitionKey] = true
			continue
		}
		published = append(published, e.ID)
		p.metrics.IncOutbox("published")
	}

	if err := p.outbox.MarkPublished(ctx, p.db, published); err != nil {
		return 0, err
	}
	p.logger.Debug("outbox poll complete", "published", len(published), "fetched", len(events))
	return len(published), nil
}
