package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/domain"
)

// EventHandler applies upload-layer events
type EventHandler interface {
	ApplyEvent(ctx context.Context, event domain.Event) error
}

// Consumer consumes clip, territory and profile lifecycle events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       EventHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	// Lifecycle events must not be skipped, so a new group starts at the beginning
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// decodeEvent parses and validates one message value
func decodeEvent(value []byte) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return event, fmt.Errorf("unmarshalling event: %w", err)
	}

	switch event.Type {
	case domain.EventTerritoryCreated, domain.EventTerritoryDeleted:
		if event.TerritoryID == "" {
			return event, fmt.Errorf("%s event without territory_id", event.Type)
		}
	case domain.EventClipCreated:
		if event.ClipID == "" || event.TerritoryID == "" || event.UserID == "" {
			return event, fmt.Errorf("%s event needs clip_id, territory_id and user_id", event.Type)
		}
	case domain.EventClipDeleted:
		if event.ClipID == "" {
			return event, fmt.Errorf("%s event without clip_id", event.Type)
		}
	case domain.EventProfileUpserted:
		if event.UserID == "" {
			return event, fmt.Errorf("%s event without user_id", event.Type)
		}
	default:
		return event, fmt.Errorf("unknown event type %q", event.Type)
	}
	return event, nil
}

// transient reports whether an event failed for a reason that redelivery can fix
func transient(err error) bool {
	return domain.IsRetryable(err) || errors.Is(err, domain.ErrStorageUnavailable)
}

// applyEvents applies a batch in order. Conflicts and storage outages are
// retried on a constant backoff; if they persist the batch stops with an
// error so it is redelivered. Any other failure is logged and skipped.
func applyEvents(ctx context.Context, handler EventHandler, events []domain.Event, cfg *config.KafkaConfig, logger *slog.Logger) (applied, failed int, err error) {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return applied, failed, err
		}

		operation := func() error {
			err := handler.ApplyEvent(ctx, event)
			if err == nil {
				return nil
			}
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryDelay), uint64(cfg.RetryAttempts))
		notify := func(err error, wait time.Duration) {
			logger.Warn("retrying event", "type", event.Type, "error", err, "wait", wait)
		}

		if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
			if ctx.Err() != nil {
				return applied, failed, ctx.Err()
			}
			if transient(err) {
				return applied, failed, fmt.Errorf("applying %s event: %w", event.Type, err)
			}
			logger.Error("failed to apply event",
				"type", event.Type,
				"territory_id", event.TerritoryID,
				"clip_id", event.ClipID,
				"user_id", event.UserID,
				"error", err,
			)
			failed++
			continue
		}
		applied++
	}
	return applied, failed, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are marked
// only after the batch holding them has been applied. A batch interrupted by
// a rebalance or shutdown is left unmarked, and a batch that keeps failing on
// a transient error ends the session so it is redelivered from the last
// committed offset.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger
	batch := make([]domain.Event, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() error {
		if last == nil {
			return nil
		}
		if len(batch) > 0 {
			applied, failed, err := applyEvents(session.Context(), h.consumer.handler, batch, cfg, logger)
			if err != nil {
				if session.Context().Err() != nil {
					logger.Info("batch interrupted", "applied", applied, "error", err)
					return nil
				}
				logger.Error("batch failed, leaving offset unmarked",
					"applied", applied,
					"failed", failed,
					"partition", claim.Partition(),
					"offset", last.Offset,
					"error", err,
				)
				return err
			}
			logger.Debug("processed batch", "applied", applied, "failed", failed)
		}
		session.MarkMessage(last, "")
		batch = batch[:0]
		last = nil
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			return nil

		case <-batchTimer.C:
			if err := processBatch(); err != nil {
				return err
			}
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return processBatch()
			}
			last = message

			event, err := decodeEvent(message.Value)
			if err != nil {
				logger.Warn("skipping invalid event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}
			batch = append(batch, event)

			if len(batch) >= cfg.BatchSize {
				if err := processBatch(); err != nil {
					return err
				}
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
