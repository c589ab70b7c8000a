package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// MessageHandler receives one consumed message. A returned error is logged and the message is still marked.
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

type ConsumerGroupHandler struct {
	handle MessageHandler
	log    logrus.FieldLogger
}

func NewConsumerGroupHandler(handle MessageHandler, log logrus.FieldLogger) ConsumerGroupHandler {
	return ConsumerGroupHandler{handle: handle, log: log}
}

func (ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handle(session.Context(), msg); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("message handler failed")
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// Consume runs a consumer group over topics until ctx is done.
func Consume(ctx context.Context, brokers []string, groupID string, topics []string, handle MessageHandler, log logrus.FieldLogger) error {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() {
		if err := consumerGroup.Close(); err != nil {
			log.WithError(err).Error("close consumer group")
		}
	}()

	return consumeLoop(ctx, consumerGroup, topics, NewConsumerGroupHandler(handle, log), log, defaultConsumeBackoff)
}

type groupConsumer interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
}

func defaultConsumeBackoff() retry.Backoff {
	return retry.WithCappedDuration(30*time.Second, retry.NewExponential(500*time.Millisecond))
}

// consumeLoop re-enters the group after every rebalance. Failed sessions wait on newBackoff; a clean
// session resets it.
func consumeLoop(ctx context.Context, group groupConsumer, topics []string, handler sarama.ConsumerGroupHandler,
	log logrus.FieldLogger, newBackoff func() retry.Backoff) error {
	backoff := newBackoff()
	for {
		err := group.Consume(ctx, topics, handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = newBackoff()
			continue
		}
		wait, stop := backoff.Next()
		if stop {
			return fmt.Errorf("consume %v: %w", topics, err)
		}
		log.WithError(err).WithField("retry_in", wait).Error("consumer error")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
