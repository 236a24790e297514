// Package events consumes scrape delivery notifications from Pub/Sub and
// hands each batch to the ingestion pipeline.
package events

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/senseworks/social-listening/internal/ingest"
	"github.com/senseworks/social-listening/internal/metrics"
)

// Processor handles one delivered batch.
type Processor interface {
	ProcessBatch(ctx context.Context, env ingest.Envelope) (ingest.Outcome, error)
}

// Subscriber pulls delivery notifications and feeds them to the processor.
// Every message is acked regardless of outcome: the raw payload stays in the
// delivery bucket, so a failed batch is re-ingested by replay, not redelivery.
type Subscriber struct {
	sub       *pubsub.Subscription
	processor Processor
	logger    *zap.Logger
}

// NewSubscriber binds a subscription handle to the batch processor.
func NewSubscriber(client *pubsub.Client, subscription string, processor Processor, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		sub:       client.Subscription(subscription),
		processor: processor,
		logger:    logger,
	}
}

// Run blocks receiving messages until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("listening for scrape deliveries", zap.String("subscription", s.sub.ID()))
	err := s.sub.Receive(ctx, s.handle)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive on %s: %w", s.sub.ID(), err)
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg *pubsub.Message) {
	defer msg.Ack()

	env := ingest.Envelope{
		JobID:      msg.Attributes["job_id"],
		DatasetTag: msg.Attributes["dataset_id"],
		Payload:    msg.Data,
	}

	outcome, err := s.processor.ProcessBatch(ctx, env)
	if err != nil {
		metrics.ObserveDeliveryMessage("rejected")
		s.logger.Error("delivery rejected",
			zap.String("message_id", msg.ID),
			zap.String("dataset_tag", env.DatasetTag),
			zap.Error(err),
		)
		return
	}

	metrics.ObserveDeliveryMessage(outcome.Status)
	s.logger.Info("delivery processed",
		zap.String("message_id", msg.ID),
		zap.String("source", string(outcome.Source)),
		zap.String("status", outcome.Status),
		zap.Int("rows", outcome.RowsInserted),
	)
}
