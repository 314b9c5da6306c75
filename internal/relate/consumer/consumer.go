// Package consumer reads catalog ingest announcements from Kafka and turns
// them into debounced relation rebuilds.
package consumer

import (
	"context"
	"log/slog"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
)

// Rebuilder schedules a relation rebuild. The runner satisfies it.
type Rebuilder interface {
	TriggerRebuild()
}

// RebuildConsumer wraps a Kafka consumer that drives the rebuild pipeline.
type RebuildConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates a RebuildConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *RebuildConsumer {
	return &RebuildConsumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("rebuild-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (rc *RebuildConsumer) Start(ctx context.Context) error {
	rc.logger.Info("rebuild consumer starting")
	return rc.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that schedules a rebuild for
// every entry change announcement. Undecodable messages are logged and
// dropped rather than retried, since a rebuild scores the whole catalog and
// the next valid announcement covers for them.
func HandleMessage(rebuilder Rebuilder) kafka.MessageHandler {
	log := logger.WithComponent("rebuild-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[catalog.EntryEvent](value)
		if err != nil {
			log.Error("failed to decode entry event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		log.Debug("entry change announced",
			"entry_id", event.EntryID,
			"name", event.Name,
		)
		rebuilder.TriggerRebuild()
		return nil
	}
}
