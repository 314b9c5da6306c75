package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
)

// Publisher is the slice of kafka.Producer the collector needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector accumulates analytics events in memory and flushes them to Kafka
// in bulk, either when the batch reaches batchSize or after flushInterval.
// The buffer is bounded at three batches; beyond that Track drops events, so
// a dead broker costs telemetry, never memory.
type Collector struct {
	producer      Publisher
	mu            sync.Mutex
	buffer        []kafka.Event
	dropped       int64
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

// NewCollector creates a Collector that flushes when the buffer reaches
// batchSize events or after flushInterval, whichever comes first.
func NewCollector(producer Publisher, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		producer:      producer,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.WithComponent("analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-ctx.Done():
				// Final flush with a short deadline.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval.String(),
	)
}

// Track buffers one event. When the buffer reaches a full batch an immediate
// flush is triggered. Track never blocks the caller.
func (c *Collector) Track(key string, event any) {
	c.mu.Lock()
	if len(c.buffer) >= c.batchSize*3 {
		c.dropped++
		dropped := c.dropped
		c.mu.Unlock()
		c.logger.Warn("analytics event dropped, buffer full", "dropped_total", dropped)
		return
	}
	c.buffer = append(c.buffer, kafka.Event{Key: key, Value: event})
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		go c.flush(context.Background())
	}
}

// Close waits for the background flush loop to finish. Call it after the
// Start context is cancelled.
func (c *Collector) Close() {
	<-c.done
}

// BufferLen returns the current number of buffered events.
func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Dropped returns how many events Track has discarded.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.producer.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("analytics flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		// Requeue under the same bound Track enforces.
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if len(c.buffer) > c.batchSize*3 {
			c.dropped += int64(len(c.buffer) - c.batchSize*3)
			c.buffer = c.buffer[:c.batchSize*3]
		}
		c.mu.Unlock()
		return
	}

	c.logger.Debug("analytics batch flushed", "events", len(batch))
}
