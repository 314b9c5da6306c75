// Package publisher persists accepted catalog entries to PostgreSQL and
// announces them on the entry-ingest topic so the relator can debounce a
// corpus rebuild.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog/normalizer"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog/store"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/metrics"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/resilience"
)

// Publisher coordinates entry normalization, persistence, and Kafka
// announcements. The announcement is best-effort: a persisted entry whose
// event is lost is picked up by the next full rebuild.
type Publisher struct {
	store    *store.Store
	producer *kafka.Producer
	norm     *normalizer.Normalizer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithMetrics attaches Prometheus collectors to the publisher.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// New creates a Publisher.
func New(st *store.Store, producer *kafka.Producer, norm *normalizer.Normalizer, opts ...Option) *Publisher {
	p := &Publisher{
		store:    st,
		producer: producer,
		norm:     norm,
		logger:   logger.WithComponent("ingest-publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest normalizes and persists one raw entry, then announces it.
func (p *Publisher) Ingest(ctx context.Context, raw catalog.RawEntry) (*catalog.Entry, error) {
	entry, err := p.norm.Normalize(raw)
	if err != nil {
		p.observe("rejected", 1)
		return nil, err
	}
	if err := p.store.UpsertEntry(ctx, entry); err != nil {
		p.observe("failed", 1)
		return nil, err
	}
	p.announce(ctx, []*catalog.Entry{entry})
	p.observe("accepted", 1)
	p.logger.Info("entry ingested", "entry_id", entry.ID, "name", entry.Name)
	return entry, nil
}

// RejectedEntry explains why one batch record was not accepted.
type RejectedEntry struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// BatchOutcome reports per-record results of a batch ingest.
type BatchOutcome struct {
	Accepted int             `json:"accepted"`
	Rejected []RejectedEntry `json:"rejected"`
}

// IngestBatch normalizes a batch, persists the acceptable records in one
// transaction, and announces them. Individual invalid records are reported
// in the outcome instead of failing the batch.
func (p *Publisher) IngestBatch(ctx context.Context, raws []catalog.RawEntry) (*BatchOutcome, error) {
	outcome := &BatchOutcome{Rejected: []RejectedEntry{}}
	accepted := make([]*catalog.Entry, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		entry, err := p.norm.Normalize(raw)
		if err != nil {
			outcome.Rejected = append(outcome.Rejected, RejectedEntry{Index: i, ID: raw.ID, Reason: err.Error()})
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			outcome.Rejected = append(outcome.Rejected, RejectedEntry{Index: i, ID: entry.ID, Reason: "duplicate id in batch"})
			continue
		}
		seen[entry.ID] = struct{}{}
		accepted = append(accepted, entry)
	}
	p.observe("rejected", len(outcome.Rejected))

	if len(accepted) > 0 {
		if err := p.store.UpsertEntries(ctx, accepted); err != nil {
			p.observe("failed", len(accepted))
			return nil, fmt.Errorf("persisting batch: %w", err)
		}
		p.announce(ctx, accepted)
		p.observe("accepted", len(accepted))
	}
	outcome.Accepted = len(accepted)
	p.logger.Info("batch ingested", "accepted", outcome.Accepted, "rejected", len(outcome.Rejected))
	return outcome, nil
}

func (p *Publisher) announce(ctx context.Context, entries []*catalog.Entry) {
	if p.producer == nil {
		return
	}
	now := time.Now().Unix()
	events := make([]kafka.Event, 0, len(entries))
	for _, entry := range entries {
		events = append(events, kafka.Event{
			Key: entry.ID,
			Value: catalog.EntryEvent{
				EntryID:   entry.ID,
				Name:      entry.Name,
				Timestamp: now,
			},
		})
	}
	err := resilience.Retry(ctx, "entry-announce", resilience.RetryConfig{}, func() error {
		return p.producer.PublishBatch(ctx, events)
	})
	if err != nil {
		p.logger.Error("failed to announce entries, relator will catch up on next rebuild",
			"count", len(events),
			"error", err,
		)
	}
}

func (p *Publisher) observe(status string, n int) {
	if p.metrics == nil || n == 0 {
		return
	}
	p.metrics.EntriesIngestedTotal.WithLabelValues(status).Add(float64(n))
}
