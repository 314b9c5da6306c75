// Package runner coordinates relation runs end to end: it loads the corpus,
// drives the scoring engine, persists and snapshots the result, publishes the
// completion event, and serves related lists from whichever run is active.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog/store"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/cache"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/ranker"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/snapshot"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	apperrors "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/errors"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/resilience"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/tracing"
)

const saveRunTimeout = 30 * time.Second

// CorpusSource loads the entries a relation run scores. Both the YAML file
// loader and the PostgreSQL store satisfy it.
type CorpusSource interface {
	Load(ctx context.Context) ([]*catalog.Entry, error)
}

// Runner owns the active run. Reads go through RelatedFor while rebuilds
// swap the run atomically underneath them.
type Runner struct {
	cfg      config.RelateConfig
	engine   *relate.Engine
	source   CorpusSource
	store    *store.Store
	cache    *cache.ListCache
	writer   *snapshot.Writer
	producer *kafka.Producer
	logger   *slog.Logger

	mu      sync.RWMutex
	current *relate.Run

	rebuildC chan struct{}
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithStore persists runs to PostgreSQL and enables warm starts from the
// latest persisted run.
func WithStore(st *store.Store) Option {
	return func(r *Runner) { r.store = st }
}

// WithCache serves related lists through the given cache instead of the
// default disabled one.
func WithCache(c *cache.ListCache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithProducer publishes a completion event after every activated run.
func WithProducer(p *kafka.Producer) Option {
	return func(r *Runner) { r.producer = p }
}

// New creates a Runner. Snapshots are written to cfg.SnapshotDir; an empty
// dir disables snapshotting.
func New(cfg config.RelateConfig, engine *relate.Engine, source CorpusSource, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		engine:   engine,
		source:   source,
		logger:   logger.WithComponent("relate-runner"),
		rebuildC: make(chan struct{}, 1),
	}
	if cfg.SnapshotDir != "" {
		r.writer = snapshot.NewWriter(cfg.SnapshotDir)
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.New(nil, config.RedisConfig{})
	}
	return r
}

// Start restores the newest run it can find and launches the debounced
// rebuild loop. Restore order: newest snapshot on disk, latest persisted
// run, cold rebuild. It returns an error only when no run could be produced
// at all.
func (r *Runner) Start(ctx context.Context) error {
	if run := r.restore(ctx); run != nil {
		r.swap(run)
	} else if err := r.Rebuild(ctx); err != nil {
		return fmt.Errorf("cold rebuild: %w", err)
	}
	go r.rebuildLoop(ctx)
	return nil
}

// restore tries the warm-start sources in order. A damaged snapshot is
// logged and skipped so the next source gets a chance.
func (r *Runner) restore(ctx context.Context) *relate.Run {
	if r.cfg.SnapshotDir != "" {
		path, err := snapshot.Latest(r.cfg.SnapshotDir)
		switch {
		case err == nil:
			run, err := snapshot.Load(path)
			if err != nil {
				r.logger.Error("snapshot restore failed", "path", path, "error", err)
				break
			}
			r.logger.Info("restored run from snapshot",
				"path", path,
				"run_id", run.ID,
				"fingerprint", run.Fingerprint,
				"entries", run.Entries,
			)
			return run
		case !errors.Is(err, snapshot.ErrNoSnapshot):
			r.logger.Error("listing snapshots failed", "dir", r.cfg.SnapshotDir, "error", err)
		}
	}
	if r.store != nil {
		run, err := r.store.LatestRun(ctx)
		if err != nil {
			r.logger.Error("loading latest persisted run failed", "error", err)
		} else if run != nil {
			r.logger.Info("restored run from store",
				"run_id", run.ID,
				"fingerprint", run.Fingerprint,
				"entries", run.Entries,
			)
			return run
		}
	}
	return nil
}

// Rebuild runs the full pipeline once and activates the resulting run.
// Persistence, snapshotting and the completion event are best effort: the
// new run serves even when one of them fails.
func (r *Runner) Rebuild(ctx context.Context) error {
	started := time.Now()
	if r.cfg.Debug {
		var span *tracing.Span
		ctx, span = tracing.StartSpan(ctx, "relate-rebuild", uuid.NewString())
		defer func() {
			span.End()
			span.Log()
		}()
	}

	corpus, err := r.loadCorpus(ctx)
	if err != nil {
		err = fmt.Errorf("loading corpus: %w", err)
		r.announceFailure(ctx, err, time.Since(started))
		return err
	}

	run, err := r.scoreCorpus(ctx, corpus)
	if err != nil {
		if !errors.Is(err, apperrors.ErrRunInProgress) {
			r.announceFailure(ctx, err, time.Since(started))
		}
		return err
	}

	r.persist(ctx, run)
	previous := r.swap(run)
	if previous != nil && previous.Fingerprint != run.Fingerprint {
		if err := r.cache.Invalidate(ctx, previous.Fingerprint); err != nil {
			r.logger.Warn("stale cache entries left behind", "fingerprint", previous.Fingerprint, "error", err)
		}
	}
	r.announce(ctx, run)

	r.logger.Info("run activated",
		"run_id", run.ID,
		"fingerprint", run.Fingerprint,
		"entries", run.Entries,
		"pairs_scored", run.PairsScored,
		"total_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (r *Runner) loadCorpus(ctx context.Context) ([]*catalog.Entry, error) {
	spanCtx, span := tracing.StartChildSpan(ctx, "load-corpus")
	defer span.End()
	corpus, err := r.source.Load(spanCtx)
	if err == nil {
		span.SetAttr("entries", len(corpus))
	}
	return corpus, err
}

func (r *Runner) scoreCorpus(ctx context.Context, corpus []*catalog.Entry) (*relate.Run, error) {
	spanCtx, span := tracing.StartChildSpan(ctx, "score")
	defer span.End()
	run, err := r.engine.Run(spanCtx, corpus)
	if err == nil {
		span.SetAttr("pairs_scored", run.PairsScored)
	}
	return run, err
}

// persist saves the run to PostgreSQL and to a snapshot file. Failures are
// logged, not returned: a run that cannot be persisted can still serve, and
// the next rebuild gets another chance to write it.
func (r *Runner) persist(ctx context.Context, run *relate.Run) {
	spanCtx, span := tracing.StartChildSpan(ctx, "persist")
	defer span.End()

	if r.store != nil {
		err := resilience.WithTimeout(spanCtx, saveRunTimeout, "save-run", func(ctx context.Context) error {
			return r.store.SaveRun(ctx, run)
		})
		if err != nil {
			r.logger.Error("persisting run failed", "run_id", run.ID, "error", err)
		}
	}

	if r.writer != nil {
		name, err := r.writer.Write(run)
		if err != nil {
			r.logger.Error("writing snapshot failed", "run_id", run.ID, "error", err)
		} else {
			span.SetAttr("snapshot", name)
			r.logger.Info("snapshot written", "snapshot", name, "run_id", run.ID)
		}
	}
}

// announce publishes the completion event. Losing it costs a dashboard
// update, not correctness, so failures only log.
func (r *Runner) announce(ctx context.Context, run *relate.Run) {
	if r.producer == nil {
		return
	}
	event := kafka.Event{
		Key: run.ID,
		Value: relate.RunEvent{
			Status:      relate.RunStatusCompleted,
			RunID:       run.ID,
			Fingerprint: run.Fingerprint,
			Entries:     run.Entries,
			PairsScored: run.PairsScored,
			DurationMs:  run.Duration.Milliseconds(),
			CompletedAt: time.Now().UTC(),
		},
	}
	err := resilience.Retry(ctx, "relate-complete", resilience.RetryConfig{}, func() error {
		return r.producer.Publish(ctx, event)
	})
	if err != nil {
		r.logger.Error("publishing completion event failed", "run_id", run.ID, "error", err)
	}
}

// announceFailure publishes a failed run event so dashboards surface broken
// rebuilds. Best effort, one attempt.
func (r *Runner) announceFailure(ctx context.Context, runErr error, elapsed time.Duration) {
	if r.producer == nil {
		return
	}
	event := kafka.Event{
		Key: relate.RunStatusFailed,
		Value: relate.RunEvent{
			Status:      relate.RunStatusFailed,
			DurationMs:  elapsed.Milliseconds(),
			Error:       runErr.Error(),
			CompletedAt: time.Now().UTC(),
		},
	}
	if err := r.producer.Publish(ctx, event); err != nil {
		r.logger.Error("publishing failure event failed", "error", err)
	}
}

// TriggerRebuild schedules a rebuild. Triggers arriving inside the debounce
// window collapse into a single run.
func (r *Runner) TriggerRebuild() {
	select {
	case r.rebuildC <- struct{}{}:
	default:
	}
}

// rebuildLoop turns trigger signals into debounced rebuilds. Every trigger
// restarts the window, so a burst of catalog changes costs one run.
func (r *Runner) rebuildLoop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-r.rebuildC:
			if timer == nil {
				timer = time.NewTimer(r.cfg.RebuildDebounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-fire:
					default:
					}
				}
				timer.Reset(r.cfg.RebuildDebounce)
			}
			r.logger.Debug("rebuild scheduled", "debounce", r.cfg.RebuildDebounce.String())
		case <-fire:
			timer = nil
			fire = nil
			if err := r.Rebuild(ctx); err != nil {
				if errors.Is(err, apperrors.ErrRunInProgress) {
					r.logger.Debug("run in progress, rescheduling rebuild")
					r.TriggerRebuild()
					continue
				}
				r.logger.Error("scheduled rebuild failed", "error", err)
			}
		}
	}
}

// Current returns the active run, or nil before the first run is available.
func (r *Runner) Current() *relate.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Runner) swap(run *relate.Run) *relate.Run {
	r.mu.Lock()
	previous := r.current
	r.current = run
	r.mu.Unlock()
	return previous
}

// RelatedFor returns the related list for one entry from the active run. The
// bool reports whether the list came from the cache. An entry the active run
// scored but found nothing for yields an empty list and no error.
func (r *Runner) RelatedFor(ctx context.Context, entryID string) ([]ranker.Result, bool, error) {
	run := r.Current()
	if run == nil {
		return nil, false, apperrors.ErrNoRunAvailable
	}
	if !run.Knows(entryID) {
		return nil, false, fmt.Errorf("%w: %q", apperrors.ErrEntryNotFound, entryID)
	}
	return r.cache.GetOrCompute(ctx, run.Fingerprint, entryID, func() ([]ranker.Result, error) {
		return run.Related[entryID], nil
	})
}

// CacheStats exposes lifetime cache hit and miss counts.
func (r *Runner) CacheStats() (hits, misses int64) {
	return r.cache.Stats()
}

// CacheEnabled reports whether a Redis backend serves reads.
func (r *Runner) CacheEnabled() bool {
	return r.cache.Enabled()
}
