// Package relate implements the related-applications engine: a memoized
// phrase pre-pass over the corpus followed by a parallel all-pairs scoring
// pass that yields per-entry ranked related lists.
//
// The pairwise pass is inherently O(n²) in entry count; the engine's
// performance contract is that phrase extraction stays O(n) by building
// every per-entry artifact exactly once before scoring begins.
package relate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/factors"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/phrase"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/ranker"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	apperrors "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/errors"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/metrics"
)

// State tracks engine progress through a run.
type State int32

const (
	StateIdle State = iota
	StatePhrasesBuilt
	StateScoring
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePhrasesBuilt:
		return "phrases_built"
	case StateScoring:
		return "scoring"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Extractor yields the canonical phrase set for a description. The engine
// calls it exactly once per entry per run; it is a seam so tests can count
// invocations.
type Extractor interface {
	Extract(description string) phrase.Set
}

// Run is the immutable output of one full-corpus pass. Related maps entry
// ids to their ordered lists; ids with no qualifying candidate are omitted.
// EntryIDs records the full sorted corpus so consumers can distinguish
// "no related entries" from "unknown entry".
type Run struct {
	ID          string                     `json:"id"`
	Fingerprint string                     `json:"fingerprint"`
	Related     map[string][]ranker.Result `json:"related"`
	EntryIDs    []string                   `json:"entry_ids"`
	Entries     int                        `json:"entries"`
	PairsScored int64                      `json:"pairs_scored"`
	StartedAt   time.Time                  `json:"started_at"`
	Duration    time.Duration              `json:"duration"`
}

// Knows reports whether the run's corpus contained the given entry id.
func (r *Run) Knows(id string) bool {
	i := sort.SearchStrings(r.EntryIDs, id)
	return i < len(r.EntryIDs) && r.EntryIDs[i] == id
}

// Engine computes the full related-entry mapping for a corpus. Configuration
// is fixed at construction; Run is safe to call repeatedly but never
// concurrently.
type Engine struct {
	cfg       config.RelateConfig
	extractor Extractor
	factors   []factors.Factor
	workers   int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	state     atomic.Int32
	running   atomic.Bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithExtractor overrides the default phrase extractor.
func WithExtractor(ex Extractor) Option {
	return func(e *Engine) { e.extractor = ex }
}

// WithMetrics attaches Prometheus collectors to the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an Engine for the given configuration.
func NewEngine(cfg config.RelateConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		extractor: phrase.NewExtractor(cfg.Phrases),
		factors:   factors.Build(cfg.Factors),
		workers:   cfg.Workers,
		logger:    logger.WithComponent("relate-engine"),
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Run executes one full pass over the corpus. It either completes and
// returns the whole mapping or fails with no partial output; a concurrent
// second call fails immediately with ErrRunInProgress.
func (e *Engine) Run(ctx context.Context, corpus []*catalog.Entry) (*Run, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, apperrors.ErrRunInProgress
	}
	defer e.running.Store(false)

	e.state.Store(int32(StateIdle))
	run, err := e.compute(ctx, corpus)
	if err != nil {
		e.state.Store(int32(StateIdle))
		if e.metrics != nil {
			e.metrics.RelateRunsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	e.state.Store(int32(StateDone))
	if e.metrics != nil {
		e.metrics.RelateRunsTotal.WithLabelValues("completed").Inc()
		e.metrics.RelateRunDuration.Observe(run.Duration.Seconds())
		e.metrics.RelatePairsScored.Add(float64(run.PairsScored))
		e.metrics.RelatedEntriesLast.Set(float64(run.Entries))
	}
	e.logger.Info("run completed",
		"run_id", run.ID,
		"entries", run.Entries,
		"related_entries", len(run.Related),
		"pairs_scored", run.PairsScored,
		"duration", run.Duration,
		"fingerprint", run.Fingerprint,
	)
	return run, nil
}

func (e *Engine) compute(ctx context.Context, corpus []*catalog.Entry) (*Run, error) {
	started := time.Now()
	if err := validateCorpus(corpus); err != nil {
		return nil, err
	}

	profiles, err := e.buildProfiles(ctx, corpus)
	if err != nil {
		return nil, err
	}
	e.state.Store(int32(StatePhrasesBuilt))

	e.state.Store(int32(StateScoring))
	lists, pairs, err := e.scoreAll(ctx, profiles)
	if err != nil {
		return nil, err
	}

	related := make(map[string][]ranker.Result, len(profiles))
	entryIDs := make([]string, len(profiles))
	for i, p := range profiles {
		entryIDs[i] = p.Entry.ID
		if len(lists[i]) > 0 {
			related[p.Entry.ID] = lists[i]
		}
	}
	sort.Strings(entryIDs)

	return &Run{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint(entryIDs, related),
		Related:     related,
		EntryIDs:    entryIDs,
		Entries:     len(profiles),
		PairsScored: pairs,
		StartedAt:   started.UTC(),
		Duration:    time.Since(started),
	}, nil
}

// buildProfiles is the memoization pre-pass: one profile per entry, built in
// parallel into an indexed arena that the scoring pass reads without locks.
func (e *Engine) buildProfiles(ctx context.Context, corpus []*catalog.Entry) ([]*factors.Profile, error) {
	profiles := make([]*factors.Profile, len(corpus))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, entry := range corpus {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			profiles[i] = factors.NewProfile(entry, e.extractor.Extract(entry.Description))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building phrase profiles: %w", err)
	}
	if e.metrics != nil {
		e.metrics.PhraseExtractionsTotal.Add(float64(len(corpus)))
	}
	return profiles, nil
}

// scoreAll ranks every entry against the rest of the corpus. Each worker
// writes only its own index of the pre-sized lists slice.
func (e *Engine) scoreAll(ctx context.Context, profiles []*factors.Profile) ([][]ranker.Result, int64, error) {
	lists := make([][]ranker.Result, len(profiles))
	opts := ranker.Options{
		MinScore:    e.cfg.MinScore,
		Limit:       e.cfg.RelatedCountLimit,
		Tiebreakers: e.cfg.Tiebreakers,
		Debug:       e.cfg.Debug,
	}

	var pairs atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, source := range profiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lists[i] = ranker.Rank(source, profiles, e.factors, opts)
			pairs.Add(int64(len(profiles) - 1))
			e.logger.Debug("entry scored", "entry_id", source.Entry.ID, "related", len(lists[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("scoring corpus: %w", err)
	}
	return lists, pairs.Load(), nil
}

// validateCorpus enforces the id-uniqueness invariant the scorers rely on.
// A duplicate reaching the engine means the normalization pipeline was
// bypassed, so the whole run fails.
func validateCorpus(corpus []*catalog.Entry) error {
	seen := make(map[string]struct{}, len(corpus))
	for _, entry := range corpus {
		if entry == nil || entry.ID == "" {
			return fmt.Errorf("%w: corpus contains an entry without an identifier", apperrors.ErrInvalidEntry)
		}
		if _, dup := seen[entry.ID]; dup {
			return fmt.Errorf("%w: id %q appears twice in corpus", apperrors.ErrDuplicateEntry, entry.ID)
		}
		seen[entry.ID] = struct{}{}
	}
	return nil
}

// fingerprint hashes the deterministically ordered run output, so two runs
// agree on the fingerprint exactly when they agree on every ranked list.
func fingerprint(entryIDs []string, related map[string][]ranker.Result) string {
	d := xxhash.New()
	for _, id := range entryIDs {
		d.WriteString(id)
		d.WriteString("\n")
		for _, r := range related[id] {
			fmt.Fprintf(d, "%s:%.4f;", r.ID, r.Score)
		}
		d.WriteString("\n")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
