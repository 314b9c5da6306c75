// Package handler exposes the relator's HTTP API: related lists per entry,
// the full mapping, run inspection, rebuild scheduling, and cache stats.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/hbollon/go-edlib"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/analytics"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/ranker"
	apperrors "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/errors"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/metrics"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/middleware"
)

const (
	// minSuggestionSimilarity gates did-you-mean candidates on Jaro-Winkler
	// similarity against the unknown id.
	minSuggestionSimilarity = 0.8
	maxSuggestions          = 3
)

// RelationProvider serves related lists from the active run. The relate
// runner satisfies it.
type RelationProvider interface {
	RelatedFor(ctx context.Context, entryID string) ([]ranker.Result, bool, error)
	Current() *relate.Run
	TriggerRebuild()
	CacheStats() (hits, misses int64)
	CacheEnabled() bool
}

// Handler answers the public relator API.
type Handler struct {
	provider  RelationProvider
	collector *analytics.Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithCollector forwards one analytics event per served list.
func WithCollector(c *analytics.Collector) Option {
	return func(h *Handler) { h.collector = c }
}

// WithMetrics records serve counters and latency histograms.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func New(provider RelationProvider, opts ...Option) *Handler {
	h := &Handler{
		provider: provider,
		logger:   logger.WithComponent("relate-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RelatedResponse is the per-entry payload. Related is never null: an entry
// the run knows but found nothing for serves an empty list.
type RelatedResponse struct {
	EntryID     string          `json:"entry_id"`
	RunID       string          `json:"run_id"`
	Fingerprint string          `json:"fingerprint"`
	Count       int             `json:"count"`
	Related     []ranker.Result `json:"related"`
}

// MappingResponse is the full related mapping of the active run.
type MappingResponse struct {
	RunID       string                     `json:"run_id"`
	Fingerprint string                     `json:"fingerprint"`
	Entries     int                        `json:"entries"`
	Related     map[string][]ranker.Result `json:"related"`
}

// RunSummary describes the active run without its related lists.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Fingerprint  string    `json:"fingerprint"`
	Entries      int       `json:"entries"`
	RelatedCount int       `json:"related_count"`
	PairsScored  int64     `json:"pairs_scored"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// Related handles GET /api/v1/apps/{id}/related.
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	entryID := r.PathValue("id")
	if entryID == "" {
		h.writeError(w, http.StatusBadRequest, "entry id is required")
		return
	}

	results, fromCache, err := h.provider.RelatedFor(ctx, entryID)
	if err != nil {
		h.relatedError(w, entryID, err, log)
		return
	}
	if results == nil {
		results = []ranker.Result{}
	}

	run := h.provider.Current()
	resp := RelatedResponse{
		EntryID: entryID,
		Count:   len(results),
		Related: results,
	}
	if run != nil {
		resp.RunID = run.ID
		resp.Fingerprint = run.Fingerprint
	}

	latency := time.Since(start)
	cacheStatus := h.cacheStatus(fromCache)
	h.observeServe(cacheStatus, latency)
	h.trackServe(r, entryID, results, fromCache, latency)

	log.Debug("related list served",
		"entry_id", entryID,
		"count", len(results),
		"cache_status", cacheStatus,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// relatedError maps serve errors onto HTTP. Unknown ids get did-you-mean
// suggestions from the active run's id set.
func (h *Handler) relatedError(w http.ResponseWriter, entryID string, err error, log *slog.Logger) {
	status := apperrors.HTTPStatusCode(err)
	switch status {
	case http.StatusNotFound:
		body := map[string]any{"error": fmt.Sprintf("no entry with id %q", entryID)}
		if run := h.provider.Current(); run != nil {
			if suggestions := suggestIDs(entryID, run.EntryIDs); len(suggestions) > 0 {
				body["did_you_mean"] = suggestions
			}
		}
		h.writeJSON(w, http.StatusNotFound, body)
	case http.StatusServiceUnavailable:
		h.writeError(w, status, "no relation run available yet")
	default:
		log.Error("serving related list failed", "entry_id", entryID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "serving related list failed")
	}
}

// Mapping handles GET /api/v1/related.
func (h *Handler) Mapping(w http.ResponseWriter, r *http.Request) {
	run := h.provider.Current()
	if run == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no relation run available yet")
		return
	}
	h.writeJSON(w, http.StatusOK, MappingResponse{
		RunID:       run.ID,
		Fingerprint: run.Fingerprint,
		Entries:     run.Entries,
		Related:     run.Related,
	})
}

// Rebuild handles POST /api/v1/rebuild. The rebuild itself is debounced and
// asynchronous, so the endpoint always accepts.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	h.provider.TriggerRebuild()
	logger.FromContext(r.Context()).Info("rebuild requested")
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// LatestRun handles GET /api/v1/runs/latest.
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	run := h.provider.Current()
	if run == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no relation run available yet")
		return
	}
	h.writeJSON(w, http.StatusOK, RunSummary{
		RunID:        run.ID,
		Fingerprint:  run.Fingerprint,
		Entries:      run.Entries,
		RelatedCount: len(run.Related),
		PairsScored:  run.PairsScored,
		StartedAt:    run.StartedAt,
		DurationMs:   run.Duration.Milliseconds(),
	})
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.provider.CacheStats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  h.provider.CacheEnabled(),
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) cacheStatus(fromCache bool) string {
	switch {
	case !h.provider.CacheEnabled():
		return "bypass"
	case fromCache:
		return "hit"
	default:
		return "miss"
	}
}

func (h *Handler) observeServe(cacheStatus string, latency time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.RelatedServedTotal.WithLabelValues(cacheStatus).Inc()
	h.metrics.ServeLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
}

func (h *Handler) trackServe(r *http.Request, entryID string, results []ranker.Result, fromCache bool, latency time.Duration) {
	if h.collector == nil {
		return
	}
	eventType := analytics.EventServe
	if h.provider.CacheEnabled() {
		eventType = analytics.EventCacheMiss
		if fromCache {
			eventType = analytics.EventCacheHit
		}
	}
	var topScore float64
	if len(results) > 0 {
		topScore = results[0].Score
	}
	h.collector.Track("serve", analytics.ServeEvent{
		Type:      eventType,
		EntryID:   entryID,
		Returned:  len(results),
		TopScore:  topScore,
		LatencyMs: latency.Milliseconds(),
		CacheHit:  fromCache,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

// suggestIDs returns up to maxSuggestions known ids similar to the unknown
// one, ordered by similarity descending with id ascending as the tiebreak.
func suggestIDs(unknown string, knownIDs []string) []string {
	type scored struct {
		id         string
		similarity float32
	}
	candidates := make([]scored, 0, 4)
	for _, id := range knownIDs {
		similarity, err := edlib.StringsSimilarity(unknown, id, edlib.JaroWinkler)
		if err != nil || similarity < minSuggestionSimilarity {
			continue
		}
		candidates = append(candidates, scored{id: id, similarity: similarity})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	suggestions := make([]string, len(candidates))
	for i, c := range candidates {
		suggestions[i] = c.id
	}
	return suggestions
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
