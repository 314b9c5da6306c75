package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
)

// latencyWindow bounds the latency sample buffer. Percentiles cover the most
// recent window, not process lifetime.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalServes      int64            `json:"total_serves"`
	TotalRuns        int64            `json:"total_runs"`
	FailedRuns       int64            `json:"failed_runs"`
	TotalIngested    int64            `json:"total_ingested"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	ZeroMatchCount   int64            `json:"zero_match_count"`
	AvgLatencyMs     float64          `json:"avg_latency_ms"`
	P50LatencyMs     int64            `json:"p50_latency_ms"`
	P95LatencyMs     int64            `json:"p95_latency_ms"`
	P99LatencyMs     int64            `json:"p99_latency_ms"`
	TopEntries       []EntryCount     `json:"top_entries"`
	ZeroMatchEntries []EntryCount     `json:"zero_match_entries"`
	ServesPerMinute  float64          `json:"serves_per_minute"`
	LastRun          *relate.RunEvent `json:"last_run,omitempty"`
}

type EntryCount struct {
	EntryID string `json:"entry_id"`
	Count   int64  `json:"count"`
}

// Aggregator folds the event streams into in-memory statistics. It is fed by
// the topic handlers below, one Kafka consumer per stream.
type Aggregator struct {
	mu              sync.RWMutex
	totalServes     atomic.Int64
	totalRuns       atomic.Int64
	failedRuns      atomic.Int64
	totalIngested   atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	zeroMatches     atomic.Int64
	latencies       []int64
	nextLatency     int
	entryCounts     map[string]int64
	zeroMatchCounts map[string]int64
	lastRun         *relate.RunEvent
	startTime       time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:       make([]int64, 0, latencyWindow),
		entryCounts:     make(map[string]int64),
		zeroMatchCounts: make(map[string]int64),
		startTime:       time.Now(),
		logger:          logger.WithComponent("analytics-aggregator"),
	}
}

// HandleServeEvent returns a Kafka MessageHandler for the serve event topic.
// Undecodable events are logged and dropped.
func HandleServeEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ServeEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode serve event", "error", err)
			return nil
		}
		agg.recordServeEvent(event)
		return nil
	}
}

// HandleRunEvent returns a Kafka MessageHandler for the run completion topic.
func HandleRunEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[relate.RunEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode run event", "error", err)
			return nil
		}
		agg.recordRunEvent(event)
		return nil
	}
}

// HandleEntryEvent returns a Kafka MessageHandler for the entry ingest topic.
func HandleEntryEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[catalog.EntryEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode entry event", "error", err)
			return nil
		}
		agg.recordEntryEvent(event)
		return nil
	}
}

func (a *Aggregator) recordServeEvent(event ServeEvent) {
	a.totalServes.Add(1)

	switch event.Type {
	case EventCacheHit:
		a.cacheHits.Add(1)
	case EventCacheMiss:
		a.cacheMisses.Add(1)
	}

	if event.Returned == 0 {
		a.zeroMatches.Add(1)
	}

	a.mu.Lock()
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.nextLatency] = event.LatencyMs
	}
	a.nextLatency = (a.nextLatency + 1) % latencyWindow
	a.entryCounts[event.EntryID]++
	if event.Returned == 0 {
		a.zeroMatchCounts[event.EntryID]++
	}
	a.mu.Unlock()
}

func (a *Aggregator) recordRunEvent(event relate.RunEvent) {
	if event.Status == relate.RunStatusFailed {
		a.failedRuns.Add(1)
		a.logger.Warn("failed run recorded", "error", event.Error)
		return
	}
	a.totalRuns.Add(1)
	a.mu.Lock()
	a.lastRun = &event
	a.mu.Unlock()
	a.logger.Info("run recorded",
		"run_id", event.RunID,
		"entries", event.Entries,
		"pairs_scored", event.PairsScored,
	)
}

func (a *Aggregator) recordEntryEvent(event catalog.EntryEvent) {
	a.totalIngested.Add(1)
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalServes:    a.totalServes.Load(),
		TotalRuns:      a.totalRuns.Load(),
		FailedRuns:     a.failedRuns.Load(),
		TotalIngested:  a.totalIngested.Load(),
		CacheHits:      a.cacheHits.Load(),
		CacheMisses:    a.cacheMisses.Load(),
		ZeroMatchCount: a.zeroMatches.Load(),
		LastRun:        a.lastRun,
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopEntries = topN(a.entryCounts, 10)
	stats.ZeroMatchEntries = topN(a.zeroMatchCounts, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.ServesPerMinute = float64(stats.TotalServes) / elapsed
	}

	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n highest counts. Ties break on entry id so the output
// is stable between calls.
func topN(counts map[string]int64, n int) []EntryCount {
	result := make([]EntryCount, 0, len(counts))
	for entryID, count := range counts {
		result = append(result, EntryCount{EntryID: entryID, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].EntryID < result[j].EntryID
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
