package analytics

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
)

func feedServe(t *testing.T, agg *Aggregator, event ServeEvent) {
	t.Helper()
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshaling serve event: %v", err)
	}
	if err := HandleServeEvent(agg)(context.Background(), []byte(event.EntryID), value); err != nil {
		t.Fatalf("handling serve event: %v", err)
	}
}

func TestAggregatorFoldsServeEvents(t *testing.T) {
	agg := NewAggregator()

	feedServe(t, agg, ServeEvent{Type: EventCacheHit, EntryID: "gitea", Returned: 5, LatencyMs: 4, CacheHit: true})
	feedServe(t, agg, ServeEvent{Type: EventCacheMiss, EntryID: "gitea", Returned: 5, LatencyMs: 10})
	feedServe(t, agg, ServeEvent{Type: EventCacheMiss, EntryID: "lonely-app", Returned: 0, LatencyMs: 22})

	stats := agg.Stats()
	if stats.TotalServes != 3 {
		t.Fatalf("TotalServes = %d, want 3", stats.TotalServes)
	}
	if stats.CacheHits != 1 || stats.CacheMisses != 2 {
		t.Fatalf("cache hits/misses = %d/%d, want 1/2", stats.CacheHits, stats.CacheMisses)
	}
	if stats.ZeroMatchCount != 1 {
		t.Fatalf("ZeroMatchCount = %d, want 1", stats.ZeroMatchCount)
	}
	if stats.P50LatencyMs != 10 {
		t.Fatalf("P50LatencyMs = %d, want 10", stats.P50LatencyMs)
	}
	if want := float64(4+10+22) / 3; stats.AvgLatencyMs != want {
		t.Fatalf("AvgLatencyMs = %f, want %f", stats.AvgLatencyMs, want)
	}

	wantTop := []EntryCount{{EntryID: "gitea", Count: 2}, {EntryID: "lonely-app", Count: 1}}
	if !reflect.DeepEqual(stats.TopEntries, wantTop) {
		t.Fatalf("TopEntries = %+v, want %+v", stats.TopEntries, wantTop)
	}
	wantZero := []EntryCount{{EntryID: "lonely-app", Count: 1}}
	if !reflect.DeepEqual(stats.ZeroMatchEntries, wantZero) {
		t.Fatalf("ZeroMatchEntries = %+v, want %+v", stats.ZeroMatchEntries, wantZero)
	}
	if stats.ServesPerMinute <= 0 {
		t.Fatalf("ServesPerMinute = %f, want > 0", stats.ServesPerMinute)
	}
}

func TestAggregatorDropsUndecodableEvents(t *testing.T) {
	agg := NewAggregator()
	handlers := map[string]func(context.Context, []byte, []byte) error{
		"serve": HandleServeEvent(agg),
		"run":   HandleRunEvent(agg),
		"entry": HandleEntryEvent(agg),
	}
	for name, handle := range handlers {
		if err := handle(context.Background(), []byte("k"), []byte("{broken")); err != nil {
			t.Fatalf("%s handler returned error for garbage: %v", name, err)
		}
	}
	stats := agg.Stats()
	if stats.TotalServes != 0 || stats.TotalRuns != 0 || stats.TotalIngested != 0 {
		t.Fatalf("garbage events were counted: %+v", stats)
	}
}

func TestAggregatorRecordsRunEvents(t *testing.T) {
	agg := NewAggregator()

	event := relate.RunEvent{
		Status:      relate.RunStatusCompleted,
		RunID:       "0d9c7a31-9e4b-4e0c-8f68-1f10e9c2b771",
		Fingerprint: "00d1e2f3a4b5c6d7",
		Entries:     412,
		PairsScored: 169332,
		DurationMs:  840,
		CompletedAt: time.Now().UTC(),
	}
	value, _ := json.Marshal(event)
	if err := HandleRunEvent(agg)(context.Background(), []byte(event.RunID), value); err != nil {
		t.Fatalf("handling run event: %v", err)
	}

	stats := agg.Stats()
	if stats.TotalRuns != 1 {
		t.Fatalf("TotalRuns = %d, want 1", stats.TotalRuns)
	}
	if stats.LastRun == nil || stats.LastRun.RunID != event.RunID {
		t.Fatalf("LastRun = %+v, want run %s", stats.LastRun, event.RunID)
	}
	if stats.LastRun.Fingerprint != event.Fingerprint {
		t.Fatalf("LastRun fingerprint = %q, want %q", stats.LastRun.Fingerprint, event.Fingerprint)
	}
}

func TestAggregatorCountsFailedRunsSeparately(t *testing.T) {
	agg := NewAggregator()
	handle := HandleRunEvent(agg)

	completed := relate.RunEvent{Status: relate.RunStatusCompleted, RunID: "run-1", Entries: 10}
	failed := relate.RunEvent{Status: relate.RunStatusFailed, Error: "loading corpus: no such file", DurationMs: 12}
	for _, event := range []relate.RunEvent{completed, failed} {
		value, _ := json.Marshal(event)
		if err := handle(context.Background(), []byte(event.Status), value); err != nil {
			t.Fatalf("handling run event: %v", err)
		}
	}

	stats := agg.Stats()
	if stats.TotalRuns != 1 {
		t.Fatalf("TotalRuns = %d, want 1", stats.TotalRuns)
	}
	if stats.FailedRuns != 1 {
		t.Fatalf("FailedRuns = %d, want 1", stats.FailedRuns)
	}
	if stats.LastRun == nil || stats.LastRun.RunID != "run-1" {
		t.Fatalf("LastRun = %+v, want the completed run, not the failure", stats.LastRun)
	}
}

func TestAggregatorCountsIngestedEntries(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEntryEvent(agg)

	for _, id := range []string{"gitea", "gogs", "kimai"} {
		value, _ := json.Marshal(catalog.EntryEvent{EntryID: id, Name: id, Timestamp: time.Now().Unix()})
		if err := handle(context.Background(), []byte(id), value); err != nil {
			t.Fatalf("handling entry event: %v", err)
		}
	}
	if got := agg.Stats().TotalIngested; got != 3 {
		t.Fatalf("TotalIngested = %d, want 3", got)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := []struct {
		pct  int
		want int64
	}{
		{50, 6},
		{95, 10},
		{99, 10},
		{0, 1},
	}
	for _, tc := range cases {
		if got := percentile(sorted, tc.pct); got != tc.want {
			t.Errorf("percentile(%d) = %d, want %d", tc.pct, got, tc.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile of empty slice = %d, want 0", got)
	}
}

func TestTopNBreaksTiesByEntryID(t *testing.T) {
	counts := map[string]int64{"wiki-b": 2, "wiki-a": 2, "wiki-c": 1}
	got := topN(counts, 2)
	want := []EntryCount{{EntryID: "wiki-a", Count: 2}, {EntryID: "wiki-b", Count: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("topN = %+v, want %+v", got, want)
	}
}

func TestLatencyWindowIsBounded(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < latencyWindow+50; i++ {
		agg.recordServeEvent(ServeEvent{Type: EventCacheMiss, EntryID: "gitea", Returned: 1, LatencyMs: int64(i)})
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	if len(agg.latencies) != latencyWindow {
		t.Fatalf("latency buffer length = %d, want %d", len(agg.latencies), latencyWindow)
	}
}
