package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatsEndpoint(t *testing.T) {
	agg := NewAggregator()
	agg.recordServeEvent(ServeEvent{Type: EventCacheHit, EntryID: "gitea", Returned: 3, LatencyMs: 7})
	h := NewHandler(agg, nil)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats AggregatedStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalServes != 1 || stats.CacheHits != 1 {
		t.Fatalf("stats = %+v, want one cached serve", stats)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	h := NewHandler(NewAggregator(), nil)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats/history", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when history is disabled", rec.Code)
	}
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	h := NewHandler(NewAggregator(), &Store{})

	for _, limit := range []string{"0", "-3", "abc"} {
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats/history?limit="+limit, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: status = %d, want 400", limit, rec.Code)
		}
	}
}
