package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/analytics"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/ranker"
	apperrors "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/errors"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
)

type stubProvider struct {
	results      []ranker.Result
	fromCache    bool
	err          error
	run          *relate.Run
	cacheEnabled bool
	hits         int64
	misses       int64
	rebuilds     atomic.Int64
}

func (s *stubProvider) RelatedFor(ctx context.Context, entryID string) ([]ranker.Result, bool, error) {
	return s.results, s.fromCache, s.err
}

func (s *stubProvider) TriggerRebuild()            { s.rebuilds.Add(1) }
func (s *stubProvider) Current() *relate.Run       { return s.run }
func (s *stubProvider) CacheStats() (int64, int64) { return s.hits, s.misses }
func (s *stubProvider) CacheEnabled() bool         { return s.cacheEnabled }

func sampleRun() *relate.Run {
	return &relate.Run{
		ID:          "8df9f6b1-6f52-4e38-9d2e-c4f1e1c3a933",
		Fingerprint: "00d1e2f3a4b5c6d7",
		Related: map[string][]ranker.Result{
			"gitea": {{ID: "gogs", Score: 30.5}},
			"gogs":  {{ID: "gitea", Score: 30.5}},
		},
		EntryIDs:    []string{"forgejo", "gitea", "gogs", "kimai"},
		Entries:     4,
		PairsScored: 12,
		StartedAt:   time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Duration:    640 * time.Millisecond,
	}
}

func relatedRequest(entryID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/"+entryID+"/related", nil)
	req.SetPathValue("id", entryID)
	return req
}

func TestRelatedServesList(t *testing.T) {
	provider := &stubProvider{
		results: []ranker.Result{{ID: "gogs", Score: 30.5}},
		run:     sampleRun(),
	}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.Related(rec, relatedRequest("gitea"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp RelatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.EntryID != "gitea" || resp.Count != 1 {
		t.Fatalf("response = %+v, want one result for gitea", resp)
	}
	if resp.Related[0].ID != "gogs" || resp.Related[0].Score != 30.5 {
		t.Fatalf("related[0] = %+v, want gogs at 30.5", resp.Related[0])
	}
	if resp.RunID != provider.run.ID || resp.Fingerprint != provider.run.Fingerprint {
		t.Fatalf("run metadata missing from response: %+v", resp)
	}
}

func TestRelatedServesEmptyListNotNull(t *testing.T) {
	provider := &stubProvider{run: sampleRun()}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.Related(rec, relatedRequest("kimai"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a known entry without relations", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"related":[]`) {
		t.Fatalf("body = %s, want an empty array, never null", rec.Body.String())
	}
}

func TestRelatedUnknownIDSuggests(t *testing.T) {
	provider := &stubProvider{
		err: fmt.Errorf("%w: %q", apperrors.ErrEntryNotFound, "gittea"),
		run: sampleRun(),
	}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.Related(rec, relatedRequest("gittea"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Error      string   `json:"error"`
		DidYouMean []string `json:"did_you_mean"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if !reflect.DeepEqual(body.DidYouMean, []string{"gitea"}) {
		t.Fatalf("did_you_mean = %v, want [gitea]", body.DidYouMean)
	}
}

func TestRelatedWithoutRun(t *testing.T) {
	provider := &stubProvider{err: apperrors.ErrNoRunAvailable}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.Related(rec, relatedRequest("gitea"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before the first run", rec.Code)
	}
}

func TestRelatedHidesInternalErrors(t *testing.T) {
	provider := &stubProvider{
		err: errors.New("pq: connection refused on 10.0.0.8:5432"),
		run: sampleRun(),
	}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.Related(rec, relatedRequest("gitea"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.8") {
		t.Fatalf("body leaks internals: %s", rec.Body.String())
	}
}

func TestRelatedTracksAnalytics(t *testing.T) {
	provider := &stubProvider{
		results: []ranker.Result{{ID: "gogs", Score: 30.5}},
		run:     sampleRun(),
	}
	collector := analytics.NewCollector(publishDiscard{}, 100, time.Hour)
	h := New(provider, WithCollector(collector))

	rec := httptest.NewRecorder()
	h.Related(rec, relatedRequest("gitea"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := collector.BufferLen(); got != 1 {
		t.Fatalf("buffered analytics events = %d, want 1", got)
	}
}

type publishDiscard struct{}

func (publishDiscard) PublishBatch(ctx context.Context, events []kafka.Event) error {
	return nil
}

func TestMappingServesFullRun(t *testing.T) {
	provider := &stubProvider{run: sampleRun()}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.Mapping(rec, httptest.NewRequest(http.MethodGet, "/api/v1/related", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp MappingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Entries != 4 || len(resp.Related) != 2 {
		t.Fatalf("mapping = %+v, want 4 entries and 2 related lists", resp)
	}
}

func TestMappingWithoutRun(t *testing.T) {
	h := New(&stubProvider{})

	rec := httptest.NewRecorder()
	h.Mapping(rec, httptest.NewRequest(http.MethodGet, "/api/v1/related", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRebuildAccepts(t *testing.T) {
	provider := &stubProvider{}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.Rebuild(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rebuild", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if got := provider.rebuilds.Load(); got != 1 {
		t.Fatalf("rebuild triggers = %d, want 1", got)
	}
	if !strings.Contains(rec.Body.String(), "scheduled") {
		t.Fatalf("body = %s, want scheduled status", rec.Body.String())
	}
}

func TestLatestRunSummary(t *testing.T) {
	provider := &stubProvider{run: sampleRun()}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.LatestRun(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var summary RunSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.RunID != provider.run.ID {
		t.Fatalf("run id = %q, want %q", summary.RunID, provider.run.ID)
	}
	if summary.RelatedCount != 2 || summary.Entries != 4 {
		t.Fatalf("summary = %+v, want 2 related lists over 4 entries", summary)
	}
	if summary.DurationMs != 640 {
		t.Fatalf("duration_ms = %d, want 640", summary.DurationMs)
	}
}

func TestLatestRunWithoutRun(t *testing.T) {
	h := New(&stubProvider{})

	rec := httptest.NewRecorder()
	h.LatestRun(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCacheStatsReport(t *testing.T) {
	provider := &stubProvider{cacheEnabled: true, hits: 3, misses: 1}
	h := New(provider)

	rec := httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats struct {
		Enabled bool   `json:"enabled"`
		Hits    int64  `json:"hits"`
		Misses  int64  `json:"misses"`
		Total   int64  `json:"total"`
		HitRate string `json:"hit_rate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if !stats.Enabled || stats.Total != 4 || stats.HitRate != "75.0%" {
		t.Fatalf("stats = %+v, want enabled cache at 75.0%%", stats)
	}
}

func TestSuggestIDs(t *testing.T) {
	known := []string{"nextcloud", "owncloud", "seafile"}
	got := suggestIDs("nextclouds", known)
	if !reflect.DeepEqual(got, []string{"nextcloud"}) {
		t.Fatalf("suggestions = %v, want [nextcloud]", got)
	}

	if got := suggestIDs("zzzzzz", known); len(got) != 0 {
		t.Fatalf("suggestions for dissimilar id = %v, want none", got)
	}
}

func TestSuggestIDsCapsAndOrders(t *testing.T) {
	known := []string{"wiki4", "wiki2", "wiki1", "wiki3"}
	got := suggestIDs("wiki", known)
	if !reflect.DeepEqual(got, []string{"wiki1", "wiki2", "wiki3"}) {
		t.Fatalf("suggestions = %v, want the three lowest ids", got)
	}
}
