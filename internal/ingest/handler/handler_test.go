package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/ingest/publisher"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	apperrors "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/errors"
)

type stubIngestor struct {
	lastRaw  catalog.RawEntry
	lastRaws []catalog.RawEntry
	entry    *catalog.Entry
	outcome  *publisher.BatchOutcome
	err      error
}

func (s *stubIngestor) Ingest(ctx context.Context, raw catalog.RawEntry) (*catalog.Entry, error) {
	s.lastRaw = raw
	if s.err != nil {
		return nil, s.err
	}
	return s.entry, nil
}

func (s *stubIngestor) IngestBatch(ctx context.Context, raws []catalog.RawEntry) (*publisher.BatchOutcome, error) {
	s.lastRaws = raws
	if s.err != nil {
		return nil, s.err
	}
	return s.outcome, nil
}

func TestIngestAcceptsEntry(t *testing.T) {
	stub := &stubIngestor{entry: &catalog.Entry{ID: "gitea", Name: "Gitea"}}
	h := New(stub, config.IngestConfig{})

	body := `{"id": "gitea", "name": "Gitea", "stars": 45000}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/entries", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusAccepted, rec.Body)
	}
	if stub.lastRaw.ID != "gitea" || stub.lastRaw.Stars != 45000 {
		t.Errorf("ingestor received %+v", stub.lastRaw)
	}
	var entry catalog.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if entry.ID != "gitea" {
		t.Errorf("response entry = %+v", entry)
	}
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	h := New(&stubIngestor{}, config.IngestConfig{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/entries", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestIngestMapsValidationErrors(t *testing.T) {
	stub := &stubIngestor{err: fmt.Errorf("%w: name is required", apperrors.ErrInvalidEntry)}
	h := New(stub, config.IngestConfig{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/entries", strings.NewReader(`{"id": "x"}`))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.Contains(resp["error"], "name is required") {
		t.Errorf("error message = %q, want the validation detail", resp["error"])
	}
}

func TestIngestHidesInternalErrors(t *testing.T) {
	stub := &stubIngestor{err: fmt.Errorf("connection refused to postgres at 10.0.0.5")}
	h := New(stub, config.IngestConfig{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/entries", strings.NewReader(`{"id": "x", "name": "X"}`))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Error("internal failure detail leaked into the response body")
	}
}

func TestIngestBatchEnforcesLimit(t *testing.T) {
	h := New(&stubIngestor{}, config.IngestConfig{MaxBatchSize: 2})

	body := `[{"id": "a", "name": "A"}, {"id": "b", "name": "B"}, {"id": "c", "name": "C"}]`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/entries/batch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.IngestBatch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestIngestBatchReportsOutcome(t *testing.T) {
	stub := &stubIngestor{outcome: &publisher.BatchOutcome{
		Accepted: 1,
		Rejected: []publisher.RejectedEntry{{Index: 1, Reason: "identifier is required"}},
	}}
	h := New(stub, config.IngestConfig{MaxBatchSize: 10})

	body := `[{"id": "a", "name": "A"}, {"name": "No ID"}]`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/entries/batch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.IngestBatch(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusAccepted, rec.Body)
	}
	if len(stub.lastRaws) != 2 {
		t.Errorf("ingestor received %d records, want 2", len(stub.lastRaws))
	}
	var outcome publisher.BatchOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if outcome.Accepted != 1 || len(outcome.Rejected) != 1 {
		t.Errorf("outcome = %+v", outcome)
	}
}
