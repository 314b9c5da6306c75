package analytics

import "time"

type EventType string

const (
	EventServe     EventType = "serve"
	EventCacheHit  EventType = "cache_hit"
	EventCacheMiss EventType = "cache_miss"
	EventZeroMatch EventType = "zero_match"
)

// ServeEvent records one related-list request answered by the relator.
// Type is EventCacheHit or EventCacheMiss when caching is enabled and
// EventServe when it is not.
type ServeEvent struct {
	Type      EventType `json:"type"`
	EntryID   string    `json:"entry_id"`
	Returned  int       `json:"returned"`
	TopScore  float64   `json:"top_score"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}
