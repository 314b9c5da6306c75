// Package ranker aggregates factor scores per candidate pair, applies the
// minimum-score gate, and keeps the deterministic top-k per source entry.
package ranker

import (
	"container/heap"
	"math"
	"strings"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/factors"
)

// Result is one qualifying related candidate for a source entry. Breakdown
// is populated only in debug mode.
type Result struct {
	ID        string             `json:"id"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

// Options control gating, truncation, and ordering. A Limit <= 0 disables
// truncation. Tiebreakers are applied in order after the score; entry id
// ascending is always the final implicit key, so the ordering is total.
type Options struct {
	MinScore    float64
	Limit       int
	Tiebreakers []string
	Debug       bool
}

// ScorePair sums the enabled factor scores for one pair, rounded to four
// decimals. When debug is set the returned breakdown records every enabled
// factor, including zero contributions.
func ScorePair(a, b *factors.Profile, fs []factors.Factor, debug bool) (float64, map[string]float64) {
	var total float64
	var breakdown map[string]float64
	if debug {
		breakdown = make(map[string]float64, len(fs))
	}
	for _, f := range fs {
		s := f.Score(a, b)
		total += s
		if debug {
			breakdown[f.Name()] = s
		}
	}
	return round4(total), breakdown
}

// Rank scores source against every candidate (itself excluded), drops
// candidates below MinScore, and returns at most Limit results ordered by
// score descending then the configured tie-breakers.
func Rank(source *factors.Profile, candidates []*factors.Profile, fs []factors.Factor, opts Options) []Result {
	h := &candidateHeap{order: newOrdering(opts.Tiebreakers)}
	heap.Init(h)
	for _, cand := range candidates {
		if cand.Entry.ID == source.Entry.ID {
			continue
		}
		total, breakdown := ScorePair(source, cand, fs, opts.Debug)
		if total < opts.MinScore {
			continue
		}
		heap.Push(h, scored{
			result: Result{ID: cand.Entry.ID, Score: total, Breakdown: breakdown},
			stars:  cand.Entry.Stars,
			name:   cand.Entry.Name,
		})
		if opts.Limit > 0 && h.Len() > opts.Limit {
			heap.Pop(h)
		}
	}
	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(scored).result
	}
	return results
}

// scored carries the tie-breaker fields alongside the emitted result.
type scored struct {
	result Result
	stars  int64
	name   string
}

// ordering is the tie-breaker field sequence, id-terminated.
type ordering []string

func newOrdering(tiebreakers []string) ordering {
	return append(append(make(ordering, 0, len(tiebreakers)+1), tiebreakers...), "id")
}

// less reports whether x ranks strictly before y: higher score first, then
// the tie-breaker fields (popularity descending, name ascending
// case-insensitively, id ascending).
func (o ordering) less(x, y scored) bool {
	if x.result.Score != y.result.Score {
		return x.result.Score > y.result.Score
	}
	for _, field := range o {
		switch field {
		case "popularity":
			if x.stars != y.stars {
				return x.stars > y.stars
			}
		case "name":
			nx, ny := strings.ToLower(x.name), strings.ToLower(y.name)
			if nx != ny {
				return nx < ny
			}
			if x.name != y.name {
				return x.name < y.name
			}
		case "id":
			if x.result.ID != y.result.ID {
				return x.result.ID < y.result.ID
			}
		}
	}
	return false
}

// candidateHeap is a min-heap keeping the worst kept candidate at the root,
// so Pop evicts it when the heap grows past the limit.
type candidateHeap struct {
	items []scored
	order ordering
}

func (h candidateHeap) Len() int { return len(h.items) }

func (h candidateHeap) Less(i, j int) bool {
	return h.order.less(h.items[j], h.items[i])
}

func (h candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(x interface{}) {
	h.items = append(h.items, x.(scored))
}

func (h *candidateHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
