// Package normalizer projects raw catalog records into their canonical
// comparable shape: trimmed text, never-nil deduplicated sets, a derived
// license class, and a guaranteed-unique identifier.
package normalizer

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	apperrors "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/errors"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
)

// ClassifyFunc reports whether a license identifier is non-free.
type ClassifyFunc func(licenseID string) bool

// NonFreeLicenseSet builds a ClassifyFunc from a list of non-free license
// identifiers. Comparison is case-insensitive.
func NonFreeLicenseSet(ids []string) ClassifyFunc {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	return func(licenseID string) bool {
		_, ok := set[strings.ToLower(strings.TrimSpace(licenseID))]
		return ok
	}
}

// Normalizer validates and canonicalizes raw entries.
type Normalizer struct {
	isNonFree ClassifyFunc
	logger    *slog.Logger
}

// New creates a Normalizer using the given license classifier. A nil
// classifier treats every license as free.
func New(isNonFree ClassifyFunc) *Normalizer {
	if isNonFree == nil {
		isNonFree = func(string) bool { return false }
	}
	return &Normalizer{
		isNonFree: isNonFree,
		logger:    logger.WithComponent("normalizer"),
	}
}

// Normalize projects one raw record into its canonical shape. Entries missing
// an identifier or name are rejected with ErrInvalidEntry.
func (n *Normalizer) Normalize(raw catalog.RawEntry) (*catalog.Entry, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: identifier is required", apperrors.ErrInvalidEntry)
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required for %q", apperrors.ErrInvalidEntry, id)
	}

	stars := raw.Stars
	if stars < 0 {
		stars = 0
	}

	licenses := cleanSet(raw.Licenses)
	return &catalog.Entry{
		ID:                id,
		Name:              name,
		Description:       strings.TrimSpace(raw.Description),
		Website:           strings.TrimSpace(raw.Website),
		SourceCode:        strings.TrimSpace(raw.SourceCode),
		Categories:        cleanSet(raw.Categories),
		Platforms:         cleanSet(raw.Platforms),
		Licenses:          licenses,
		LicenseClass:      n.classify(licenses),
		ForkOf:            strings.TrimSpace(raw.ForkOf),
		AlternativeTo:     cleanSet(raw.AlternativeTo),
		Stars:             stars,
		DependsOn3rdParty: raw.DependsOn3rdParty,
	}, nil
}

// NormalizeAll normalizes a full dataset. Invalid entries and duplicate
// identifiers are logged and dropped; the first occurrence of an id wins.
func (n *Normalizer) NormalizeAll(raws []catalog.RawEntry) []*catalog.Entry {
	entries := make([]*catalog.Entry, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		entry, err := n.Normalize(raw)
		if err != nil {
			n.logger.Warn("rejecting entry", "id", raw.ID, "name", raw.Name, "error", err)
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			n.logger.Warn("rejecting duplicate entry id", "id", entry.ID)
			continue
		}
		seen[entry.ID] = struct{}{}
		entries = append(entries, entry)
	}
	return entries
}

// classify derives the entry-level license class: a single non-free license
// makes the whole entry non-free.
func (n *Normalizer) classify(licenses []string) catalog.LicenseClass {
	for _, l := range licenses {
		if n.isNonFree(l) {
			return catalog.LicenseNonFree
		}
	}
	return catalog.LicenseFree
}

// cleanSet trims values, drops empties, deduplicates case-insensitively
// keeping the first-seen casing, and orders the result deterministically.
func cleanSet(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i]), strings.ToLower(out[j])
		if li != lj {
			return li < lj
		}
		return out[i] < out[j]
	})
	return out
}
