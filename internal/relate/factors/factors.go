// Package factors implements the individual scoring signals combined by the
// ranker. Each factor is a pure, symmetric function over two entry profiles;
// the set is closed and selected by configuration.
package factors

import (
	"strings"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/phrase"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
)

// Profile is the precomputed comparable projection of one entry: its phrase
// set plus case-folded label sets and the popularity tier. Profiles are
// built once per entry per run so per-pair scoring never re-derives
// per-entry artifacts.
type Profile struct {
	Entry        *catalog.Entry
	Phrases      phrase.Set
	Categories   map[string]struct{}
	Platforms    map[string]struct{}
	Alternatives map[string]struct{}
	Tier         int
}

// NewProfile builds the scoring profile for one normalized entry.
func NewProfile(entry *catalog.Entry, phrases phrase.Set) *Profile {
	return &Profile{
		Entry:        entry,
		Phrases:      phrases,
		Categories:   foldSet(entry.Categories),
		Platforms:    foldSet(entry.Platforms),
		Alternatives: foldSet(entry.AlternativeTo),
		Tier:         PopularityTier(entry.Stars),
	}
}

// Factor is one independently configurable scoring signal.
type Factor interface {
	Name() string
	Score(a, b *Profile) float64
}

// Build returns the enabled factors in canonical order. Disabled factors are
// not constructed at all, so their cost is never paid.
func Build(cfg config.FactorsConfig) []Factor {
	fs := make([]Factor, 0, 8)
	if cfg.Description.Enabled {
		fs = append(fs, descriptionFactor{max: cfg.Description.MaxScore})
	}
	if cfg.Categories.Enabled {
		fs = append(fs, categoriesFactor{points: cfg.Categories.PointsPerMatch})
	}
	if cfg.Alternatives.Enabled {
		fs = append(fs, alternativesFactor{points: cfg.Alternatives.PointsPerMatch})
	}
	if cfg.Forks.Enabled {
		fs = append(fs, forksFactor{score: cfg.Forks.SameParentScore})
	}
	if cfg.Platforms.Enabled {
		fs = append(fs, platformsFactor{points: cfg.Platforms.PointsPerMatch})
	}
	if cfg.Licenses.Enabled {
		fs = append(fs, licensesFactor{score: cfg.Licenses.SameClassScore})
	}
	if cfg.Popularity.Enabled {
		fs = append(fs, popularityFactor{score: cfg.Popularity.SameTierScore})
	}
	if cfg.Dependency.Enabled {
		fs = append(fs, dependencyFactor{score: cfg.Dependency.SameStatusScore})
	}
	return fs
}

// tierThresholds are the fixed, ordered popularity bucket boundaries.
var tierThresholds = []int64{10, 100, 1_000, 10_000, 100_000}

// PopularityTier returns the bucket index for a star count.
func PopularityTier(stars int64) int {
	for i, threshold := range tierThresholds {
		if stars < threshold {
			return i
		}
	}
	return len(tierThresholds)
}

// descriptionFactor scores phrase-set overlap: the overlap coefficient
// (shared phrases over the smaller set) scaled into [0, max].
type descriptionFactor struct{ max float64 }

func (descriptionFactor) Name() string { return "description" }

func (f descriptionFactor) Score(a, b *Profile) float64 {
	na, nb := len(a.Phrases), len(b.Phrases)
	if na == 0 || nb == 0 {
		return 0
	}
	shared := overlap(a.Phrases, b.Phrases)
	if shared == 0 {
		return 0
	}
	return float64(shared) / float64(min(na, nb)) * f.max
}

type categoriesFactor struct{ points float64 }

func (categoriesFactor) Name() string { return "categories" }

func (f categoriesFactor) Score(a, b *Profile) float64 {
	return float64(overlap(a.Categories, b.Categories)) * f.points
}

type alternativesFactor struct{ points float64 }

func (alternativesFactor) Name() string { return "alternatives" }

func (f alternativesFactor) Score(a, b *Profile) float64 {
	return float64(overlap(a.Alternatives, b.Alternatives)) * f.points
}

// forksFactor awards a flat score when both entries are forks of the same
// parent. Entries that are not forks never match; parent/child relations do
// not count.
type forksFactor struct{ score float64 }

func (forksFactor) Name() string { return "forks" }

func (f forksFactor) Score(a, b *Profile) float64 {
	parent := a.Entry.ForkOf
	if parent == "" || parent != b.Entry.ForkOf {
		return 0
	}
	return f.score
}

type platformsFactor struct{ points float64 }

func (platformsFactor) Name() string { return "platforms" }

func (f platformsFactor) Score(a, b *Profile) float64 {
	return float64(overlap(a.Platforms, b.Platforms)) * f.points
}

type licensesFactor struct{ score float64 }

func (licensesFactor) Name() string { return "licenses" }

func (f licensesFactor) Score(a, b *Profile) float64 {
	if a.Entry.LicenseClass != b.Entry.LicenseClass {
		return 0
	}
	return f.score
}

type popularityFactor struct{ score float64 }

func (popularityFactor) Name() string { return "popularity" }

func (f popularityFactor) Score(a, b *Profile) float64 {
	if a.Tier != b.Tier {
		return 0
	}
	return f.score
}

type dependencyFactor struct{ score float64 }

func (dependencyFactor) Name() string { return "dependency" }

func (f dependencyFactor) Score(a, b *Profile) float64 {
	if a.Entry.DependsOn3rdParty != b.Entry.DependsOn3rdParty {
		return 0
	}
	return f.score
}

// overlap counts members common to both sets, iterating the smaller one.
func overlap[S ~map[string]struct{}](a, b S) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for v := range a {
		if _, ok := b[v]; ok {
			n++
		}
	}
	return n
}

func foldSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}
