package factors

import (
	"math"
	"testing"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/phrase"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
)

func newProfile(e *catalog.Entry, phrases ...string) *Profile {
	set := make(phrase.Set, len(phrases))
	for _, p := range phrases {
		set[p] = struct{}{}
	}
	return NewProfile(e, set)
}

func allEnabled() config.FactorsConfig {
	return config.FactorsConfig{
		Description:  config.DescriptionFactorConfig{Enabled: true, MaxScore: 25},
		Categories:   config.OverlapFactorConfig{Enabled: true, PointsPerMatch: 4},
		Alternatives: config.OverlapFactorConfig{Enabled: true, PointsPerMatch: 6},
		Forks:        config.ForksFactorConfig{Enabled: true, SameParentScore: 8},
		Platforms:    config.OverlapFactorConfig{Enabled: true, PointsPerMatch: 2},
		Licenses:     config.LicensesFactorConfig{Enabled: true, SameClassScore: 2},
		Popularity:   config.PopularityFactorConfig{Enabled: true, SameTierScore: 2},
		Dependency:   config.DependencyFactorConfig{Enabled: true, SameStatusScore: 1},
	}
}

func TestBuildSkipsDisabledFactors(t *testing.T) {
	cfg := allEnabled()
	if got := len(Build(cfg)); got != 8 {
		t.Fatalf("Build with all enabled = %d factors, want 8", got)
	}

	cfg.Description.Enabled = false
	cfg.Forks.Enabled = false
	fs := Build(cfg)
	if len(fs) != 6 {
		t.Fatalf("Build = %d factors, want 6", len(fs))
	}
	for _, f := range fs {
		if f.Name() == "description" || f.Name() == "forks" {
			t.Errorf("disabled factor %q was built", f.Name())
		}
	}
}

func TestDescriptionFactorOverlapCoefficient(t *testing.T) {
	f := descriptionFactor{max: 25}
	a := newProfile(&catalog.Entry{ID: "a"}, "media server", "stream music")
	b := newProfile(&catalog.Entry{ID: "b"}, "media server", "photo library", "tag editor", "share album")

	// One shared phrase over the smaller set of two.
	want := 0.5 * 25
	if got := f.Score(a, b); got != want {
		t.Errorf("Score = %v, want %v", got, want)
	}
	if f.Score(a, b) != f.Score(b, a) {
		t.Error("description score is not symmetric")
	}

	empty := newProfile(&catalog.Entry{ID: "c"})
	if got := f.Score(a, empty); got != 0 {
		t.Errorf("empty phrase set: Score = %v, want 0", got)
	}
	if got := f.Score(empty, empty); got != 0 {
		t.Errorf("two empty sets: Score = %v, want 0", got)
	}
}

func TestDescriptionFactorIdenticalSets(t *testing.T) {
	f := descriptionFactor{max: 25}
	a := newProfile(&catalog.Entry{ID: "a"}, "media server", "stream music")
	b := newProfile(&catalog.Entry{ID: "b"}, "media server", "stream music")
	if got := f.Score(a, b); got != 25 {
		t.Errorf("identical sets: Score = %v, want full max 25", got)
	}
}

func TestOverlapFactorsCountMatches(t *testing.T) {
	a := newProfile(&catalog.Entry{
		ID:            "a",
		Categories:    []string{"Wiki", "CMS"},
		Platforms:     []string{"Docker", "PHP"},
		AlternativeTo: []string{"Confluence", "Notion"},
	})
	b := newProfile(&catalog.Entry{
		ID:            "b",
		Categories:    []string{"wiki", "cms", "Automation"},
		Platforms:     []string{"docker"},
		AlternativeTo: []string{"notion"},
	})

	if got := (categoriesFactor{points: 4}).Score(a, b); got != 8 {
		t.Errorf("categories = %v, want 8 (2 shared, case-insensitive)", got)
	}
	if got := (platformsFactor{points: 2}).Score(a, b); got != 2 {
		t.Errorf("platforms = %v, want 2", got)
	}
	if got := (alternativesFactor{points: 6}).Score(a, b); got != 6 {
		t.Errorf("alternatives = %v, want 6", got)
	}
}

func TestForksFactorStrictEquality(t *testing.T) {
	f := forksFactor{score: 8}

	tests := []struct {
		name         string
		parentA, idB string
		parentB      string
		want         float64
	}{
		{"same parent", "gogs", "b", "gogs", 8},
		{"different parents", "gogs", "b", "gitlab", 0},
		{"neither is a fork", "", "b", "", 0},
		{"one is the parent of the other", "gogs", "gogs", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newProfile(&catalog.Entry{ID: "a", ForkOf: tt.parentA})
			b := newProfile(&catalog.Entry{ID: tt.idB, ForkOf: tt.parentB})
			if got := f.Score(a, b); got != tt.want {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
			if f.Score(a, b) != f.Score(b, a) {
				t.Error("fork score is not symmetric")
			}
		})
	}
}

func TestLicensesFactorClassMatch(t *testing.T) {
	f := licensesFactor{score: 2}
	free := newProfile(&catalog.Entry{ID: "a", LicenseClass: catalog.LicenseFree})
	alsoFree := newProfile(&catalog.Entry{ID: "b", LicenseClass: catalog.LicenseFree})
	nonFree := newProfile(&catalog.Entry{ID: "c", LicenseClass: catalog.LicenseNonFree})

	if got := f.Score(free, alsoFree); got != 2 {
		t.Errorf("matching class = %v, want 2", got)
	}
	if got := f.Score(free, nonFree); got != 0 {
		t.Errorf("mismatched class = %v, want 0", got)
	}
}

func TestPopularityTierBoundaries(t *testing.T) {
	tests := []struct {
		stars int64
		want  int
	}{
		{0, 0}, {9, 0},
		{10, 1}, {99, 1},
		{100, 2}, {999, 2},
		{1_000, 3}, {9_999, 3},
		{10_000, 4}, {99_999, 4},
		{100_000, 5}, {5_000_000, 5},
	}
	for _, tt := range tests {
		if got := PopularityTier(tt.stars); got != tt.want {
			t.Errorf("PopularityTier(%d) = %d, want %d", tt.stars, got, tt.want)
		}
	}
}

func TestPopularityFactorSameTier(t *testing.T) {
	f := popularityFactor{score: 2}
	a := newProfile(&catalog.Entry{ID: "a", Stars: 150})
	b := newProfile(&catalog.Entry{ID: "b", Stars: 900})
	c := newProfile(&catalog.Entry{ID: "c", Stars: 5})

	if got := f.Score(a, b); got != 2 {
		t.Errorf("same tier = %v, want 2", got)
	}
	if got := f.Score(a, c); got != 0 {
		t.Errorf("different tier = %v, want 0", got)
	}
}

func TestDependencyFactorSameStatus(t *testing.T) {
	f := dependencyFactor{score: 1}
	yes := newProfile(&catalog.Entry{ID: "a", DependsOn3rdParty: true})
	alsoYes := newProfile(&catalog.Entry{ID: "b", DependsOn3rdParty: true})
	no := newProfile(&catalog.Entry{ID: "c"})

	if got := f.Score(yes, alsoYes); got != 1 {
		t.Errorf("same status = %v, want 1", got)
	}
	if got := f.Score(yes, no); got != 0 {
		t.Errorf("different status = %v, want 0", got)
	}
}

func TestAllFactorsSymmetric(t *testing.T) {
	a := newProfile(&catalog.Entry{
		ID: "a", Categories: []string{"Wiki"}, Platforms: []string{"Docker", "K8S"},
		AlternativeTo: []string{"Notion"}, ForkOf: "base", Stars: 50,
		LicenseClass: catalog.LicenseFree, DependsOn3rdParty: true,
	}, "knowledge base", "markdown editor")
	b := newProfile(&catalog.Entry{
		ID: "b", Categories: []string{"Wiki", "Docs"}, Platforms: []string{"Docker"},
		AlternativeTo: []string{"Notion", "Confluence"}, ForkOf: "base", Stars: 80,
		LicenseClass: catalog.LicenseFree,
	}, "markdown editor")

	for _, f := range Build(allEnabled()) {
		ab, ba := f.Score(a, b), f.Score(b, a)
		if math.Abs(ab-ba) > 1e-12 {
			t.Errorf("%s: score(a,b)=%v != score(b,a)=%v", f.Name(), ab, ba)
		}
	}
}
