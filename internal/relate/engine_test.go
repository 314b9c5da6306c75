package relate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/phrase"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/ranker"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	apperrors "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/errors"
)

func allFactors() config.FactorsConfig {
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

func testRelateConfig() config.RelateConfig {
	return config.RelateConfig{
		MinScore:          3,
		RelatedCountLimit: 9,
		Tiebreakers:       []string{"popularity", "name"},
		Workers:           4,
		Phrases:           config.PhrasesConfig{MinPhraseLength: 10},
		Factors:           allFactors(),
	}
}

func scenarioConfig(minScore float64, f config.FactorsConfig) config.RelateConfig {
	return config.RelateConfig{
		MinScore:          minScore,
		RelatedCountLimit: 9,
		Tiebreakers:       []string{"popularity", "name"},
		Workers:           2,
		Phrases:           config.PhrasesConfig{MinPhraseLength: 10},
		Factors:           f,
	}
}

// richCorpus pairs entries so that every scoring factor contributes to at
// least one pair: shared description phrasing, categories, alternatives,
// platforms, a common fork parent, license classes, popularity tiers, and
// the third-party-dependency flag.
func richCorpus() []*catalog.Entry {
	return []*catalog.Entry{
		{
			ID:            "uptime-kuma",
			Name:          "Uptime Kuma",
			Description:   "Monitors servers and networks",
			Categories:    []string{"Monitoring"},
			Platforms:     []string{"Docker"},
			AlternativeTo: []string{"UptimeRobot"},
			LicenseClass:  catalog.LicenseFree,
			Stars:         50,
		},
		{
			ID:            "statping-ng",
			Name:          "Statping-ng",
			Description:   "Monitoring servers and networks",
			Categories:    []string{"Monitoring"},
			Platforms:     []string{"Docker"},
			AlternativeTo: []string{"UptimeRobot"},
			LicenseClass:  catalog.LicenseFree,
			Stars:         60,
		},
		{
			ID:           "wekan-snap",
			Name:         "Wekan Snap",
			Categories:   []string{"Task Management"},
			ForkOf:       "wekan",
			LicenseClass: catalog.LicenseFree,
			Stars:        500,
		},
		{
			ID:           "wekan-gantt",
			Name:         "Wekan Gantt",
			Categories:   []string{"Task Management"},
			ForkOf:       "wekan",
			LicenseClass: catalog.LicenseFree,
			Stars:        700,
		},
		{
			ID:                "focalboard",
			Name:              "Focalboard",
			Categories:        []string{"Task Management"},
			Platforms:         []string{"Linux"},
			AlternativeTo:     []string{"Trello"},
			LicenseClass:      catalog.LicenseFree,
			Stars:             15000,
			DependsOn3rdParty: true,
		},
		{
			ID:                "planka",
			Name:              "Planka",
			Categories:        []string{"Task Management"},
			Platforms:         []string{"Linux"},
			AlternativeTo:     []string{"Trello"},
			LicenseClass:      catalog.LicenseFree,
			Stars:             8000,
			DependsOn3rdParty: true,
		},
	}
}

func mustRun(t *testing.T, cfg config.RelateConfig, corpus []*catalog.Entry) *Run {
	t.Helper()
	run, err := NewEngine(cfg).Run(context.Background(), corpus)
	if err != nil {
		t.Fatalf("engine run: %v", err)
	}
	return run
}

func pairScores(run *Run) map[[2]string]float64 {
	pairs := make(map[[2]string]float64)
	for id, results := range run.Related {
		for _, r := range results {
			pairs[[2]string{id, r.ID}] = r.Score
		}
	}
	return pairs
}

func findResult(results []ranker.Result, id string) (ranker.Result, bool) {
	for _, r := range results {
		if r.ID == id {
			return r, true
		}
	}
	return ranker.Result{}, false
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := testRelateConfig()
	cfg.MinScore = 1

	first := mustRun(t, cfg, richCorpus())
	second := mustRun(t, cfg, richCorpus())

	firstJSON, err := json.Marshal(first.Related)
	if err != nil {
		t.Fatalf("marshal first run: %v", err)
	}
	secondJSON, err := json.Marshal(second.Related)
	if err != nil {
		t.Fatalf("marshal second run: %v", err)
	}
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Errorf("related mappings differ across identical runs:\n%s\nvs\n%s", firstJSON, secondJSON)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Errorf("fingerprints differ: %s vs %s", first.Fingerprint, second.Fingerprint)
	}
	if first.ID == second.ID {
		t.Errorf("distinct runs share id %s", first.ID)
	}
	if first.Entries != 6 {
		t.Errorf("Entries = %d, want 6", first.Entries)
	}
	if first.PairsScored != 30 {
		t.Errorf("PairsScored = %d, want 30", first.PairsScored)
	}
}

func TestRunMutualInclusionWithSymmetricScores(t *testing.T) {
	cfg := testRelateConfig()
	cfg.MinScore = 1

	// Six entries against a limit of nine: no list truncates, so every
	// qualifying pair must appear in both directions with the same score.
	run := mustRun(t, cfg, richCorpus())
	if len(run.Related) == 0 {
		t.Fatal("expected a non-empty related mapping")
	}
	for id, results := range run.Related {
		for _, r := range results {
			back, ok := findResult(run.Related[r.ID], id)
			if !ok {
				t.Fatalf("%s lists %s but not vice versa", id, r.ID)
			}
			if back.Score != r.Score {
				t.Errorf("asymmetric scores for (%s, %s): %v vs %v", id, r.ID, r.Score, back.Score)
			}
		}
	}
}

func TestRunThresholdAndCardinality(t *testing.T) {
	corpus := make([]*catalog.Entry, 0, 12)
	for i := 0; i < 12; i++ {
		corpus = append(corpus, &catalog.Entry{
			ID:           fmt.Sprintf("app-%02d", i),
			Name:         fmt.Sprintf("App %02d", i),
			Categories:   []string{"Automation", "Monitoring"},
			Platforms:    []string{"Docker"},
			LicenseClass: catalog.LicenseFree,
			Stars:        int64(i) * 137,
		})
	}

	cfg := testRelateConfig()
	cfg.RelatedCountLimit = 3
	run := mustRun(t, cfg, corpus)

	if len(run.Related) != len(corpus) {
		t.Fatalf("got %d related lists, want %d", len(run.Related), len(corpus))
	}
	for id, results := range run.Related {
		if len(results) > cfg.RelatedCountLimit {
			t.Errorf("%s has %d results, limit is %d", id, len(results), cfg.RelatedCountLimit)
		}
		for i, r := range results {
			if r.Score < cfg.MinScore {
				t.Errorf("%s lists %s with score %v below threshold %v", id, r.ID, r.Score, cfg.MinScore)
			}
			if i > 0 && results[i-1].Score < r.Score {
				t.Errorf("%s results not ordered by score: %v before %v", id, results[i-1].Score, r.Score)
			}
		}
	}
}

// countingExtractor wraps a real extractor and counts invocations.
type countingExtractor struct {
	inner Extractor
	calls atomic.Int64
}

func (c *countingExtractor) Extract(description string) phrase.Set {
	c.calls.Add(1)
	return c.inner.Extract(description)
}

func TestRunExtractsPhrasesOncePerEntry(t *testing.T) {
	cfg := testRelateConfig()
	corpus := []*catalog.Entry{
		{ID: "netdata", Name: "Netdata", Description: "Monitors servers and networks", LicenseClass: catalog.LicenseFree},
		{ID: "zabbix", Name: "Zabbix", Description: "Monitors servers and networks", LicenseClass: catalog.LicenseFree},
		{ID: "syncthing", Name: "Syncthing", Description: "Shares files with friends", LicenseClass: catalog.LicenseFree},
		{ID: "filebrowser", Name: "File Browser", LicenseClass: catalog.LicenseFree},
	}

	counting := &countingExtractor{inner: phrase.NewExtractor(cfg.Phrases)}
	eng := NewEngine(cfg, WithExtractor(counting))
	if _, err := eng.Run(context.Background(), corpus); err != nil {
		t.Fatalf("engine run: %v", err)
	}
	if got := counting.calls.Load(); got != int64(len(corpus)) {
		t.Errorf("extractor called %d times for %d entries, want one call per entry", got, len(corpus))
	}
}

func disableFactor(f *config.FactorsConfig, name string) {
	switch name {
	case "description":
		f.Description.Enabled = false
	case "categories":
		f.Categories.Enabled = false
	case "alternatives":
		f.Alternatives.Enabled = false
	case "forks":
		f.Forks.Enabled = false
	case "platforms":
		f.Platforms.Enabled = false
	case "licenses":
		f.Licenses.Enabled = false
	case "popularity":
		f.Popularity.Enabled = false
	case "dependency":
		f.Dependency.Enabled = false
	}
}

func TestRunFactorIndependence(t *testing.T) {
	corpus := richCorpus()
	baseCfg := testRelateConfig()
	baseCfg.MinScore = 1
	basePairs := pairScores(mustRun(t, baseCfg, corpus))

	names := []string{
		"description", "categories", "alternatives", "forks",
		"platforms", "licenses", "popularity", "dependency",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			cfg := testRelateConfig()
			cfg.MinScore = 1
			disableFactor(&cfg.Factors, name)

			pairs := pairScores(mustRun(t, cfg, corpus))
			changed := len(pairs) < len(basePairs)
			for pair, score := range pairs {
				baseScore, ok := basePairs[pair]
				if !ok {
					t.Fatalf("pair %v appeared after disabling %s", pair, name)
				}
				if score > baseScore+1e-9 {
					t.Errorf("pair %v rose from %v to %v with %s disabled", pair, baseScore, score, name)
				}
				if score < baseScore-1e-9 {
					changed = true
				}
			}
			if !changed {
				t.Errorf("disabling %s changed no pair score", name)
			}
		})
	}
}

func TestRunCategoryOverlapScenario(t *testing.T) {
	corpus := []*catalog.Entry{
		{ID: "bookstack", Name: "BookStack", Categories: []string{"Wikis", "Documentation"}, LicenseClass: catalog.LicenseFree},
		{ID: "dokuwiki", Name: "DokuWiki", Categories: []string{"wikis", "documentation"}, LicenseClass: catalog.LicenseFree},
		{ID: "mailu", Name: "Mailu", Categories: []string{"Email"}, LicenseClass: catalog.LicenseFree},
	}
	run := mustRun(t, scenarioConfig(3, config.FactorsConfig{
		Categories: config.OverlapFactorConfig{Enabled: true, PointsPerMatch: 4},
	}), corpus)

	if len(run.Related) != 2 {
		t.Fatalf("got %d related lists, want 2", len(run.Related))
	}
	for a, b := range map[string]string{"bookstack": "dokuwiki", "dokuwiki": "bookstack"} {
		results := run.Related[a]
		if len(results) != 1 || results[0].ID != b {
			t.Fatalf("related[%s] = %+v, want exactly %s", a, results, b)
		}
		if results[0].Score != 8 {
			t.Errorf("related[%s][0].Score = %v, want 8 (two shared categories)", a, results[0].Score)
		}
	}
	if _, ok := run.Related["mailu"]; ok {
		t.Error("mailu has no category overlap and should be omitted from the mapping")
	}
	if !run.Knows("mailu") {
		t.Error("run should still know mailu as a corpus member")
	}
	if run.Knows("paperless") {
		t.Error("run claims to know an entry outside the corpus")
	}
}

func TestRunBelowThresholdScenario(t *testing.T) {
	corpus := []*catalog.Entry{
		{ID: "jellyfin", Name: "Jellyfin", Platforms: []string{"Docker"}, LicenseClass: catalog.LicenseFree},
		{ID: "navidrome", Name: "Navidrome", Platforms: []string{"docker"}, LicenseClass: catalog.LicenseFree},
	}
	run := mustRun(t, scenarioConfig(3, config.FactorsConfig{
		Platforms: config.OverlapFactorConfig{Enabled: true, PointsPerMatch: 2},
	}), corpus)

	if len(run.Related) != 0 {
		t.Errorf("one shared platform scores 2, below threshold 3; got mapping %+v", run.Related)
	}
	if len(run.EntryIDs) != 2 {
		t.Errorf("EntryIDs = %v, want both corpus members", run.EntryIDs)
	}
}

func TestRunForkKinshipScenario(t *testing.T) {
	corpus := []*catalog.Entry{
		{ID: "wekan", Name: "Wekan", LicenseClass: catalog.LicenseFree},
		{ID: "wekan-snap", Name: "Wekan Snap", ForkOf: "wekan", LicenseClass: catalog.LicenseFree},
		{ID: "wekan-gantt", Name: "Wekan Gantt", ForkOf: "wekan", LicenseClass: catalog.LicenseFree},
	}
	run := mustRun(t, scenarioConfig(3, config.FactorsConfig{
		Forks: config.ForksFactorConfig{Enabled: true, SameParentScore: 8},
	}), corpus)

	for a, b := range map[string]string{"wekan-snap": "wekan-gantt", "wekan-gantt": "wekan-snap"} {
		results := run.Related[a]
		if len(results) != 1 || results[0].ID != b || results[0].Score != 8 {
			t.Errorf("related[%s] = %+v, want %s with score 8", a, results, b)
		}
	}
	// The parent is not its own fork: kinship binds siblings only.
	if _, ok := run.Related["wekan"]; ok {
		t.Error("fork parent should not be related to its forks by the fork factor")
	}
}

func TestRunTiebreakScenario(t *testing.T) {
	corpus := []*catalog.Entry{
		{ID: "dash-s", Name: "Source", LicenseClass: catalog.LicenseFree, Stars: 10},
		{ID: "dash-b", Name: "Alpha", LicenseClass: catalog.LicenseFree, Stars: 500},
		{ID: "dash-a", Name: "beta", LicenseClass: catalog.LicenseFree, Stars: 500},
		{ID: "dash-c", Name: "alpha", LicenseClass: catalog.LicenseFree, Stars: 100},
		{ID: "dash-d", Name: "delta", LicenseClass: catalog.LicenseFree, Stars: 100},
	}
	// Every pair scores the same 2 points, so ordering is decided purely by
	// the configured tiebreakers: stars descending, then name ascending.
	run := mustRun(t, scenarioConfig(1, config.FactorsConfig{
		Licenses: config.LicensesFactorConfig{Enabled: true, SameClassScore: 2},
	}), corpus)

	want := []string{"dash-b", "dash-a", "dash-c", "dash-d"}
	results := run.Related["dash-s"]
	if len(results) != len(want) {
		t.Fatalf("related[dash-s] has %d results, want %d", len(results), len(want))
	}
	for i, id := range want {
		if results[i].ID != id {
			t.Errorf("related[dash-s][%d] = %s, want %s", i, results[i].ID, id)
		}
		if results[i].Score != 2 {
			t.Errorf("related[dash-s][%d].Score = %v, want 2", i, results[i].Score)
		}
	}
}

func TestRunEmptyCorpus(t *testing.T) {
	eng := NewEngine(testRelateConfig())
	run, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty corpus should produce an empty run, got error: %v", err)
	}
	if run.Entries != 0 || len(run.Related) != 0 || len(run.EntryIDs) != 0 {
		t.Errorf("empty corpus produced non-empty run: %+v", run)
	}
	if run.PairsScored != 0 {
		t.Errorf("PairsScored = %d, want 0", run.PairsScored)
	}
	if run.Fingerprint == "" {
		t.Error("empty run still needs a fingerprint")
	}
	if eng.State() != StateDone {
		t.Errorf("state = %v after empty run, want %v", eng.State(), StateDone)
	}
}

func TestRunAllFactorsDisabled(t *testing.T) {
	run := mustRun(t, scenarioConfig(3, config.FactorsConfig{}), richCorpus())
	if len(run.Related) != 0 {
		t.Errorf("no enabled factors should yield an empty mapping, got %+v", run.Related)
	}
	if len(run.EntryIDs) != 6 {
		t.Errorf("EntryIDs = %v, want all six corpus members", run.EntryIDs)
	}
}

func TestRunRejectsInvalidCorpus(t *testing.T) {
	tests := []struct {
		name    string
		corpus  []*catalog.Entry
		wantErr error
	}{
		{
			name: "duplicate id",
			corpus: []*catalog.Entry{
				{ID: "gitea", Name: "Gitea"},
				{ID: "gitea", Name: "Gitea Mirror"},
			},
			wantErr: apperrors.ErrDuplicateEntry,
		},
		{
			name:    "missing id",
			corpus:  []*catalog.Entry{{Name: "Anonymous"}},
			wantErr: apperrors.ErrInvalidEntry,
		},
		{
			name:    "nil entry",
			corpus:  []*catalog.Entry{nil},
			wantErr: apperrors.ErrInvalidEntry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := NewEngine(testRelateConfig())
			run, err := eng.Run(context.Background(), tt.corpus)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if run != nil {
				t.Errorf("failed run returned partial output: %+v", run)
			}
			if eng.State() != StateIdle {
				t.Errorf("state = %v after failed run, want %v", eng.State(), StateIdle)
			}
		})
	}
}

// blockingExtractor parks the first run inside the profile pre-pass so a
// test can observe engine behavior while a run is in flight.
type blockingExtractor struct {
	inner   Extractor
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingExtractor) Extract(description string) phrase.Set {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.inner.Extract(description)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	cfg := testRelateConfig()
	blocking := &blockingExtractor{
		inner:   phrase.NewExtractor(cfg.Phrases),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	eng := NewEngine(cfg, WithExtractor(blocking))
	corpus := richCorpus()

	type outcome struct {
		run *Run
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		run, err := eng.Run(context.Background(), corpus)
		done <- outcome{run, err}
	}()

	<-blocking.started
	if _, err := eng.Run(context.Background(), corpus); !errors.Is(err, apperrors.ErrRunInProgress) {
		t.Errorf("concurrent run err = %v, want %v", err, apperrors.ErrRunInProgress)
	}

	close(blocking.release)
	first := <-done
	if first.err != nil {
		t.Fatalf("blocked run failed: %v", first.err)
	}
	if first.run == nil || len(first.run.Related) == 0 {
		t.Error("blocked run should still complete with a full mapping")
	}
	if eng.State() != StateDone {
		t.Errorf("state = %v after release, want %v", eng.State(), StateDone)
	}

	// The guard releases once the first run finishes.
	if _, err := eng.Run(context.Background(), corpus); err != nil {
		t.Errorf("follow-up run err = %v, want success", err)
	}
}

func TestEngineStateLifecycle(t *testing.T) {
	eng := NewEngine(testRelateConfig())
	if eng.State() != StateIdle {
		t.Fatalf("new engine state = %v, want %v", eng.State(), StateIdle)
	}
	if _, err := eng.Run(context.Background(), richCorpus()); err != nil {
		t.Fatalf("engine run: %v", err)
	}
	if eng.State() != StateDone {
		t.Errorf("state = %v after run, want %v", eng.State(), StateDone)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StatePhrasesBuilt, "phrases_built"},
		{StateScoring, "scoring"},
		{StateDone, "done"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
