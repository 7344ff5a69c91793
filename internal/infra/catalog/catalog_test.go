package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/memory"
)

func TestDefault_Valid(t *testing.T) {
	defs, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if len(defs) < 10 {
		t.Fatalf("expected at least 10 definitions, got %d", len(defs))
	}
	if err := Validate(defs); err != nil {
		t.Errorf("Validate(default) error: %v", err)
	}
}

func TestDefault_KnownEntries(t *testing.T) {
	defs, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}

	tests := []struct {
		code string
		kind domain.RequirementKind
	}{
		{"first_journal", domain.RequireExistence},
		{"journal_10", domain.RequireCount},
		{"habit_streak_7", domain.RequireStreak},
		{"early_adopter", domain.RequireTemporalCutoff},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			d := Lookup(defs, tt.code)
			if d == nil {
				t.Fatalf("Lookup(%q) = nil", tt.code)
			}
			if d.Requirement.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", d.Requirement.Kind, tt.kind)
			}
			if d.XPReward <= 0 {
				t.Errorf("xp_reward = %d, want > 0", d.XPReward)
			}
		})
	}
}

func TestDefault_CutoffDecoded(t *testing.T) {
	defs, _ := Default()
	d := Lookup(defs, "early_adopter")
	if d == nil {
		t.Fatal("early_adopter missing")
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !d.Requirement.Cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", d.Requirement.Cutoff, want)
	}
	if !d.IsSecret {
		t.Error("early_adopter should be secret")
	}
}

func TestLookup_Missing(t *testing.T) {
	defs, _ := Default()
	if Lookup(defs, "nonexistent") != nil {
		t.Error("expected nil for unknown code")
	}
}

func TestParse_RejectsUnknownField(t *testing.T) {
	doc := `
achievements:
  - code: x_1
    name: X
    xp_reward: 10
    colour: blue
    requirement: {kind: existence, metric: dreams}
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		defs []domain.AchievementDefinition
		want string
	}{
		{
			name: "missing code",
			defs: []domain.AchievementDefinition{{Name: "a", XPReward: 1, Requirement: domain.Requirement{Kind: "existence"}}},
			want: "code is required",
		},
		{
			name: "duplicate",
			defs: []domain.AchievementDefinition{
				{Code: "a", Name: "a", XPReward: 1, Requirement: domain.Requirement{Kind: "existence"}},
				{Code: "a", Name: "a", XPReward: 1, Requirement: domain.Requirement{Kind: "existence"}},
			},
			want: "duplicate code",
		},
		{
			name: "zero reward",
			defs: []domain.AchievementDefinition{{Code: "a", Name: "a", Requirement: domain.Requirement{Kind: "existence"}}},
			want: "xp_reward must be between 1",
		},
		{
			name: "reward above award limit",
			defs: []domain.AchievementDefinition{{Code: "a", Name: "a", XPReward: domain.MaxXPAward + 1, Requirement: domain.Requirement{Kind: "existence"}}},
			want: "xp_reward must be between 1",
		},
		{
			name: "streak without target",
			defs: []domain.AchievementDefinition{{Code: "streak_bad", Name: "a", XPReward: 5, Requirement: domain.Requirement{Kind: "streak_threshold", StreakType: "journal"}}},
			want: "needs a positive target",
		},
		{
			name: "count without target",
			defs: []domain.AchievementDefinition{{Code: "many_dreams", Name: "a", XPReward: 5, Requirement: domain.Requirement{Kind: "count_threshold", Metric: "dreams"}}},
			want: "needs a positive target",
		},
		{
			name: "cutoff missing",
			defs: []domain.AchievementDefinition{{Code: "pioneer", Name: "a", XPReward: 5, Requirement: domain.Requirement{Kind: "temporal_cutoff"}}},
			want: "needs a cutoff",
		},
		{
			name: "bad metric",
			defs: []domain.AchievementDefinition{{Code: "a", Name: "a", XPReward: 5, Requirement: domain.Requirement{Kind: "count_threshold", Metric: "tweets"}}},
			want: "unknown metric",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.defs)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidate_TargetFromCodeSuffix(t *testing.T) {
	defs := []domain.AchievementDefinition{
		{Code: "journal_streak_7", Name: "Week", XPReward: 5, Requirement: domain.Requirement{Kind: "streak_threshold", StreakType: "journal"}},
		{Code: "dreams_many", Name: "Dreamer", XPReward: 5, Requirement: domain.Requirement{Kind: "count_threshold", Metric: "dreams", Target: 12}},
	}
	if err := Validate(defs); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestParse_RejectsStreakWithoutTarget(t *testing.T) {
	doc := `
achievements:
  - code: streak_bad
    name: Broken
    xp_reward: 10
    requirement: {kind: streak_threshold, streak_type: journal}
`
	if _, err := Parse([]byte(doc)); err == nil || !strings.Contains(err.Error(), "streak_bad") {
		t.Fatalf("Parse() error = %v, want rejection of streak_bad", err)
	}
}

func TestValidate_UnknownKindAllowed(t *testing.T) {
	defs := []domain.AchievementDefinition{
		{Code: "future", Name: "Future", XPReward: 5, Requirement: domain.Requirement{Kind: "social_share"}},
	}
	if err := Validate(defs); err != nil {
		t.Errorf("unknown kinds should load, got %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "achievements.yaml")
	doc := `version: 1
achievements:
  - code: dreams_3
    name: Night Owl
    xp_reward: 60
    requirement:
      kind: count_threshold
      metric: dreams
`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(defs) != 1 || defs[0].Code != "dreams_3" {
		t.Fatalf("unexpected defs: %+v", defs)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSync_Upserts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defs, _ := Default()

	if err := Sync(ctx, store, defs); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	// Second sync must not duplicate.
	if err := Sync(ctx, store, defs); err != nil {
		t.Fatalf("Sync() again error: %v", err)
	}

	var got []domain.AchievementDefinition
	err := store.View(ctx, func(r domain.Repos) error {
		var err error
		got, err = r.ListDefinitions(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("ListDefinitions: %v", err)
	}
	if len(got) != len(defs) {
		t.Errorf("expected %d definitions, got %d", len(defs), len(got))
	}
}
