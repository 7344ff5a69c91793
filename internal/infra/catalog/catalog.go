// Package catalog loads achievement definitions from YAML.
// The built-in catalog is embedded; a file on disk may replace it.
// Definitions are upserted into the store by code at startup.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nexus-app/nexus/internal/domain"
)

//go:embed default.yaml
var defaultYAML []byte

// File is the on-disk catalog layout.
type File struct {
	Version      int                            `yaml:"version"`
	Achievements []domain.AchievementDefinition `yaml:"achievements"`
}

// Default returns the embedded catalog.
func Default() ([]domain.AchievementDefinition, error) {
	return Parse(defaultYAML)
}

// Load reads the catalog at path. An empty path yields the embedded catalog.
func Load(path string) ([]domain.AchievementDefinition, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes and validates a catalog document. Unknown YAML fields are
// rejected; unknown requirement kinds are accepted and evaluate to zero.
func Parse(data []byte) ([]domain.AchievementDefinition, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := Validate(f.Achievements); err != nil {
		return nil, err
	}
	return f.Achievements, nil
}

// Validate checks codes are unique and every definition is awardable.
func Validate(defs []domain.AchievementDefinition) error {
	seen := make(map[string]bool, len(defs))
	var errs []error
	for i, d := range defs {
		code := strings.TrimSpace(d.Code)
		switch {
		case code == "":
			errs = append(errs, fmt.Errorf("achievement %d: code is required", i))
			continue
		case seen[code]:
			errs = append(errs, fmt.Errorf("achievement %s: duplicate code", code))
		}
		seen[code] = true
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("achievement %s: name is required", code))
		}
		if d.XPReward <= 0 || d.XPReward > domain.MaxXPAward {
			errs = append(errs, fmt.Errorf("achievement %s: xp_reward must be between 1 and %d", code, domain.MaxXPAward))
		}
		switch d.Requirement.Kind {
		case "":
			errs = append(errs, fmt.Errorf("achievement %s: requirement kind is required", code))
		case domain.RequireCount, domain.RequireStreak:
			if d.Target() <= 0 {
				errs = append(errs, fmt.Errorf("achievement %s: %s needs a positive target or a numeric code suffix", code, d.Requirement.Kind))
			}
		case domain.RequireTemporalCutoff:
			if d.Requirement.Cutoff.IsZero() {
				errs = append(errs, fmt.Errorf("achievement %s: temporal_cutoff needs a cutoff", code))
			}
		}
		if d.Requirement.Metric != "" {
			if _, ok := d.Requirement.Metric.Source(); !ok {
				errs = append(errs, fmt.Errorf("achievement %s: unknown metric %q", code, d.Requirement.Metric))
			}
		}
		if d.Requirement.StreakType != "" {
			if _, ok := d.Requirement.StreakType.ActivityKind(); !ok {
				errs = append(errs, fmt.Errorf("achievement %s: unknown streak type %q", code, d.Requirement.StreakType))
			}
		}
	}
	return errors.Join(errs...)
}

// Lookup finds a definition by code.
func Lookup(defs []domain.AchievementDefinition, code string) *domain.AchievementDefinition {
	for i := range defs {
		if defs[i].Code == code {
			return &defs[i]
		}
	}
	return nil
}

// Sync upserts defs into the store in one transaction.
func Sync(ctx context.Context, store domain.Store, defs []domain.AchievementDefinition) error {
	return store.Atomic(ctx, func(r domain.Repos) error {
		for _, d := range defs {
			if err := r.UpsertDefinition(ctx, d); err != nil {
				return fmt.Errorf("upsert %s: %w", d.Code, err)
			}
		}
		return nil
	})
}
