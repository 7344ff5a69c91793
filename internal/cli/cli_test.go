package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-app/nexus/internal/app/engagement"
)

// setup isolates NEXUS_HOME so every test gets its own SQLite file.
func setup(t *testing.T) {
	t.Helper()
	t.Setenv("NEXUS_HOME", t.TempDir())
	t.Setenv("NEXUS_STORE", "")
	t.Setenv("DATABASE_URL", "")
	t.Chdir(t.TempDir())
}

// run executes the root command with args and returns its stdout.
// Flag globals survive between Execute calls, so they are reset first.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose, statusJSON, recomputeAll, catalogSecrets, configForce = false, false, false, false, false
	awardReason, awardKey = "manual", ""
	logTarget, logStatus, logAt, trackID = "", "completed", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "nexus %v: %s", args, out)
	return out
}

func TestLogThenStatus(t *testing.T) {
	setup(t)

	out := mustRun(t, "log", "u1", "journal_entry")
	assert.Contains(t, out, "logged")
	assert.Contains(t, out, "first_journal")

	var st engagement.Status
	out = mustRun(t, "status", "u1", "--json")
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	assert.Equal(t, "u1", st.UserID)
	assert.Equal(t, 1, st.Earned)
	require.Len(t, st.Streaks, 1)
	assert.Equal(t, 1, st.Streaks[0].CurrentStreak)

	out = mustRun(t, "status", "u1")
	assert.Contains(t, out, "Level")
	assert.Contains(t, out, "journal")
}

func TestLog_Errors(t *testing.T) {
	setup(t)
	_, err := run(t, "log", "u1", "workout")
	assert.Error(t, err)

	_, err = run(t, "log", "u1", "journal_entry", "--at", "yesterday")
	assert.ErrorContains(t, err, "--at")
}

func TestAward_IdempotentKey(t *testing.T) {
	setup(t)

	out := mustRun(t, "award", "u1", "220", "--key", "welcome")
	assert.Contains(t, out, "+220 XP")
	assert.Contains(t, out, "level 3")
	assert.Contains(t, out, "LEVEL UP")

	out = mustRun(t, "award", "u1", "220", "--key", "welcome")
	assert.Contains(t, out, "already awarded")

	_, err := run(t, "award", "u1", "lots")
	assert.ErrorContains(t, err, "not a number")
	_, err = run(t, "award", "u1", "-5")
	assert.Error(t, err)
}

func TestCheckAndGrant(t *testing.T) {
	setup(t)
	mustRun(t, "track", "u1", "habit")

	out := mustRun(t, "check", "u1")
	assert.Contains(t, out, "no new achievements")

	out = mustRun(t, "grant", "u1", "first_dream")
	assert.Contains(t, out, "granted")
	out = mustRun(t, "grant", "u1", "first_dream")
	assert.Contains(t, out, "already has")
}

func TestStreaksRecompute(t *testing.T) {
	setup(t)
	mustRun(t, "log", "u1", "mood_entry")
	mustRun(t, "log", "u2", "habit_completion", "--target", "h1")

	_, err := run(t, "streaks", "recompute")
	assert.Error(t, err)
	_, err = run(t, "streaks", "recompute", "u1", "--all")
	assert.Error(t, err)

	assert.Contains(t, mustRun(t, "streaks", "recompute", "u1"), "recomputed u1")
	assert.Contains(t, mustRun(t, "streaks", "recompute", "--all"), "2 user(s)")
	assert.Contains(t, mustRun(t, "streaks", "sweep"), "0 streak(s) broken")
}

func TestFixLevels(t *testing.T) {
	setup(t)
	mustRun(t, "award", "u1", "50")
	assert.Contains(t, mustRun(t, "fix", "levels"), "all levels consistent")
}

func TestCatalogList(t *testing.T) {
	setup(t)
	out := mustRun(t, "catalog", "list")
	assert.Contains(t, out, "first_journal")
	assert.NotContains(t, out, "early_adopter")

	out = mustRun(t, "catalog", "list", "--secrets")
	assert.Contains(t, out, "early_adopter")
}

func TestConfigInit(t *testing.T) {
	setup(t)
	assert.Contains(t, mustRun(t, "config", "init"), "config.toml")

	_, err := run(t, "config", "init")
	assert.ErrorContains(t, err, "exists")

	mustRun(t, "config", "init", "--force")
	assert.Contains(t, mustRun(t, "config", "show"), "[streaks]")
}

func TestParseWhen(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2025-07-01", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), false},
		{"2025-07-01T09:30:00Z", time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC), false},
		{"July 1st", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWhen(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v", got)
		})
	}
}

func TestXPBar(t *testing.T) {
	assert.Equal(t, barWidth/2, strings.Count(xpBar(50), "█"))
	assert.Equal(t, xpBar(100), xpBar(250))
	assert.Equal(t, xpBar(0), xpBar(-3))
}
