package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestXPCounters(t *testing.T) {
	XPAwarded.WithLabelValues("direct").Add(50)
	LevelUps.Inc()
	XPReplays.Inc()

	names := gatheredNames(t)
	for _, want := range []string{
		"nexus_xp_awarded_total",
		"nexus_level_ups_total",
		"nexus_xp_replays_total",
	} {
		if !names[want] {
			t.Errorf("%s not found in gathered metrics", want)
		}
	}
	if got := testutil.ToFloat64(XPAwarded.WithLabelValues("direct")); got < 50 {
		t.Errorf("xp_awarded{direct} = %v, want >= 50", got)
	}
}

func TestAchievementAndStreakCounters(t *testing.T) {
	AchievementsAwarded.WithLabelValues("common").Inc()
	AchievementEvalErrors.WithLabelValues("count_threshold").Inc()
	AchievementCheckLatency.Observe(0.002)
	StreakRecomputes.WithLabelValues("journal").Inc()
	StreaksBroken.WithLabelValues("journal").Inc()
	ConflictRetries.WithLabelValues("award_xp").Inc()
	ActivitiesRecorded.WithLabelValues("journal_entry").Inc()

	names := gatheredNames(t)
	for _, want := range []string{
		"nexus_achievements_awarded_total",
		"nexus_achievement_eval_errors_total",
		"nexus_achievement_check_seconds",
		"nexus_streak_recomputes_total",
		"nexus_streaks_broken_total",
		"nexus_conflict_retries_total",
		"nexus_activities_recorded_total",
	} {
		if !names[want] {
			t.Errorf("%s not found in gathered metrics", want)
		}
	}
}

func TestHealthGauge(t *testing.T) {
	HealthCheckStatus.WithLabelValues("store").Set(1)
	HealthCheckStatus.WithLabelValues("catalog").Set(0)

	if got := testutil.ToFloat64(HealthCheckStatus.WithLabelValues("store")); got != 1 {
		t.Errorf("store health = %v, want 1", got)
	}
	if got := testutil.ToFloat64(HealthCheckStatus.WithLabelValues("catalog")); got != 0 {
		t.Errorf("catalog health = %v, want 0", got)
	}
}
