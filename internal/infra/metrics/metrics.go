// Package metrics provides Prometheus metrics for Nexus.
// Counters, gauges and histograms for XP, levels, achievements, streaks,
// store contention, HTTP and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── XP & Levels ────────────────────────────────────────────────────────────

// XPAwarded tracks total XP granted, by source.
var XPAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "xp_awarded_total",
	Help:      "Total XP granted to users.",
}, []string{"source"})

// LevelUps tracks awards that raised a user's level.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "level_ups_total",
	Help:      "XP awards that raised a level.",
})

// XPReplays tracks awards short-circuited by an idempotency key.
var XPReplays = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "xp_replays_total",
	Help:      "XP awards skipped because the idempotency key was already used.",
})

// ─── Achievements ───────────────────────────────────────────────────────────

// AchievementsAwarded tracks earned achievements by rarity.
var AchievementsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "achievements_awarded_total",
	Help:      "Total achievements earned.",
}, []string{"rarity"})

// AchievementEvalErrors tracks definitions that failed to evaluate.
var AchievementEvalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "achievement_eval_errors_total",
	Help:      "Achievement definitions that failed evaluation.",
}, []string{"kind"})

// AchievementCheckLatency tracks a full check pass for one user.
var AchievementCheckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "nexus",
	Name:      "achievement_check_seconds",
	Help:      "Duration of one achievement check pass.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
})

// ─── Streaks ────────────────────────────────────────────────────────────────

// StreakRecomputes tracks streak recomputations by type.
var StreakRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "streak_recomputes_total",
	Help:      "Total streak recomputations.",
}, []string{"type"})

// StreaksBroken tracks streaks that went from active to inactive.
var StreaksBroken = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "streaks_broken_total",
	Help:      "Streaks that became inactive.",
}, []string{"type"})

// ─── Store ──────────────────────────────────────────────────────────────────

// ConflictRetries tracks optimistic-concurrency retries by operation.
var ConflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "conflict_retries_total",
	Help:      "Transactions retried after a version conflict.",
}, []string{"op"})

// ─── Activity ───────────────────────────────────────────────────────────────

// ActivitiesRecorded tracks activity events fed into the engines.
var ActivitiesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "activities_recorded_total",
	Help:      "Activity events recorded.",
}, []string{"kind"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPLatency tracks API request duration.
var HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "nexus",
	Name:      "http_request_seconds",
	Help:      "HTTP request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "status"})

// RateLimited tracks requests rejected by the per-client limiter.
var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "nexus",
	Name:      "http_rate_limited_total",
	Help:      "Requests rejected with 429.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "nexus",
	Name:      "health_check_status",
	Help:      "Health check result (1=healthy, 0=unhealthy).",
}, []string{"check"})

// SweepDuration tracks the daily inactive-streak sweep.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "nexus",
	Name:      "streak_sweep_seconds",
	Help:      "Duration of the inactive-streak sweep.",
	Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
})
