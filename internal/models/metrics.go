package models

import "time"

// SchedulingMetricsSnapshot is a lightweight summary of engine activity since start-up.
type SchedulingMetricsSnapshot struct {
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	Transitions              map[string]uint64 `json:"transitions"`
	ConflictsDetected        uint64            `json:"conflicts_detected"`
	GridBuilds               uint64            `json:"grid_builds"`
	GridBuildsSuperseded     uint64            `json:"grid_builds_superseded"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
