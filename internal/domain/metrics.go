package domain

import "time"

// SystemMetrics aggregates throughput and health over a rolling window.
type SystemMetrics struct {
	WindowSeconds     float64            `json:"window_seconds"`
	QueueDepth        map[string]int64   `json:"queue_depth"`
	TotalQueued       int64              `json:"total_queued"`
	Completed         int                `json:"completed"`
	Failed            int                `json:"failed"`
	Processed         int                `json:"processed"`
	SuccessRate       float64            `json:"success_rate"`
	Throughput        float64            `json:"throughput_per_second"`
	AvgProcessingTime float64            `json:"avg_processing_time"`
	ByType            map[string]int     `json:"by_type"`
	StatusCounts      map[string]int64   `json:"status_counts"`
	HealthyNodes      int                `json:"healthy_nodes"`
	TotalNodes        int                `json:"total_nodes"`
	NodeHealthRatio   float64            `json:"node_health_ratio"`
	Host              map[string]float64 `json:"host,omitempty"`
	GeneratedAt       time.Time          `json:"generated_at"`
}
