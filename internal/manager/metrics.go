package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

const defaultMetricsWindow = 5 * time.Minute

// SystemMetrics aggregates the last metrics window: queue depth per tier,
// outcome counts, throughput, average processing time and node health.
func (m *Manager) SystemMetrics(ctx context.Context) (domain.SystemMetrics, error) {
	window := m.cfg.Processor.MetricsWindow
	if window <= 0 {
		window = defaultMetricsWindow
	}
	now := m.now()

	sizes, err := m.queue.SizeByPriority(ctx, m.cfg.Queue.Name)
	if err != nil {
		return domain.SystemMetrics{}, fmt.Errorf("queue depth: %w", err)
	}
	outcomes, err := m.store.RecentOutcomes(ctx, now.Add(-window))
	if err != nil {
		return domain.SystemMetrics{}, fmt.Errorf("recent outcomes: %w", err)
	}
	counts, err := m.store.CountByStatus(ctx, now.Add(-window))
	if err != nil {
		return domain.SystemMetrics{}, fmt.Errorf("status counts: %w", err)
	}

	out := domain.SystemMetrics{
		WindowSeconds: window.Seconds(),
		QueueDepth:    make(map[string]int64, len(sizes)),
		ByType:        make(map[string]int),
		StatusCounts:  make(map[string]int64, len(counts)),
		GeneratedAt:   now.UTC(),
	}
	for p, n := range sizes {
		out.QueueDepth[p.String()] = n
		out.TotalQueued += n
	}

	for st, n := range counts {
		out.StatusCounts[string(st)] = n
	}

	var totalTime float64
	for _, o := range outcomes {
		switch o.Status {
		case domain.StatusCompleted:
			out.Completed++
		case domain.StatusFailed:
			out.Failed++
		default:
			continue
		}
		out.ByType[string(o.Type)]++
		totalTime += o.ProcessingTime
	}
	out.Processed = out.Completed + out.Failed
	if out.Processed > 0 {
		out.SuccessRate = float64(out.Completed) / float64(out.Processed)
		out.AvgProcessingTime = totalTime / float64(out.Processed)
	}
	out.Throughput = float64(out.Processed) / window.Seconds()

	out.HealthyNodes, out.TotalNodes = m.balancer.HealthSummary()
	if out.TotalNodes > 0 {
		out.NodeHealthRatio = float64(out.HealthyNodes) / float64(out.TotalNodes)
	}

	if m.hostStats != nil {
		out.Host = m.hostStats(ctx)
	}
	return out, nil
}

// hostStats samples host CPU and memory usage. Unavailable readings are left
// out.
func hostStats(ctx context.Context) map[string]float64 {
	stats := make(map[string]float64, 2)
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["memory_percent"] = vm.UsedPercent
	}
	return stats
}
