package store

import (
	"math"

	"github.com/HdrHistogram/hdrhistogram-go"

	"yqhp/test-runner/pkg/types"
)

// 直方图记录范围：1ms ~ 24h
const (
	histMinMs = 1
	histMaxMs = 24 * 60 * 60 * 1000
)

// ComputeStats 汇总一个项目的运行记录。
// 时长分位数只统计已结束的运行。
func ComputeStats(project string, runs []*types.Run) *types.ProjectStats {
	stats := &types.ProjectStats{Project: project}
	hist := hdrhistogram.New(histMinMs, histMaxMs, 3)

	var durationSum int64
	var finished int64
	for _, run := range runs {
		stats.TotalRuns++
		switch run.Status {
		case types.RunPassed:
			stats.PassedRuns++
		case types.RunFailed:
			stats.FailedRuns++
		case types.RunRunning, types.RunPending:
			stats.RunningRuns++
		}
		stats.AutoFixedCount += int64(run.AutoFixedCount)
		stats.RetryCount += int64(run.RetryCount)

		if stats.LastRunAt == nil || run.StartedAt.After(*stats.LastRunAt) {
			t := run.StartedAt
			stats.LastRunAt = &t
		}

		if !run.Status.Terminal() {
			continue
		}
		finished++
		durationSum += run.DurationMs
		_ = hist.RecordValue(clamp(run.DurationMs))
		if run.DurationMs > stats.MaxDurationMs {
			stats.MaxDurationMs = run.DurationMs
		}
	}

	if finished > 0 {
		stats.PassRate = math.Round(float64(stats.PassedRuns)/float64(finished)*10000) / 10000
		stats.AvgDurationMs = durationSum / finished
		stats.P50DurationMs = hist.ValueAtQuantile(50)
		stats.P95DurationMs = hist.ValueAtQuantile(95)
	}
	return stats
}

func clamp(ms int64) int64 {
	if ms < histMinMs {
		return histMinMs
	}
	if ms > histMaxMs {
		return histMaxMs
	}
	return ms
}
