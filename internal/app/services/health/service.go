package health

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/peertrack/peertrack/internal/app/storage"
	"github.com/peertrack/peertrack/pkg/logger"
)

// DefaultErrorRateThreshold marks the collector degraded once half of the
// recent tasks have failed.
const DefaultErrorRateThreshold = 0.5

// ErrorRater reports the recent collection failure fraction. Implemented by
// the task runner.
type ErrorRater interface {
	ErrorRate() float64
}

// Report is the health endpoint payload.
type Report struct {
	Status                   string         `json:"status"`
	Issues                   []string       `json:"issues,omitempty"`
	ActivePairs              int            `json:"active_pairs"`
	LastCollectionMinutesAgo *float64       `json:"last_collection_minutes_ago"`
	CollectionErrorRate      float64        `json:"collection_error_rate"`
	CheckedAt                time.Time      `json:"checked_at"`
	Details                  map[string]any `json:"details,omitempty"`
}

// Service evaluates collection liveness. Staleness is judged against twice
// the shortest active collection interval: if the most aggressive pair has
// not been collected in two of its own cycles, something is wrong upstream
// of any single pair.
type Service struct {
	pairs     storage.PairStore
	snapshots storage.SnapshotStore
	rater     ErrorRater
	threshold float64
	log       *logger.Logger
}

// New builds the monitor. A zero threshold takes the default.
func New(pairs storage.PairStore, snapshots storage.SnapshotStore, rater ErrorRater, threshold float64, log *logger.Logger) *Service {
	if threshold <= 0 {
		threshold = DefaultErrorRateThreshold
	}
	if log == nil {
		log = logger.NewDefault("health")
	}
	return &Service{pairs: pairs, snapshots: snapshots, rater: rater, threshold: threshold, log: log}
}

// Status computes the current report.
func (s *Service) Status(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{
		Status:    "ok",
		CheckedAt: now,
	}

	active, err := s.pairs.ListPairs(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active pairs: %w", err)
	}
	report.ActivePairs = len(active)

	latest, err := s.snapshots.LatestCollectionTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest collection times: %w", err)
	}

	var newest time.Time
	for _, pair := range active {
		for _, at := range latest[pair.ID] {
			if at.After(newest) {
				newest = at
			}
		}
	}
	if !newest.IsZero() {
		ago := now.Sub(newest).Minutes()
		report.LastCollectionMinutesAgo = &ago
	}

	if len(active) > 0 {
		minInterval := active[0].CollectionIntervalMinutes
		for _, pair := range active[1:] {
			if pair.CollectionIntervalMinutes < minInterval {
				minInterval = pair.CollectionIntervalMinutes
			}
		}
		maxAge := 2 * time.Duration(minInterval) * time.Minute
		switch {
		case newest.IsZero():
			report.Issues = append(report.Issues, "no snapshots collected yet")
		case now.Sub(newest) > maxAge:
			report.Issues = append(report.Issues,
				fmt.Sprintf("last collection %.1f minutes ago, limit %.0f", now.Sub(newest).Minutes(), maxAge.Minutes()))
		}
	}

	if s.rater != nil {
		rate := s.rater.ErrorRate()
		report.CollectionErrorRate = rate
		if rate >= s.threshold {
			report.Issues = append(report.Issues,
				fmt.Sprintf("collection error rate %.0f%% exceeds %.0f%%", rate*100, s.threshold*100))
		}
	}

	if len(report.Issues) > 0 {
		report.Status = "degraded"
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		report.Details = map[string]any{
			"memory_used_percent": vm.UsedPercent,
			"memory_total_bytes":  vm.Total,
		}
	}
	return report, nil
}
