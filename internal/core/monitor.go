package core

// monitor.go refreshes job and queue gauges in the background.
//
// Job counts live in the store, so the gauges are refreshed on a timer
// rather than on every transition. The monitor is long-running and stops
// when its context is cancelled; a failed refresh is logged and retried on
// the next tick.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/laptiming/internal/metrics"
)

// DefaultMonitorInterval is used when MonitorConfig.Interval is zero.
const DefaultMonitorInterval = 30 * time.Second

// MonitorConfig holds settings for StartMonitor.
type MonitorConfig struct {
	Interval time.Duration // How often to refresh (default: 30s)
	Metrics  *metrics.Manager
}

// StartMonitor refreshes the job-state and queue gauges immediately and then
// every Interval until ctx is cancelled. Run it in its own goroutine.
func (s *Service) StartMonitor(ctx context.Context, cfg MonitorConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorInterval
	}
	slog.Info("job monitor started", "interval", cfg.Interval)

	s.refreshGauges(ctx, cfg.Metrics)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job monitor stopped")
			return
		case <-ticker.C:
			s.refreshGauges(ctx, cfg.Metrics)
		}
	}
}

// refreshGauges performs one refresh.
func (s *Service) refreshGauges(ctx context.Context, m *metrics.Manager) {
	start := time.Now()

	counts, err := s.jobs.Counts(ctx)
	if err != nil {
		slog.Error("job count refresh failed", "error", err)
	} else {
		m.SetJobsByState(counts)
	}

	st := s.pool.Status()
	m.SetQueue(st.Queued, st.QueueCapacity, st.Active)

	slog.Debug("gauges refreshed",
		"queued", st.Queued,
		"active", st.Active,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
