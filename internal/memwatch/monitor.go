// Package memwatch samples the process RSS and sheds load before the
// headless browsers run the host out of memory. Chromium instances
// dominate the footprint, so cleanup means evicting idle sessions and
// trimming idle browsers rather than anything GC can reach.
package memwatch

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/kebiao-app/timetable-server/internal/config"
)

const bytesPerMB = 1024 * 1024

// CleanupFunc releases idle resources when the soft threshold is hit.
// It reports how many things it freed.
type CleanupFunc func() int

// Monitor watches process memory against two thresholds: at CleanupMB
// it runs the registered cleanup funcs, at RejectMB the handlers start
// refusing new browser work.
type Monitor struct {
	cfg      *config.Config
	logger   *slog.Logger
	proc     *process.Process
	cleanups []CleanupFunc
}

// NewMonitor builds a monitor for the current process.
func NewMonitor(cfg *config.Config, logger *slog.Logger) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		proc:   proc,
	}, nil
}

// AddCleanup registers a resource-release hook. Register before Start.
func (m *Monitor) AddCleanup(fn CleanupFunc) {
	m.cleanups = append(m.cleanups, fn)
}

// RSSMB returns the current resident set size in megabytes. A failed
// read reports zero, which fails open rather than blocking requests.
func (m *Monitor) RSSMB() uint64 {
	info, err := m.proc.MemoryInfo()
	if err != nil {
		m.logger.Warn("failed to read process memory", "error", err)
		return 0
	}
	return info.RSS / bytesPerMB
}

// Overloaded reports whether the hard threshold has been crossed and
// new browser work should be rejected.
func (m *Monitor) Overloaded() bool {
	return m.RSSMB() >= m.cfg.MemoryRejectMB
}

// Start runs the sampling loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.MemoryCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.check()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Monitor) check() {
	rss := m.RSSMB()
	if rss < m.cfg.MemoryCleanupMB {
		return
	}

	m.logger.Warn("memory pressure, releasing idle resources",
		"rss_mb", rss,
		"cleanup_threshold_mb", m.cfg.MemoryCleanupMB)

	freed := 0
	for _, fn := range m.cleanups {
		freed += fn()
	}

	// The browsers hold the memory, not the Go heap, but returning what
	// the runtime can after closing them keeps the RSS reading honest.
	debug.FreeOSMemory()

	m.logger.Info("memory cleanup finished",
		"freed", freed,
		"rss_mb", m.RSSMB())
}
