package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/dshills/lumen/internal/logging"
)

// Usage is a point-in-time resource snapshot for one watched plugin.
type Usage struct {
	PluginID   string
	PID        int
	MemoryRSS  uint64
	CPUSeconds float64
	SampledAt  time.Time
}

// Monitor periodically samples the resource usage of out-of-process
// plugins and reports ceiling breaches as violations. Sampling is
// observability only; enforcement stays with the kernel limits
// applied at setup. In in-process mode rlimits bind the shared host
// process, so the strictest watched profile effectively governs it;
// per-plugin ceilings are meaningful only as monitor thresholds there.
type Monitor struct {
	mu sync.Mutex

	watched  map[string]*watchedProcess
	reporter Reporter
	interval time.Duration
	logger   *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

type watchedProcess struct {
	pid      int
	config   Config
	lastSeen Usage
	reported map[string]bool
}

// DefaultMonitorInterval is the default sampling period.
const DefaultMonitorInterval = 5 * time.Second

// NewMonitor creates a monitor reporting to the given reporter.
func NewMonitor(reporter Reporter, interval time.Duration, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if logger == nil {
		logger = logging.NullLogger
	}
	return &Monitor{
		watched:  make(map[string]*watchedProcess),
		reporter: reporter,
		interval: interval,
		logger:   logger.WithComponent("sandbox-monitor"),
	}
}

// Watch starts sampling the given pid against the profile's ceilings.
func (m *Monitor) Watch(pluginID string, pid int, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[pluginID] = &watchedProcess{
		pid:      pid,
		config:   config,
		reported: make(map[string]bool),
	}
}

// Unwatch stops sampling a plugin.
func (m *Monitor) Unwatch(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, pluginID)
}

// Usage returns the most recent sample for a plugin.
func (m *Monitor) Usage(pluginID string) (Usage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.watched[pluginID]
	if !ok || w.lastSeen.SampledAt.IsZero() {
		return Usage{}, false
	}
	return w.lastSeen, true
}

// Start begins the sampling loop. Stop with Stop or by cancelling ctx.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleAll()
		}
	}
}

func (m *Monitor) sampleAll() {
	m.mu.Lock()
	targets := make(map[string]*watchedProcess, len(m.watched))
	for id, w := range m.watched {
		targets[id] = w
	}
	m.mu.Unlock()

	for id, w := range targets {
		usage, err := samplePID(id, w.pid)
		if err != nil {
			m.logger.Debug("sample failed for %s (pid %d): %v", id, w.pid, err)
			continue
		}

		m.mu.Lock()
		if cur, ok := m.watched[id]; ok {
			cur.lastSeen = usage
		}
		m.mu.Unlock()

		m.checkCeilings(id, w, usage)
	}
}

// checkCeilings reports each breached ceiling once per watch.
func (m *Monitor) checkCeilings(pluginID string, w *watchedProcess, usage Usage) {
	if w.config.MaxMemory > 0 && usage.MemoryRSS > w.config.MaxMemory {
		m.reportOnce(pluginID, w, "memory",
			NewViolation(pluginID, ViolationResourceLimit, "memory ceiling exceeded"))
	}
	if w.config.MaxCPUTime > 0 && usage.CPUSeconds > float64(w.config.MaxCPUTime) {
		m.reportOnce(pluginID, w, "cpu",
			NewViolation(pluginID, ViolationResourceLimit, "cpu time ceiling exceeded"))
	}
}

func (m *Monitor) reportOnce(pluginID string, w *watchedProcess, resource string, v Violation) {
	m.mu.Lock()
	already := w.reported[resource]
	w.reported[resource] = true
	m.mu.Unlock()

	if already || m.reporter == nil {
		return
	}
	if err := m.reporter.Report(v); err != nil {
		m.logger.Warn("failed to report violation for %s: %v", pluginID, err)
	}
}

// samplePID reads RSS and accumulated CPU time for a pid.
func samplePID(pluginID string, pid int) (Usage, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}

	usage := Usage{
		PluginID:  pluginID,
		PID:       pid,
		SampledAt: time.Now(),
	}

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		usage.MemoryRSS = mem.RSS
	}
	if times, err := proc.Times(); err == nil && times != nil {
		usage.CPUSeconds = times.User + times.System
	}

	return usage, nil
}
