// Package monitor samples system resources and tracks per-session usage so
// admission control can adapt the session cap to what the host can carry.
package monitor

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	// historyCap bounds the system sample ring.
	historyCap = 1000
	// sessionMapCap bounds the per-session metrics map; the oldest entries
	// are evicted in batches once it fills.
	sessionMapCap = 10000
	evictionBatch = 1000
	// idleTimeout is how long a session may go without activity before its
	// metrics entry is dropped.
	idleTimeout = 300 * time.Second
	// warnThreshold is the CPU / memory percentage above which a warning
	// is logged.
	warnThreshold = 80.0

	responseEMAAlpha = 0.1

	fallbackMaxSessions = 10
	minRecommended      = 5
	maxRecommended      = 20
)

// SystemSample is one point-in-time view of host resources.
type SystemSample struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryPercent     float64   `json:"memory_percent"`
	MemoryAvailableGB float64   `json:"memory_available_gb"`
	DiskPercent       float64   `json:"disk_usage_percent"`
	ActiveSessions    int       `json:"active_sessions"`
	MaxSessions       int       `json:"max_sessions"`
}

// SessionMetrics tracks one session's resource and outcome counters.
type SessionMetrics struct {
	SessionID       string    `json:"session_id"`
	MemoryMB        float64   `json:"memory_usage_mb"`
	CPUPercent      float64   `json:"cpu_usage_percent"`
	LastActivity    time.Time `json:"last_activity"`
	Requests        int64     `json:"request_count"`
	Successes       int64     `json:"success_count"`
	Failures        int64     `json:"failure_count"`
	AvgResponseTime float64   `json:"avg_response_time"`
}

// Monitor owns the sampling loop and the per-session metrics map. All
// methods are safe for concurrent use.
type Monitor struct {
	interval time.Duration
	proc     *process.Process

	mu       sync.RWMutex
	history  []SystemSample
	sessions map[string]*SessionMetrics
	running  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a monitor sampling at the given interval.
func New(interval time.Duration) *Monitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn().Err(err).Msg("Process handle unavailable, per-session estimates disabled")
	}
	return &Monitor{
		interval: interval,
		proc:     proc,
		sessions: make(map[string]*SessionMetrics),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sampling loop. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		log.Warn().Msg("Resource monitoring already active")
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop()
	}()
	log.Info().Dur("interval", m.interval).Msg("Resource monitoring started")
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	log.Info().Msg("Resource monitoring stopped")
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collect()
			m.CleanupIdle(idleTimeout)
		}
	}
}

func (m *Monitor) collect() {
	sample := SystemSample{Timestamp: time.Now(), MaxSessions: m.RecommendedMaxSessions()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	} else if err != nil {
		log.Error().Err(err).Msg("Failed to sample CPU")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemoryPercent = vm.UsedPercent
		sample.MemoryAvailableGB = float64(vm.Available) / (1 << 30)
	} else {
		log.Error().Err(err).Msg("Failed to sample memory")
	}
	if du, err := disk.Usage("/"); err == nil {
		sample.DiskPercent = du.UsedPercent
	}

	m.mu.Lock()
	sample.ActiveSessions = len(m.sessions)
	m.history = append(m.history, sample)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
	m.mu.Unlock()

	if sample.CPUPercent > warnThreshold || sample.MemoryPercent > warnThreshold {
		log.Warn().
			Float64("cpu_percent", sample.CPUPercent).
			Float64("memory_percent", sample.MemoryPercent).
			Msg("High resource usage detected")
	}
}

// RecommendedMaxSessions derives a session cap from available memory,
// two sessions per free GiB clamped to [5,20]. Sampling failures fall back
// to a fixed default.
func (m *Monitor) RecommendedMaxSessions() int {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return fallbackMaxSessions
	}
	availableGiB := float64(vm.Available) / (1 << 30)
	recommended := int(availableGiB * 2)
	if recommended < minRecommended {
		return minRecommended
	}
	if recommended > maxRecommended {
		return maxRecommended
	}
	return recommended
}

// RecordOperation folds one operation outcome into the session's metrics,
// creating the entry on first sight.
func (m *Monitor) RecordOperation(sessionID string, success bool, responseTime time.Duration) {
	memMB, cpuPct := m.perSessionEstimates()

	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.sessions[sessionID]
	if !ok {
		if len(m.sessions) >= sessionMapCap {
			m.evictOldestLocked(evictionBatch)
		}
		sm = &SessionMetrics{SessionID: sessionID}
		m.sessions[sessionID] = sm
	}

	sm.LastActivity = time.Now()
	sm.Requests++
	sm.MemoryMB = memMB
	sm.CPUPercent = cpuPct
	if success {
		sm.Successes++
	} else {
		sm.Failures++
	}

	if rt := responseTime.Seconds(); rt > 0 {
		if sm.AvgResponseTime == 0 {
			sm.AvgResponseTime = rt
		} else {
			sm.AvgResponseTime = sm.AvgResponseTime*(1-responseEMAAlpha) + rt*responseEMAAlpha
		}
	}
}

// perSessionEstimates attributes an equal share of the process footprint to
// each tracked session.
func (m *Monitor) perSessionEstimates() (memMB, cpuPct float64) {
	if m.proc == nil {
		return 0, 0
	}

	m.mu.RLock()
	n := len(m.sessions)
	m.mu.RUnlock()
	if n == 0 {
		n = 1
	}

	if mi, err := m.proc.MemoryInfo(); err == nil {
		memMB = float64(mi.RSS) / (1 << 20) / float64(n)
	}
	if pct, err := m.proc.CPUPercent(); err == nil {
		cpuPct = pct / float64(n)
	}
	return memMB, cpuPct
}

// evictOldestLocked drops the n least recently active entries.
func (m *Monitor) evictOldestLocked(n int) {
	type aged struct {
		id string
		at time.Time
	}
	entries := make([]aged, 0, len(m.sessions))
	for id, sm := range m.sessions {
		entries = append(entries, aged{id: id, at: sm.LastActivity})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		delete(m.sessions, e.id)
	}
	log.Info().Int("evicted", n).Msg("Session metrics map full, oldest entries evicted")
}

// Forget removes a session's metrics entry, typically on session close.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// CleanupIdle drops metrics for sessions idle longer than maxIdle and
// returns how many were removed.
func (m *Monitor) CleanupIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sm := range m.sessions {
		if sm.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("count", removed).Msg("Idle session metrics cleaned up")
	}
	return removed
}

// SessionMetricsFor returns a copy of one session's metrics.
func (m *Monitor) SessionMetricsFor(sessionID string) (SessionMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sm, ok := m.sessions[sessionID]
	if !ok {
		return SessionMetrics{}, false
	}
	return *sm, true
}

// Latest returns the most recent system sample.
func (m *Monitor) Latest() (SystemSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return SystemSample{}, false
	}
	return m.history[len(m.history)-1], true
}

// History returns a copy of the sample ring, oldest first.
func (m *Monitor) History() []SystemSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SystemSample, len(m.history))
	copy(out, m.history)
	return out
}

// TopSession is one row of the heaviest-sessions view.
type TopSession struct {
	SessionID   string  `json:"session_id"`
	MemoryMB    float64 `json:"memory_mb"`
	CPUPercent  float64 `json:"cpu_percent"`
	SuccessRate float64 `json:"success_rate"`
}

// Summary is the aggregate view served by the status endpoint and the TUI.
type Summary struct {
	Timestamp       time.Time    `json:"timestamp"`
	System          SystemSample `json:"system"`
	TotalRequests   int64        `json:"total_requests"`
	SuccessRate     float64      `json:"success_rate"`
	AvgResponseTime float64      `json:"avg_response_time"`
	TopSessions     []TopSession `json:"top_sessions"`
}

// Summarize aggregates current metrics across all tracked sessions.
func (m *Monitor) Summarize() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{Timestamp: time.Now()}
	if len(m.history) > 0 {
		s.System = m.history[len(m.history)-1]
	}

	var totalSuccess int64
	var responseSum float64
	heavy := make([]*SessionMetrics, 0, len(m.sessions))
	for _, sm := range m.sessions {
		s.TotalRequests += sm.Requests
		totalSuccess += sm.Successes
		responseSum += sm.AvgResponseTime
		heavy = append(heavy, sm)
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(totalSuccess) / float64(s.TotalRequests)
	}
	if len(m.sessions) > 0 {
		s.AvgResponseTime = responseSum / float64(len(m.sessions))
	}

	sort.Slice(heavy, func(i, j int) bool { return heavy[i].MemoryMB > heavy[j].MemoryMB })
	if len(heavy) > 5 {
		heavy = heavy[:5]
	}
	for _, sm := range heavy {
		top := TopSession{SessionID: sm.SessionID, MemoryMB: sm.MemoryMB, CPUPercent: sm.CPUPercent}
		if sm.Requests > 0 {
			top.SuccessRate = float64(sm.Successes) / float64(sm.Requests)
		}
		s.TopSessions = append(s.TopSessions, top)
	}
	return s
}
