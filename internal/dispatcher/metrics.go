package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/schedule"
)

// PassResult summarises one scheduler pass.
type PassResult struct {
	StartedAt  time.Time               `json:"started_at"`
	Duration   time.Duration           `json:"duration"`
	Recipients int                     `json:"recipients"`
	Invalid    int                     `json:"invalid"`
	Due        int                     `json:"due"`
	Started    int                     `json:"started"`
	Dispatched int                     `json:"dispatched"`
	Failed     int                     `json:"failed"`
	Skipped    int                     `json:"skipped"`
	Reasons    map[schedule.Reason]int `json:"reasons"`
	Error      string                  `json:"error,omitempty"`
}

type ServiceMetrics struct {
	totalPasses     int64
	totalDispatched int64
	totalFailed     int64
	totalSkipped    int64
	totalInvalid    int64
	totalDurationNs int64
	lastResetNs     int64

	mu       sync.RWMutex
	lastPass *PassResult
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{
		lastResetNs: time.Now().UnixNano(),
	}
}

func (m *ServiceMetrics) RecordPass(p PassResult) {
	atomic.AddInt64(&m.totalPasses, 1)
	atomic.AddInt64(&m.totalDispatched, int64(p.Dispatched))
	atomic.AddInt64(&m.totalFailed, int64(p.Failed))
	atomic.AddInt64(&m.totalSkipped, int64(p.Skipped))
	atomic.AddInt64(&m.totalInvalid, int64(p.Invalid))
	atomic.AddInt64(&m.totalDurationNs, int64(p.Duration))

	m.mu.Lock()
	m.lastPass = &p
	m.mu.Unlock()
}

func (m *ServiceMetrics) LastPass() *PassResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastPass == nil {
		return nil
	}
	p := *m.lastPass
	return &p
}

func (m *ServiceMetrics) Passes() int64 {
	return atomic.LoadInt64(&m.totalPasses)
}

func (m *ServiceMetrics) GetStats() map[string]interface{} {
	passes := atomic.LoadInt64(&m.totalPasses)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	lastResetNs := atomic.LoadInt64(&m.lastResetNs)

	avgDuration := time.Duration(0)
	if passes > 0 {
		avgDuration = time.Duration(durationNs / passes)
	}

	stats := map[string]interface{}{
		"total_passes":     passes,
		"total_dispatched": atomic.LoadInt64(&m.totalDispatched),
		"total_failed":     atomic.LoadInt64(&m.totalFailed),
		"total_skipped":    atomic.LoadInt64(&m.totalSkipped),
		"total_invalid":    atomic.LoadInt64(&m.totalInvalid),
		"avg_pass_ms":      avgDuration.Milliseconds(),
		"uptime_seconds":   time.Since(time.Unix(0, lastResetNs)).Seconds(),
	}
	if last := m.LastPass(); last != nil {
		stats["last_pass"] = last
	}
	return stats
}

func (m *ServiceMetrics) Reset() {
	atomic.StoreInt64(&m.totalPasses, 0)
	atomic.StoreInt64(&m.totalDispatched, 0)
	atomic.StoreInt64(&m.totalFailed, 0)
	atomic.StoreInt64(&m.totalSkipped, 0)
	atomic.StoreInt64(&m.totalInvalid, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.lastResetNs, time.Now().UnixNano())

	m.mu.Lock()
	m.lastPass = nil
	m.mu.Unlock()
}
