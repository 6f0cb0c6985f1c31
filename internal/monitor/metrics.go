// Package monitor tracks platform performance counters and latency
// histograms for the admin console.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall platform performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	RequestLatency *LatencyHistogram
	OrderLatency   *LatencyHistogram
	DBLatency      *LatencyHistogram

	// Counters
	ordersProcessed uint64
	fillsApplied    uint64
	ticksProcessed  uint64
	mixesCompleted  uint64
	rewardsAccrued  uint64
	errorsCount     uint64

	wsClients int64

	activeUsers   int
	activeBots    int
	restingOrders int

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window. Stats are
// computed lazily and cached until new samples arrive.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		RequestLatency: NewLatencyHistogram(1000),
		OrderLatency:   NewLatencyHistogram(1000),
		DBLatency:      NewLatencyHistogram(1000),
		lastUpdate:     time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementOrders increments the processed orders counter.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersProcessed, 1)
}

// IncrementFills increments the applied fills counter.
func (m *SystemMetrics) IncrementFills() {
	atomic.AddUint64(&m.fillsApplied, 1)
}

// IncrementTicks increments the processed market ticks counter.
func (m *SystemMetrics) IncrementTicks() {
	atomic.AddUint64(&m.ticksProcessed, 1)
}

// IncrementMixes increments the completed mixing jobs counter.
func (m *SystemMetrics) IncrementMixes() {
	atomic.AddUint64(&m.mixesCompleted, 1)
}

// IncrementRewards increments the staking reward accruals counter.
func (m *SystemMetrics) IncrementRewards() {
	atomic.AddUint64(&m.rewardsAccrued, 1)
}

// IncrementErrors increments the error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// WSConnected records one websocket client attaching.
func (m *SystemMetrics) WSConnected() {
	atomic.AddInt64(&m.wsClients, 1)
}

// WSDisconnected records one websocket client detaching.
func (m *SystemMetrics) WSDisconnected() {
	atomic.AddInt64(&m.wsClients, -1)
}

// SetGauges updates the periodic gauge readings.
func (m *SystemMetrics) SetGauges(activeUsers, activeBots, restingOrders int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeUsers = activeUsers
	m.activeBots = activeBots
	m.restingOrders = restingOrders
}

// MetricsSnapshot is a point-in-time view for the admin console.
type MetricsSnapshot struct {
	RequestLatency  LatencyStats `json:"request_latency"`
	OrderLatency    LatencyStats `json:"order_latency"`
	DBLatency       LatencyStats `json:"db_latency"`
	OrdersProcessed uint64       `json:"orders_processed"`
	FillsApplied    uint64       `json:"fills_applied"`
	TicksProcessed  uint64       `json:"ticks_processed"`
	MixesCompleted  uint64       `json:"mixes_completed"`
	RewardsAccrued  uint64       `json:"rewards_accrued"`
	ErrorsCount     uint64       `json:"errors_count"`
	WSClients       int64        `json:"ws_clients"`
	ActiveUsers     int          `json:"active_users"`
	ActiveBots      int          `json:"active_bots"`
	RestingOrders   int          `json:"resting_orders"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	users := m.activeUsers
	bots := m.activeBots
	resting := m.restingOrders
	m.mu.RUnlock()

	return MetricsSnapshot{
		RequestLatency:  m.RequestLatency.Stats(),
		OrderLatency:    m.OrderLatency.Stats(),
		DBLatency:       m.DBLatency.Stats(),
		OrdersProcessed: atomic.LoadUint64(&m.ordersProcessed),
		FillsApplied:    atomic.LoadUint64(&m.fillsApplied),
		TicksProcessed:  atomic.LoadUint64(&m.ticksProcessed),
		MixesCompleted:  atomic.LoadUint64(&m.mixesCompleted),
		RewardsAccrued:  atomic.LoadUint64(&m.rewardsAccrued),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		WSClients:       atomic.LoadInt64(&m.wsClients),
		ActiveUsers:     users,
		ActiveBots:      bots,
		RestingOrders:   resting,
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
