package metrics

import "sync/atomic"

// MetricID indexes a single counter slot.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricRestoreOptimistic
	MetricRestoreAnonymous
	MetricVerifySuccess
	MetricVerifyFailure
	MetricVerifyDeferred
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshCoalesced
	MetricGatewayRetry
	MetricGatewayAuthExpired
	MetricLogoutExplicit
	MetricLogoutForced
	MetricStorageCleanupFailure

	MetricIDCount
)

const cacheLine = 64

type paddedCounter struct {
	value uint64
	_     [cacheLine - 8]byte
}

// Config controls whether metric writes are recorded at all.
type Config struct {
	Enabled bool
}

// Metrics holds cache-line-padded atomic counters. The write path is
// allocation-free; Snapshot deep-copies into plain maps.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Counters: make(map[MetricID]uint64, MetricIDCount),
	}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}
