// Package stats implements the in-process statistics and per-service
// attribution layer: O(1) fixed-width type counters, a per-service
// stats table, throttling metrics, and schema introspection via
// metadata field-name discovery. A background goroutine writes a
// snapshot to storage after recorded changes, without ever blocking a
// caller.
package stats

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaly-z/hybridgraph/internal/graph"
	"github.com/vitaly-z/hybridgraph/internal/obs"
	"github.com/vitaly-z/hybridgraph/internal/storage"
)

// ServiceStats tracks the nouns/verbs a single attributed service has
// written. Fields are updated with sync/atomic rather than a mutex so a
// read under Snapshot never contends with a concurrent recorder.
type ServiceStats struct {
	NounCount uint64
	VerbCount uint64
}

// ThrottleStats breaks throttling events down by hour-bucket and reason.
type ThrottleStats struct {
	Hourly  map[int64]uint64 `json:"hourly"`
	Reasons map[string]uint64 `json:"reasons"`
}

// Snapshot is a point-in-time copy of every counter the Tracker holds,
// safe to marshal and safe to read after the Tracker has moved on.
type Snapshot struct {
	TypeCounts     [graph.NounTypeCount]uint32 `json:"noun_type_counts"`
	VerbTypeCounts [graph.VerbTypeCount]uint32 `json:"verb_type_counts"`
	Services       map[string]ServiceStats     `json:"services"`
	Throttling     ThrottleStats               `json:"throttling"`
	TakenAt        time.Time                   `json:"taken_at"`
}

// Tracker is the statistics/attribution singleton owned by the top-level
// coordinator.
type Tracker struct {
	nounCounts [graph.NounTypeCount]uint32
	verbCounts [graph.VerbTypeCount]uint32

	services sync.Map // string -> *ServiceStats

	throttleMu      sync.Mutex
	throttleHourly  map[int64]uint64
	throttleReasons map[string]uint64

	fields sync.Map // string -> struct{}

	adapter storage.Adapter
	metrics *obs.Metrics

	flushRequests chan struct{}
	done          chan struct{}
	wg            sync.WaitGroup
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithMetrics wires Prometheus gauges into the tracker; counters are
// updated on every Record call in addition to the in-process arrays.
func WithMetrics(m *obs.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New starts a Tracker backed by adapter, including its background
// non-blocking flush goroutine.
func New(adapter storage.Adapter, opts ...Option) *Tracker {
	t := &Tracker{
		adapter:         adapter,
		throttleHourly:  make(map[int64]uint64),
		throttleReasons: make(map[string]uint64),
		flushRequests:   make(chan struct{}, 16),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.wg.Add(1)
	go t.flushLoop()
	return t
}

func (t *Tracker) serviceStats(service string) *ServiceStats {
	if service == "" {
		service = "unknown"
	}
	v, _ := t.services.LoadOrStore(service, &ServiceStats{})
	return v.(*ServiceStats)
}

// RecordNounAdd bumps the noun-type counter, the attributed service's
// noun count, and (if wired) the Prometheus gauge for nounType.
func (t *Tracker) RecordNounAdd(nounType graph.NounType, service string) {
	atomic.AddUint32(&t.nounCounts[nounType], 1)
	atomic.AddUint64(&t.serviceStats(service).NounCount, 1)
	if t.metrics != nil {
		t.metrics.NounInserts.Inc()
		t.metrics.NounTypeCounts.WithLabelValues(nounType.String()).Set(float64(atomic.LoadUint32(&t.nounCounts[nounType])))
	}
	t.requestFlush()
}

// RecordNounDelete decrements the noun-type counter unless it is already
// zero — counters are monotone except on explicit delete, per spec.
func (t *Tracker) RecordNounDelete(nounType graph.NounType, service string) {
	decrementUint32(&t.nounCounts[nounType])
	decrementUint64(&t.serviceStats(service).NounCount)
	if t.metrics != nil {
		t.metrics.NounDeletes.Inc()
		t.metrics.NounTypeCounts.WithLabelValues(nounType.String()).Set(float64(atomic.LoadUint32(&t.nounCounts[nounType])))
	}
	t.requestFlush()
}

func (t *Tracker) RecordVerbAdd(verbType graph.VerbType, service string) {
	atomic.AddUint32(&t.verbCounts[verbType], 1)
	atomic.AddUint64(&t.serviceStats(service).VerbCount, 1)
	if t.metrics != nil {
		t.metrics.VerbInserts.Inc()
		t.metrics.VerbTypeCounts.WithLabelValues(verbType.String()).Set(float64(atomic.LoadUint32(&t.verbCounts[verbType])))
	}
	t.requestFlush()
}

func (t *Tracker) RecordVerbDelete(verbType graph.VerbType, service string) {
	decrementUint32(&t.verbCounts[verbType])
	decrementUint64(&t.serviceStats(service).VerbCount)
	if t.metrics != nil {
		t.metrics.VerbDeletes.Inc()
		t.metrics.VerbTypeCounts.WithLabelValues(verbType.String()).Set(float64(atomic.LoadUint32(&t.verbCounts[verbType])))
	}
	t.requestFlush()
}

// RecordThrottle attributes one throttling event to reason and the
// current hour bucket.
func (t *Tracker) RecordThrottle(reason string, at time.Time) {
	bucket := at.Truncate(time.Hour).Unix()
	t.throttleMu.Lock()
	t.throttleHourly[bucket]++
	t.throttleReasons[reason]++
	t.throttleMu.Unlock()
	if t.metrics != nil {
		t.metrics.ThrottleEvents.WithLabelValues(reason).Inc()
	}
	t.requestFlush()
}

// DiscoverFields recursively walks metadata collecting every field name
// it finds, including nested maps (joined with "."), for schema
// introspection. Array/slice values are walked per-element without
// adding an index to the field name, since the field identity is the
// same across elements.
func (t *Tracker) DiscoverFields(metadata map[string]interface{}) {
	t.discoverFields("", metadata)
}

func (t *Tracker) discoverFields(prefix string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, nested := range val {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			t.fields.Store(name, struct{}{})
			t.discoverFields(name, nested)
		}
	case []interface{}:
		for _, elem := range val {
			t.discoverFields(prefix, elem)
		}
	}
}

// Fields returns every metadata field name discovered so far.
func (t *Tracker) Fields() []string {
	var names []string
	t.fields.Range(func(k, _ interface{}) bool {
		names = append(names, k.(string))
		return true
	})
	return names
}

// Snapshot copies every counter under a consistent-enough view (no
// global lock; each field is read via its own synchronization
// primitive, so counters are observed independently rather than atomically
// as a group).
func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{TakenAt: time.Now()}
	for i := range t.nounCounts {
		snap.TypeCounts[i] = atomic.LoadUint32(&t.nounCounts[i])
	}
	for i := range t.verbCounts {
		snap.VerbTypeCounts[i] = atomic.LoadUint32(&t.verbCounts[i])
	}

	snap.Services = make(map[string]ServiceStats)
	t.services.Range(func(k, v interface{}) bool {
		s := v.(*ServiceStats)
		snap.Services[k.(string)] = ServiceStats{
			NounCount: atomic.LoadUint64(&s.NounCount),
			VerbCount: atomic.LoadUint64(&s.VerbCount),
		}
		return true
	})

	t.throttleMu.Lock()
	snap.Throttling = ThrottleStats{
		Hourly:  copyInt64Map(t.throttleHourly),
		Reasons: copyStringMap(t.throttleReasons),
	}
	t.throttleMu.Unlock()

	return snap
}

func copyInt64Map(m map[int64]uint64) map[int64]uint64 {
	out := make(map[int64]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringMap(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// requestFlush signals the background goroutine without ever blocking
// the caller: a full flush channel just drops the extra request, since
// the goroutine will pick up the latest state on its next pass anyway.
func (t *Tracker) requestFlush() {
	select {
	case t.flushRequests <- struct{}{}:
	default:
	}
}

func (t *Tracker) flushLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.flushRequests:
			t.flushOnce()
		case <-t.done:
			return
		}
	}
}

// flushOnce persists a snapshot; failures are swallowed rather than
// propagated to the caller. The tracker has no logger to log to (it
// exports metrics only), so a failed flush is simply retried on the next
// Record call.
func (t *Tracker) flushOnce() {
	data, err := json.Marshal(t.Snapshot())
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = t.adapter.Put(ctx, storage.StatsKey, data)
}

// Close stops the background flush goroutine after a final flush.
func (t *Tracker) Close() {
	t.flushOnce()
	close(t.done)
	t.wg.Wait()
}

func decrementUint32(addr *uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if old == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(addr, old, old-1) {
			return
		}
	}
}

func decrementUint64(addr *uint64) {
	for {
		old := atomic.LoadUint64(addr)
		if old == 0 {
			return
		}
		if atomic.CompareAndSwapUint64(addr, old, old-1) {
			return
		}
	}
}
