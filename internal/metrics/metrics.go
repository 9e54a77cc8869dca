// Package metrics exposes the Prometheus collectors for pool and dispatch
// behavior: acquisition latency, cold-start ratio, taint/recycle counts,
// and per-profile pool sizing gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors registered against a single
// prometheus.Registerer, so a daemon can mount them under /metrics without
// reaching for the global default registry.
type Registry struct {
	AcquireWaitSeconds *prometheus.HistogramVec
	ColdStarts         *prometheus.CounterVec
	WarmReuses         *prometheus.CounterVec
	VMsTainted         *prometheus.CounterVec
	VMsRecycled        *prometheus.CounterVec
	VMsCreated         *prometheus.CounterVec
	VMsDestroyed       *prometheus.CounterVec
	PoolSize           *prometheus.GaugeVec
	PoolAvailable      *prometheus.GaugeVec
	InvokeDuration     *prometheus.HistogramVec
	InvokeErrors       *prometheus.CounterVec
}

// New constructs and registers the full collector set against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		AcquireWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a VM to become available.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"profile_fingerprint"}),
		ColdStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "cold_starts_total",
			Help:      "Number of calls that required creating a new VM.",
		}, []string{"profile_fingerprint"}),
		WarmReuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "warm_reuses_total",
			Help:      "Number of calls served by an already-warm VM.",
		}, []string{"profile_fingerprint"}),
		VMsTainted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "vms_tainted_total",
			Help:      "Number of VMs marked tainted due to transport/timeout error.",
		}, []string{"profile_fingerprint"}),
		VMsRecycled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "vms_recycled_total",
			Help:      "Number of VMs destroyed for reaching max_calls_per_vm.",
		}, []string{"profile_fingerprint"}),
		VMsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "vms_created_total",
			Help:      "Number of VMs created, cold-start or snapshot-restored.",
		}, []string{"profile_fingerprint"}),
		VMsDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "vms_destroyed_total",
			Help:      "Number of VMs destroyed, any reason.",
		}, []string{"profile_fingerprint", "reason"}),
		PoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "size",
			Help:      "Current |all| for a profile's pool.",
		}, []string{"profile_fingerprint"}),
		PoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "capsule",
			Subsystem: "pool",
			Name:      "available",
			Help:      "Current |available| for a profile's pool.",
		}, []string{"profile_fingerprint"}),
		InvokeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "capsule",
			Subsystem: "invoke",
			Name:      "duration_seconds",
			Help:      "End-to-end stub invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"profile_fingerprint"}),
		InvokeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "invoke",
			Name:      "errors_total",
			Help:      "Invocation failures by sandboxerr.Kind.",
		}, []string{"profile_fingerprint", "kind"}),
	}

	reg.MustRegister(
		r.AcquireWaitSeconds, r.ColdStarts, r.WarmReuses, r.VMsTainted,
		r.VMsRecycled, r.VMsCreated, r.VMsDestroyed, r.PoolSize,
		r.PoolAvailable, r.InvokeDuration, r.InvokeErrors,
	)
	return r
}
