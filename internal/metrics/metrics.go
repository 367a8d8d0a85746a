// Package metrics exposes prometheus collectors for the replication core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "distro"

// Distro holds the replication collectors
type Distro struct {
	TasksQueued  prometheus.Counter
	TasksDropped *prometheus.CounterVec // reason: queue_full, no_peers
	Flushes      prometheus.Counter

	Pushes         *prometheus.CounterVec // result: ok, error
	PushDuration   prometheus.Histogram
	InFlightKeys   prometheus.Gauge
	RetriesQueued  prometheus.Counter
	RetriesDropped *prometheus.CounterVec // reason: member_gone, max_retries, stopped

	ChecksumRounds     prometheus.Counter
	ChecksumsReceived  prometheus.Counter
	ProtocolViolations prometheus.Counter
	ReconciledKeys     *prometheus.CounterVec // op: update, remove

	ReceivedItems *prometheus.CounterVec // result: applied, unchanged, rejected

	Initialized prometheus.Gauge
	Members     prometheus.Gauge
}

// NewDistro creates the collectors and registers them with reg
func NewDistro(reg prometheus.Registerer) *Distro {
	m := &Distro{
		TasksQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "keys_queued_total",
			Help: "Keys accepted by the task dispatcher.",
		}),
		TasksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "keys_dropped_total",
			Help: "Keys dropped by the task dispatcher.",
		}, []string{"reason"}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "flushes_total",
			Help: "Batches flushed into sync tasks.",
		}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "syncer", Name: "pushes_total",
			Help: "Item pushes to peers by result.",
		}, []string{"result"}),
		PushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "syncer", Name: "push_duration_seconds",
			Help:    "Latency of item pushes to peers.",
			Buckets: prometheus.DefBuckets,
		}),
		InFlightKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "syncer", Name: "in_flight_keys",
			Help: "Key and target pairs with a push in flight.",
		}),
		RetriesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "syncer", Name: "retries_total",
			Help: "Retries scheduled after failed pushes.",
		}),
		RetriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "syncer", Name: "tasks_abandoned_total",
			Help: "Sync tasks abandoned without a successful push.",
		}, []string{"reason"}),
		ChecksumRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "anti_entropy", Name: "rounds_total",
			Help: "Checksum digests sent to peers.",
		}),
		ChecksumsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "anti_entropy", Name: "received_total",
			Help: "Checksum digests received from peers.",
		}),
		ProtocolViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "anti_entropy", Name: "protocol_violations_total",
			Help: "Checksum digests rejected because they named locally owned keys.",
		}),
		ReconciledKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "anti_entropy", Name: "reconciled_keys_total",
			Help: "Keys updated or removed by reconciliation.",
		}, []string{"op"}),
		ReceivedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "receiver", Name: "items_total",
			Help: "Items received through pushes by result.",
		}, []string{"result"}),
		Initialized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "initialized",
			Help: "1 once bootstrap has completed.",
		}),
		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "healthy_members",
			Help: "Healthy members in the current view.",
		}),
	}

	reg.MustRegister(
		m.TasksQueued, m.TasksDropped, m.Flushes,
		m.Pushes, m.PushDuration, m.InFlightKeys, m.RetriesQueued, m.RetriesDropped,
		m.ChecksumRounds, m.ChecksumsReceived, m.ProtocolViolations, m.ReconciledKeys,
		m.ReceivedItems, m.Initialized, m.Members,
	)
	return m
}

// NewUnregistered creates collectors bound to a private registry. Tests and
// embedded uses that do not expose /metrics use this.
func NewUnregistered() *Distro {
	return NewDistro(prometheus.NewRegistry())
}
