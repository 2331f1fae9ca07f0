// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "researchflow"

var (
	// artifactMutations counts artifact writes.
	// Labels: op (create, update, delete), outcome (ok, error, denied)
	artifactMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "artifacts",
		Name:      "mutations_total",
		Help:      "Artifact mutations by operation and outcome",
	}, []string{"op", "outcome"})

	// graphLinks counts link attempts.
	// Labels: outcome (linked, cycle, conflict, error)
	graphLinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "links_total",
		Help:      "Edge link attempts by outcome",
	}, []string{"outcome"})

	// graphTraversalNodes observes the number of nodes a traversal returned.
	graphTraversalNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "traversal_nodes",
		Help:      "Nodes returned per traversal",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
	})

	// auditAppends counts ledger appends by event type.
	auditAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "appends_total",
		Help:      "Audit ledger entries appended by event type",
	}, []string{"event_type"})

	// auditVerifications counts chain verifications.
	// Labels: result (valid, tampered, error)
	auditVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "verifications_total",
		Help:      "Audit chain verifications by result",
	}, []string{"result"})

	// activeRooms tracks rooms currently loaded in memory.
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "collab",
		Name:      "active_rooms",
		Help:      "Collaboration rooms currently loaded",
	})

	// roomUpdates counts document updates handled by rooms.
	// Labels: outcome (applied, duplicate, denied, rejected, error)
	roomUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collab",
		Name:      "updates_total",
		Help:      "Document updates by outcome",
	}, []string{"outcome"})

	// roomSnapshots counts persisted snapshots.
	roomSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collab",
		Name:      "snapshots_total",
		Help:      "Document snapshots persisted",
	})

	// presenceParticipants tracks connected participants across rooms.
	presenceParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "participants",
		Help:      "Participants currently tracked",
	})

	// presenceEvictions counts heartbeat timeouts.
	presenceEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "evictions_total",
		Help:      "Participants evicted after heartbeat timeout",
	})

	// httpDuration measures request latency.
	// Labels: method, route, status
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// RecordArtifactMutation counts one artifact write.
func RecordArtifactMutation(op, outcome string) {
	artifactMutations.WithLabelValues(op, outcome).Inc()
}

// RecordLink counts one link attempt.
func RecordLink(outcome string) {
	graphLinks.WithLabelValues(outcome).Inc()
}

// RecordTraversal observes the size of a traversal result.
func RecordTraversal(nodes int) {
	graphTraversalNodes.Observe(float64(nodes))
}

// RecordAuditAppend counts one ledger append.
func RecordAuditAppend(eventType string) {
	auditAppends.WithLabelValues(eventType).Inc()
}

// RecordVerification counts one chain verification.
func RecordVerification(result string) {
	auditVerifications.WithLabelValues(result).Inc()
}

// RoomOpened increments the active room gauge.
func RoomOpened() { activeRooms.Inc() }

// RoomClosed decrements the active room gauge.
func RoomClosed() { activeRooms.Dec() }

// RecordRoomUpdate counts one document update.
func RecordRoomUpdate(outcome string) {
	roomUpdates.WithLabelValues(outcome).Inc()
}

// RecordSnapshot counts one persisted snapshot.
func RecordSnapshot() {
	roomSnapshots.Inc()
}

// SetParticipants sets the participant gauge.
func SetParticipants(n int) {
	presenceParticipants.Set(float64(n))
}

// RecordEviction counts one heartbeat eviction.
func RecordEviction() {
	presenceEvictions.Inc()
}

// ObserveHTTP records one request.
func ObserveHTTP(method, route, status string, seconds float64) {
	httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}
