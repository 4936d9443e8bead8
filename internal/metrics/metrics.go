// Package metrics provides Prometheus instrumentation for ballot
// outcomes, delta-lease renewals, and watchdog fencing events.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values for ballot and lease outcomes.
const (
	ResultGranted = "granted"
	ResultDenied  = "denied"
	ResultAborted = "aborted"

	ModeExclusive = "exclusive"
	ModeShared    = "shared"

	ReasonExplicit = "explicit"
	ReasonDead     = "owner_dead"
	ReasonMigrate  = "migrate"
)

// Metrics holds every Prometheus collector the daemon exposes. A nil
// *Metrics is valid and every method is a no-op against it, so callers
// that run with metrics disabled never need a conditional.
type Metrics struct {
	ballotTotal      *prometheus.CounterVec
	ballotDuration   *prometheus.HistogramVec
	leaseActive      *prometheus.GaugeVec
	leaseHoldSeconds *prometheus.HistogramVec
	releaseTotal     *prometheus.CounterVec

	hostIDRenewalTotal   *prometheus.CounterVec
	hostIDRenewalFailure prometheus.Counter
	peerDeadTotal        prometheus.Counter

	watchdogArmTotal    prometheus.Counter
	watchdogDisarmTotal prometheus.Counter
	watchdogFireTotal   prometheus.Counter

	tokenLimitHits *prometheus.CounterVec

	registered bool
}

// New creates and, if registry is non-nil, registers every collector.
// Passing a nil registry is useful in tests: the collectors still work,
// they're simply never exposed on a /metrics endpoint.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ballotTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "paxos",
				Name:      "ballot_total",
				Help:      "Total number of Disk-Paxos ballots run, by resource mode and result",
			},
			[]string{"mode", "result"},
		),
		ballotDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sanlockd",
				Subsystem: "paxos",
				Name:      "ballot_duration_seconds",
				Help:      "Time to complete a ballot, successful or not",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"mode"},
		),
		leaseActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sanlockd",
				Subsystem: "leases",
				Name:      "active",
				Help:      "Number of resources currently held by this host",
			},
			[]string{"mode"},
		),
		leaseHoldSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sanlockd",
				Subsystem: "leases",
				Name:      "hold_duration_seconds",
				Help:      "Time a resource was held before release",
				Buckets:   []float64{1, 5, 30, 60, 300, 1800, 3600, 86400},
			},
			[]string{"mode"},
		),
		releaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "leases",
				Name:      "release_total",
				Help:      "Total number of resource releases, by reason",
			},
			[]string{"reason"},
		),
		hostIDRenewalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "deltalease",
				Name:      "renewal_total",
				Help:      "Total number of host_id renewal attempts, by result",
			},
			[]string{"result"},
		),
		hostIDRenewalFailure: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "deltalease",
				Name:      "renewal_failure_total",
				Help:      "Total number of consecutive renewal failure episodes entered",
			},
		),
		peerDeadTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "deltalease",
				Name:      "peer_dead_total",
				Help:      "Total number of times a peer host_id was observed transitioning to dead",
			},
		),
		watchdogArmTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "watchdog",
				Name:      "arm_total",
				Help:      "Total number of watchdog arm calls",
			},
		),
		watchdogDisarmTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "watchdog",
				Name:      "disarm_total",
				Help:      "Total number of watchdog disarm calls",
			},
		),
		watchdogFireTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "watchdog",
				Name:      "fire_total",
				Help:      "Total number of times the watchdog was observed to have fired",
			},
		),
		tokenLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "leasemgr",
				Name:      "limit_hits_total",
				Help:      "Total number of MAX_LEASES rejections, by pid-scoped limit type",
			},
			[]string{"limit_type"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.ballotTotal,
			m.ballotDuration,
			m.leaseActive,
			m.leaseHoldSeconds,
			m.releaseTotal,
			m.hostIDRenewalTotal,
			m.hostIDRenewalFailure,
			m.peerDeadTotal,
			m.watchdogArmTotal,
			m.watchdogDisarmTotal,
			m.watchdogFireTotal,
			m.tokenLimitHits,
		)
		m.registered = true
	}

	return m
}

// ObserveBallot records a completed ballot's mode, result, and duration.
func (m *Metrics) ObserveBallot(mode, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ballotTotal.WithLabelValues(mode, result).Inc()
	m.ballotDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// SetActiveLeases sets the gauge of currently-held resources for mode.
func (m *Metrics) SetActiveLeases(mode string, count float64) {
	if m == nil {
		return
	}
	m.leaseActive.WithLabelValues(mode).Set(count)
}

// ObserveRelease records a resource release and how long it was held.
func (m *Metrics) ObserveRelease(mode, reason string, held time.Duration) {
	if m == nil {
		return
	}
	m.releaseTotal.WithLabelValues(reason).Inc()
	m.leaseHoldSeconds.WithLabelValues(mode).Observe(held.Seconds())
}

// ObserveHostIDRenewal records a delta-lease renewal attempt's result.
func (m *Metrics) ObserveHostIDRenewal(result string) {
	if m == nil {
		return
	}
	m.hostIDRenewalTotal.WithLabelValues(result).Inc()
}

// ObserveRenewalFailureEpisode records entry into a renewal-failure
// episode, counted once per episode rather than once per missed renewal.
func (m *Metrics) ObserveRenewalFailureEpisode() {
	if m == nil {
		return
	}
	m.hostIDRenewalFailure.Inc()
}

// ObservePeerDead records a peer host_id transitioning from live to dead.
func (m *Metrics) ObservePeerDead() {
	if m == nil {
		return
	}
	m.peerDeadTotal.Inc()
}

// ObserveWatchdogArm records a watchdog arm call.
func (m *Metrics) ObserveWatchdogArm() {
	if m == nil {
		return
	}
	m.watchdogArmTotal.Inc()
}

// ObserveWatchdogDisarm records a watchdog disarm call.
func (m *Metrics) ObserveWatchdogDisarm() {
	if m == nil {
		return
	}
	m.watchdogDisarmTotal.Inc()
}

// ObserveWatchdogFire records an observed watchdog fire (host reset).
func (m *Metrics) ObserveWatchdogFire() {
	if m == nil {
		return
	}
	m.watchdogFireTotal.Inc()
}

// ObserveTokenLimitHit records a MAX_LEASES rejection.
func (m *Metrics) ObserveTokenLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.tokenLimitHits.WithLabelValues(limitType).Inc()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}
	m.ballotTotal.Describe(ch)
	m.ballotDuration.Describe(ch)
	m.leaseActive.Describe(ch)
	m.leaseHoldSeconds.Describe(ch)
	m.releaseTotal.Describe(ch)
	m.hostIDRenewalTotal.Describe(ch)
	ch <- m.hostIDRenewalFailure.Desc()
	ch <- m.peerDeadTotal.Desc()
	ch <- m.watchdogArmTotal.Desc()
	ch <- m.watchdogDisarmTotal.Desc()
	ch <- m.watchdogFireTotal.Desc()
	m.tokenLimitHits.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}
	m.ballotTotal.Collect(ch)
	m.ballotDuration.Collect(ch)
	m.leaseActive.Collect(ch)
	m.leaseHoldSeconds.Collect(ch)
	m.releaseTotal.Collect(ch)
	m.hostIDRenewalTotal.Collect(ch)
	ch <- m.hostIDRenewalFailure
	ch <- m.peerDeadTotal
	ch <- m.watchdogArmTotal
	ch <- m.watchdogDisarmTotal
	ch <- m.watchdogFireTotal
	m.tokenLimitHits.Collect(ch)
}
