package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	require.NotNil(t, m)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5, "before any sample, only the five unlabelled counters are exported")
}

func TestObserveBallotIncrementsCounterAndHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveBallot(ModeExclusive, ResultGranted, 25*time.Millisecond)

	count := testutilCounterValue(t, registry, "sanlockd_paxos_ballot_total")
	assert.Equal(t, float64(1), count)

	families, err := registry.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, fam := range families {
		if fam.GetName() != "sanlockd_paxos_ballot_duration_seconds" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			samples += metric.GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(1), samples)
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBallot(ModeShared, ResultDenied, time.Second)
		m.SetActiveLeases(ModeExclusive, 3)
		m.ObserveRelease(ModeExclusive, ReasonExplicit, time.Minute)
		m.ObserveHostIDRenewal("ok")
		m.ObserveRenewalFailureEpisode()
		m.ObservePeerDead()
		m.ObserveWatchdogArm()
		m.ObserveWatchdogDisarm()
		m.ObserveWatchdogFire()
		m.ObserveTokenLimitHit("max_leases")
	})
}

func testutilCounterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range fam.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric family %q not found", name)
	return 0
}
