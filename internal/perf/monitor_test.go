package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	alerts []Alert
}

func (r *recordingSink) PerformanceAlert(a Alert) {
	r.alerts = append(r.alerts, a)
}

func TestBeginEndAggregates(t *testing.T) {
	m := New(DefaultThresholds())

	h := m.Begin("fp1", "select", "users")
	time.Sleep(time.Millisecond)
	m.End(h, true, 0, 1, "")

	stats := m.StatsFor("fp1")
	require.EqualValues(t, 1, stats.Total)
	require.EqualValues(t, 1, stats.Successful)
	require.EqualValues(t, 0, stats.Failed)
	assert.Greater(t, stats.Mean, time.Duration(0))
}

func TestEndAlertsOnSlowAndFailure(t *testing.T) {
	sink := &recordingSink{}
	thresholds := DefaultThresholds()
	thresholds.SlowQuery = time.Nanosecond
	thresholds.VerySlowQuery = time.Hour
	m := New(thresholds, WithSink(sink))

	h := m.Begin("fp2", "select", "users")
	time.Sleep(time.Millisecond)
	m.End(h, true, 0, 1, "")

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, AlertSlowQuery, sink.alerts[0].Kind)

	h2 := m.Begin("fp3", "select", "users")
	m.End(h2, false, 0, 0, "boom")
	require.Len(t, sink.alerts, 2)
	assert.Equal(t, AlertQueryFailure, sink.alerts[1].Kind)
}

func TestNoSinkNoAlert(t *testing.T) {
	m := New(DefaultThresholds())
	h := m.Begin("fp4", "select", "users")
	m.End(h, false, 0, 0, "boom")
	// No panic, no observable effect beyond stats.
	assert.EqualValues(t, 1, m.StatsFor("fp4").Failed)
}

func TestDisabledMonitorIsNoop(t *testing.T) {
	m := New(DefaultThresholds())
	m.Enable(false)
	h := m.Begin("fp5", "select", "users")
	m.End(h, true, 0, 1, "")
	assert.EqualValues(t, 0, m.StatsFor("fp5").Total)
}

func TestSamplingRateZeroRecordsNothing(t *testing.T) {
	thresholds := DefaultThresholds()
	thresholds.SamplingRate = 0
	m := New(thresholds, WithRandSource(func() float64 { return 0.999 }))

	h := m.Begin("fp6", "select", "users")
	m.End(h, true, 0, 1, "")
	assert.EqualValues(t, 0, m.StatsFor("fp6").Total)
	assert.EqualValues(t, 0, m.PendingCount())
}

func TestSlowQueryRingBufferBounded(t *testing.T) {
	thresholds := DefaultThresholds()
	thresholds.SlowQuery = 0
	m := New(thresholds)

	for i := 0; i < defaultSlowBufferSize+10; i++ {
		h := m.Begin("fp7", "select", "users")
		m.End(h, true, 0, 1, "")
	}

	assert.Len(t, m.SlowQueries(0), defaultSlowBufferSize)
}

func TestConnectionCounters(t *testing.T) {
	m := New(DefaultThresholds())
	m.ConnectionCreated()
	m.ConnectionAcquired()
	m.ConnectionWait(5 * time.Millisecond)
	m.ConnectionTimeout()

	snap := m.ConnectionSnapshot()
	assert.EqualValues(t, 1, snap.Created)
	assert.EqualValues(t, 1, snap.Acquired)
	assert.EqualValues(t, 1, snap.Timeouts)
	assert.Equal(t, 5*time.Millisecond, snap.AvgConnectionWait())
}
