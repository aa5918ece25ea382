package loadbalancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackends() []Backend {
	return []Backend{
		{Name: "a", Weight: 1, Healthy: true},
		{Name: "b", Weight: 1, Healthy: true},
		{Name: "c", Weight: 2, Healthy: true},
	}
}

func TestRoundRobinCyclesEvenly(t *testing.T) {
	b := New(StrategyRoundRobin, testBackends())

	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		name, err := b.Select()
		require.NoError(t, err)
		seen[name]++
	}
	assert.Equal(t, 2, seen["a"])
	assert.Equal(t, 2, seen["b"])
	assert.Equal(t, 2, seen["c"])
}

func TestLeastConnectionsPrefersIdlest(t *testing.T) {
	b := New(StrategyLeastConnections, testBackends())

	// Drive up a and b's selection_count so c, never yet selected,
	// is the smallest and wins the next pick.
	b.backends[0].selections = 2
	b.backends[1].selections = 1

	name, err := b.Select()
	require.NoError(t, err)
	assert.Equal(t, "c", name)
}

func TestWeightedRoundRobinRespectsWeight(t *testing.T) {
	b := New(StrategyWeightedRoundRobin, testBackends())

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		name, err := b.Select()
		require.NoError(t, err)
		counts[name]++
	}
	assert.Equal(t, counts["c"], 2*counts["a"])
}

func TestSelectSkipsUnhealthy(t *testing.T) {
	backends := testBackends()
	b := New(StrategyRoundRobin, backends)
	b.SetHealthy("a", false)

	for i := 0; i < 4; i++ {
		name, err := b.Select()
		require.NoError(t, err)
		assert.NotEqual(t, "a", name)
	}
}

func TestSelectErrorsWhenAllUnhealthy(t *testing.T) {
	b := New(StrategyRoundRobin, testBackends())
	b.SetHealthy("a", false)
	b.SetHealthy("b", false)
	b.SetHealthy("c", false)

	_, err := b.Select()
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrNoHealthyBackend{})
}

func TestSelectForUserIsDeterministic(t *testing.T) {
	b := New(StrategyRoundRobin, testBackends())

	first, err := b.SelectForUser("user-42")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := b.SelectForUser("user-42")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelectForTableIsDeterministic(t *testing.T) {
	b := New(StrategyRoundRobin, testBackends())

	first, err := b.SelectForTable("follows")
	require.NoError(t, err)
	again, err := b.SelectForTable("follows")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestSnapshotReportsUtilization(t *testing.T) {
	b := New(StrategyLeastConnections, testBackends())
	b.backends[0].selections = 1 // a
	b.backends[1].selections = 2 // b

	snap := b.Snapshot()
	byName := map[string]Stats{}
	for _, s := range snap {
		byName[s.Name] = s
	}
	assert.InDelta(t, 1.0/3.0, byName["a"].Utilization, 0.001)
	assert.InDelta(t, 2.0/3.0, byName["b"].Utilization, 0.001)
}

func TestAdaptivePrefersHighestWeightedHealthScore(t *testing.T) {
	backends := testBackends() // a, b weight 1; c weight 2
	b := New(StrategyAdaptive, backends)
	b.SetHealth("c", HealthUnhealthy) // 2 * 0.3 * 1 = 0.6, below a/b's 1.0

	name, err := b.Select()
	require.NoError(t, err)
	assert.NotEqual(t, "c", name)
}

func TestAdaptiveAccountsForUtilization(t *testing.T) {
	b := New(StrategyAdaptive, testBackends())
	b.backends[0].selections = 9 // a: heavily utilized already
	b.backends[1].selections = 0
	b.backends[2].selections = 0

	name, err := b.Select()
	require.NoError(t, err)
	assert.NotEqual(t, "a", name)
}
