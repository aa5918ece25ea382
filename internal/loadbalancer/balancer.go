// Package loadbalancer implements C5: selection of a backend pool
// among several replicas, by round-robin, least-connections, weighted
// round-robin or an adaptive blend, plus sticky affinity selection for
// a given user or table. Backend replica selection itself is grounded
// on the teacher's GetReadDB (infrastructure/database/connection_pool_service.go),
// which picks among healthy read replicas; this generalizes that
// single random/first-healthy policy into pluggable strategies and adds
// hash-based affinity using xxhash, consistent with how the rest of the
// pack reaches for xxhash for fast non-cryptographic hashing.
package loadbalancer

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Strategy selects among a set of candidate indices.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"
	StrategyAdaptive         Strategy = "adaptive"
)

// Health is a backend's 4-tier severity, used by the adaptive
// strategy's health_multiplier term.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthCritical  Health = "critical"
)

// multiplier maps a Health tier to adaptive's health_multiplier.
// The zero value (unset Health) is treated as healthy, so callers
// that never call SetHealth keep today's default behavior.
func (h Health) multiplier() float64 {
	switch h {
	case HealthDegraded:
		return 0.7
	case HealthUnhealthy:
		return 0.3
	case HealthCritical:
		return 0.1
	default:
		return 1.0
	}
}

// Backend is one selectable replica target. Healthy gates whether
// Select ever considers it at all; Health is the finer 4-tier
// severity adaptive blends into its score.
type Backend struct {
	Name    string
	Weight  int
	Healthy bool
	Health  Health
}

type backendState struct {
	backend      Backend
	selections   int64
	activeConns  int64
	weightCursor int
}

// Balancer is C5.
type Balancer struct {
	mu       sync.Mutex
	strategy Strategy
	backends []*backendState
	rrCursor int
}

// New constructs a Balancer over backends using strategy.
func New(strategy Strategy, backends []Backend) *Balancer {
	states := make([]*backendState, 0, len(backends))
	for _, b := range backends {
		states = append(states, &backendState{backend: b})
	}
	return &Balancer{strategy: strategy, backends: states}
}

// ErrNoHealthyBackend is returned when every backend is unhealthy.
type ErrNoHealthyBackend struct{}

func (ErrNoHealthyBackend) Error() string { return "loadbalancer: no healthy backend available" }

// SetHealthy updates a backend's selectability flag by name.
func (b *Balancer) SetHealthy(name string, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.backends {
		if s.backend.Name == name {
			s.backend.Healthy = healthy
			return
		}
	}
}

// SetHealth updates a backend's 4-tier health severity by name, per
// spec §4.5's per-slot {weight, health, selection_count, utilization}
// model.
func (b *Balancer) SetHealth(name string, health Health) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.backends {
		if s.backend.Name == name {
			s.backend.Health = health
			return
		}
	}
}

// Select picks a backend name per the configured strategy.
func (b *Balancer) Select() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	healthy := b.healthyLocked()
	if len(healthy) == 0 {
		return "", ErrNoHealthyBackend{}
	}

	var chosen *backendState
	switch b.strategy {
	case StrategyLeastConnections:
		chosen = leastConnections(healthy)
	case StrategyWeightedRoundRobin:
		chosen = b.weightedRoundRobin(healthy)
	case StrategyAdaptive:
		chosen = adaptive(healthy)
	default:
		chosen = b.roundRobin(healthy)
	}

	chosen.selections++
	return chosen.backend.Name, nil
}

// SelectForUser returns a backend deterministically affine to userID,
// so repeated calls for the same user land on the same backend while
// it stays healthy.
func (b *Balancer) SelectForUser(userID string) (string, error) {
	return b.selectByAffinity("user:" + userID)
}

// SelectForTable returns a backend deterministically affine to table.
func (b *Balancer) SelectForTable(table string) (string, error) {
	return b.selectByAffinity("table:" + table)
}

func (b *Balancer) selectByAffinity(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	healthy := b.healthyLocked()
	if len(healthy) == 0 {
		return "", ErrNoHealthyBackend{}
	}
	sort.Slice(healthy, func(i, j int) bool { return healthy[i].backend.Name < healthy[j].backend.Name })

	idx := xxhash.Sum64String(key) % uint64(len(healthy))
	chosen := healthy[idx]
	chosen.selections++
	return chosen.backend.Name, nil
}

func (b *Balancer) healthyLocked() []*backendState {
	out := make([]*backendState, 0, len(b.backends))
	for _, s := range b.backends {
		if s.backend.Healthy {
			out = append(out, s)
		}
	}
	return out
}

func (b *Balancer) roundRobin(healthy []*backendState) *backendState {
	chosen := healthy[b.rrCursor%len(healthy)]
	b.rrCursor++
	return chosen
}

// leastConnections picks the slot with the smallest selection_count,
// per spec §4.5.
func leastConnections(healthy []*backendState) *backendState {
	best := healthy[0]
	for _, s := range healthy[1:] {
		if s.selections < best.selections {
			best = s
		}
	}
	return best
}

func (b *Balancer) weightedRoundRobin(healthy []*backendState) *backendState {
	totalWeight := 0
	for _, s := range healthy {
		w := s.backend.Weight
		if w <= 0 {
			w = 1
		}
		totalWeight += w
	}
	pos := b.rrCursor % totalWeight
	b.rrCursor++

	acc := 0
	for _, s := range healthy {
		w := s.backend.Weight
		if w <= 0 {
			w = 1
		}
		acc += w
		if pos < acc {
			return s
		}
	}
	return healthy[len(healthy)-1]
}

// adaptive scores each slot as weight × health_multiplier ×
// (1 − utilization) and picks the highest, per spec §4.5.
func adaptive(healthy []*backendState) *backendState {
	var totalSelections int64
	for _, s := range healthy {
		totalSelections += s.selections
	}

	best := healthy[0]
	bestScore := adaptiveScore(best, totalSelections)
	for _, s := range healthy[1:] {
		score := adaptiveScore(s, totalSelections)
		if score > bestScore {
			best = s
			bestScore = score
		}
	}
	return best
}

func adaptiveScore(s *backendState, totalSelections int64) float64 {
	w := float64(s.backend.Weight)
	if w <= 0 {
		w = 1
	}
	utilization := selectionUtilization(s.selections, totalSelections)
	return w * s.backend.Health.multiplier() * (1 - utilization)
}

// selectionUtilization is spec §4.5's per-slot utilization:
// selection_count / total_selections.
func selectionUtilization(selections, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(selections) / float64(total)
}

// AcquireConn records that a connection was opened against the named
// backend. This feeds only Stats.ActiveConns for observability;
// leastConnections/adaptive score off selection_count, per spec §4.5.
func (b *Balancer) AcquireConn(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.backends {
		if s.backend.Name == name {
			s.activeConns++
			return
		}
	}
}

// ReleaseConn records that a connection against the named backend was
// closed.
func (b *Balancer) ReleaseConn(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.backends {
		if s.backend.Name == name && s.activeConns > 0 {
			s.activeConns--
			return
		}
	}
}

// Stats describes one backend's current load-balancing state.
type Stats struct {
	Name        string
	Selections  int64
	ActiveConns int64
	Utilization float64
	Healthy     bool
	Health      Health
}

// Snapshot reports per-backend selection/utilization stats. Utilization
// is selection_count/total_selections, per spec §4.5's per-slot model.
func (b *Balancer) Snapshot() []Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var totalSelections int64
	for _, s := range b.backends {
		totalSelections += s.selections
	}

	out := make([]Stats, 0, len(b.backends))
	for _, s := range b.backends {
		out = append(out, Stats{
			Name:        s.backend.Name,
			Selections:  s.selections,
			ActiveConns: s.activeConns,
			Utilization: selectionUtilization(s.selections, totalSelections),
			Healthy:     s.backend.Healthy,
			Health:      s.backend.Health,
		})
	}
	return out
}
