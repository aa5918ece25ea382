package socialgraph

// UserCount returns the number of users known to the graph.
func (g *Graph) UserCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.metrics)
}

// RelationshipCount returns the total number of active edges.
func (g *Graph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	total := 0
	for _, edges := range g.out {
		total += len(edges)
	}
	return total
}

// GraphDensity returns the ratio of actual to possible directed edges,
// recovered from social_graph.h's get_graph_density as a read-only
// analytics helper over the adjacency maps already tracked by §3's
// per-user counters.
func (g *Graph) GraphDensity() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.metrics)
	if n < 2 {
		return 0
	}
	possible := float64(n) * float64(n-1)
	actual := 0.0
	for _, edges := range g.out {
		actual += float64(len(edges))
	}
	return actual / possible
}

// NetworkStats is the per-user analytics summary recovered from
// social_graph.h's get_user_network_stats.
type NetworkStats struct {
	UserID         string
	FollowerCount  int
	FollowingCount int
	MutualCount    int
	InfluenceScore float64
}

// UserNetworkStats reports u's network statistics.
func (g *Graph) UserNetworkStats(u string) NetworkStats {
	g.mu.RLock()
	m, ok := g.metrics[u]
	var mutual int
	if ok {
		for c := range g.out[u] {
			if _, back := g.out[c][u]; back {
				mutual++
			}
		}
	}
	g.mu.RUnlock()

	if !ok {
		return NetworkStats{UserID: u}
	}

	return NetworkStats{
		UserID:         u,
		FollowerCount:  m.followerCount,
		FollowingCount: m.followingCount,
		MutualCount:    mutual,
		InfluenceScore: g.InfluenceScore(u),
	}
}
