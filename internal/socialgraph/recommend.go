package socialgraph

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Algorithm selects a friend-recommendation strategy.
type Algorithm string

const (
	AlgorithmMutual    Algorithm = "mutual"
	AlgorithmInterests Algorithm = "interests"
	AlgorithmTrending  Algorithm = "trending"
	AlgorithmHybrid    Algorithm = "hybrid"
)

// Candidate is one recommended user, per spec §4.7's
// "(candidate, score, reason)" tuple.
type Candidate struct {
	UserID string
	Score  float64
	Reason string
}

type recCacheEntry struct {
	candidates []Candidate
	computedAt time.Time
}

func (e recCacheEntry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.computedAt) > ttl
}

// GetFriendRecommendations dispatches to the requested algorithm,
// consulting and populating C7's own recommendation cache (distinct
// from C2). A failure inside a recommendation computation returns an
// empty sequence and never poisons the cache, per spec §4.7.
func (g *Graph) GetFriendRecommendations(u string, algo Algorithm, limit int) []Candidate {
	if limit <= 0 {
		limit = g.cfg.MaxRecommendations
	}
	key := string(algo) + ":" + u

	g.mu.RLock()
	if entry, ok := g.recCache[key]; ok && !entry.expired(g.cfg.Now(), g.cfg.CacheTTL) {
		out := entry.candidates
		g.mu.RUnlock()
		return truncate(out, limit)
	}
	g.mu.RUnlock()

	candidates, failed := g.computeRecommendations(u, algo)
	if failed {
		return nil
	}

	g.mu.Lock()
	g.recCache[key] = recCacheEntry{candidates: candidates, computedAt: g.cfg.Now()}
	g.mu.Unlock()

	return truncate(candidates, limit)
}

func truncate(candidates []Candidate, limit int) []Candidate {
	if limit > 0 && len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}

func (g *Graph) computeRecommendations(u string, algo Algorithm) (result []Candidate, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("recommendation computation panicked", zap.String("user_id", u), zap.String("algorithm", string(algo)), zap.Any("panic", r))
			result = nil
			failed = true
		}
	}()

	switch algo {
	case AlgorithmMutual:
		return g.mutualFriendRecommendations(u), false
	case AlgorithmInterests:
		return g.interestBasedRecommendations(u), false
	case AlgorithmTrending:
		return g.trendingRecommendations(u), false
	default:
		return g.hybridRecommendations(u), false
	}
}

// mutualFriendRecommendations implements spec §4.7's mutual-friends
// algorithm: score candidates by shared-follow count plus a popularity
// bonus, tie-broken by follower_count then ascending id.
func (g *Graph) mutualFriendRecommendations(u string) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	follows := g.out[u]
	scores := make(map[string]float64)
	reasons := make(map[string]string)

	for m := range follows {
		for c := range g.out[m] {
			if c == u {
				continue
			}
			if _, already := follows[c]; already {
				continue
			}
			scores[c] += g.cfg.MutualFriendWeight
			if reasons[c] == "" {
				reasons[c] = "followed by " + m
			}
		}
	}

	out := make([]Candidate, 0, len(scores))
	for c, score := range scores {
		fc := g.followerCountLocked(c)
		score += math.Log(float64(fc)+1) * 0.1
		out = append(out, Candidate{UserID: c, Score: score, Reason: reasons[c]})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		fi, fj := g.followerCountLocked(out[i].UserID), g.followerCountLocked(out[j].UserID)
		if fi != fj {
			return fi > fj
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (g *Graph) followerCountLocked(u string) int {
	if m, ok := g.metrics[u]; ok {
		return m.followerCount
	}
	return 0
}

// interestBasedRecommendations implements spec §4.7's interest-based
// algorithm: derive u's interest distribution from the users u follows,
// L1-normalize, then score each unfollowed candidate by the min-based
// similarity against the candidate's own normalized interest vector.
func (g *Graph) interestBasedRecommendations(u string) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	userDist := g.deriveInterestDistributionLocked(u)
	if len(userDist) == 0 {
		return nil
	}

	follows := g.out[u]
	out := make([]Candidate, 0)
	for c := range g.metrics {
		if c == u {
			continue
		}
		if _, already := follows[c]; already {
			continue
		}
		candDist := g.normalizedOwnInterestsLocked(c)
		if len(candDist) == 0 {
			continue
		}
		similarity := cosineLikeSimilarity(userDist, candDist)
		if similarity <= 0.1 {
			continue
		}
		score := similarity*g.cfg.InterestWeight + math.Log(float64(g.followerCountLocked(c))+1)*0.05
		out = append(out, Candidate{UserID: c, Score: score, Reason: "shared interests"})
	}

	sortByScoreThenID(out)
	return out
}

// deriveInterestDistributionLocked averages the interest lists of every
// user u follows, L1-normalized.
func (g *Graph) deriveInterestDistributionLocked(u string) map[string]float64 {
	counts := make(map[string]float64)
	total := 0.0
	for m := range g.out[u] {
		for _, topic := range g.interests[m] {
			counts[topic]++
			total++
		}
	}
	if total == 0 {
		return nil
	}
	for k := range counts {
		counts[k] /= total
	}
	return counts
}

// normalizedOwnInterestsLocked L1-normalizes a candidate's own interest
// list, weighting each of its topics uniformly.
func (g *Graph) normalizedOwnInterestsLocked(u string) map[string]float64 {
	topics := g.interests[u]
	if len(topics) == 0 {
		return nil
	}
	w := 1.0 / float64(len(topics))
	out := make(map[string]float64, len(topics))
	for _, t := range topics {
		out[t] += w
	}
	return out
}

func cosineLikeSimilarity(a, b map[string]float64) float64 {
	var sum float64
	for k, av := range a {
		if bv, ok := b[k]; ok {
			sum += math.Min(av, bv)
		}
	}
	return sum
}

func sortByScoreThenID(out []Candidate) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
}

// trendingRecommendations implements spec §4.7's trending algorithm:
// score every candidate followed within the last 168 hours by recency-
// decayed velocity times engagement.
func (g *Graph) trendingRecommendations(u string) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.cfg.Now()
	follows := g.out[u]
	decay := g.cfg.RecencyDecayFactor
	if decay >= 1 {
		decay = 0.999
	}

	out := make([]Candidate, 0)
	for c, m := range g.metrics {
		if c == u {
			continue
		}
		if _, already := follows[c]; already {
			continue
		}
		if m.lastFollowedAt.IsZero() {
			continue
		}
		hoursSince := now.Sub(m.lastFollowedAt).Hours()
		if hoursSince < 0 || hoursSince > 168 {
			continue
		}
		recencyFactor := math.Exp(-hoursSince / (24 * (1 - decay)))
		velocity := float64(m.followerCount) * recencyFactor
		score := velocity * g.engagement[c] * g.cfg.TrendingWeight
		if score <= 1.0 {
			continue
		}
		out = append(out, Candidate{UserID: c, Score: score, Reason: "trending"})
	}

	sortByScoreThenID(out)
	return out
}

// hybridWeights normalizes the three signal weights to sum to 1, per
// spec §4.9's "weights in §4.7 normalized to sum to 1" instruction.
func (g *Graph) hybridWeights() (mutual, interest, trending float64) {
	total := g.cfg.MutualFriendWeight + g.cfg.InterestWeight + g.cfg.TrendingWeight
	if total <= 0 {
		return 1.0 / 3, 1.0 / 3, 1.0 / 3
	}
	return g.cfg.MutualFriendWeight / total, g.cfg.InterestWeight / total, g.cfg.TrendingWeight / total
}

// hybridRecommendations composes mutual/interest/trending signals,
// blended by normalized weights, per spec §4.9.
func (g *Graph) hybridRecommendations(u string) []Candidate {
	mutualCands := g.mutualFriendRecommendations(u)
	interestCands := g.interestBasedRecommendations(u)
	trendingCands := g.trendingRecommendations(u)

	wMutual, wInterest, wTrending := g.hybridWeights()

	combined := make(map[string]float64)
	reasons := make(map[string]string)
	apply := func(cands []Candidate, weight float64, tag string) {
		if len(cands) == 0 {
			return
		}
		maxScore := cands[0].Score
		for _, c := range cands {
			if maxScore == 0 {
				break
			}
			combined[c.UserID] += (c.Score / maxScore) * weight
			if reasons[c.UserID] == "" {
				reasons[c.UserID] = tag
			}
		}
	}
	apply(mutualCands, wMutual, "mutual friends")
	apply(interestCands, wInterest, "shared interests")
	apply(trendingCands, wTrending, "trending")

	out := make([]Candidate, 0, len(combined))
	for id, score := range combined {
		out = append(out, Candidate{UserID: id, Score: score, Reason: reasons[id]})
	}
	sortByScoreThenID(out)
	return out
}

// InfluenceScore combines follower volume, the follower/following
// ratio, mean log-follower-count of followees as a centrality proxy,
// and engagement, per spec §4.7's formula.
func (g *Graph) InfluenceScore(u string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m, ok := g.metrics[u]
	if !ok {
		return 0
	}

	followerTerm := math.Log(float64(m.followerCount)+1) * 0.4

	ratio := 0.0
	if m.followingCount > 0 {
		ratio = float64(m.followerCount) / float64(m.followingCount)
	} else if m.followerCount > 0 {
		ratio = float64(m.followerCount)
	}
	ratioTerm := ratio * 0.3

	var centralitySum float64
	for c := range g.out[u] {
		centralitySum += math.Log(float64(g.followerCountLocked(c))+1)
	}
	centrality := 0.0
	if len(g.out[u]) > 0 {
		centrality = centralitySum / float64(len(g.out[u]))
	}
	centralityTerm := normalizeCentrality(centrality) * 0.2

	engagementTerm := g.engagement[u] * 0.1

	return followerTerm + ratioTerm + centralityTerm + engagementTerm
}

// normalizeCentrality squashes the raw mean-log-follower centrality
// proxy into [0,1) via a logistic curve, since the spec leaves its
// normalization unspecified (see DESIGN.md).
func normalizeCentrality(raw float64) float64 {
	return raw / (1 + raw)
}
