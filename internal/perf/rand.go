package perf

import (
	"math/rand"
	"sync"
	"time"
)

// pseudoRand is the default sampling RNG; WithRandSource overrides it
// for deterministic tests.
var pseudoRand = &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
