package service

import (
	"math/rand/v2"
	"sync"
)

// RandomSource supplies uniformly distributed integers in [0, n).
// Implementations must be safe for concurrent use by multiple requests.
type RandomSource interface {
	IntN(n int) int
}

// GlobalSource draws from the math/rand/v2 top-level generator, which is safe for
// concurrent use and seeded per process.
type GlobalSource struct{}

func (GlobalSource) IntN(n int) int {
	return rand.IntN(n)
}

// SeededSource is a deterministic PCG generator behind a mutex. Use for reproducible
// sequences (tests, forecast.seed in config).
type SeededSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededSource returns a SeededSource. The same seed yields the same sequence.
func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}
