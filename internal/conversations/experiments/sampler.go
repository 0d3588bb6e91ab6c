// Package experiments picks stage-specific prompt variants with Thompson
// sampling and settles their outcome once the funnel has moved.
package experiments

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Sampler draws Gamma and Beta variates. It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler wraps src. A nil source seeds from the runtime.
func NewSampler(src rand.Source) *Sampler {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Sampler{rng: rand.New(src)}
}

// Gamma draws from Gamma(shape, 1) using Marsaglia and Tsang's method.
// Shapes below one are boosted through Gamma(shape+1) * U^(1/shape).
func (s *Sampler) Gamma(shape float64) float64 {
	if shape <= 0 || math.IsNaN(shape) {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gamma(shape)
}

func (s *Sampler) gamma(shape float64) float64 {
	if shape < 1 {
		u := s.rng.Float64()
		return s.gamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = s.rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := s.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Beta draws from Beta(alpha, beta) as X/(X+Y) over two Gamma draws.
func (s *Sampler) Beta(alpha, beta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	x := s.gamma(alpha)
	y := s.gamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}
