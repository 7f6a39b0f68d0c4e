// Package randsrc builds the random sources used by the perturbation and
// frame-selection pipelines.
package randsrc

import (
	crand "crypto/rand"
	"math/rand/v2"
)

// New returns a ChaCha8 generator seeded from the operating system's
// secure random source.
func New() *rand.Rand {
	var seed [32]byte
	_, _ = crand.Read(seed[:])
	return rand.New(rand.NewChaCha8(seed))
}

// NewSeeded returns a reproducible PCG generator.
func NewSeeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
