// Package random provides seed generation for deterministic simulations.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// RoundSource returns a PRNG for one simulated round. The same session seed
// and round always yield the same sequence, so replays are reproducible.
func RoundSource(seed int64, round int) *mrand.Rand {
	return mrand.New(mrand.NewPCG(uint64(seed), uint64(round)))
}
