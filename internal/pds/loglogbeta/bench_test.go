package loglogbeta

import (
	"math/rand"
	"testing"
)

func BenchmarkAddHash_Sparse(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	hashes := make([]uint64, 1<<16)
	for i := range hashes {
		hashes[i] = rng.Uint64()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := NewDefault()
		// Stays comfortably below the p=14 threshold.
		for _, x := range hashes[:4096] {
			s.AddHash(x)
		}
	}
}

func BenchmarkAddHash_Dense(b *testing.B) {
	s := NewDefault()
	s.promote()

	rng := rand.New(rand.NewSource(2))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.AddHash(rng.Uint64())
	}
}

func BenchmarkCardinality_Dense(b *testing.B) {
	s := NewDefault()
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1_000_000; i++ {
		s.AddHash(rng.Uint64())
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Cardinality()
	}
}

func BenchmarkMerge_Dense(b *testing.B) {
	mk := func(seed int64) *Sketch {
		s := NewDefault()
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < 500_000; i++ {
			s.AddHash(rng.Uint64())
		}
		return s
	}
	x, y := mk(4), mk(5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c := x.Clone()
		_ = c.Merge(y)
	}
}
