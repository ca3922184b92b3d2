package loglogbeta

import (
	"math/bits"
	"math/rand"
	"testing"
)

// referenceIndexAndRank recomputes the codec output the direct way: mask
// off the low 64-p bits of the hash and count their leading zeros within
// that width. The production codec uses the shift-and-XOR formulation; the
// two must agree on every input.
func referenceIndexAndRank(x uint64, p uint8) (uint32, uint8) {
	shift := 64 - uint(p)
	index := uint32(x >> shift)

	remainder := x & (^uint64(0) >> uint(p))
	var rank uint8
	if remainder == 0 {
		rank = uint8(shift) + 1
	} else {
		rank = uint8(bits.LeadingZeros64(remainder)) - uint8(p) + 1
	}
	return index, rank
}

func TestRegIndexAndRank(t *testing.T) {
	t.Run("matches reference on random hashes", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))

		for p := uint8(MinPrecision); p <= MaxPrecision; p++ {
			for i := 0; i < 10000; i++ {
				x := rng.Uint64()

				gotIdx, gotRank := regIndexAndRank(x, p)
				wantIdx, wantRank := referenceIndexAndRank(x, p)

				if gotIdx != wantIdx {
					t.Fatalf("p=%d hash=%#x: index %d, reference %d", p, x, gotIdx, wantIdx)
				}
				if gotRank != wantRank {
					t.Fatalf("p=%d hash=%#x: rank %d, reference %d", p, x, gotRank, wantRank)
				}
			}
		}
	})

	t.Run("edge hashes", func(t *testing.T) {
		tests := []struct {
			name     string
			hash     uint64
			p        uint8
			wantIdx  uint32
			wantRank uint8
		}{
			// All-zero hash: bucket 0, remainder all zeros, saturated rank.
			{"zero hash", 0, 14, 0, 51},
			// All-ones hash: last bucket, remainder starts with a 1 bit.
			{"all ones", ^uint64(0), 14, (1 << 14) - 1, 1},
			// Only the top bit set: bucket m/2, zero remainder.
			{"top bit only", 1 << 63, 14, 1 << 13, 51},
			// Minimum precision saturates at 64-4+1.
			{"zero hash p=4", 0, 4, 0, 61},
			// Maximum precision saturates at 64-18+1.
			{"zero hash p=18", 0, 18, 0, 47},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				idx, rank := regIndexAndRank(tt.hash, tt.p)
				if idx != tt.wantIdx {
					t.Errorf("index = %d, want %d", idx, tt.wantIdx)
				}
				if rank != tt.wantRank {
					t.Errorf("rank = %d, want %d", rank, tt.wantRank)
				}
			})
		}
	})

	t.Run("rank never exceeds saturation", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))

		for p := uint8(MinPrecision); p <= MaxPrecision; p++ {
			maxRank := 64 - p + 1
			for i := 0; i < 5000; i++ {
				_, rank := regIndexAndRank(rng.Uint64(), p)
				if rank < 1 || rank > maxRank {
					t.Fatalf("p=%d: rank %d outside [1, %d]", p, rank, maxRank)
				}
			}
		}
	})
}

func TestAlpha(t *testing.T) {
	tests := []struct {
		p    uint8
		want float64
	}{
		{4, 0.673},
		{5, 0.697},
		{6, 0.709},
	}
	for _, tt := range tests {
		if got := alpha(tt.p); got != tt.want {
			t.Errorf("alpha(%d) = %v, want %v", tt.p, got, tt.want)
		}
	}

	// The closed form for p=14: 0.7213 / (1 + 1.079/16384).
	got := alpha(14)
	want := 0.7213 / (1 + 1.079/16384.0)
	if got != want {
		t.Errorf("alpha(14) = %v, want %v", got, want)
	}
}
