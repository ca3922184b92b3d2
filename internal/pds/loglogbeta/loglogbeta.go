// Package loglogbeta implements the LogLog-Beta algorithm for cardinality
// estimation.
//
// LogLog-Beta estimates the number of distinct elements in a stream using a
// fixed amount of memory, regardless of the actual cardinality. It belongs
// to the HyperLogLog family but replaces the range-specific bias tables of
// HyperLogLog++ with a single empirically fitted correction polynomial
// (beta), which makes the estimator considerably simpler while matching the
// accuracy of the more elaborate constructions.
//
// The Algorithm
// =============
//
// Every input element is hashed to a 64-bit value. The top p bits select
// one of m = 2^p registers, and the remaining 64-p bits contribute a
// "rank": the number of leading zeros in that remainder, plus one. Each
// register stores the maximum rank ever observed for elements routed to it.
// Because a rank of k occurs with probability 2^-k under a uniform hash,
// the register values collectively encode how many distinct elements were
// seen; the estimate is a harmonic-mean style formula over all registers
// with the beta term correcting its bias.
//
// With the default precision of 14 (16,384 registers, one byte each), the
// relative error stays below roughly 0.8%.
//
// Sparse and Dense Modes
// ======================
//
// A fresh Sketch does not allocate registers at all. It starts in "sparse"
// mode, keeping an exact set of the raw 64-bit hashes. While the distinct
// count is small this uses less memory than the register array and, more
// importantly, Cardinality is exact rather than an estimate.
//
// Once the set reaches three quarters of m, the sketch promotes itself: the
// register array is allocated, every stored hash is replayed through the
// register codec, and the set is discarded. Promotion is a one-way
// transition and is invisible to callers; no accumulated information is
// lost because the set held the full hashes.
//
// Concurrency
// ===========
//
// A Sketch has no internal locking. All operations are synchronous and
// single-threaded by contract; concurrent mutation requires external
// synchronization. The recommended pattern for parallel ingestion is one
// sketch per worker, merged periodically. The server in cmd/llb-server
// follows this contract by guarding each stored sketch with its shard lock.
package loglogbeta

import (
	"errors"

	"github.com/cespare/xxhash/v2"
)

// Precision bounds. Precision p buys m = 2^p one-byte registers: p=4 is
// 16 bytes with ~26% error, p=18 is 256KB with ~0.2% error.
const (
	MinPrecision = 4
	MaxPrecision = 18

	// DefaultPrecision trades 16KB per sketch for a standard error of
	// about 0.81%, the same operating point the Redis HLL uses.
	DefaultPrecision = 14
)

var (
	// ErrInvalidPrecision is returned by New when the requested precision
	// is outside [MinPrecision, MaxPrecision].
	ErrInvalidPrecision = errors.New("loglogbeta: precision must be between 4 and 18")

	// ErrPrecisionMismatch is returned by Merge when the two sketches were
	// built with different precisions. There is no defined semantics for
	// combining register arrays of different widths, so this is never
	// coerced silently.
	ErrPrecisionMismatch = errors.New("loglogbeta: cannot merge sketches of different precision")

	// ErrInvalidRegisters is returned by RestoreDense when the register
	// array does not match the precision or contains an impossible rank.
	ErrInvalidRegisters = errors.New("loglogbeta: register array does not match precision")
)

// Sketch is a LogLog-Beta cardinality estimator.
//
// Exactly one of the two representations is live at any time: sparse
// (small exact hash set) or dense (register array). The nil-ness of the
// registers slice is the mode tag; there is no window where both hold data.
type Sketch struct {
	precision uint8
	m         uint32 // 2^precision, length of the dense array
	maxRank   uint8  // 64 - precision + 1, the register saturation value
	promoteAt int    // sparse set size that triggers promotion (3m/4)

	sparse    smallSet // non-nil while sparse
	registers []uint8  // non-nil once promoted; never shrinks or reverts
}

// New creates an empty sketch in sparse mode. The precision is fixed for
// the sketch's lifetime; only sketches of equal precision can be merged.
func New(precision uint8) (*Sketch, error) {
	if precision < MinPrecision || precision > MaxPrecision {
		return nil, ErrInvalidPrecision
	}

	m := uint32(1) << precision
	return &Sketch{
		precision: precision,
		m:         m,
		maxRank:   64 - precision + 1,
		promoteAt: int(m/4) * 3,
		sparse:    newSmallSet(),
	}, nil
}

// NewDefault creates an empty sketch at DefaultPrecision.
func NewDefault() *Sketch {
	s, _ := New(DefaultPrecision) // DefaultPrecision is always in range
	return s
}

// Precision returns the precision the sketch was created with.
func (s *Sketch) Precision() uint8 {
	return s.precision
}

// SparseMode reports whether the sketch still holds the exact hash set.
func (s *Sketch) SparseMode() bool {
	return s.registers == nil
}

// Add hashes data with xxhash and inserts the result. The estimator core
// only ever sees the 64-bit hash; any hash function with a uniform output
// distribution works equally well via AddHash. Reports whether the sketch
// state changed.
func (s *Sketch) Add(data []byte) bool {
	return s.AddHash(xxhash.Sum64(data))
}

// AddHash inserts a 64-bit hash value, assumed uniformly distributed.
// Reports whether the sketch state changed.
//
// In sparse mode the hash goes into the exact set. The insertion that
// finds the set already at the promotion threshold first converts the
// sketch to dense and then applies the hash through the register codec, so
// the triggering element is never lost.
func (s *Sketch) AddHash(x uint64) bool {
	if s.registers == nil {
		if len(s.sparse) < s.promoteAt {
			return s.sparse.add(x)
		}
		s.promote()
		index, rank := regIndexAndRank(x, s.precision)
		denseUpdate(s.registers, index, rank)
		return true // the promotion itself changed the representation
	}

	index, rank := regIndexAndRank(x, s.precision)
	return denseUpdate(s.registers, index, rank)
}

// promote converts the sketch from sparse to dense by replaying every
// stored hash into a freshly allocated register array. Irreversible.
func (s *Sketch) promote() {
	s.registers = make([]uint8, s.m)

	for x := range s.sparse {
		index, rank := regIndexAndRank(x, s.precision)
		denseUpdate(s.registers, index, rank)
	}

	s.sparse = nil
}

// Cardinality returns the estimated number of distinct elements inserted.
//
// While the sketch is sparse the count is exact. Once dense, the
// LogLog-Beta estimate is returned, rounded to the nearest integer.
func (s *Sketch) Cardinality() uint64 {
	if s.registers == nil {
		return uint64(len(s.sparse))
	}
	return denseEstimate(s.precision, s.registers)
}

// Merge folds other into s, making s the estimator of the union of both
// streams. other is never mutated. Merging is commutative: either receiver
// ends up with the same register state.
func (s *Sketch) Merge(other *Sketch) error {
	if s.precision != other.precision {
		return ErrPrecisionMismatch
	}

	switch {
	case s.registers == nil && other.registers == nil:
		// Both sparse: exact set union. Promote immediately if the union
		// crossed the threshold, as a plain insert would have.
		s.sparse.union(other.sparse)
		if len(s.sparse) >= s.promoteAt {
			s.promote()
		}

	case s.registers == nil:
		// Sparse into dense peer: promote ourselves first, then take the
		// register-wise max.
		s.promote()
		denseMerge(s.registers, other.registers)

	case other.registers == nil:
		// Dense self, sparse peer: replaying the peer's hashes through the
		// codec is cheaper than promoting a sketch we must not mutate.
		for x := range other.sparse {
			index, rank := regIndexAndRank(x, s.precision)
			denseUpdate(s.registers, index, rank)
		}

	default:
		denseMerge(s.registers, other.registers)
	}

	return nil
}

// Clone returns a deep copy of the sketch. The copy shares no state with
// the original; mutating one never affects the other.
func (s *Sketch) Clone() *Sketch {
	clone := &Sketch{
		precision: s.precision,
		m:         s.m,
		maxRank:   s.maxRank,
		promoteAt: s.promoteAt,
	}

	if s.registers != nil {
		clone.registers = make([]uint8, len(s.registers))
		copy(clone.registers, s.registers)
	} else {
		clone.sparse = make(smallSet, len(s.sparse))
		for x := range s.sparse {
			clone.sparse[x] = struct{}{}
		}
	}

	return clone
}

// SparseHashes returns a copy of the exact hash set in unspecified order,
// or nil if the sketch is dense. Used by the layered binary encoding in
// the server; the core itself performs no I/O.
func (s *Sketch) SparseHashes() []uint64 {
	if s.sparse == nil {
		return nil
	}
	return s.sparse.snapshot()
}

// Registers returns a copy of the dense register array, or nil while the
// sketch is sparse.
func (s *Sketch) Registers() []uint8 {
	if s.registers == nil {
		return nil
	}
	out := make([]uint8, len(s.registers))
	copy(out, s.registers)
	return out
}

// Footprint returns the approximate in-memory size of the active
// representation in bytes.
func (s *Sketch) Footprint() int {
	if s.registers != nil {
		return len(s.registers)
	}
	return len(s.sparse) * 8
}

// RestoreSparse rebuilds a sketch from a previously captured sparse hash
// set. The hashes are replayed through the normal insertion path, so a set
// larger than the promotion threshold yields a dense sketch.
func RestoreSparse(precision uint8, hashes []uint64) (*Sketch, error) {
	s, err := New(precision)
	if err != nil {
		return nil, err
	}
	for _, x := range hashes {
		s.AddHash(x)
	}
	return s, nil
}

// RestoreDense rebuilds a dense sketch from a previously captured register
// array. The array must have exactly 2^precision entries, none exceeding
// the saturation rank 64-precision+1.
func RestoreDense(precision uint8, registers []uint8) (*Sketch, error) {
	s, err := New(precision)
	if err != nil {
		return nil, err
	}
	if len(registers) != int(s.m) {
		return nil, ErrInvalidRegisters
	}
	for _, v := range registers {
		if v > s.maxRank {
			return nil, ErrInvalidRegisters
		}
	}

	s.sparse = nil
	s.registers = make([]uint8, len(registers))
	copy(s.registers, registers)
	return s, nil
}
