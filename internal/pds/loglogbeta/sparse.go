package loglogbeta

// smallSet is the sparse-mode representation: an exact set of the raw
// 64-bit hashes seen so far. While the distinct count is below the
// promotion threshold this is both cheaper than the register array and
// exact, so Cardinality carries no estimation error in sparse mode.
//
// Insertion is idempotent per hash value and no information is ever
// discarded, which is what makes the sparse-to-dense replay lossless.
type smallSet map[uint64]struct{}

func newSmallSet() smallSet {
	return make(smallSet, 64)
}

// add inserts a hash. Reports whether the hash was not already present.
func (s smallSet) add(x uint64) bool {
	if _, ok := s[x]; ok {
		return false
	}
	s[x] = struct{}{}
	return true
}

// union inserts every hash from other. other is left untouched.
func (s smallSet) union(other smallSet) {
	for x := range other {
		s[x] = struct{}{}
	}
}

// snapshot returns the stored hashes in unspecified order.
func (s smallSet) snapshot() []uint64 {
	out := make([]uint64, 0, len(s))
	for x := range s {
		out = append(out, x)
	}
	return out
}
