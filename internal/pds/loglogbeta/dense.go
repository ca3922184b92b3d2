package loglogbeta

import "math"

// denseUpdate raises the register at index to rank if rank is larger.
// This is the only mutation the dense representation supports, so every
// register is monotonically non-decreasing over the sketch's lifetime.
// Reports whether the register changed.
func denseUpdate(registers []uint8, index uint32, rank uint8) bool {
	if rank > registers[index] {
		registers[index] = rank
		return true
	}
	return false
}

// denseMerge applies the element-wise max of src into dst. Both slices
// must have the same length; the Sketch guarantees this by refusing to
// merge across precisions.
func denseMerge(dst, src []uint8) {
	for i, v := range src {
		if v > dst[i] {
			dst[i] = v
		}
	}
}

// denseSumAndZeros walks the register array once, accumulating the
// harmonic-mean term sum(2^-r) and the count of registers still at zero.
// Both feed the LogLog-Beta estimate.
func denseSumAndZeros(registers []uint8) (sum, zeros float64) {
	for _, v := range registers {
		if v == 0 {
			zeros++
		}
		sum += 1.0 / float64(uint64(1)<<v)
	}
	return sum, zeros
}

// denseEstimate computes the LogLog-Beta cardinality estimate:
//
//	alpha(p) * m * (m - zeros) / (beta(zeros) + sum)
//
// rounded half-up to the nearest integer.
func denseEstimate(p uint8, registers []uint8) uint64 {
	sum, zeros := denseSumAndZeros(registers)
	m := float64(len(registers))

	est := alpha(p) * m * (m - zeros) / (beta(zeros) + sum)
	return uint64(math.Floor(est + 0.5))
}
