package loglogbeta

import "math"

// beta computes the bias-correction term of the LogLog-Beta formula.
//
// LogLog-Beta replaces the range-specific bias tables of HyperLogLog++ with
// a single polynomial in ln(zeros+1), where zeros is the number of registers
// still at zero. The coefficients below are the published fit; they do not
// depend on the precision, only on the zero-register count.
func beta(zeros float64) float64 {
	zl := math.Log(zeros + 1)

	return -0.370393911*zeros +
		0.070471823*zl +
		0.17393686*math.Pow(zl, 2) +
		0.16339839*math.Pow(zl, 3) +
		-0.09237745*math.Pow(zl, 4) +
		0.03738027*math.Pow(zl, 5) +
		-0.005384159*math.Pow(zl, 6) +
		0.00042419*math.Pow(zl, 7)
}
