package optimizer

import "math"

// fitQuadratic least-squares fits y = a + b*x + c*x^2 and reports the fit's
// R-squared. ok is false when the normal equations are singular, which
// happens when fewer than three distinct x values were observed.
func fitQuadratic(xs, ys []float64) (a, b, c, r2 float64, ok bool) {
	n := len(xs)
	if n < 3 || n != len(ys) {
		return 0, 0, 0, 0, false
	}
	var s0, s1, s2, s3, s4 float64
	var t0, t1, t2 float64
	for i := 0; i < n; i++ {
		x := xs[i]
		y := ys[i]
		x2 := x * x
		s0++
		s1 += x
		s2 += x2
		s3 += x2 * x
		s4 += x2 * x2
		t0 += y
		t1 += x * y
		t2 += x2 * y
	}
	det := s0*(s2*s4-s3*s3) - s1*(s1*s4-s2*s3) + s2*(s1*s3-s2*s2)
	if math.Abs(det) < 1e-12 {
		return 0, 0, 0, 0, false
	}
	a = (t0*(s2*s4-s3*s3) - s1*(t1*s4-t2*s3) + s2*(t1*s3-t2*s2)) / det
	b = (s0*(t1*s4-t2*s3) - t0*(s1*s4-s2*s3) + s2*(s1*t2-s2*t1)) / det
	c = (s0*(s2*t2-s3*t1) - s1*(s1*t2-s2*t1) + t0*(s1*s3-s2*s2)) / det

	yMean := t0 / float64(n)
	var ssTot, ssRes float64
	for i := 0; i < n; i++ {
		pred := a + b*xs[i] + c*xs[i]*xs[i]
		ssRes += (ys[i] - pred) * (ys[i] - pred)
		ssTot += (ys[i] - yMean) * (ys[i] - yMean)
	}
	if ssTot <= 0 {
		return a, b, c, 0, true
	}
	r2 = 1 - ssRes/ssTot
	if r2 < 0 {
		r2 = 0
	}
	return a, b, c, r2, true
}

func predictQuadratic(a, b, c, x float64) float64 {
	return a + b*x + c*x*x
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func varianceOf(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := meanOf(vals)
	var ss float64
	for _, v := range vals {
		ss += (v - m) * (v - m)
	}
	return ss / float64(len(vals)-1)
}
