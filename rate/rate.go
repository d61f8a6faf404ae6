// Package rate evaluates exponential rate-through-time functions
// p1*exp(p2*t), t being the time since the governing event.
package rate

import "math"

// Rate returns the instantaneous rate at time t.
func Rate(t, p1, p2 float64) float64 {
	if p2 == 0 {
		return p1
	}
	return p1 * math.Exp(p2*t)
}

// IntegratedRate returns the integral of the rate over [t1, t2].
func IntegratedRate(t1, t2, p1, p2 float64) float64 {
	if p2 == 0 {
		return (t2 - t1) * p1
	}
	return (p1 / p2) * math.Exp(p2*t1) * math.Expm1(p2*(t2-t1))
}

// MeanRate returns the time-averaged rate over [t1, t2]. A zero
// width interval returns p1.
func MeanRate(t1, t2, p1, p2 float64) float64 {
	if p2 == 0 || t1 == t2 {
		return p1
	}
	return IntegratedRate(t1, t2, p1, p2) / (t2 - t1)
}

// Exponential is one rate regime.
type Exponential struct {
	Init  float64
	Shift float64
}

func (e Exponential) At(t float64) float64 {
	return Rate(t, e.Init, e.Shift)
}

func (e Exponential) Mean(t1, t2 float64) float64 {
	return MeanRate(t1, t2, e.Init, e.Shift)
}

func (e Exponential) Integrated(t1, t2 float64) float64 {
	return IntegratedRate(t1, t2, e.Init, e.Shift)
}
