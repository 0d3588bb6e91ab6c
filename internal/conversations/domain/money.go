package domain

import "math"

// Cents converts a price to integer cents. Prices are compared in cents so
// that 19.9 and 19.90 are the same charge.
func Cents(value float64) int64 {
	return int64(math.Round(value * 100))
}

// SamePrice reports whether two prices round to the same cent.
func SamePrice(a, b float64) bool {
	return Cents(a) == Cents(b)
}
