package transport

import "cmp"

// Clamp bounds v to [lo, hi].
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// ClampDefault treats a zero v as "not supplied" and substitutes def before
// clamping.
func ClampDefault(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	return Clamp(v, lo, hi)
}
