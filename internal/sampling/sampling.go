// Package sampling reduces large ordered series to a bounded number of points
// for display.
package sampling

import "math"

// Zoom bounds for Budget.
const (
	MinZoom = 0.25
	MaxZoom = 8.0
)

// Decimate returns at most maxPoints representative elements of points using
// fixed-stride decimation.
//
// If len(points) <= maxPoints (or maxPoints <= 0) the input slice itself is
// returned. Otherwise every k-th element is kept, k = ceil(L/maxPoints),
// starting with index 0. Order is preserved and no element is duplicated.
// Above the budget the output is a fresh slice; points is never modified.
func Decimate[T any](points []T, maxPoints int) []T {
	n := len(points)
	if maxPoints <= 0 || n <= maxPoints {
		return points
	}

	stride := (n + maxPoints - 1) / maxPoints
	out := make([]T, 0, (n+stride-1)/stride)
	for i := 0; i < n; i += stride {
		out = append(out, points[i])
	}
	return out
}

// Stride returns the decimation step Decimate would use.
func Stride(n, maxPoints int) int {
	if maxPoints <= 0 || n <= maxPoints {
		return 1
	}
	return (n + maxPoints - 1) / maxPoints
}

// Budget derives a point budget from a baseline and a zoom level:
// floor(baseline / zoom), zoom clamped to [MinZoom, MaxZoom], never below 1.
func Budget(baseline int, zoom float64) int {
	zoom = ClampZoom(zoom)
	b := int(math.Floor(float64(baseline) / zoom))
	if b < 1 {
		b = 1
	}
	return b
}

// ClampZoom bounds zoom to [MinZoom, MaxZoom]. Non-positive or NaN zoom maps to 1.
func ClampZoom(zoom float64) float64 {
	if zoom != zoom || zoom <= 0 {
		return 1
	}
	return math.Max(MinZoom, math.Min(MaxZoom, zoom))
}
