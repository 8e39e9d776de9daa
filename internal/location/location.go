// Package location maps raw coordinates onto cache keys.
//
// Keys identify a rounded geographic cell, not an exact point: both
// coordinates are formatted to two decimal places (roughly 1.1 km at
// the equator), so nearby requests collide into one cache entry and
// share one upstream fetch. The rounding precision is load-bearing and
// must stay in sync with the cache semantics.
package location

import "fmt"

// Precision is the number of decimal places kept per coordinate.
const Precision = 2

// Key returns the canonical cache key for a coordinate pair, e.g.
// "(40.71,-74.00)". Deterministic and total: equal inputs always
// produce equal keys, and coordinates within the same rounding cell
// normalize identically.
func Key(lat, lon float64) string {
	return fmt.Sprintf("(%.*f,%.*f)", Precision, lat, Precision, lon)
}
