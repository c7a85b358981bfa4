package link

import (
	"math"
	"strings"
	"unicode"
)

// Confidence formulas live here as standalone pure functions so each one is
// independently testable and the scoring stays out of orchestration code.

// exactKeyBase is the confidence of a byte-identical key match.
const exactKeyBase = 0.95

// normalizeCostPenalty is deducted per character touched while normalizing
// a key value, keeping looser matches visibly less confident.
const normalizeCostPenalty = 0.01

// NormalizeKey canonicalizes a link-key value for comparison: lowercases
// and strips spaces and hyphens. Returns the normalized value and the
// number of characters that had to change or be removed to get there.
func NormalizeKey(value string) (string, int) {
	var b strings.Builder
	cost := 0
	for _, r := range value {
		switch {
		case r == ' ' || r == '-' || r == '_':
			cost++
		case unicode.IsUpper(r):
			b.WriteRune(unicode.ToLower(r))
			cost++
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), cost
}

// ExactKeyConfidence scores a key match given the total normalization cost
// across both sides: 0.95 minus 0.01 per normalized character, floored at 0.
func ExactKeyConfidence(normalizeCost int) float64 {
	return math.Max(0, exactKeyBase-normalizeCostPenalty*float64(normalizeCost))
}

// GeoConfidence scores a geographic match: 1 at distance 0, 0 at the radius,
// linear in between.
func GeoConfidence(distanceMeters, radiusMeters float64) float64 {
	return math.Max(0, 1-distanceMeters/radiusMeters)
}

// TemporalConfidence scores a temporal match: 1 at zero delta, 0 at the
// window boundary, linear in between.
func TemporalConfidence(deltaSeconds, windowSeconds float64) float64 {
	return math.Max(0, 1-math.Abs(deltaSeconds)/windowSeconds)
}

const earthRadiusMeters = 6_371_000

// Haversine computes the great-circle distance in meters between two
// lat/lon points in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lon2 - lon1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
