// Package geo converts consecutive GPS observations into physical
// quantities. All functions are pure and safe for concurrent use.
package geo

import (
	"math"
	"time"
)

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// Distance returns the great-circle distance in kilometers between two
// (lat, lon) pairs given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Asin(math.Sqrt(a))

	return earthRadiusKm * c
}

// SpeedKph returns the average speed in km/h implied by moving between two
// points. Zero or negative elapsed time yields 0; duplicate and
// out-of-order timestamps must never fault the pipeline.
func SpeedKph(lat1, lon1 float64, t1 time.Time, lat2, lon2 float64, t2 time.Time) float64 {
	hours := t2.Sub(t1).Hours()
	if hours <= 0 {
		return 0
	}
	return Distance(lat1, lon1, lat2, lon2) / hours
}

// AccelerationKphS returns the change in speed in km/h per second between
// two observations. Zero or negative elapsed time yields 0.
func AccelerationKphS(v1 float64, t1 time.Time, v2 float64, t2 time.Time) float64 {
	seconds := t2.Sub(t1).Seconds()
	if seconds <= 0 {
		return 0
	}
	return (v2 - v1) / seconds
}
