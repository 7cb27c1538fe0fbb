package geo

import "math"

// EarthRadiusMiles is the mean Earth radius used for every distance in the
// service.
const EarthRadiusMiles = 3958.8

// DistanceMiles returns the haversine great-circle distance between two
// points in miles, or NaN if any coordinate is not finite.
func DistanceMiles(lat1, lng1, lat2, lng2 float64) float64 {
	for _, v := range [...]float64{lat1, lng1, lat2, lng2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.NaN()
		}
	}
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMiles * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
