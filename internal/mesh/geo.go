package mesh

import "math"

const earthRadiusKm = 6371.0

// haversineKm computes the great-circle distance between two
// coordinates in kilometers.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// midpoint returns the arithmetic midpoint of two coordinates. Good
// enough for the short segments estimated positions are derived from.
func midpoint(lat1, lon1, lat2, lon2 float64) (float64, float64) {
	return (lat1 + lat2) / 2, (lon1 + lon2) / 2
}

func kmToMiles(km float64) float64 {
	return km * 0.621371
}

// validCoordinates rejects NaN, infinite, and out-of-range positions.
func validCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	// 0,0 is the null island sentinel radios emit without a fix.
	if lat == 0 && lon == 0 {
		return false
	}

	return true
}
