package model

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoArea is a circular area around a center point.
type GeoArea struct {
	Center  GeoPoint `json:"center"`
	RadiusM float64  `json:"radius_m"`
}

// MinDisasterRadiusM is the smallest radius a disaster zone may declare.
const MinDisasterRadiusM = 100
