package model

// Location is one named point in a point-location table. Coordinates are
// WGS84 degrees.
type Location struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ProjectedPoint is a coordinate in a projected CRS, in meters.
type ProjectedPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
