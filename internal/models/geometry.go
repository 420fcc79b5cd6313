package models

import "math"

// Point is a (lat, lon) pair.
type Point struct {
	Lat float64
	Lon float64
}

// BBox is [lat_min, lon_min, lat_max, lon_max] as sent by clients.
type BBox struct {
	LatMin float64
	LonMin float64
	LatMax float64
	LonMax float64
}

// Normalize swaps bounds so that min <= max on each axis.
func (b BBox) Normalize() BBox {
	return BBox{
		LatMin: math.Min(b.LatMin, b.LatMax),
		LatMax: math.Max(b.LatMin, b.LatMax),
		LonMin: math.Min(b.LonMin, b.LonMax),
		LonMax: math.Max(b.LonMin, b.LonMax),
	}
}

// Geometry holds exactly one of Points or BBox.
type Geometry struct {
	Points []Point
	BBox   *BBox
}

// IsBBox reports whether the geometry is a bounding box.
func (g Geometry) IsBBox() bool {
	return g.BBox != nil
}

// ParseGeometry validates the raw points/bbox request fields. A nil slice
// means the field was absent. With allMonths the points limit is shared by
// the twelve monthly files.
func ParseGeometry(points [][]float64, bbox []float64, pointsLimit int, allMonths bool) (Geometry, error) {
	if points != nil && bbox != nil {
		return Geometry{}, Invalid("points", "Can't request both points and bbox simultaneously")
	}

	switch {
	case points != nil:
		if len(points) == 0 {
			return Geometry{}, Invalid("points", "Points parameter is empty")
		}
		limit := float64(pointsLimit)
		if allMonths {
			limit /= 12
		}
		if float64(len(points)) > limit {
			return Geometry{}, Invalid("points", "Too many points requested")
		}
		out := make([]Point, len(points))
		for i, p := range points {
			if len(p) != 2 {
				return Geometry{}, Invalid("points", "Points must have exactly 2 coordinates each")
			}
			out[i] = Point{Lat: p[0], Lon: p[1]}
		}
		return Geometry{Points: out}, nil
	case bbox != nil:
		if len(bbox) != 4 {
			return Geometry{}, Invalid("bbox", "bbox must be an array of length 4")
		}
		return Geometry{BBox: &BBox{LatMin: bbox[0], LonMin: bbox[1], LatMax: bbox[2], LonMax: bbox[3]}}, nil
	default:
		return Geometry{}, Invalid("points", "Neither points or bbox requested")
	}
}
