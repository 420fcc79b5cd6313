// Package subset reduces opened datasets to the requested geometry and time
// window.
package subset

import (
	"fmt"
	"sort"
	"time"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/models"
)

// Options are applied after spatial selection.
type Options struct {
	// Offset is added to every non-delta data variable.
	Offset float64
	// Floor drops time steps strictly before it when non-zero.
	Floor time.Time
}

// UnitOffset returns the Kelvin offset of ds, decided by the units of probe.
func UnitOffset(ds *arrays.Dataset, probe string) float64 {
	v := ds.Var(probe)
	if v == nil {
		return 0
	}
	return models.UnitOffset(v.Attrs.String("units"))
}

// Apply adds the unit offset and applies the time floor.
func Apply(ds *arrays.Dataset, opts Options) (*arrays.Dataset, error) {
	out := ds.AddOffset(opts.Offset, func(name string) bool { return !models.IsDeltaVar(name) })
	if opts.Floor.IsZero() || !out.HasDim(arrays.TimeDim) {
		return out, nil
	}
	return out.SelectTime(func(t time.Time) bool { return !t.Before(opts.Floor) })
}

// Point selects the cell nearest to p and drops the time steps at which
// every variable is missing.
func Point(ds *arrays.Dataset, p models.Point, opts Options) (*arrays.Dataset, error) {
	i, err := ds.Nearest("lat", p.Lat)
	if err != nil {
		return nil, err
	}
	j, err := ds.Nearest("lon", p.Lon)
	if err != nil {
		return nil, err
	}
	out, err := ds.Isel("lat", i)
	if err != nil {
		return nil, err
	}
	if out, err = out.Isel("lon", j); err != nil {
		return nil, err
	}
	if out, err = out.DropEmpty(arrays.TimeDim); err != nil {
		return nil, err
	}
	return Apply(out, opts)
}

// IsEmpty reports whether ds has no time step left.
func IsEmpty(ds *arrays.Dataset) bool {
	n, ok := ds.DimLen(arrays.TimeDim)
	return ok && n == 0
}

// Batch subsets every dataset at every point. Result i holds the non-empty
// subsets of the i-th surviving point, in dataset order; points without any
// data are discarded. All points discarded is an EmptyResultError.
func Batch(datasets []*arrays.Dataset, points []models.Point, opts Options) ([][]*arrays.Dataset, error) {
	var out [][]*arrays.Dataset
	for _, p := range points {
		var parts []*arrays.Dataset
		for _, ds := range datasets {
			sub, err := Point(ds, p, opts)
			if err != nil {
				return nil, fmt.Errorf("subset point (%v, %v): %w", p.Lat, p.Lon, err)
			}
			if !IsEmpty(sub) {
				parts = append(parts, sub)
			}
		}
		if len(parts) > 0 {
			out = append(out, parts)
		}
	}
	if len(out) == 0 {
		return nil, &models.EmptyResultError{Message: "No points found"}
	}
	return out, nil
}

// BBox crops ds to the inclusive coordinate range of box.
func BBox(ds *arrays.Dataset, box models.BBox, opts Options) (*arrays.Dataset, error) {
	box = box.Normalize()
	out, err := crop(ds, "lat", box.LatMin, box.LatMax)
	if err != nil {
		return nil, err
	}
	if out, err = crop(out, "lon", box.LonMin, box.LonMax); err != nil {
		return nil, err
	}
	return Apply(out, opts)
}

func crop(ds *arrays.Dataset, dim string, lo, hi float64) (*arrays.Dataset, error) {
	c := ds.Coord(dim)
	if c == nil {
		return nil, fmt.Errorf("no %s coordinate", dim)
	}
	idx := []int{}
	for i, v := range c.Values {
		if v >= lo && v <= hi {
			idx = append(idx, i)
		}
	}
	return ds.Sel(dim, idx)
}

// Region selects the entry of dim whose label equals index and drops every
// coordinate but time.
func Region(ds *arrays.Dataset, dim string, index int) (*arrays.Dataset, error) {
	i, ok := ds.IndexOf(dim, float64(index))
	if !ok {
		n, has := ds.DimLen(dim)
		if !has || index < 0 || index >= n || ds.Coord(dim) != nil {
			return nil, models.Invalid("index", "Invalid region index %d", index)
		}
		// positional fallback for files without a region coordinate
		i = index
	}
	out, err := ds.Isel(dim, i)
	if err != nil {
		return nil, err
	}
	var drop []string
	for _, c := range out.Coords {
		if c.Name != arrays.TimeDim {
			drop = append(drop, c.Name)
		}
	}
	return out.DropCoords(drop...), nil
}

// PointsMasked keeps the rectangle of lats and lons nearest to points and
// masks to NaN every cell that is not the nearest cell of some point.
func PointsMasked(ds *arrays.Dataset, points []models.Point) (*arrays.Dataset, error) {
	type cell struct{ i, j int }
	cells := make([]cell, len(points))
	latSet, lonSet := map[int]bool{}, map[int]bool{}
	for k, p := range points {
		i, err := ds.Nearest("lat", p.Lat)
		if err != nil {
			return nil, err
		}
		j, err := ds.Nearest("lon", p.Lon)
		if err != nil {
			return nil, err
		}
		cells[k] = cell{i, j}
		latSet[i], lonSet[j] = true, true
	}

	lats, lons := sortedKeys(latSet), sortedKeys(lonSet)
	out, err := ds.Sel("lat", lats)
	if err != nil {
		return nil, err
	}
	if out, err = out.Sel("lon", lons); err != nil {
		return nil, err
	}

	keep := make(map[cell]bool, len(cells))
	for _, c := range cells {
		keep[cell{indexIn(lats, c.i), indexIn(lons, c.j)}] = true
	}
	return out.Mask("lat", "lon", func(i, j int) bool { return keep[cell{i, j}] }), nil
}

// FilterMonth keeps the time steps falling in month.
func FilterMonth(ds *arrays.Dataset, month int) (*arrays.Dataset, error) {
	return ds.SelectTime(func(t time.Time) bool { return int(t.Month()) == month })
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func indexIn(list []int, v int) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
