package arrays

import (
	"fmt"
	"time"
)

// DimCoord builds a dimension coordinate. attrs are key/value pairs.
func DimCoord(name string, values []float64, attrs ...string) *Coord {
	return &Coord{Name: name, Dims: []string{name}, Values: values, Attrs: pairs(attrs)}
}

// TimeCoord builds the time dimension coordinate.
func TimeCoord(times []time.Time) *Coord {
	if times == nil {
		times = []time.Time{}
	}
	return &Coord{Name: TimeDim, Dims: []string{TimeDim}, Times: times, Attrs: NewAttributes()}
}

// NewGrid creates an empty (time, lat, lon) dataset.
func NewGrid(times []time.Time, lats, lons []float64) *Dataset {
	ds := NewDataset()
	ds.Dims = []Dim{{TimeDim, len(times)}, {"lat", len(lats)}, {"lon", len(lons)}}
	ds.SetCoord(TimeCoord(times))
	ds.SetCoord(DimCoord("lat", lats, "units", "degrees_north"))
	ds.SetCoord(DimCoord("lon", lons, "units", "degrees_east"))
	return ds
}

// AddVar adds a data variable over existing dims, checking its size.
func (ds *Dataset) AddVar(name string, dims []string, data []float64, attrs ...string) error {
	for _, d := range dims {
		if !ds.HasDim(d) {
			return fmt.Errorf("variable %s: unknown dimension %s", name, d)
		}
	}
	if want := product(ds.shape(dims)); len(data) != want {
		return fmt.Errorf("variable %s: %d values for %d cells", name, len(data), want)
	}
	ds.SetVar(&Variable{Name: name, Dims: append([]string(nil), dims...), Data: data, Attrs: pairs(attrs)})
	return nil
}

func pairs(kv []string) *Attributes {
	a := NewAttributes()
	for i := 0; i+1 < len(kv); i += 2 {
		a.Set(kv[i], kv[i+1])
	}
	return a
}
