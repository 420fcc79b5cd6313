// Package arrays reads and writes netCDF files as labeled in-memory datasets.
package arrays

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// TimeDim is the name of the time dimension and coordinate.
const TimeDim = "time"

// Dim is a named dimension.
type Dim struct {
	Name string
	Len  int
}

// Coord is a coordinate variable. A coordinate with no dims is scalar, one
// whose single dim equals its name is a dimension coordinate.
type Coord struct {
	Name    string
	Dims    []string
	Values  []float64
	Times   []time.Time
	Attrs   *Attributes
	Float32 bool
}

// IsTime reports whether the coordinate holds decoded timestamps.
func (c *Coord) IsTime() bool {
	return c.Times != nil
}

// Len is the number of elements of the coordinate.
func (c *Coord) Len() int {
	if c.Times != nil {
		return len(c.Times)
	}
	return len(c.Values)
}

func (c *Coord) clone() *Coord {
	out := &Coord{Name: c.Name, Attrs: c.Attrs.Clone(), Float32: c.Float32}
	out.Dims = append([]string(nil), c.Dims...)
	if c.Times != nil {
		out.Times = make([]time.Time, len(c.Times))
		copy(out.Times, c.Times)
	} else {
		out.Values = append([]float64(nil), c.Values...)
	}
	return out
}

// Variable is a data variable stored row-major over Dims.
type Variable struct {
	Name    string
	Dims    []string
	Data    []float64
	Attrs   *Attributes
	Float32 bool
}

func (v *Variable) clone() *Variable {
	return &Variable{
		Name:    v.Name,
		Dims:    append([]string(nil), v.Dims...),
		Data:    append([]float64(nil), v.Data...),
		Attrs:   v.Attrs.Clone(),
		Float32: v.Float32,
	}
}

// Dataset is a detached in-memory copy of (part of) a netCDF file.
type Dataset struct {
	Dims   []Dim
	Coords []*Coord
	Vars   []*Variable
	Attrs  *Attributes
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{Attrs: NewAttributes()}
}

// DimLen returns the length of dim.
func (ds *Dataset) DimLen(name string) (int, bool) {
	for _, d := range ds.Dims {
		if d.Name == name {
			return d.Len, true
		}
	}
	return 0, false
}

func (ds *Dataset) HasDim(name string) bool {
	_, ok := ds.DimLen(name)
	return ok
}

func (ds *Dataset) Coord(name string) *Coord {
	for _, c := range ds.Coords {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (ds *Dataset) Var(name string) *Variable {
	for _, v := range ds.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// VarNames lists data variables in order.
func (ds *Dataset) VarNames() []string {
	names := make([]string, len(ds.Vars))
	for i, v := range ds.Vars {
		names[i] = v.Name
	}
	return names
}

// Times returns the decoded time axis, nil when the dataset has none.
func (ds *Dataset) Times() []time.Time {
	if c := ds.Coord(TimeDim); c != nil {
		return c.Times
	}
	return nil
}

// AddDim registers a dimension, failing on a conflicting length.
func (ds *Dataset) AddDim(name string, n int) error {
	if l, ok := ds.DimLen(name); ok {
		if l != n {
			return fmt.Errorf("dimension %s has length %d, got %d", name, l, n)
		}
		return nil
	}
	ds.Dims = append(ds.Dims, Dim{Name: name, Len: n})
	return nil
}

// SetCoord adds or replaces a coordinate.
func (ds *Dataset) SetCoord(c *Coord) {
	if c.Attrs == nil {
		c.Attrs = NewAttributes()
	}
	for i, old := range ds.Coords {
		if old.Name == c.Name {
			ds.Coords[i] = c
			return
		}
	}
	ds.Coords = append(ds.Coords, c)
}

// SetVar adds or replaces a data variable.
func (ds *Dataset) SetVar(v *Variable) {
	if v.Attrs == nil {
		v.Attrs = NewAttributes()
	}
	for i, old := range ds.Vars {
		if old.Name == v.Name {
			ds.Vars[i] = v
			return
		}
	}
	ds.Vars = append(ds.Vars, v)
}

// Clone returns a deep copy.
func (ds *Dataset) Clone() *Dataset {
	out := &Dataset{Attrs: ds.Attrs.Clone()}
	out.Dims = append([]Dim(nil), ds.Dims...)
	for _, c := range ds.Coords {
		out.Coords = append(out.Coords, c.clone())
	}
	for _, v := range ds.Vars {
		out.Vars = append(out.Vars, v.clone())
	}
	return out
}

// KeepVars retains only the named data variables that exist.
func (ds *Dataset) KeepVars(names ...string) *Dataset {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := ds.Clone()
	out.Vars = out.Vars[:0]
	for _, v := range ds.Vars {
		if keep[v.Name] {
			out.Vars = append(out.Vars, v.clone())
		}
	}
	return out
}

// Select applies sel to an in-memory dataset the way File.Read applies it
// to a file: unaccepted data variables are dropped and, when at least one
// time step falls inside the window, the other steps are dropped too.
func (ds *Dataset) Select(sel Selection) (*Dataset, error) {
	out := ds
	if sel.Vars != nil {
		out = ds.Clone()
		out.Vars = out.Vars[:0]
		for _, v := range ds.Vars {
			if sel.Vars(v.Name) {
				out.Vars = append(out.Vars, v.clone())
			}
		}
	}
	if !sel.windowed() || out.Times() == nil {
		return out, nil
	}
	var idx []int
	for i, t := range out.Times() {
		if sel.contains(t) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return out, nil
	}
	return out.Sel(TimeDim, idx)
}

// DropVars removes the named data variables; unknown names are ignored.
func (ds *Dataset) DropVars(names ...string) *Dataset {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := ds.Clone()
	out.Vars = out.Vars[:0]
	for _, v := range ds.Vars {
		if !drop[v.Name] {
			out.Vars = append(out.Vars, v.clone())
		}
	}
	return out
}

func (ds *Dataset) shape(dims []string) []int {
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i], _ = ds.DimLen(d)
	}
	return shape
}

// Nearest returns the index of the coordinate value closest to value along
// dim. Ties resolve to the first index.
func (ds *Dataset) Nearest(dim string, value float64) (int, error) {
	c := ds.Coord(dim)
	if c == nil || c.IsTime() || len(c.Dims) != 1 || c.Dims[0] != dim {
		return 0, fmt.Errorf("no numeric coordinate for dimension %s", dim)
	}
	best, bestDist := -1, math.Inf(1)
	for i, v := range c.Values {
		if d := math.Abs(v - value); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("dimension %s is empty", dim)
	}
	return best, nil
}

// IndexOf returns the first index whose coordinate along dim equals value.
func (ds *Dataset) IndexOf(dim string, value float64) (int, bool) {
	c := ds.Coord(dim)
	if c == nil || c.IsTime() {
		return 0, false
	}
	for i, v := range c.Values {
		if v == value {
			return i, true
		}
	}
	return 0, false
}

// Sel keeps the given indices along dim, in the given order.
func (ds *Dataset) Sel(dim string, indices []int) (*Dataset, error) {
	n, ok := ds.DimLen(dim)
	if !ok {
		return nil, fmt.Errorf("unknown dimension %s", dim)
	}
	for _, i := range indices {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("index %d out of range for %s (len %d)", i, dim, n)
		}
	}

	out := &Dataset{Attrs: ds.Attrs.Clone()}
	for _, d := range ds.Dims {
		if d.Name == dim {
			d.Len = len(indices)
		}
		out.Dims = append(out.Dims, d)
	}
	for _, c := range ds.Coords {
		nc := c.clone()
		if axis := indexOf(c.Dims, dim); axis >= 0 {
			shape := ds.shape(c.Dims)
			if c.IsTime() {
				nc.Times = takeTimes(c.Times, shape, axis, indices)
			} else {
				nc.Values = take(c.Values, shape, axis, indices)
			}
		}
		out.Coords = append(out.Coords, nc)
	}
	for _, v := range ds.Vars {
		nv := v.clone()
		if axis := indexOf(v.Dims, dim); axis >= 0 {
			nv.Data = take(v.Data, ds.shape(v.Dims), axis, indices)
		}
		out.Vars = append(out.Vars, nv)
	}
	return out, nil
}

// Isel selects one index along dim and removes the dimension. Coordinates
// along dim become scalar coordinates.
func (ds *Dataset) Isel(dim string, index int) (*Dataset, error) {
	sel, err := ds.Sel(dim, []int{index})
	if err != nil {
		return nil, err
	}
	return sel.Squeeze(dim)
}

// Squeeze removes a dimension of length one.
func (ds *Dataset) Squeeze(dim string) (*Dataset, error) {
	n, ok := ds.DimLen(dim)
	if !ok {
		return nil, fmt.Errorf("unknown dimension %s", dim)
	}
	if n != 1 {
		return nil, fmt.Errorf("cannot squeeze %s of length %d", dim, n)
	}
	out := ds.Clone()
	dims := out.Dims[:0]
	for _, d := range out.Dims {
		if d.Name != dim {
			dims = append(dims, d)
		}
	}
	out.Dims = dims
	for _, c := range out.Coords {
		c.Dims = removeName(c.Dims, dim)
	}
	for _, v := range out.Vars {
		v.Dims = removeName(v.Dims, dim)
	}
	return out, nil
}

// DropCoords removes coordinates by name.
func (ds *Dataset) DropCoords(names ...string) *Dataset {
	out := ds.Clone()
	coords := out.Coords[:0]
	for _, c := range out.Coords {
		if indexOf(names, c.Name) < 0 {
			coords = append(coords, c)
		}
	}
	out.Coords = coords
	return out
}

// SelectTime keeps the time steps for which keep returns true.
func (ds *Dataset) SelectTime(keep func(time.Time) bool) (*Dataset, error) {
	times := ds.Times()
	if times == nil {
		return nil, fmt.Errorf("dataset has no time coordinate")
	}
	var idx []int
	for i, t := range times {
		if keep(t) {
			idx = append(idx, i)
		}
	}
	return ds.Sel(TimeDim, idx)
}

// DropEmpty removes the indices along dim at which every data variable that
// spans dim is missing.
func (ds *Dataset) DropEmpty(dim string) (*Dataset, error) {
	n, ok := ds.DimLen(dim)
	if !ok {
		return nil, fmt.Errorf("unknown dimension %s", dim)
	}
	valid := make([]bool, n)
	for _, v := range ds.Vars {
		axis := indexOf(v.Dims, dim)
		if axis < 0 {
			continue
		}
		shape := ds.shape(v.Dims)
		inner := product(shape[axis+1:])
		for flat, x := range v.Data {
			if !math.IsNaN(x) {
				valid[(flat/inner)%shape[axis]] = true
			}
		}
	}
	var keep []int
	for i, ok := range valid {
		if ok {
			keep = append(keep, i)
		}
	}
	return ds.Sel(dim, keep)
}

// Mask sets to NaN every element of the variables spanning both dims for
// which keep(i, j) is false.
func (ds *Dataset) Mask(dimA, dimB string, keep func(i, j int) bool) *Dataset {
	out := ds.Clone()
	for _, v := range out.Vars {
		a, b := indexOf(v.Dims, dimA), indexOf(v.Dims, dimB)
		if a < 0 || b < 0 {
			continue
		}
		shape := out.shape(v.Dims)
		strides := stridesOf(shape)
		for flat := range v.Data {
			i := (flat / strides[a]) % shape[a]
			j := (flat / strides[b]) % shape[b]
			if !keep(i, j) {
				v.Data[flat] = math.NaN()
			}
		}
	}
	return out
}

// AddOffset adds offset to every value of the variables for which apply is true.
func (ds *Dataset) AddOffset(offset float64, apply func(name string) bool) *Dataset {
	out := ds.Clone()
	if offset == 0 {
		return out
	}
	for _, v := range out.Vars {
		if !apply(v.Name) {
			continue
		}
		for i := range v.Data {
			v.Data[i] += offset
		}
	}
	return out
}

// SortDim reorders dim so that its coordinate is ascending.
func (ds *Dataset) SortDim(dim string) (*Dataset, error) {
	c := ds.Coord(dim)
	if c == nil {
		return nil, fmt.Errorf("no coordinate for dimension %s", dim)
	}
	idx := make([]int, c.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if c.IsTime() {
			return c.Times[idx[a]].Before(c.Times[idx[b]])
		}
		return c.Values[idx[a]] < c.Values[idx[b]]
	})
	return ds.Sel(dim, idx)
}

func indexOf(list []string, name string) int {
	for i, s := range list {
		if s == name {
			return i
		}
	}
	return -1
}

func removeName(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != name {
			out = append(out, s)
		}
	}
	return out
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

func take(data []float64, shape []int, axis int, indices []int) []float64 {
	outer, inner, n := product(shape[:axis]), product(shape[axis+1:]), shape[axis]
	out := make([]float64, 0, outer*len(indices)*inner)
	for o := 0; o < outer; o++ {
		for _, i := range indices {
			start := (o*n + i) * inner
			out = append(out, data[start:start+inner]...)
		}
	}
	return out
}

func takeTimes(data []time.Time, shape []int, axis int, indices []int) []time.Time {
	outer, inner, n := product(shape[:axis]), product(shape[axis+1:]), shape[axis]
	out := make([]time.Time, 0, outer*len(indices)*inner)
	for o := 0; o < outer; o++ {
		for _, i := range indices {
			start := (o*n + i) * inner
			out = append(out, data[start:start+inner]...)
		}
	}
	return out
}
