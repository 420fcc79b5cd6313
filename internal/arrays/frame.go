package arrays

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Column is one column of a Frame. Time columns carry Times and label
// columns carry Strings instead of Values.
type Column struct {
	Name    string
	Values  []float64
	Times   []time.Time
	Strings []string
	Float32 bool
	// Index marks coordinate columns (time, lat, lon, ...).
	Index bool
}

func (c *Column) IsTime() bool { return c.Times != nil }

func (c *Column) IsString() bool { return c.Strings != nil }

// Len is the number of rows held by the column.
func (c *Column) Len() int {
	switch {
	case c.IsTime():
		return len(c.Times)
	case c.IsString():
		return len(c.Strings)
	default:
		return len(c.Values)
	}
}

// StringColumn builds a label column.
func StringColumn(name string, values []string) *Column {
	if values == nil {
		values = []string{}
	}
	return &Column{Name: name, Strings: values, Index: true}
}

// NewFrame assembles a frame from columns of equal length.
func NewFrame(columns ...*Column) (*Frame, error) {
	f := &Frame{}
	for i, c := range columns {
		if i == 0 {
			f.Rows = c.Len()
		} else if c.Len() != f.Rows {
			return nil, fmt.Errorf("column %s: %d rows, want %d", c.Name, c.Len(), f.Rows)
		}
		f.Columns = append(f.Columns, c)
	}
	return f, nil
}

// Frame is a row-oriented view of a dataset.
type Frame struct {
	Columns []*Column
	Rows    int
}

// Column returns the named column or nil.
func (f *Frame) Column(name string) *Column {
	for _, c := range f.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// DataColumns returns the non-index columns.
func (f *Frame) DataColumns() []*Column {
	var out []*Column
	for _, c := range f.Columns {
		if !c.Index {
			out = append(out, c)
		}
	}
	return out
}

// ToFrame flattens ds with one row per element of the cartesian product of
// its dimensions, in dimension order. Dimensions without a coordinate are
// iterated but not emitted as columns.
func (ds *Dataset) ToFrame() *Frame {
	dims := make([]string, len(ds.Dims))
	shape := make([]int, len(ds.Dims))
	for i, d := range ds.Dims {
		dims[i], shape[i] = d.Name, d.Len
	}
	rows := product(shape)
	strides := stridesOf(shape)

	// maps a row to the flat index of a variable spanning varDims
	indexer := func(varDims []string) func(r int) int {
		axes := make([]int, len(varDims))
		for a, d := range varDims {
			axes[a] = indexOf(dims, d)
		}
		subStrides := stridesOf(ds.shape(varDims))
		return func(r int) int {
			idx := 0
			for a, axis := range axes {
				idx += ((r / strides[axis]) % shape[axis]) * subStrides[a]
			}
			return idx
		}
	}

	f := &Frame{Rows: rows}
	for _, c := range ds.Coords {
		col := &Column{Name: c.Name, Float32: c.Float32, Index: true}
		if c.IsTime() {
			col.Times = make([]time.Time, rows)
		} else {
			col.Values = make([]float64, rows)
		}
		at := indexer(c.Dims)
		for r := 0; r < rows; r++ {
			i := at(r)
			if c.IsTime() {
				col.Times[r] = c.Times[i]
			} else {
				col.Values[r] = c.Values[i]
			}
		}
		f.Columns = append(f.Columns, col)
	}
	for _, v := range ds.Vars {
		col := &Column{Name: v.Name, Float32: v.Float32, Values: make([]float64, rows)}
		at := indexer(v.Dims)
		for r := 0; r < rows; r++ {
			col.Values[r] = v.Data[at(r)]
		}
		f.Columns = append(f.Columns, col)
	}
	return f
}

// ConcatFrames stacks frames row-wise. Columns are the union in order of
// first appearance; absent values are NaN (or the zero time).
func ConcatFrames(frames []*Frame) *Frame {
	out := &Frame{}
	for _, fr := range frames {
		for _, c := range fr.Columns {
			if out.Column(c.Name) == nil {
				nc := &Column{Name: c.Name, Float32: c.Float32, Index: c.Index}
				switch {
				case c.IsTime():
					nc.Times = []time.Time{}
				case c.IsString():
					nc.Strings = []string{}
				default:
					nc.Values = []float64{}
				}
				out.Columns = append(out.Columns, nc)
			}
		}
	}
	for _, fr := range frames {
		for _, oc := range out.Columns {
			c := fr.Column(oc.Name)
			for r := 0; r < fr.Rows; r++ {
				switch {
				case oc.IsTime() && c != nil && c.IsTime():
					oc.Times = append(oc.Times, c.Times[r])
				case oc.IsTime():
					oc.Times = append(oc.Times, time.Time{})
				case oc.IsString() && c != nil && c.IsString():
					oc.Strings = append(oc.Strings, c.Strings[r])
				case oc.IsString():
					oc.Strings = append(oc.Strings, "")
				case c != nil && !c.IsTime() && !c.IsString():
					oc.Values = append(oc.Values, c.Values[r])
				default:
					oc.Values = append(oc.Values, math.NaN())
				}
			}
		}
		out.Rows += fr.Rows
	}
	return out
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	var idx []int
	for r := 0; r < f.Rows; r++ {
		if keep(r) {
			idx = append(idx, r)
		}
	}
	return f.take(idx)
}

// SortBy orders rows ascending by the named columns; missing columns are skipped.
func (f *Frame) SortBy(names ...string) *Frame {
	var keys []*Column
	for _, n := range names {
		if c := f.Column(n); c != nil {
			keys = append(keys, c)
		}
	}
	idx := make([]int, f.Rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := idx[a], idx[b]
		for _, c := range keys {
			if c.IsTime() {
				if !c.Times[ra].Equal(c.Times[rb]) {
					return c.Times[ra].Before(c.Times[rb])
				}
				continue
			}
			if c.IsString() {
				if c.Strings[ra] != c.Strings[rb] {
					return c.Strings[ra] < c.Strings[rb]
				}
				continue
			}
			if c.Values[ra] != c.Values[rb] {
				return c.Values[ra] < c.Values[rb]
			}
		}
		return false
	})
	return f.take(idx)
}

// Slice returns rows [from, to).
func (f *Frame) Slice(from, to int) *Frame {
	idx := make([]int, 0, to-from)
	for r := from; r < to; r++ {
		idx = append(idx, r)
	}
	return f.take(idx)
}

// AllMissing reports whether every data column is NaN at row.
func (f *Frame) AllMissing(row int, columns []*Column) bool {
	for _, c := range columns {
		if c.IsString() {
			if c.Strings[row] != "" {
				return false
			}
			continue
		}
		if !c.IsTime() && !math.IsNaN(c.Values[row]) {
			return false
		}
	}
	return true
}

func (f *Frame) take(idx []int) *Frame {
	out := &Frame{Rows: len(idx)}
	for _, c := range f.Columns {
		nc := &Column{Name: c.Name, Float32: c.Float32, Index: c.Index}
		switch {
		case c.IsTime():
			nc.Times = make([]time.Time, len(idx))
			for i, r := range idx {
				nc.Times[i] = c.Times[r]
			}
		case c.IsString():
			nc.Strings = make([]string, len(idx))
			for i, r := range idx {
				nc.Strings[i] = c.Strings[r]
			}
		default:
			nc.Values = make([]float64, len(idx))
			for i, r := range idx {
				nc.Values[i] = c.Values[r]
			}
		}
		out.Columns = append(out.Columns, nc)
	}
	return out
}
