package arrays

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ConcatTime joins datasets sharing every non-time dimension along time.
// The result is sorted by time; attributes come from the first part.
func ConcatTime(parts []*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	if len(parts) == 1 {
		return parts[0].Clone(), nil
	}
	first := parts[0]
	out := first.Clone()
	total, _ := first.DimLen(TimeDim)

	for _, p := range parts[1:] {
		n, ok := p.DimLen(TimeDim)
		if !ok {
			return nil, fmt.Errorf("part has no time dimension")
		}
		for _, d := range p.Dims {
			if d.Name == TimeDim {
				continue
			}
			if l, ok := out.DimLen(d.Name); !ok || l != d.Len {
				return nil, fmt.Errorf("dimension %s differs between parts", d.Name)
			}
		}
		for _, c := range out.Coords {
			if indexOf(c.Dims, TimeDim) < 0 {
				continue
			}
			pc := p.Coord(c.Name)
			if pc == nil {
				return nil, fmt.Errorf("coordinate %s missing from part", c.Name)
			}
			if err := appendAlongTime(c.Dims, out, p, func(axis int, shapeOut, shapeIn []int) {
				if c.IsTime() {
					c.Times = concatTimesAxis(c.Times, pc.Times, shapeOut, shapeIn, axis)
				} else {
					c.Values = concatAxis(c.Values, pc.Values, shapeOut, shapeIn, axis)
				}
			}); err != nil {
				return nil, err
			}
		}
		for _, v := range out.Vars {
			pv := p.Var(v.Name)
			if pv == nil {
				return nil, fmt.Errorf("variable %s missing from part", v.Name)
			}
			if indexOf(v.Dims, TimeDim) < 0 {
				continue
			}
			if err := appendAlongTime(v.Dims, out, p, func(axis int, shapeOut, shapeIn []int) {
				v.Data = concatAxis(v.Data, pv.Data, shapeOut, shapeIn, axis)
			}); err != nil {
				return nil, err
			}
		}
		total += n
		for i := range out.Dims {
			if out.Dims[i].Name == TimeDim {
				out.Dims[i].Len = total
			}
		}
	}
	return out.SortDim(TimeDim)
}

func appendAlongTime(dims []string, out, part *Dataset, apply func(axis int, shapeOut, shapeIn []int)) error {
	axis := indexOf(dims, TimeDim)
	shapeOut := out.shape(dims)
	shapeIn := part.shape(dims)
	for i := range shapeOut {
		if i != axis && shapeOut[i] != shapeIn[i] {
			return fmt.Errorf("shape mismatch on %s", dims[i])
		}
	}
	apply(axis, shapeOut, shapeIn)
	return nil
}

func concatAxis(a, b []float64, shapeA, shapeB []int, axis int) []float64 {
	outer, inner := product(shapeA[:axis]), product(shapeA[axis+1:])
	na, nb := shapeA[axis]*inner, shapeB[axis]*inner
	out := make([]float64, 0, len(a)+len(b))
	for o := 0; o < outer; o++ {
		out = append(out, a[o*na:(o+1)*na]...)
		out = append(out, b[o*nb:(o+1)*nb]...)
	}
	return out
}

func concatTimesAxis(a, b []time.Time, shapeA, shapeB []int, axis int) []time.Time {
	outer, inner := product(shapeA[:axis]), product(shapeA[axis+1:])
	na, nb := shapeA[axis]*inner, shapeB[axis]*inner
	out := make([]time.Time, 0, len(a)+len(b))
	for o := 0; o < outer; o++ {
		out = append(out, a[o*na:(o+1)*na]...)
		out = append(out, b[o*nb:(o+1)*nb]...)
	}
	return out
}

// Stack combines single-location time series along a new leading dimension.
// Time axes are outer-joined; scalar coordinates become coordinates along
// dim. Attributes come from the first part.
func Stack(dim string, parts []*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to stack")
	}
	for _, p := range parts {
		for _, d := range p.Dims {
			if d.Name != TimeDim {
				return nil, fmt.Errorf("cannot stack dataset with dimension %s", d.Name)
			}
		}
	}

	union := unionTimes(parts)
	out := &Dataset{Attrs: parts[0].Attrs.Clone()}
	out.Dims = []Dim{{Name: dim, Len: len(parts)}, {Name: TimeDim, Len: len(union)}}
	out.SetCoord(&Coord{Name: TimeDim, Dims: []string{TimeDim}, Times: union,
		Attrs: timeAttrs(parts[0])})

	for _, c := range parts[0].Coords {
		if len(c.Dims) != 0 || c.IsTime() {
			continue
		}
		values := make([]float64, len(parts))
		for i, p := range parts {
			pc := p.Coord(c.Name)
			if pc == nil || pc.Len() != 1 {
				return nil, fmt.Errorf("scalar coordinate %s missing from part %d", c.Name, i)
			}
			values[i] = pc.Values[0]
		}
		out.SetCoord(&Coord{Name: c.Name, Dims: []string{dim}, Values: values,
			Attrs: c.Attrs.Clone(), Float32: c.Float32})
	}

	for _, v := range parts[0].Vars {
		data := make([]float64, len(parts)*len(union))
		for i := range data {
			data[i] = math.NaN()
		}
		for i, p := range parts {
			pv := p.Var(v.Name)
			if pv == nil {
				continue
			}
			pos := timePositions(union, p.Times())
			if len(pv.Dims) == 0 {
				continue
			}
			for t, x := range pv.Data {
				data[i*len(union)+pos[t]] = x
			}
		}
		dims := []string{dim, TimeDim}
		if indexOf(v.Dims, TimeDim) < 0 {
			dims = []string{dim}
			data = data[:0]
			for _, p := range parts {
				x := math.NaN()
				if pv := p.Var(v.Name); pv != nil && len(pv.Data) == 1 {
					x = pv.Data[0]
				}
				data = append(data, x)
			}
		}
		out.SetVar(&Variable{Name: v.Name, Dims: dims, Data: data, Attrs: v.Attrs.Clone(), Float32: v.Float32})
	}
	return out, nil
}

func timeAttrs(ds *Dataset) *Attributes {
	if c := ds.Coord(TimeDim); c != nil {
		return c.Attrs.Clone()
	}
	return NewAttributes()
}

func unionTimes(parts []*Dataset) []time.Time {
	seen := make(map[int64]bool)
	union := []time.Time{}
	for _, p := range parts {
		for _, t := range p.Times() {
			if k := t.UnixNano(); !seen[k] {
				seen[k] = true
				union = append(union, t)
			}
		}
	}
	sort.Slice(union, func(i, j int) bool { return union[i].Before(union[j]) })
	return union
}

func timePositions(union, times []time.Time) []int {
	index := make(map[int64]int, len(union))
	for i, t := range union {
		index[t.UnixNano()] = i
	}
	pos := make([]int, len(times))
	for i, t := range times {
		pos[i] = index[t.UnixNano()]
	}
	return pos
}

// MergeOuter merges datasets that share the given dims but not necessarily
// their coordinate values. Coordinates along dims are outer-joined and sorted
// ascending; missing cells become NaN. Global attributes are taken from
// parts[attrsFrom]. Variables of later parts replace same-named earlier ones.
func MergeOuter(dims []string, parts []*Dataset, attrsFrom int) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to merge")
	}
	if attrsFrom < 0 || attrsFrom >= len(parts) {
		return nil, fmt.Errorf("attribute source %d out of range", attrsFrom)
	}

	out := &Dataset{Attrs: parts[attrsFrom].Attrs.Clone()}
	unions := make(map[string][]float64, len(dims))
	for _, dim := range dims {
		var values []float64
		seen := make(map[float64]bool)
		var src *Coord
		for _, p := range parts {
			c := p.Coord(dim)
			if c == nil || c.IsTime() {
				return nil, fmt.Errorf("dimension %s has no numeric coordinate in every operand", dim)
			}
			if src == nil {
				src = c
			}
			for _, v := range c.Values {
				if !seen[v] {
					seen[v] = true
					values = append(values, v)
				}
			}
		}
		sort.Float64s(values)
		unions[dim] = values
		out.Dims = append(out.Dims, Dim{Name: dim, Len: len(values)})
		out.SetCoord(&Coord{Name: dim, Dims: []string{dim}, Values: values,
			Attrs: src.Attrs.Clone(), Float32: src.Float32})
	}

	for _, p := range parts {
		for _, d := range p.Dims {
			if indexOf(dims, d.Name) >= 0 {
				continue
			}
			if err := out.AddDim(d.Name, d.Len); err != nil {
				return nil, err
			}
		}
		for _, c := range p.Coords {
			if indexOf(dims, c.Name) >= 0 || out.Coord(c.Name) != nil {
				continue
			}
			if sharesAny(c.Dims, dims) {
				continue
			}
			out.SetCoord(c.clone())
		}
		for _, v := range p.Vars {
			nv, err := reindex(v, p, out, dims, unions)
			if err != nil {
				return nil, err
			}
			out.SetVar(nv)
		}
	}
	return out, nil
}

func sharesAny(a, b []string) bool {
	for _, x := range a {
		if indexOf(b, x) >= 0 {
			return true
		}
	}
	return false
}

func reindex(v *Variable, src, dst *Dataset, dims []string, unions map[string][]float64) (*Variable, error) {
	inShape := src.shape(v.Dims)
	outShape := dst.shape(v.Dims)
	inStrides := stridesOf(inShape)

	// per-axis map from output index to input index (-1 when absent)
	maps := make([][]int, len(v.Dims))
	for a, d := range v.Dims {
		values, joined := unions[d]
		if !joined {
			m := make([]int, inShape[a])
			for i := range m {
				m[i] = i
			}
			maps[a] = m
			continue
		}
		c := src.Coord(d)
		pos := make(map[float64]int, len(c.Values))
		for i, x := range c.Values {
			if _, dup := pos[x]; !dup {
				pos[x] = i
			}
		}
		m := make([]int, len(values))
		for i, x := range values {
			if j, ok := pos[x]; ok {
				m[i] = j
			} else {
				m[i] = -1
			}
		}
		maps[a] = m
	}

	n := product(outShape)
	data := make([]float64, n)
	outStrides := stridesOf(outShape)
	for flat := 0; flat < n; flat++ {
		in := 0
		missing := false
		for a := range outShape {
			j := maps[a][(flat/outStrides[a])%outShape[a]]
			if j < 0 {
				missing = true
				break
			}
			in += j * inStrides[a]
		}
		if missing {
			data[flat] = math.NaN()
		} else {
			data[flat] = v.Data[in]
		}
	}
	return &Variable{Name: v.Name, Dims: append([]string(nil), v.Dims...), Data: data,
		Attrs: v.Attrs.Clone(), Float32: v.Float32}, nil
}
