package arrays

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// File is an open netCDF file. Variable data is only read by Load.
type File struct {
	path  string
	group api.Group
}

// Open opens path read-only.
func Open(path string) (*File, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &File{path: path, group: g}, nil
}

// Close releases the file handle. It is safe to call more than once.
func (f *File) Close() {
	if f.group != nil {
		f.group.Close()
		f.group = nil
	}
}

func (f *File) Path() string {
	return f.path
}

// Variables lists every variable of the file, coordinates included.
func (f *File) Variables() []string {
	return f.group.ListVariables()
}

// VarAttrs returns the attributes of one variable without reading its data.
func (f *File) VarAttrs(name string) (*Attributes, error) {
	vg, err := f.group.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	return convertAttrs(vg.Attributes()), nil
}

// Selection narrows what a read materialises. The zero value reads every
// variable and every time step.
type Selection struct {
	// Vars accepts the data variables to read; nil accepts all of them.
	// Coordinates are always read.
	Vars func(name string) bool
	// From and To bound the time axis, both inclusive. A zero bound is open.
	From, To time.Time
}

func (s Selection) windowed() bool {
	return !s.From.IsZero() || !s.To.IsZero()
}

func (s Selection) contains(t time.Time) bool {
	return (s.From.IsZero() || !t.Before(s.From)) && (s.To.IsZero() || !t.After(s.To))
}

// Family accepts the data variables of climate variable v: v itself and
// names carrying it between underscores, e.g. rcp26_tx_max_p50.
func Family(v string) func(name string) bool {
	return func(name string) bool {
		return name == v ||
			strings.HasPrefix(name, v+"_") ||
			strings.HasSuffix(name, "_"+v) ||
			strings.Contains(name, "_"+v+"_")
	}
}

// Named accepts exactly the listed data variables.
func Named(names ...string) func(name string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

// CoordsOnly accepts no data variable.
func CoordsOnly(string) bool { return false }

// Load reads all variables into a detached Dataset.
func (f *File) Load() (*Dataset, error) {
	return f.Read(Selection{})
}

// LoadVars reads the coordinates and the data variables accepted by keep
// (all of them when keep is nil).
func (f *File) LoadVars(keep func(name string) bool) (*Dataset, error) {
	return f.Read(Selection{Vars: keep})
}

type varHeader struct {
	name   string
	dims   []string
	attrs  *Attributes
	getter api.VarGetter
}

// Read materialises the coordinates and the variables of sel. Variables led
// by the time dimension are read with a slice of the selected time steps
// only; other variables are read whole. Packed values are unpacked, fill
// values become NaN and time is decoded per CF conventions.
func (f *File) Read(sel Selection) (*Dataset, error) {
	var headers []varHeader
	coordNames := make(map[string]bool)

	for _, name := range f.group.ListVariables() {
		vg, err := f.group.GetVarGetter(name)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		attrs := convertAttrs(vg.Attributes())
		for _, c := range strings.Fields(attrs.String("coordinates")) {
			coordNames[c] = true
		}
		headers = append(headers, varHeader{name: name, dims: append([]string(nil), vg.Dimensions()...), attrs: attrs, getter: vg})
	}

	lo, hi := -1, -1
	if sel.windowed() && timeLeads(headers) {
		var err error
		if lo, hi, err = f.timeWindow(headers, sel); err != nil {
			return nil, err
		}
	}

	ds := NewDataset()
	ds.Attrs = convertAttrs(f.group.Attributes())

	for _, h := range headers {
		isCoord := coordNames[h.name] || h.name == "lat" || h.name == "lon" ||
			(len(h.dims) == 1 && h.dims[0] == h.name)
		if !isCoord && sel.Vars != nil && !sel.Vars(h.name) {
			continue
		}

		sliced := lo >= 0 && len(h.dims) > 0 && h.dims[0] == TimeDim
		var values interface{}
		var err error
		if sliced {
			values, err = h.getter.GetSlice(int64(lo), int64(hi))
		} else {
			values, err = h.getter.Values()
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", h.name, err)
		}
		data, shape, f32, ok := flatten(values)
		if !ok {
			// character and compound variables carry no numeric data
			continue
		}
		if len(shape) != len(h.dims) {
			return nil, fmt.Errorf("variable %s: %d dimensions but rank %d data", h.name, len(h.dims), len(shape))
		}
		for i, d := range h.dims {
			if err := ds.AddDim(d, shape[i]); err != nil {
				return nil, fmt.Errorf("variable %s: %w", h.name, err)
			}
		}
		unpack(data, h.attrs)

		if !isCoord {
			h.attrs.Delete("coordinates")
			ds.SetVar(&Variable{Name: h.name, Dims: h.dims, Data: data, Attrs: h.attrs, Float32: f32})
			continue
		}

		c := &Coord{Name: h.name, Dims: h.dims, Attrs: h.attrs, Float32: f32}
		if h.name == TimeDim && h.attrs.String("units") != "" {
			times, err := DecodeTimes(data, h.attrs.String("units"), h.attrs.String("calendar"))
			if err != nil {
				return nil, fmt.Errorf("decode time: %w", err)
			}
			c.Times = times
		} else {
			c.Values = data
		}
		ds.SetCoord(c)
	}
	return ds, nil
}

// timeLeads reports whether every variable spanning time has it as its
// first dimension, the only one GetSlice cuts along.
func timeLeads(headers []varHeader) bool {
	for _, h := range headers {
		for i, d := range h.dims {
			if d == TimeDim && i > 0 {
				return false
			}
		}
	}
	return true
}

// timeWindow returns the index range [lo, hi) of the time steps inside sel.
// It returns (-1, -1) when the file has no decodable time axis or when no
// step falls inside sel; the caller then reads every step.
func (f *File) timeWindow(headers []varHeader, sel Selection) (int, int, error) {
	for _, h := range headers {
		if h.name != TimeDim || len(h.dims) != 1 || h.attrs.String("units") == "" {
			continue
		}
		values, err := h.getter.Values()
		if err != nil {
			return 0, 0, fmt.Errorf("read %s: %w", h.name, err)
		}
		data, _, _, ok := flatten(values)
		if !ok {
			return -1, -1, nil
		}
		times, err := DecodeTimes(data, h.attrs.String("units"), h.attrs.String("calendar"))
		if err != nil {
			return 0, 0, fmt.Errorf("decode time: %w", err)
		}
		lo, hi := -1, -1
		for i, t := range times {
			if sel.contains(t) {
				if lo < 0 {
					lo = i
				}
				hi = i + 1
			}
		}
		return lo, hi, nil
	}
	return -1, -1, nil
}

// ReadFile opens, loads and closes path.
func ReadFile(path string) (*Dataset, error) {
	return ReadSelection(path, Selection{})
}

// ReadSelection opens path, reads sel and closes the file.
func ReadSelection(path string, sel Selection) (*Dataset, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Read(sel)
}

func convertAttrs(m api.AttributeMap) *Attributes {
	out := NewAttributes()
	if m == nil {
		return out
	}
	for _, k := range m.Keys() {
		if v, ok := m.Get(k); ok {
			out.Set(k, v)
		}
	}
	return out
}

// unpack applies _FillValue, missing_value, scale_factor and add_offset in
// place, then drops the packing attributes.
func unpack(data []float64, attrs *Attributes) {
	fill, hasFill := attrs.Float("_FillValue")
	missing, hasMissing := attrs.Float("missing_value")
	scale, hasScale := attrs.Float("scale_factor")
	offset, hasOffset := attrs.Float("add_offset")
	if !hasScale {
		scale = 1
	}
	if hasFill || hasMissing || hasScale || hasOffset {
		for i, x := range data {
			if (hasFill && x == fill) || (hasMissing && x == missing) {
				data[i] = math.NaN()
				continue
			}
			data[i] = x*scale + offset
		}
	}
	for _, k := range []string{"_FillValue", "missing_value", "scale_factor", "add_offset"} {
		attrs.Delete(k)
	}
}

// flatten converts the nested slices returned by the netCDF reader to a
// row-major float64 slice and its shape.
func flatten(values interface{}) (data []float64, shape []int, f32 bool, ok bool) {
	switch v := values.(type) {
	case []float64:
		return append([]float64(nil), v...), []int{len(v)}, false, true
	case []float32:
		return widen(v), []int{len(v)}, true, true
	case [][][]float32:
		// gridded (time, lat, lon) data is the common case
		if len(v) > 0 && len(v[0]) > 0 {
			shape = []int{len(v), len(v[0]), len(v[0][0])}
			data = make([]float64, 0, product(shape))
			for _, plane := range v {
				for _, row := range plane {
					for _, x := range row {
						data = append(data, float64(x))
					}
				}
			}
			return data, shape, true, true
		}
	}

	rv := reflect.ValueOf(values)
	elem := rv.Type()
	for elem.Kind() == reflect.Slice {
		elem = elem.Elem()
	}
	switch elem.Kind() {
	case reflect.Float32:
		f32 = true
	case reflect.Float64,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return nil, nil, false, false
	}

	rank := 0
	for t := rv.Type(); t.Kind() == reflect.Slice; t = t.Elem() {
		rank++
	}
	shape = make([]int, rank)
	for v, i := rv, 0; i < rank; i++ {
		shape[i] = v.Len()
		if v.Len() == 0 {
			break
		}
		v = v.Index(0)
	}

	data = make([]float64, 0, product(shape))
	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		switch v.Kind() {
		case reflect.Slice:
			for i := 0; i < v.Len(); i++ {
				walk(v.Index(i))
			}
		case reflect.Float32, reflect.Float64:
			data = append(data, v.Float())
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			data = append(data, float64(v.Int()))
		default:
			data = append(data, float64(v.Uint()))
		}
	}
	walk(rv)
	return data, shape, f32, true
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
