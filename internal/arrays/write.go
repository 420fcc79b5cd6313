package arrays

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// TimeEncodingRef is the reference date of time coordinates written by WriteFile.
var TimeEncodingRef = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteFile writes ds to path as a classic netCDF file. Time is stored as
// days since TimeEncodingRef on the standard calendar; missing values are
// written as NaN.
func WriteFile(path string, ds *Dataset) error {
	w, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := writeAll(w, ds); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func writeAll(w api.Writer, ds *Dataset) error {
	var auxiliary []string
	for _, c := range ds.Coords {
		if !(len(c.Dims) == 1 && c.Dims[0] == c.Name) && c.Name != "lat" && c.Name != "lon" {
			auxiliary = append(auxiliary, c.Name)
		}
	}

	for _, c := range ds.Coords {
		attrs := c.Attrs.Clone()
		var values []float64
		f32 := c.Float32
		if c.IsTime() {
			values = EncodeTimes(c.Times, TimeEncodingRef)
			attrs.Set("units", "days since "+TimeEncodingRef.Format("2006-01-02 15:04:05"))
			attrs.Set("calendar", "standard")
			f32 = false
		} else {
			values = c.Values
		}
		if err := addVar(w, c.Name, c.Dims, ds.shape(c.Dims), values, f32, attrs); err != nil {
			return err
		}
	}

	for _, v := range ds.Vars {
		attrs := v.Attrs.Clone()
		if len(auxiliary) > 0 {
			attrs.Set("coordinates", strings.Join(usedCoords(ds, v, auxiliary), " "))
			if attrs.String("coordinates") == "" {
				attrs.Delete("coordinates")
			}
		}
		if err := addVar(w, v.Name, v.Dims, ds.shape(v.Dims), v.Data, v.Float32, attrs); err != nil {
			return err
		}
	}

	global, err := orderedMap(ds.Attrs)
	if err != nil {
		return err
	}
	return w.AddAttributes(global)
}

// usedCoords lists the auxiliary coordinates whose dims are all spanned by v.
func usedCoords(ds *Dataset, v *Variable, auxiliary []string) []string {
	var out []string
	for _, name := range auxiliary {
		c := ds.Coord(name)
		ok := true
		for _, d := range c.Dims {
			if indexOf(v.Dims, d) < 0 {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func addVar(w api.Writer, name string, dims []string, shape []int, data []float64, f32 bool, attrs *Attributes) error {
	for _, k := range []string{"_FillValue", "missing_value", "scale_factor", "add_offset"} {
		attrs.Delete(k)
	}
	om, err := orderedMap(attrs)
	if err != nil {
		return fmt.Errorf("attributes of %s: %w", name, err)
	}
	values := nest(data, shape, f32)
	if err := w.AddVar(name, api.Variable{
		Values:     values,
		Dimensions: append([]string(nil), dims...),
		Attributes: om,
	}); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// nest rebuilds the nested slice layout expected by the netCDF writer.
func nest(data []float64, shape []int, f32 bool) interface{} {
	elem := reflect.TypeOf(float64(0))
	if f32 {
		elem = reflect.TypeOf(float32(0))
	}
	if len(shape) == 0 {
		if f32 {
			return float32(data[0])
		}
		return data[0]
	}

	types := make([]reflect.Type, len(shape)+1)
	types[len(shape)] = elem
	for i := len(shape) - 1; i >= 0; i-- {
		types[i] = reflect.SliceOf(types[i+1])
	}

	pos := 0
	var build func(level int) reflect.Value
	build = func(level int) reflect.Value {
		s := reflect.MakeSlice(types[level], shape[level], shape[level])
		for i := 0; i < shape[level]; i++ {
			if level == len(shape)-1 {
				if f32 {
					s.Index(i).SetFloat(float64(float32(data[pos])))
				} else {
					s.Index(i).SetFloat(data[pos])
				}
				pos++
				continue
			}
			s.Index(i).Set(build(level + 1))
		}
		return s
	}
	return build(0).Interface()
}

func orderedMap(attrs *Attributes) (*util.OrderedMap, error) {
	keys := attrs.Keys()
	vals := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		v, _ := attrs.Get(k)
		vals[k] = writableAttr(v)
	}
	return util.NewOrderedMap(append([]string(nil), keys...), vals)
}

// writableAttr maps Go values the writer has no netCDF type for.
func writableAttr(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int32(x)
	case int64:
		return int32(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case []string:
		return strings.Join(x, " ")
	default:
		return v
	}
}
