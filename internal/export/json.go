package export

import (
	"fmt"
	"io"
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// isoLayout keys the data object of bracketed JSON documents.
const isoLayout = "2006-01-02T15:04:05Z"

// JSONHeader describes the series of a bracketed JSON export.
type JSONHeader struct {
	Variable string
	Freq     models.Frequency
	// Period is the month token for monthly and seasonal files.
	Period string
}

// Location is the time series of one (lat, lon) cell.
type Location struct {
	Lat   float64
	Lon   float64
	Frame *arrays.Frame
}

// GroupByLocation splits f into one time-sorted series per distinct
// (lat, lon), ordered by lat then lon.
func GroupByLocation(f *arrays.Frame) []Location {
	sorted := f.SortBy("lat", "lon", arrays.TimeDim)
	lat, lon := sorted.Column("lat"), sorted.Column("lon")
	if lat == nil || lon == nil {
		if sorted.Rows == 0 {
			return nil
		}
		return []Location{{Lat: math.NaN(), Lon: math.NaN(), Frame: sorted}}
	}

	var out []Location
	start := 0
	for r := 1; r <= sorted.Rows; r++ {
		if r < sorted.Rows && lat.Values[r] == lat.Values[start] && lon.Values[r] == lon.Values[start] {
			continue
		}
		out = append(out, Location{
			Lat:   lat.Values[start],
			Lon:   lon.Values[start],
			Frame: sorted.Slice(start, r),
		})
		start = r
	}
	return out
}

// LocationOf builds the series of a single-point frame.
func LocationOf(f *arrays.Frame) Location {
	loc := Location{Lat: math.NaN(), Lon: math.NaN(), Frame: f.SortBy(arrays.TimeDim)}
	if c := f.Column("lat"); c != nil && f.Rows > 0 {
		loc.Lat = c.Values[0]
	}
	if c := f.Column("lon"); c != nil && f.Rows > 0 {
		loc.Lon = c.Values[0]
	}
	return loc
}

// WriteJSON writes one [header, {"data": ...}] document per location,
// wrapped in a JSON array. Values are rounded to decimals; NaN is null.
func WriteJSON(w io.Writer, header JSONHeader, locations []Location, decimals int) error {
	stream := jsoniter.NewStream(json, w, 4096)
	stream.WriteArrayStart()
	for i, loc := range locations {
		if i > 0 {
			stream.WriteMore()
		}
		writeDocument(stream, header, loc, decimals)
	}
	stream.WriteArrayEnd()
	if stream.Error != nil {
		return fmt.Errorf("encode json: %w", stream.Error)
	}
	return stream.Flush()
}

func writeDocument(stream *jsoniter.Stream, header JSONHeader, loc Location, decimals int) {
	stream.WriteArrayStart()

	stream.WriteObjectStart()
	stream.WriteObjectField("variable")
	stream.WriteString(header.Variable)
	stream.WriteMore()
	stream.WriteObjectField("calculated")
	stream.WriteString(header.Freq.Label())
	switch header.Freq {
	case models.Monthly:
		stream.WriteMore()
		stream.WriteObjectField("month")
		stream.WriteString(header.Period)
	case models.Seasonal:
		stream.WriteMore()
		stream.WriteObjectField("season")
		stream.WriteString(header.Period)
	}
	stream.WriteMore()
	stream.WriteObjectField("latitude")
	writeFixed(stream, loc.Lat, 2)
	stream.WriteMore()
	stream.WriteObjectField("longitude")
	writeFixed(stream, loc.Lon, 2)
	stream.WriteObjectEnd()

	stream.WriteMore()
	stream.WriteObjectStart()
	stream.WriteObjectField("data")
	writeSeries(stream, loc.Frame, decimals)
	stream.WriteObjectEnd()

	stream.WriteArrayEnd()
}

func writeSeries(stream *jsoniter.Stream, f *arrays.Frame, decimals int) {
	stream.WriteObjectStart()
	timeCol := f.Column(arrays.TimeDim)
	if timeCol == nil || !timeCol.IsTime() {
		stream.WriteObjectEnd()
		return
	}
	var data []*arrays.Column
	for _, c := range f.Columns {
		if !c.Index && !c.IsTime() && !c.IsString() {
			data = append(data, c)
		}
	}

	first := true
	for r := 0; r < f.Rows; r++ {
		t := timeCol.Times[r]
		if t.IsZero() {
			continue
		}
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteObjectField(t.UTC().Format(isoLayout))
		stream.WriteObjectStart()
		for i, c := range data {
			if i > 0 {
				stream.WriteMore()
			}
			stream.WriteObjectField(c.Name)
			writeNumber(stream, c.Values[r], decimals)
		}
		stream.WriteObjectEnd()
	}
	stream.WriteObjectEnd()
}

// writeNumber writes v rounded to decimals; negative decimals keep v as is.
func writeNumber(stream *jsoniter.Stream, v float64, decimals int) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		stream.WriteNil()
		return
	}
	if decimals < 0 {
		stream.WriteRaw(strconv.FormatFloat(v, 'f', -1, 64))
		return
	}
	stream.WriteRaw(FormatShortest(v, decimals))
}

func writeFixed(stream *jsoniter.Stream, v float64, decimals int) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		stream.WriteNil()
		return
	}
	stream.WriteRaw(strconv.FormatFloat(v, 'f', decimals, 64))
}

// WriteRecords writes the rows of f as a JSON array of objects keyed by
// columns. Coordinates are written as stored, data values are rounded to
// decimals; NaN and absent columns are null.
func WriteRecords(w io.Writer, f *arrays.Frame, columns []string, decimals int) error {
	cols := make([]*arrays.Column, len(columns))
	for i, name := range columns {
		cols[i] = f.Column(name)
	}

	stream := jsoniter.NewStream(json, w, 4096)
	stream.WriteArrayStart()
	for r := 0; r < f.Rows; r++ {
		if r > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectStart()
		for i, c := range cols {
			if i > 0 {
				stream.WriteMore()
			}
			stream.WriteObjectField(columns[i])
			switch {
			case c == nil:
				stream.WriteNil()
			case c.IsTime():
				stream.WriteString(c.Times[r].UTC().Format(isoLayout))
			case c.IsString():
				stream.WriteString(c.Strings[r])
			case c.Index:
				writeNumber(stream, c.Values[r], -1)
			default:
				writeNumber(stream, c.Values[r], decimals)
			}
		}
		stream.WriteObjectEnd()
	}
	stream.WriteArrayEnd()
	if stream.Error != nil {
		return fmt.Errorf("encode json: %w", stream.Error)
	}
	return stream.Flush()
}

// Marshal encodes v with the package JSON configuration.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
