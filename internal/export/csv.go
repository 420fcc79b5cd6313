package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"climatedata-api/internal/arrays"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// CSVOptions controls WriteCSV.
type CSVOptions struct {
	// Columns lists the output columns in order. Columns absent from the
	// frame are written as empty cells. Nil writes every column.
	Columns  []string
	Decimals int
	// Verbatim columns are not fixed-decimal formatted. Nil means time, lat
	// and lon.
	Verbatim []string
}

// ColumnOrder returns the preferred columns present in f, then the
// remaining columns sorted by name.
func ColumnOrder(f *arrays.Frame, preferred []string) []string {
	seen := make(map[string]bool, len(preferred))
	var out []string
	for _, name := range preferred {
		if f.Column(name) != nil && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	var rest []string
	for _, c := range f.Columns {
		if !seen[c.Name] {
			rest = append(rest, c.Name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// WriteCSV writes f with a single header line.
func WriteCSV(w io.Writer, f *arrays.Frame, opts CSVOptions) error {
	columns := opts.Columns
	if columns == nil {
		columns = make([]string, len(f.Columns))
		for i, c := range f.Columns {
			columns[i] = c.Name
		}
	}
	verbatim := make(map[string]bool)
	if opts.Verbatim == nil {
		opts.Verbatim = []string{arrays.TimeDim, "lat", "lon"}
	}
	for _, name := range opts.Verbatim {
		verbatim[name] = true
	}

	cols := make([]*arrays.Column, len(columns))
	layouts := make([]string, len(columns))
	for i, name := range columns {
		cols[i] = f.Column(name)
		if cols[i] != nil && cols[i].IsTime() {
			layouts[i] = TimeLayout(cols[i].Times)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(columns))
	for r := 0; r < f.Rows; r++ {
		for i, c := range cols {
			switch {
			case c == nil:
				record[i] = ""
			case c.IsTime():
				record[i] = formatTime(c.Times[r], layouts[i])
			case c.IsString():
				record[i] = c.Strings[r]
			case verbatim[c.Name]:
				record[i] = formatVerbatim(c.Values[r])
			default:
				record[i] = FormatFixed(c.Values[r], opts.Decimals)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", r, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// TimeLayout is the date layout when every timestamp is midnight, the full
// date-time layout otherwise.
func TimeLayout(times []time.Time) string {
	for _, t := range times {
		if t.IsZero() {
			continue
		}
		if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
			return dateTimeLayout
		}
	}
	return dateLayout
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}

func formatVerbatim(v float64) string {
	return FormatFixed(v, -1)
}
