package export

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/parquet-go/parquet-go"

	"climatedata-api/internal/arrays"
)

// ParquetOptions controls WriteParquet.
type ParquetOptions struct {
	// Columns selects the frame columns to write; nil writes all of them.
	Columns  []string
	Decimals int
	Verbatim []string
}

// parquetSchema maps frame columns to parquet nodes: time as a nanosecond
// timestamp, labels as optional strings, numbers as optional doubles.
func parquetSchema(cols []*arrays.Column) *parquet.Schema {
	group := make(parquet.Group, len(cols))
	for _, c := range cols {
		switch {
		case c.IsTime():
			group[c.Name] = parquet.Timestamp(parquet.Nanosecond)
		case c.IsString():
			group[c.Name] = parquet.Optional(parquet.String())
		default:
			group[c.Name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		}
	}
	return parquet.NewSchema("export", group)
}

// WriteParquet writes f as a single row group, snappy compressed. The file
// columns follow the schema order, which sorts them by name.
func WriteParquet(w io.Writer, f *arrays.Frame, opts ParquetOptions) error {
	names := opts.Columns
	if names == nil {
		for _, c := range f.Columns {
			names = append(names, c.Name)
		}
	}
	var cols []*arrays.Column
	for _, name := range names {
		if c := f.Column(name); c != nil {
			cols = append(cols, c)
		}
	}
	if opts.Verbatim == nil {
		opts.Verbatim = []string{arrays.TimeDim, "lat", "lon"}
	}
	verbatim := make(map[string]bool, len(opts.Verbatim))
	for _, name := range opts.Verbatim {
		verbatim[name] = true
	}

	schema := parquetSchema(cols)
	fields := schema.Fields()
	ordered := make([]*arrays.Column, len(fields))
	for i, field := range fields {
		ordered[i] = f.Column(field.Name())
	}

	rowBuf := parquet.NewBuffer(schema)
	for r := 0; r < f.Rows; r++ {
		row := make(parquet.Row, len(ordered))
		for i, c := range ordered {
			row[i] = parquetValue(c, r, opts.Decimals, verbatim[c.Name]).Level(0, defLevel(c, r), i)
		}
		if _, err := rowBuf.WriteRows([]parquet.Row{row}); err != nil {
			return fmt.Errorf("parquet: write row %d: %w", r, err)
		}
	}

	var buf bytes.Buffer
	pw := parquet.NewWriter(&buf, schema, parquet.Compression(&parquet.Snappy))
	if _, err := pw.WriteRowGroup(rowBuf); err != nil {
		_ = pw.Close()
		return fmt.Errorf("parquet: write row group: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}
	_, err := io.Copy(w, &buf)
	return err
}

// defLevel is 1 for present optional values, 0 for nulls and required columns.
func defLevel(c *arrays.Column, r int) int {
	switch {
	case c.IsTime():
		return 0
	case c.IsString():
		if c.Strings[r] == "" {
			return 0
		}
		return 1
	case math.IsNaN(c.Values[r]):
		return 0
	default:
		return 1
	}
}

func parquetValue(c *arrays.Column, r, decimals int, verbatim bool) parquet.Value {
	switch {
	case c.IsTime():
		return parquet.Int64Value(c.Times[r].UnixNano())
	case c.IsString():
		if c.Strings[r] == "" {
			return parquet.NullValue()
		}
		return parquet.ByteArrayValue([]byte(c.Strings[r]))
	case math.IsNaN(c.Values[r]):
		return parquet.NullValue()
	case verbatim:
		return parquet.DoubleValue(c.Values[r])
	default:
		return parquet.DoubleValue(Round(c.Values[r], decimals))
	}
}

// Parquet encodes f into an attachment named filename.
func Parquet(filename string, f *arrays.Frame, opts ParquetOptions) (*Artifact, error) {
	var buf bytes.Buffer
	if err := WriteParquet(&buf, f, opts); err != nil {
		return nil, err
	}
	a := Bytes(filename, ContentTypeParquet, buf.Bytes())
	a.Attachment = true
	return a, nil
}
