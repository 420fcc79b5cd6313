// Package export encodes datasets and frames into the download formats:
// CSV, bracketed JSON, netCDF, Parquet and zip archives with a metadata
// sidecar.
package export

import (
	"bytes"
	"io"
	"math"
	"strconv"
)

// Content types of the encoded payloads.
const (
	ContentTypeCSV     = "text/csv"
	ContentTypeJSON    = "application/json"
	ContentTypeNetCDF  = "application/x-netcdf4"
	ContentTypeParquet = "application/vnd.apache.parquet"
	ContentTypeZip     = "application/zip"
)

// EncodingGzip marks a body that is gzip-compressed on top of its content
// type.
const EncodingGzip = "gzip"

// Artifact is an encoded response body. Callers must Close it once written.
type Artifact struct {
	Filename    string
	ContentType string
	// Encoding is the content coding already applied to Body, "" for none.
	Encoding string
	// Attachment asks the transport to send a Content-Disposition header.
	Attachment bool
	Body       io.Reader
	Size       int64
	closer     io.Closer
}

// Bytes wraps an in-memory payload.
func Bytes(filename, contentType string, data []byte) *Artifact {
	return &Artifact{
		Filename:    filename,
		ContentType: contentType,
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
	}
}

// Close releases the resources held by the body.
func (a *Artifact) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// FormatFixed renders v with exactly decimals digits, NaN as "".
func FormatFixed(v float64, decimals int) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// Round rounds v half away from zero to decimals digits.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

// FormatShortest renders v rounded to decimals in its shortest form.
func FormatShortest(v float64, decimals int) string {
	return strconv.FormatFloat(Round(v, decimals), 'f', -1, 64)
}
