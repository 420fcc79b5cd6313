package models

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format is an output encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatNetCDF  Format = "netcdf"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts s when it is one of allowed.
func ParseFormat(s string, allowed ...Format) (Format, error) {
	for _, f := range allowed {
		if string(f) == s {
			return f, nil
		}
	}
	return "", &ValidationError{Field: "format", Value: s, Message: "Invalid format `" + s + "`"}
}

// FlexBool decodes JSON true/false as well as the strings "true"/"false".
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return &ValidationError{Field: "zipped", Value: s, Message: "zipped must be a boolean"}
	}
	*b = FlexBool(v)
	return nil
}

// FlexNumber keeps the text of a JSON number or string, so 2 and "2" decode
// alike. Callers parse and validate it.
type FlexNumber string

func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*n = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		*n = FlexNumber(strings.TrimSpace(s))
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return fmt.Errorf("not a number: %s", raw)
	}
	*n = FlexNumber(raw)
	return nil
}

// DownloadBody is the JSON body of a point/bbox export.
type DownloadBody struct {
	Var            string      `json:"var"`
	Month          string      `json:"month"`
	Format         string      `json:"format"`
	Zipped         FlexBool    `json:"zipped"`
	Points         [][]float64 `json:"points"`
	BBox           []float64   `json:"bbox"`
	DatasetName    string      `json:"dataset_name"`
	DatasetType    string      `json:"dataset_type"`
	CustomFilename string      `json:"custom_filename"`
	Decimals       FlexNumber  `json:"decimals"`
}

// ExportRequest is a validated point/bbox export.
type ExportRequest struct {
	Variable   string
	Period     Period
	AllMonths  bool
	Generation Generation
	Kind       Kind
	Geometry   Geometry
	Format     Format
	Decimals   int
	Zipped     bool
	Filename   string
}

// ForecastBody is the JSON body of a periodic forecast export.
type ForecastBody struct {
	Var          string      `json:"var"`
	Format       string      `json:"format"`
	Points       [][]float64 `json:"points"`
	BBox         []float64   `json:"bbox"`
	ForecastType string      `json:"forecast_type"`
	Frequency    string      `json:"frequency"`
	Periods      []string    `json:"periods"`
	Decimals     FlexNumber  `json:"decimals"`
}

// ForecastType selects which probability family a periodic export keeps.
type ForecastType string

const (
	ForecastExpected ForecastType = "expected"
	ForecastUnusual  ForecastType = "unusual"
)

// ForecastFrequency is the sampling of a periodic forecast.
type ForecastFrequency string

const (
	ForecastMonthly  ForecastFrequency = "monthly"
	ForecastSeasonal ForecastFrequency = "seasonal"
)

// ForecastRequest is a validated periodic forecast export.
type ForecastRequest struct {
	Variable     string
	Format       Format
	Geometry     Geometry
	ForecastType ForecastType
	Frequency    ForecastFrequency
	Periods      []time.Time
	Decimals     int
}

// ParsePeriods parses "YYYY-MM" tokens.
func ParsePeriods(tokens []string) ([]time.Time, error) {
	if len(tokens) == 0 {
		return nil, Invalid("periods", "Invalid periods. They should follow the YYYY-MM format")
	}
	out := make([]time.Time, len(tokens))
	for i, tok := range tokens {
		t, err := time.Parse("2006-01", strings.TrimSpace(tok))
		if err != nil {
			return nil, Invalid("periods", "Invalid periods. They should follow the YYYY-MM format")
		}
		out[i] = t
	}
	return out, nil
}

// StationBody is the JSON body (or query string) of a station export.
type StationBody struct {
	Format             string   `json:"format"`
	Stations           []string `json:"stations"`
	VariableTypeFilter string   `json:"variable_type_filter"`
	Zipped             FlexBool `json:"zipped"`
}

// StationRequest is a validated station export.
type StationRequest struct {
	Format     Format
	Stations   []string
	TypeFilter string
	Zipped     bool
}

// LocationQuery carries the raw path and query values of the single-cell
// and regional GET routes.
type LocationQuery struct {
	Lat         string
	Lon         string
	Partition   string
	Index       string
	Variable    string
	Month       string
	Decimals    string
	DatasetName string
}

// IsRegional reports whether the query names a partition region.
func (q LocationQuery) IsRegional() bool {
	return q.Partition != ""
}

// SliceRequest selects the series of one grid cell or one region.
type SliceRequest struct {
	Variable   string
	Period     Period
	Generation Generation
	Decimals   int
	// Point is set for grid cell requests.
	Point     *Point
	Partition string
	Region    int
}
