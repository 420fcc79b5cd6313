package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// StationMissingValue marks an absent monthly value in AHCCD extracts.
const StationMissingValue = -9999.9

// StationVariable is one homogenized station series.
type StationVariable struct {
	Name string
	Type string // "T" temperature, "P" precipitation
}

// StationVariables lists the station series in export order.
var StationVariables = []StationVariable{
	{Name: "tas", Type: "T"},
	{Name: "tasmax", Type: "T"},
	{Name: "tasmin", Type: "T"},
	{Name: "pr", Type: "P"},
	{Name: "prlp", Type: "P"},
	{Name: "prsn", Type: "P"},
}

// FilterStationVariables keeps the variables of type filter; empty keeps all.
func FilterStationVariables(filter string) []StationVariable {
	if filter == "" {
		return StationVariables
	}
	var out []StationVariable
	for _, v := range StationVariables {
		if v.Type == filter {
			out = append(out, v)
		}
	}
	return out
}

// Station is an AHCCD station
type Station struct {
	StationID string    `json:"station" db:"station_id"`
	Name      string    `json:"station_name" db:"station_name"`
	Province  string    `json:"prov" db:"province"`
	Lat       float64   `json:"lat" db:"lat"`
	Lon       float64   `json:"lon" db:"lon"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// StationObservation is one monthly value of a station series.
// NULL values represented as pointers
type StationObservation struct {
	StationID string    `json:"station" db:"station_id"`
	Variable  string    `json:"variable" db:"variable"`
	Date      time.Time `json:"time" db:"obs_date"`
	Value     *float64  `json:"value,omitempty" db:"value"`
	Flag      *string   `json:"flag,omitempty" db:"flag"`
}

// RawStationRecord is one line of an AHCCD station extract.
type RawStationRecord struct {
	StationID string
	Name      string
	Province  string
	Lat       string
	Lon       string
	Year      string
	Month     string
	Value     string
	Flag      string
}

// ToStation extracts the station metadata of the record.
func (r *RawStationRecord) ToStation() (*Station, error) {
	id := strings.TrimSpace(r.StationID)
	if id == "" {
		return nil, &ValidationError{Field: "station_id", Message: "station id is required"}
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(r.Lat), 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, &ValidationError{Field: "lat", Value: r.Lat, Message: "invalid latitude"}
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(r.Lon), 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, &ValidationError{Field: "lon", Value: r.Lon, Message: "invalid longitude"}
	}
	return &Station{
		StationID: id,
		Name:      strings.TrimSpace(r.Name),
		Province:  strings.TrimSpace(r.Province),
		Lat:       lat,
		Lon:       lon,
	}, nil
}

// ToObservation converts the record for variable; -9999.9 becomes NULL.
func (r *RawStationRecord) ToObservation(variable string) (*StationObservation, error) {
	year, err := strconv.Atoi(strings.TrimSpace(r.Year))
	if err != nil {
		return nil, &ValidationError{Field: "year", Value: r.Year, Message: "invalid year"}
	}
	month, err := strconv.Atoi(strings.TrimSpace(r.Month))
	if err != nil || month < 1 || month > 12 {
		return nil, &ValidationError{Field: "month", Value: r.Month, Message: "invalid month"}
	}

	obs := &StationObservation{
		StationID: strings.TrimSpace(r.StationID),
		Variable:  variable,
		Date:      time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC),
	}

	raw := strings.TrimSpace(r.Value)
	if raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ValidationError{Field: "value", Value: r.Value, Message: "invalid value"}
		}
		if math.Abs(v-StationMissingValue) > 1e-6 {
			obs.Value = &v
		}
	}
	if flag := strings.TrimSpace(r.Flag); flag != "" {
		obs.Flag = &flag
	}
	return obs, nil
}
