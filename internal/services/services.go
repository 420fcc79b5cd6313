// Package services implements the export, 30-year, chart, forecast and
// station operations on top of the locator, subsetter and serializers.
package services

import (
	"context"
	"strconv"
	"strings"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/locator"
	"climatedata-api/internal/models"
)

// DatasetSource opens the array files behind service requests.
// *locator.Locator implements it.
type DatasetSource interface {
	Open(ctx context.Context, req locator.Request) (*arrays.Dataset, error)
	OpenOptional(ctx context.Context, req locator.Request) (*arrays.Dataset, bool, error)
	OpenPath(ctx context.Context, label, key string, sel arrays.Selection) (*arrays.Dataset, error)
}

const defaultGeneration = "CMIP5"

func invalidDecimals() error {
	return models.Invalid("decimals", "invalid number of decimals")
}

// parseDecimals reads an optional decimals query value.
func parseDecimals(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	d, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return 0, invalidDecimals()
	}
	return d, nil
}

func parseGeneration(name string) (models.Generation, error) {
	if strings.TrimSpace(name) == "" {
		name = defaultGeneration
	}
	return models.ParseGeneration(name)
}

func parseVariable(cfg *config.Config, v string) error {
	if !cfg.IsVariable(v) {
		return &models.ValidationError{Field: "var", Value: v, Message: "Invalid variable requested"}
	}
	return nil
}

// ParseSlice validates the raw values of a single-cell or regional route.
func ParseSlice(cfg *config.Config, q models.LocationQuery, defaultDecimals int) (models.SliceRequest, error) {
	req := models.SliceRequest{Variable: q.Variable, Partition: q.Partition}

	if q.IsRegional() {
		idx, err := strconv.Atoi(strings.TrimSpace(q.Index))
		if err != nil {
			return req, &models.ValidationError{Field: "index", Value: q.Index, Message: "Invalid region index"}
		}
		req.Region = idx
	} else {
		lat, err := strconv.ParseFloat(strings.TrimSpace(q.Lat), 64)
		if err != nil {
			return req, &models.ValidationError{Field: "lat", Value: q.Lat, Message: "Invalid latitude"}
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(q.Lon), 64)
		if err != nil {
			return req, &models.ValidationError{Field: "lon", Value: q.Lon, Message: "Invalid longitude"}
		}
		req.Point = &models.Point{Lat: lat, Lon: lon}
	}

	month := q.Month
	if month == "" {
		month = "ann"
	}
	period, err := models.LookupPeriod(month)
	if err != nil {
		return req, err
	}
	req.Period = period

	if req.Decimals, err = parseDecimals(q.Decimals, defaultDecimals); err != nil {
		return req, err
	}
	if err := parseVariable(cfg, q.Variable); err != nil {
		return req, err
	}
	if req.Generation, err = parseGeneration(q.DatasetName); err != nil {
		return req, err
	}
	return req, nil
}

// sliceRequest builds the locator request of kind for a slice.
func sliceRequest(req models.SliceRequest, gen models.Generation, kind models.Kind) locator.Request {
	lr := locator.Request{
		Generation: gen,
		Kind:       kind,
		Variable:   req.Variable,
		Freq:       req.Period.Freq,
		Partition:  req.Partition,
	}
	// partitioned files hold every period of the frequency
	if req.Partition == "" {
		lr.Period = req.Period.Suffix
	}
	return lr
}
