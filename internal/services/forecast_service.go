package services

import (
	"bytes"
	"context"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/export"
	"climatedata-api/internal/models"
	"climatedata-api/internal/s2d"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

// ForecastService exports merged seasonal-to-decadal forecasts.
type ForecastService struct {
	cfg     *config.Config
	merger  *s2d.Merger
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewForecastService creates a new forecast service
func NewForecastService(cfg *config.Config, merger *s2d.Merger, logger logging.Logger, metricsCollector *metrics.Collector) *ForecastService {
	return &ForecastService{
		cfg:     cfg,
		merger:  merger,
		logger:  logger,
		metrics: metricsCollector,
	}
}

func (s *ForecastService) parseVariable(v string) error {
	for _, known := range s.cfg.S2D.Variables {
		if v == known {
			return nil
		}
	}
	return models.Invalid("var", "Invalid variable `%s`", v)
}

func parseForecastFrequency(f string) (models.ForecastFrequency, error) {
	switch freq := models.ForecastFrequency(f); freq {
	case models.ForecastMonthly, models.ForecastSeasonal:
		return freq, nil
	default:
		return "", models.Invalid("frequency", "Invalid frequency `%s`", f)
	}
}

// ParseForecast validates a periodic forecast body.
func (s *ForecastService) ParseForecast(body models.ForecastBody) (models.ForecastRequest, error) {
	req := models.ForecastRequest{Variable: body.Var, Decimals: s.cfg.S2D.Decimals}

	if err := s.parseVariable(body.Var); err != nil {
		return req, err
	}
	switch ft := models.ForecastType(body.ForecastType); ft {
	case models.ForecastExpected, models.ForecastUnusual:
		req.ForecastType = ft
	default:
		return req, models.Invalid("forecast_type", "Invalid forecast_type `%s`", body.ForecastType)
	}

	var err error
	if req.Frequency, err = parseForecastFrequency(body.Frequency); err != nil {
		return req, err
	}
	if req.Periods, err = models.ParsePeriods(body.Periods); err != nil {
		return req, err
	}
	if req.Format, err = models.ParseFormat(body.Format, models.FormatJSON, models.FormatCSV, models.FormatNetCDF); err != nil {
		return req, err
	}
	if req.Geometry, err = models.ParseGeometry(body.Points, body.BBox, s.cfg.Export.DownloadPointsLimit, false); err != nil {
		return req, err
	}
	if req.Decimals, err = parseDecimals(string(body.Decimals), req.Decimals); err != nil {
		return req, err
	}
	return req, nil
}

// Download merges the requested periods and zips one file per period.
// CSV and JSON files are accompanied by their own metadata file.
func (s *ForecastService) Download(ctx context.Context, req models.ForecastRequest) (*export.Artifact, error) {
	res, err := s.merger.Merge(ctx, req)
	if err != nil {
		return nil, err
	}

	var entries []export.Entry
	for _, p := range res.Periods {
		switch req.Format {
		case models.FormatNetCDF:
			nc, err := export.NetCDF(p.Basename+".nc", p.Dataset, export.NetCDFOptions{TempDir: s.cfg.Storage.TempDir})
			if err != nil {
				return nil, err
			}
			defer nc.Close()
			entries = append(entries, export.Entry{Name: nc.Filename, Body: nc.Body})
		default:
			payload, ext, err := s.encodePeriod(req, p.Dataset)
			if err != nil {
				return nil, err
			}
			entries = append(entries,
				export.TextEntry("metadata_"+p.Basename+".txt", []byte(export.Metadata(p.Dataset))),
				export.TextEntry(p.Basename+"."+ext, payload),
			)
		}
	}

	a, err := export.Zip(res.ZipName, entries)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordExport("download_s2d", string(req.Format), a.Size, len(res.Periods))
	s.logger.Info(ctx, "[EXPORT_S2D] Periodic forecast encoded", logging.Fields{
		"variable":      req.Variable,
		"forecast_type": req.ForecastType,
		"frequency":     req.Frequency,
		"periods":       len(res.Periods),
		"release":       res.Release.Format("2006-01-02"),
	})
	return a, nil
}

// encodePeriod writes the rows of a merged period sorted by lat and lon.
// Cells masked out of a point selection are skipped.
func (s *ForecastService) encodePeriod(req models.ForecastRequest, ds *arrays.Dataset) ([]byte, string, error) {
	all := ds.DropCoords("region").ToFrame().SortBy("lat", "lon")
	f := all
	if !req.Geometry.IsBBox() {
		data := all.DataColumns()
		f = all.Filter(func(r int) bool { return !all.AllMissing(r, data) })
	}
	columns := s.columns(ds)

	var buf bytes.Buffer
	if req.Format == models.FormatJSON {
		if err := export.WriteRecords(&buf, f, columns, req.Decimals); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "json", nil
	}
	if err := export.WriteCSV(&buf, f, export.CSVOptions{Columns: columns, Decimals: req.Decimals}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "csv", nil
}

// columns orders the CSV columns, then the forecast, climatology and skill
// variables, keeping those present in ds.
func (s *ForecastService) columns(ds *arrays.Dataset) []string {
	var out []string
	for _, c := range s.cfg.Export.CSVColumnsOrder {
		if ds.Coord(c) != nil && c != arrays.TimeDim {
			out = append(out, c)
		}
	}
	for _, group := range [][]string{s.cfg.S2D.ForecastVars, s.cfg.S2D.ClimatologyVars, s.cfg.S2D.SkillVars} {
		for _, name := range group {
			if ds.Var(name) != nil {
				out = append(out, name)
			}
		}
	}
	return out
}

// ReleaseDate returns the release date of a forecast as YYYY-MM-DD.
func (s *ForecastService) ReleaseDate(ctx context.Context, variable, frequency string) (string, error) {
	if err := s.parseVariable(variable); err != nil {
		return "", err
	}
	freq, err := parseForecastFrequency(frequency)
	if err != nil {
		return "", err
	}
	release, err := s.merger.ReleaseDate(ctx, variable, freq)
	if err != nil {
		return "", err
	}
	return release.Format("2006-01-02"), nil
}
