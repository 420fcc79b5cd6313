package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/export"
	"climatedata-api/internal/locator"
	"climatedata-api/internal/models"
	"climatedata-api/internal/subset"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

// ExportService runs point and bounding box downloads.
type ExportService struct {
	cfg     *config.Config
	source  DatasetSource
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewExportService creates a new export service
func NewExportService(cfg *config.Config, source DatasetSource, logger logging.Logger, metricsCollector *metrics.Collector) *ExportService {
	return &ExportService{
		cfg:     cfg,
		source:  source,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ParseDownload validates a download body.
func (s *ExportService) ParseDownload(body models.DownloadBody) (models.ExportRequest, error) {
	req := models.ExportRequest{
		Variable: body.Var,
		Decimals: s.cfg.Export.DefaultDecimals,
		Zipped:   bool(body.Zipped),
		Filename: body.Var,
	}

	var err error
	if req.Decimals, err = parseDecimals(string(body.Decimals), req.Decimals); err != nil {
		return req, err
	}

	if body.Month == models.AllMonthsToken {
		req.AllMonths = true
		req.Period = models.Period{Token: models.AllMonthsToken, Freq: models.Monthly}
	} else {
		period, err := models.LookupPeriod(body.Month)
		if err != nil {
			return req, err
		}
		req.Period = period
	}

	if err := parseVariable(s.cfg, body.Var); err != nil {
		return req, err
	}

	if req.Generation, err = parseGeneration(body.DatasetName); err != nil {
		return req, err
	}
	kind := body.DatasetType
	if kind == "" {
		kind = string(models.KindAllYears)
	}
	if req.Kind, err = models.ParseKind(kind); err != nil {
		return req, err
	}
	if len(s.cfg.Datasets.Templates.Lookup(req.Generation, req.Kind)) == 0 {
		return req, &models.ValidationError{Field: "dataset_type", Value: kind, Message: "Invalid dataset type requested"}
	}

	if req.Format, err = models.ParseFormat(body.Format,
		models.FormatCSV, models.FormatJSON, models.FormatNetCDF, models.FormatParquet); err != nil {
		return req, err
	}
	if req.Geometry, err = models.ParseGeometry(body.Points, body.BBox, s.cfg.Export.DownloadPointsLimit, req.AllMonths); err != nil {
		return req, err
	}

	if body.CustomFilename != "" {
		req.Filename = body.CustomFilename
	}
	return req, nil
}

// Download subsets the datasets of req and encodes them in req.Format.
func (s *ExportService) Download(ctx context.Context, req models.ExportRequest) (*export.Artifact, error) {
	datasets, floor, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}

	var offset float64
	if !s.cfg.IsSPEI(req.Variable) {
		offset = subset.UnitOffset(datasets[0], req.Generation.Spec().UnitsProbe(req.Variable))
	}
	opts := subset.Options{Offset: offset, Floor: floor}
	metadata := export.Metadata(datasets[0])

	var (
		artifact  *export.Artifact
		locations int
	)
	if req.Geometry.IsBBox() {
		artifact, locations, err = s.downloadBBox(req, datasets, opts, metadata)
	} else {
		artifact, locations, err = s.downloadPoints(req, datasets, opts, metadata)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordExport("download", string(req.Format), artifact.Size, locations)
	s.logger.Info(ctx, "[EXPORT_DOWNLOAD] Download encoded", logging.Fields{
		"variable":   req.Variable,
		"generation": req.Generation.String(),
		"format":     req.Format,
		"period":     req.Period.Token,
		"locations":  locations,
		"bytes":      artifact.Size,
	})
	return artifact, nil
}

// open loads the datasets of req and returns the time floor to apply.
func (s *ExportService) open(ctx context.Context, req models.ExportRequest) ([]*arrays.Dataset, time.Time, error) {
	gen := req.Generation
	switch {
	case req.Variable == "slr":
		if gen != models.CMIP5 && gen != models.CMIP6 {
			return nil, time.Time{}, models.Invalid("dataset_name",
				"Invalid dataset `%s` for slr. Only `CMIP5` and `CMIP6` are available for slr.", gen)
		}
		ds, err := s.source.OpenPath(ctx, "slr", s.cfg.Datasets.SeaLevelPaths[gen.String()], arrays.Selection{})
		if err != nil {
			return nil, time.Time{}, err
		}
		return []*arrays.Dataset{ds}, time.Time{}, nil

	case req.Variable == "allowance":
		if gen != models.CMIP6 {
			return nil, time.Time{}, models.Invalid("dataset_name",
				"`allowance` variable only uses the CMIP6 dataset, and has no %s data available.", gen)
		}
		ds, err := s.source.OpenPath(ctx, "allowance", s.cfg.Datasets.AllowancePath, arrays.Selection{})
		if err != nil {
			return nil, time.Time{}, err
		}
		return []*arrays.Dataset{ds}, time.Time{}, nil

	case s.cfg.IsSPEI(req.Variable):
		key := locator.Expand(s.cfg.Datasets.SPEIPath, map[string]string{"var": req.Variable})
		ds, err := s.source.OpenPath(ctx, "spei", key, arrays.Selection{From: s.cfg.SPEIFloor()})
		if err != nil {
			return nil, time.Time{}, err
		}
		if !req.AllMonths {
			if ds, err = subset.FilterMonth(ds, req.Period.Month); err != nil {
				return nil, time.Time{}, err
			}
		}
		return []*arrays.Dataset{ds}, s.cfg.SPEIFloor(), nil
	}

	periods := []models.Period{req.Period}
	if req.AllMonths {
		periods = models.MonthlyPeriods()
	}
	datasets := make([]*arrays.Dataset, 0, len(periods))
	for _, p := range periods {
		ds, err := s.source.Open(ctx, locator.Request{
			Generation: gen,
			Kind:       req.Kind,
			Variable:   req.Variable,
			Freq:       p.Freq,
			Period:     p.Suffix,
		})
		if err != nil {
			return nil, time.Time{}, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, time.Time{}, nil
}

func (s *ExportService) downloadPoints(req models.ExportRequest, datasets []*arrays.Dataset, opts subset.Options, metadata string) (*export.Artifact, int, error) {
	batch, err := subset.Batch(datasets, req.Geometry.Points, opts)
	if err != nil {
		return nil, 0, err
	}

	if req.Format == models.FormatNetCDF {
		series := make([]*arrays.Dataset, len(batch))
		for i, parts := range batch {
			if series[i], err = arrays.ConcatTime(parts); err != nil {
				return nil, 0, fmt.Errorf("join point %d: %w", i, err)
			}
		}
		combined, err := arrays.Stack("region", series)
		if err != nil {
			return nil, 0, fmt.Errorf("stack points: %w", err)
		}
		a, err := s.netCDF(req, combined, opts)
		return a, len(batch), err
	}

	frames := make([]*arrays.Frame, len(batch))
	for i, parts := range batch {
		pf := make([]*arrays.Frame, len(parts))
		for j, part := range parts {
			pf[j] = part.ToFrame()
		}
		frames[i] = arrays.ConcatFrames(pf)
	}

	if req.Format == models.FormatJSON {
		locs := make([]export.Location, len(frames))
		for i, f := range frames {
			locs[i] = export.LocationOf(f)
		}
		a, err := s.json(req, locs, metadata)
		return a, len(locs), err
	}
	a, err := s.tabular(req, arrays.ConcatFrames(frames), metadata)
	return a, len(batch), err
}

func (s *ExportService) downloadBBox(req models.ExportRequest, datasets []*arrays.Dataset, opts subset.Options, metadata string) (*export.Artifact, int, error) {
	parts := make([]*arrays.Dataset, len(datasets))
	for i, ds := range datasets {
		sub, err := subset.BBox(ds, *req.Geometry.BBox, opts)
		if err != nil {
			return nil, 0, err
		}
		parts[i] = sub
	}
	lats, _ := parts[0].DimLen("lat")
	lons, _ := parts[0].DimLen("lon")
	locations := lats * lons

	if req.Format == models.FormatNetCDF {
		combined, err := arrays.ConcatTime(parts)
		if err != nil {
			return nil, 0, fmt.Errorf("join monthly files: %w", err)
		}
		a, err := s.netCDF(req, combined, opts)
		return a, locations, err
	}

	frames := make([]*arrays.Frame, len(parts))
	for i, part := range parts {
		frames[i] = part.ToFrame()
	}
	all := arrays.ConcatFrames(frames)

	if req.Format == models.FormatJSON {
		locs := export.GroupByLocation(all)
		a, err := s.json(req, locs, metadata)
		return a, len(locs), err
	}
	a, err := s.tabular(req, all, metadata)
	return a, locations, err
}

func (s *ExportService) netCDF(req models.ExportRequest, ds *arrays.Dataset, opts subset.Options) (*export.Artifact, error) {
	return export.NetCDF(req.Filename+".nc", ds, export.NetCDFOptions{
		TempDir:  s.cfg.Storage.TempDir,
		Celsius:  opts.Offset != 0,
		Compress: true,
	})
}

func (s *ExportService) json(req models.ExportRequest, locs []export.Location, metadata string) (*export.Artifact, error) {
	var buf bytes.Buffer
	header := export.JSONHeader{Variable: req.Variable, Freq: req.Period.Freq, Period: req.Period.Token}
	if err := export.WriteJSON(&buf, header, locs, req.Decimals); err != nil {
		return nil, err
	}
	return s.finish(req, "json", export.ContentTypeJSON, buf.Bytes(), metadata)
}

// tabular writes CSV or Parquet rows sorted by lat, lon and time.
func (s *ExportService) tabular(req models.ExportRequest, all *arrays.Frame, metadata string) (*export.Artifact, error) {
	all = all.SortBy("lat", "lon", arrays.TimeDim)
	columns := export.ColumnOrder(all, s.cfg.Export.CSVColumnsOrder)

	var buf bytes.Buffer
	if req.Format == models.FormatParquet {
		if err := export.WriteParquet(&buf, all, export.ParquetOptions{Columns: columns, Decimals: req.Decimals}); err != nil {
			return nil, err
		}
		return s.finish(req, "parquet", export.ContentTypeParquet, buf.Bytes(), metadata)
	}
	if err := export.WriteCSV(&buf, all, export.CSVOptions{Columns: columns, Decimals: req.Decimals}); err != nil {
		return nil, err
	}
	return s.finish(req, "csv", export.ContentTypeCSV, buf.Bytes(), metadata)
}

// finish wraps payload, zipping it next to the metadata when requested.
func (s *ExportService) finish(req models.ExportRequest, ext, contentType string, payload []byte, metadata string) (*export.Artifact, error) {
	name := req.Filename + "." + ext
	if req.Zipped {
		return export.WithMetadata(req.Filename+".zip", name, payload, metadata)
	}
	a := export.Bytes(name, contentType, payload)
	a.Attachment = req.Format == models.FormatParquet
	return a, nil
}
