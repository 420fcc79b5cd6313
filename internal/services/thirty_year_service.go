package services

import (
	"bytes"
	"context"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/export"
	"climatedata-api/internal/models"
	"climatedata-api/internal/subset"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

// regionDim indexes the regions of partitioned files.
const regionDim = "geom"

// ThirtyYearService exports the 30-year graph and delta columns of one
// grid cell or region.
type ThirtyYearService struct {
	cfg     *config.Config
	source  DatasetSource
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewThirtyYearService creates a new 30-year export service
func NewThirtyYearService(cfg *config.Config, source DatasetSource, logger logging.Logger, metricsCollector *metrics.Collector) *ThirtyYearService {
	return &ThirtyYearService{
		cfg:     cfg,
		source:  source,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Parse validates the raw route values.
func (s *ThirtyYearService) Parse(q models.LocationQuery) (models.SliceRequest, error) {
	return ParseSlice(s.cfg, q, s.cfg.Export.DefaultDecimals)
}

// Download returns the CSV of req, one row per 30-year step.
func (s *ThirtyYearService) Download(ctx context.Context, req models.SliceRequest) (*export.Artifact, error) {
	ds, err := s.source.Open(ctx, sliceRequest(req, req.Generation, models.Kind30YGraph))
	if err != nil {
		return nil, err
	}

	slice, err := selectSlice(ds, req)
	if err != nil {
		return nil, err
	}
	if req.Partition != "" && req.Period.Freq.FiltersMonth() {
		if slice, err = subset.FilterMonth(slice, req.Period.Month); err != nil {
			return nil, err
		}
	}

	spec := req.Generation.Spec()
	slice, err = subset.Apply(slice, subset.Options{Offset: subset.UnitOffset(slice, spec.UnitsProbe(req.Variable))})
	if err != nil {
		return nil, err
	}

	columns := append([]string{arrays.TimeDim}, spec.ThirtyYearColumns(req.Variable)...)
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, slice.ToFrame(), export.CSVOptions{
		Columns:  columns,
		Decimals: req.Decimals,
	}); err != nil {
		return nil, err
	}

	a := export.Bytes(req.Variable+".csv", export.ContentTypeCSV, buf.Bytes())
	a.Attachment = true
	s.metrics.RecordExport("download_30y", string(models.FormatCSV), a.Size, 1)
	s.logger.Debug(ctx, "[EXPORT_30Y] 30-year slice encoded", logging.Fields{
		"variable":  req.Variable,
		"partition": req.Partition,
		"period":    req.Period.Token,
	})
	return a, nil
}

// selectSlice reduces ds to the time series of the cell or region of req,
// without coordinates other than time and without all-missing steps.
func selectSlice(ds *arrays.Dataset, req models.SliceRequest) (*arrays.Dataset, error) {
	var (
		out *arrays.Dataset
		err error
	)
	if req.Partition != "" {
		if out, err = subset.Region(ds, regionDim, req.Region); err != nil {
			return nil, err
		}
	} else {
		if out, err = subset.Point(ds, *req.Point, subset.Options{}); err != nil {
			return nil, err
		}
		var drop []string
		for _, c := range out.Coords {
			if c.Name != arrays.TimeDim {
				drop = append(drop, c.Name)
			}
		}
		out = out.DropCoords(drop...)
	}
	return out.DropEmpty(arrays.TimeDim)
}
