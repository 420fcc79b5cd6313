package services

import (
	"context"
	"math"
	"strconv"
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

// ChartSeries maps series names to either a list of [ms, v...] rows or a
// map of ms to [v...].
type ChartSeries map[string]interface{}

// rollingWindow is the length, in time steps, of the observation mean.
const rollingWindow = 30

// ChartService builds the chart series of one grid cell or region.
type ChartService struct {
	cfg     *config.Config
	source  DatasetSource
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewChartService creates a new chart service
func NewChartService(cfg *config.Config, source DatasetSource, logger logging.Logger, metricsCollector *metrics.Collector) *ChartService {
	return &ChartService{
		cfg:     cfg,
		source:  source,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Parse validates the raw route values.
func (s *ChartService) Parse(q models.LocationQuery) (models.SliceRequest, error) {
	return ParseSlice(s.cfg, q, s.cfg.Export.ChartDecimals)
}

// Generate returns the chart series of req.
func (s *ChartService) Generate(ctx context.Context, req models.SliceRequest) (ChartSeries, error) {
	if req.Partition == "" {
		switch {
		case s.cfg.IsSPEI(req.Variable):
			return s.speiCharts(ctx, req)
		case req.Variable == "slr":
			return s.seaLevelCharts(ctx, req)
		case req.Variable == "allowance":
			if req.Generation != models.CMIP6 {
				return nil, models.Invalid("dataset_name",
					"`allowance` variable only uses the CMIP6 dataset, and has no %s data available.", req.Generation)
			}
			return s.allowanceCharts(ctx, req)
		}
	}

	spec := req.Generation.Spec()
	filter := req.Partition != "" && req.Period.Freq.FiltersMonth()

	observations, ok, err := s.source.OpenOptional(ctx, sliceRequest(req, spec.Observations, models.KindAllYears))
	if err != nil {
		return nil, err
	}
	var obs *arrays.Dataset
	if ok {
		if obs, err = selectSlice(observations, req); err != nil {
			return nil, err
		}
		// point files cover one period; the month filter also applies to them
		if req.Partition == "" || filter {
			if obs, err = subset.FilterMonth(obs, req.Period.Month); err != nil {
				return nil, err
			}
		}
	}

	allYears, err := s.openSlice(ctx, req, req.Generation, models.KindAllYears, filter)
	if err != nil {
		return nil, err
	}
	thirtyYear, err := s.openSlice(ctx, req, req.Generation, models.Kind30YGraph, filter)
	if err != nil {
		return nil, err
	}

	series, err := s.projectionSeries(spec, req.Variable, obs, allYears, thirtyYear, req.Decimals)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "[CHART_SERIES] Chart series built", logging.Fields{
		"variable":  req.Variable,
		"partition": req.Partition,
		"series":    len(series),
	})
	return series, nil
}

func (s *ChartService) openSlice(ctx context.Context, req models.SliceRequest, gen models.Generation, kind models.Kind, filter bool) (*arrays.Dataset, error) {
	ds, err := s.source.Open(ctx, sliceRequest(req, gen, kind))
	if err != nil {
		return nil, err
	}
	out, err := selectSlice(ds, req)
	if err != nil {
		return nil, err
	}
	if filter {
		return subset.FilterMonth(out, req.Period.Month)
	}
	return out, nil
}

func (s *ChartService) projectionSeries(spec models.GenerationSpec, variable string, obs, allYears, thirtyYear *arrays.Dataset, decimals int) (ChartSeries, error) {
	probe := spec.UnitsProbe(variable)
	series := ChartSeries{}

	allYears, err := subset.Apply(allYears, subset.Options{Offset: subset.UnitOffset(allYears, probe)})
	if err != nil {
		return nil, err
	}

	if obs != nil && len(obs.Times()) > 0 {
		if obs, err = subset.Apply(obs, subset.Options{Offset: subset.UnitOffset(obs, variable)}); err != nil {
			return nil, err
		}
		series["observations"] = listSeries(obs, obs.VarNames(), decimals)
		series["30y_observations"] = dictSeries(rollingDecades(obs), obs.VarNames(), decimals)
	} else {
		series["observations"] = [][]interface{}{}
		series["30y_observations"] = map[string][]interface{}{}
	}

	historical, projected, err := subset.Split(allYears, spec, variable)
	if err != nil {
		return nil, err
	}
	base := spec.BaseScenario()
	series["modeled_historical_median"] = listSeries(historical, []string{models.PercentileVar(base, variable, "p50")}, decimals)
	series["modeled_historical_range"] = listSeries(historical, bandVars(base, variable, "p10", "p90"), decimals)

	for _, scenario := range spec.Scenarios {
		if projected.Var(models.PercentileVar(scenario, variable, "p50")) == nil {
			continue
		}
		series[scenario+"_median"] = listSeries(projected, []string{models.PercentileVar(scenario, variable, "p50")}, decimals)
		series[scenario+"_range"] = listSeries(projected, bandVars(scenario, variable, "p10", "p90"), decimals)
		series["delta7100_"+scenario+"_median"] = dictSeries(thirtyYear, []string{spec.DeltaVar(scenario, variable, "p50")}, decimals)
		series["delta7100_"+scenario+"_range"] = dictSeries(thirtyYear,
			[]string{spec.DeltaVar(scenario, variable, "p10"), spec.DeltaVar(scenario, variable, "p90")}, decimals)
	}

	thirtyYear, err = subset.Apply(thirtyYear, subset.Options{Offset: subset.UnitOffset(thirtyYear, probe)})
	if err != nil {
		return nil, err
	}
	for _, scenario := range spec.Scenarios {
		if thirtyYear.Var(models.PercentileVar(scenario, variable, "p50")) == nil {
			continue
		}
		series["30y_"+scenario+"_median"] = dictSeries(thirtyYear, []string{models.PercentileVar(scenario, variable, "p50")}, decimals)
		series["30y_"+scenario+"_range"] = dictSeries(thirtyYear, bandVars(scenario, variable, "p10", "p90"), decimals)
	}
	return series, nil
}

// speiCharts serves the single-file SPEI variables. The annual token shows
// December, SPEI having no annual value.
func (s *ChartService) speiCharts(ctx context.Context, req models.SliceRequest) (ChartSeries, error) {
	if req.Period.Token == "ann" {
		dec, _ := models.LookupPeriod("dec")
		req.Period = dec
	}
	floor := s.cfg.SPEIFloor()
	values := map[string]string{"var": req.Variable}

	modeled, err := s.speiSlice(ctx, "spei", locator.Expand(s.cfg.Datasets.SPEIPath, values), req)
	if err != nil {
		return nil, err
	}
	observed, err := s.speiSlice(ctx, "spei_observed", locator.Expand(s.cfg.Datasets.SPEIObservedPath, values), req)
	if err != nil {
		return nil, err
	}
	if observed, err = subset.Apply(observed, subset.Options{Floor: floor}); err != nil {
		return nil, err
	}

	spec := models.CMIP5.Spec()
	series := ChartSeries{"observations": listSeries(observed, observed.VarNames(), req.Decimals)}

	historical, err := modeled.SelectTime(func(t time.Time) bool {
		return !t.After(spec.CutoffBefore) && !t.Before(floor)
	})
	if err != nil {
		return nil, err
	}
	base := spec.BaseScenario()
	series["modeled_historical_median"] = listSeries(historical, []string{models.PercentileVar(base, "spei", "p50")}, req.Decimals)
	series["modeled_historical_range"] = listSeries(historical, bandVars(base, "spei", "p10", "p90"), req.Decimals)

	projected, err := modeled.SelectTime(func(t time.Time) bool { return !t.Before(spec.CutoffAfter) })
	if err != nil {
		return nil, err
	}
	for _, scenario := range spec.Scenarios {
		series[scenario+"_median"] = listSeries(projected, []string{models.PercentileVar(scenario, "spei", "p50")}, req.Decimals)
		series[scenario+"_range"] = listSeries(projected, bandVars(scenario, "spei", "p10", "p90"), req.Decimals)
	}
	return series, nil
}

func (s *ChartService) speiSlice(ctx context.Context, label, key string, req models.SliceRequest) (*arrays.Dataset, error) {
	ds, err := s.source.OpenPath(ctx, label, key, arrays.Selection{From: s.cfg.SPEIFloor()})
	if err != nil {
		return nil, err
	}
	out, err := selectSlice(ds, req)
	if err != nil {
		return nil, err
	}
	return subset.FilterMonth(out, req.Period.Month)
}

// seaLevelCharts has no historical segment and no observations; values
// are whole centimetres.
func (s *ChartService) seaLevelCharts(ctx context.Context, req models.SliceRequest) (ChartSeries, error) {
	gen := req.Generation
	if gen != models.CMIP5 && gen != models.CMIP6 {
		return nil, models.Invalid("dataset_name",
			"Invalid dataset `%s` for slr. Only `CMIP5` and `CMIP6` are available for slr.", gen)
	}
	ds, err := s.source.OpenPath(ctx, "slr", s.cfg.Datasets.SeaLevelPaths[gen.String()], arrays.Selection{})
	if err != nil {
		return nil, err
	}
	slice, err := selectSlice(ds, req)
	if err != nil {
		return nil, err
	}

	spec := gen.Spec()
	pct := spec.SeaLevelPercentiles
	series := ChartSeries{}
	for _, scenario := range spec.Scenarios {
		series[scenario+"_median"] = listSeries(slice, []string{models.PercentileVar(scenario, "slr", pct[1])}, 0)
		series[scenario+"_range"] = listSeries(slice, bandVars(scenario, "slr", pct[0], pct[2]), 0)
	}

	if gen == models.CMIP5 && s.cfg.Datasets.SeaLevelEnhancedPath != "" {
		enhanced, err := s.enhancedPoint(ctx, *req.Point)
		if err != nil {
			return nil, err
		}
		series[spec.Scenarios[len(spec.Scenarios)-1]+"_enhanced"] = enhanced
	}
	return series, nil
}

// enhancedPoint returns the single [ms, value] row of the enhanced scenario.
func (s *ChartService) enhancedPoint(ctx context.Context, p models.Point) ([][]interface{}, error) {
	ds, err := s.source.OpenPath(ctx, "slr_enhanced", s.cfg.Datasets.SeaLevelEnhancedPath, arrays.Selection{})
	if err != nil {
		return nil, err
	}
	times := ds.Times()
	if len(times) == 0 {
		return nil, &models.EmptyResultError{Message: "No enhanced sea level value"}
	}
	v := ds.Var("enhanced_p50")
	if v == nil {
		return [][]interface{}{}, nil
	}
	i, err := ds.Nearest("lat", p.Lat)
	if err != nil {
		return nil, err
	}
	j, err := ds.Nearest("lon", p.Lon)
	if err != nil {
		return nil, err
	}
	cell, err := ds.KeepVars(v.Name).Isel("lat", i)
	if err != nil {
		return nil, err
	}
	if cell, err = cell.Isel("lon", j); err != nil {
		return nil, err
	}
	v = cell.Var("enhanced_p50")
	if len(v.Data) == 0 {
		return [][]interface{}{}, nil
	}
	return [][]interface{}{{times[0].UnixMilli(), chartValue(v.Data[0], 0)}}, nil
}

func (s *ChartService) allowanceCharts(ctx context.Context, req models.SliceRequest) (ChartSeries, error) {
	ds, err := s.source.OpenPath(ctx, "allowance", s.cfg.Datasets.AllowancePath, arrays.Selection{})
	if err != nil {
		return nil, err
	}
	slice, err := selectSlice(ds, req)
	if err != nil {
		return nil, err
	}
	series := ChartSeries{}
	for _, scenario := range models.CMIP6.Spec().Scenarios {
		series[scenario] = listSeries(slice, []string{models.PercentileVar(scenario, "allowance", "p50")}, 0)
	}
	return series, nil
}

func bandVars(scenario, variable, lo, hi string) []string {
	return []string{models.PercentileVar(scenario, variable, lo), models.PercentileVar(scenario, variable, hi)}
}

// rollingDecades averages every window of rollingWindow consecutive steps,
// labels each mean with the first step of its window and keeps the labels
// of years ending in 1. Windows holding a missing value are dropped.
func rollingDecades(ds *arrays.Dataset) *arrays.Dataset {
	times := ds.Times()
	var labels []time.Time
	means := make(map[string][]float64)
	vars := seriesVars(ds, ds.VarNames())
	for start := 0; start+rollingWindow <= len(times); start++ {
		if times[start].Year()%10 != 1 {
			continue
		}
		row := make(map[string]float64, len(vars))
		complete := true
		for _, v := range vars {
			sum := 0.0
			for i := start; i < start+rollingWindow; i++ {
				sum += v.Data[i]
			}
			if math.IsNaN(sum) {
				complete = false
				break
			}
			row[v.Name] = sum / rollingWindow
		}
		if !complete {
			continue
		}
		labels = append(labels, times[start])
		for name, m := range row {
			means[name] = append(means[name], m)
		}
	}

	out := arrays.NewDataset()
	_ = out.AddDim(arrays.TimeDim, len(labels))
	out.SetCoord(arrays.TimeCoord(labels))
	for _, v := range vars {
		data := means[v.Name]
		if data == nil {
			data = []float64{}
		}
		_ = out.AddVar(v.Name, []string{arrays.TimeDim}, data)
	}
	return out
}

// listSeries returns one [ms, v...] row per time step of ds.
func listSeries(ds *arrays.Dataset, names []string, decimals int) [][]interface{} {
	times := ds.Times()
	vars := seriesVars(ds, names)
	out := make([][]interface{}, 0, len(times))
	for i, t := range times {
		row := make([]interface{}, 0, len(vars)+1)
		row = append(row, t.UnixMilli())
		for _, v := range vars {
			row = append(row, chartValue(v.Data[i], decimals))
		}
		out = append(out, row)
	}
	return out
}

// dictSeries returns the rows of listSeries keyed by their ms timestamp.
func dictSeries(ds *arrays.Dataset, names []string, decimals int) map[string][]interface{} {
	times := ds.Times()
	vars := seriesVars(ds, names)
	out := make(map[string][]interface{}, len(times))
	for i, t := range times {
		row := make([]interface{}, 0, len(vars))
		for _, v := range vars {
			row = append(row, chartValue(v.Data[i], decimals))
		}
		out[strconv.FormatInt(t.UnixMilli(), 10)] = row
	}
	return out
}

func seriesVars(ds *arrays.Dataset, names []string) []*arrays.Variable {
	var vars []*arrays.Variable
	for _, name := range names {
		if v := ds.Var(name); v != nil && isSeries(v) {
			vars = append(vars, v)
		}
	}
	return vars
}

// isSeries reports whether v spans time only.
func isSeries(v *arrays.Variable) bool {
	return len(v.Dims) == 1 && v.Dims[0] == arrays.TimeDim
}

// chartValue rounds v; decimals 0 yields an integer, NaN yields null.
func chartValue(v float64, decimals int) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	if decimals == 0 {
		return int64(export.Round(v, 0))
	}
	return export.Round(v, decimals)
}
