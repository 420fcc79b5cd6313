package services

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/export"
	"climatedata-api/internal/models"
	"climatedata-api/internal/repository"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

const (
	stationDim      = "station"
	stationFilename = "ahccd"
	flagSuffix      = "_flag"
)

// StationService exports AHCCD station series.
type StationService struct {
	cfg     *config.Config
	repo    repository.StationReader
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewStationService creates a new station export service
func NewStationService(cfg *config.Config, repo repository.StationReader, logger logging.Logger, metricsCollector *metrics.Collector) *StationService {
	return &StationService{
		cfg:     cfg,
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ParseStations validates a station export body.
func (s *StationService) ParseStations(body models.StationBody) (models.StationRequest, error) {
	req := models.StationRequest{Zipped: bool(body.Zipped)}

	for _, id := range body.Stations {
		if id = strings.TrimSpace(id); id != "" {
			req.Stations = append(req.Stations, id)
		}
	}
	if len(req.Stations) == 0 {
		return req, models.Invalid("stations", "No stations requested")
	}
	if len(req.Stations) > s.cfg.Export.AHCCDStationsLimit {
		return req, models.Invalid("stations", "Too many stations requested")
	}

	req.TypeFilter = strings.ToUpper(strings.TrimSpace(body.VariableTypeFilter))
	if len(models.FilterStationVariables(req.TypeFilter)) == 0 {
		return req, &models.ValidationError{Field: "variable_type_filter", Value: body.VariableTypeFilter, Message: "Invalid variable_type_filter"}
	}

	var err error
	if req.Format, err = models.ParseFormat(body.Format, models.FormatCSV, models.FormatNetCDF); err != nil {
		return req, err
	}
	return req, nil
}

// stationTable holds the observations of the requested stations on a
// shared monthly axis.
type stationTable struct {
	stations  []*models.Station
	variables []string
	times     []time.Time
	values    map[string]map[string][]float64 // station -> variable -> series
	flags     map[string]map[string][]string
}

// Download exports the series of the requested stations.
func (s *StationService) Download(ctx context.Context, req models.StationRequest) (*export.Artifact, error) {
	vars := models.FilterStationVariables(req.TypeFilter)
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}

	stations, err := s.repo.GetStations(ctx, req.Stations)
	if err != nil {
		return nil, err
	}
	observations, err := s.repo.GetObservations(ctx, repository.ObservationFilter{
		StationIDs: req.Stations,
		Variables:  names,
	})
	if err != nil {
		return nil, err
	}

	table := buildStationTable(stations, observations, names)
	if table == nil {
		return nil, &models.EmptyResultError{Message: "No station found or no requested stations matched variable_type_filter"}
	}
	ds, err := table.dataset()
	if err != nil {
		return nil, err
	}

	var a *export.Artifact
	switch req.Format {
	case models.FormatNetCDF:
		a, err = export.NetCDF(stationFilename+".nc", ds, export.NetCDFOptions{TempDir: s.cfg.Storage.TempDir, Compress: true})
	default:
		a, err = s.csv(table, ds, req.Zipped)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordExport("download_ahccd", string(req.Format), a.Size, len(table.stations))
	s.logger.Info(ctx, "[EXPORT_AHCCD] Station series encoded", logging.Fields{
		"stations":  len(table.stations),
		"variables": table.variables,
		"format":    req.Format,
		"months":    len(table.times),
	})
	return a, nil
}

func (s *StationService) csv(table *stationTable, ds *arrays.Dataset, zipped bool) (*export.Artifact, error) {
	frames := make([]*arrays.Frame, 0, len(table.stations))
	for _, st := range table.stations {
		f, err := table.stationFrame(st)
		if err != nil {
			return nil, err
		}
		frames = append(frames, trimStation(f, table.variables))
	}
	all := arrays.ConcatFrames(frames)

	var columns, verbatim []string
	for _, name := range s.cfg.Export.AHCCDOrder {
		if c := all.Column(name); c != nil {
			columns = append(columns, name)
			if !c.IsString() {
				verbatim = append(verbatim, name)
			}
		}
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, all, export.CSVOptions{Columns: columns, Verbatim: verbatim}); err != nil {
		return nil, err
	}
	if zipped {
		return export.WithMetadata(stationFilename+".zip", stationFilename+".csv", buf.Bytes(), export.Metadata(ds))
	}
	a := export.Bytes(stationFilename+".csv", export.ContentTypeCSV, buf.Bytes())
	a.Attachment = true
	return a, nil
}

// buildStationTable lays the observations on the monthly axis spanning the
// first to the last valid value of any station. It returns nil when no
// requested station holds a valid value.
func buildStationTable(stations []*models.Station, observations []*models.StationObservation, variables []string) *stationTable {
	known := make(map[string]*models.Station, len(stations))
	for _, st := range stations {
		known[st.StationID] = st
	}

	var first, last time.Time
	present := make(map[string]bool)
	for _, o := range observations {
		if known[o.StationID] == nil || !valid(o) {
			continue
		}
		d := monthOf(o.Date)
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
		present[o.Variable] = true
	}
	if first.IsZero() {
		return nil
	}

	t := &stationTable{
		values: make(map[string]map[string][]float64),
		flags:  make(map[string]map[string][]string),
	}
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		t.times = append(t.times, m)
	}
	for _, v := range variables {
		if present[v] {
			t.variables = append(t.variables, v)
		}
	}

	index := make(map[int64]int, len(t.times))
	for i, m := range t.times {
		index[m.Unix()] = i
	}
	for _, o := range observations {
		st := known[o.StationID]
		i, inRange := index[monthOf(o.Date).Unix()]
		if st == nil || !present[o.Variable] || !inRange {
			continue
		}
		values, flags := t.series(o.StationID, o.Variable)
		if o.Value != nil {
			values[i] = *o.Value
		}
		if o.Flag != nil {
			flags[i] = *o.Flag
		}
	}

	for _, st := range stations {
		if _, ok := t.values[st.StationID]; ok {
			t.stations = append(t.stations, st)
		}
	}
	sort.Slice(t.stations, func(i, j int) bool { return t.stations[i].StationID < t.stations[j].StationID })
	return t
}

func valid(o *models.StationObservation) bool {
	return o.Value != nil || (o.Flag != nil && *o.Flag != "")
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// series returns the value and flag series of (station, variable),
// allocating missing ones.
func (t *stationTable) series(station, variable string) ([]float64, []string) {
	if t.values[station] == nil {
		t.values[station] = make(map[string][]float64)
		t.flags[station] = make(map[string][]string)
	}
	if t.values[station][variable] == nil {
		values := make([]float64, len(t.times))
		for i := range values {
			values[i] = math.NaN()
		}
		t.values[station][variable] = values
		t.flags[station][variable] = make([]string, len(t.times))
	}
	return t.values[station][variable], t.flags[station][variable]
}

func (t *stationTable) valueSeries(station, variable string) []float64 {
	if v := t.values[station][variable]; v != nil {
		return v
	}
	v := make([]float64, len(t.times))
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}

func (t *stationTable) flagSeries(station, variable string) []string {
	if f := t.flags[station][variable]; f != nil {
		return f
	}
	return make([]string, len(t.times))
}

// stationFrame returns one row per month of the shared axis for st.
func (t *stationTable) stationFrame(st *models.Station) (*arrays.Frame, error) {
	n := len(t.times)
	repeat := func(s string) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = s
		}
		return out
	}
	constant := func(name string, v float64) *arrays.Column {
		values := make([]float64, n)
		for i := range values {
			values[i] = v
		}
		return &arrays.Column{Name: name, Values: values, Index: true}
	}

	columns := []*arrays.Column{
		{Name: arrays.TimeDim, Times: append([]time.Time(nil), t.times...), Index: true},
		arrays.StringColumn(stationDim, repeat(st.StationID)),
		arrays.StringColumn("station_name", repeat(st.Name)),
		arrays.StringColumn("prov", repeat(st.Province)),
		constant("lat", st.Lat),
		constant("lon", st.Lon),
	}
	for _, v := range t.variables {
		columns = append(columns,
			&arrays.Column{Name: v, Values: append([]float64(nil), t.valueSeries(st.StationID, v)...)},
			&arrays.Column{Name: v + flagSuffix, Strings: append([]string(nil), t.flagSeries(st.StationID, v)...)},
		)
	}
	return arrays.NewFrame(columns...)
}

// trimStation drops the leading and trailing rows without any value or flag.
func trimStation(f *arrays.Frame, variables []string) *arrays.Frame {
	var series []*arrays.Column
	for _, v := range variables {
		series = append(series, f.Column(v), f.Column(v+flagSuffix))
	}
	from, to := 0, f.Rows
	for from < to && f.AllMissing(from, series) {
		from++
	}
	for to > from && f.AllMissing(to-1, series) {
		to--
	}
	return f.Slice(from, to)
}

// dataset lays the table out over (station, time). Station identifiers,
// names and provinces are carried as global attributes in station order.
func (t *stationTable) dataset() (*arrays.Dataset, error) {
	ds := arrays.NewDataset()
	if err := ds.AddDim(stationDim, len(t.stations)); err != nil {
		return nil, err
	}
	if err := ds.AddDim(arrays.TimeDim, len(t.times)); err != nil {
		return nil, err
	}
	ds.SetCoord(arrays.TimeCoord(append([]time.Time(nil), t.times...)))

	ids := make([]string, len(t.stations))
	names := make([]string, len(t.stations))
	provs := make([]string, len(t.stations))
	lats := make([]float64, len(t.stations))
	lons := make([]float64, len(t.stations))
	for i, st := range t.stations {
		ids[i], names[i], provs[i] = st.StationID, st.Name, st.Province
		lats[i], lons[i] = st.Lat, st.Lon
	}
	ds.SetCoord(&arrays.Coord{Name: "lat", Dims: []string{stationDim}, Values: lats, Attrs: attrs("units", "degrees_north")})
	ds.SetCoord(&arrays.Coord{Name: "lon", Dims: []string{stationDim}, Values: lons, Attrs: attrs("units", "degrees_east")})
	ds.Attrs.Set("station_ids", strings.Join(ids, ","))
	ds.Attrs.Set("station_names", strings.Join(names, ","))
	ds.Attrs.Set("provinces", strings.Join(provs, ","))

	for _, v := range t.variables {
		data := make([]float64, 0, len(t.stations)*len(t.times))
		for _, st := range t.stations {
			data = append(data, t.valueSeries(st.StationID, v)...)
		}
		if err := ds.AddVar(v, []string{stationDim, arrays.TimeDim}, data); err != nil {
			return nil, fmt.Errorf("station variable %s: %w", v, err)
		}
	}
	return ds, nil
}

func attrs(kv ...string) *arrays.Attributes {
	a := arrays.NewAttributes()
	for i := 0; i+1 < len(kv); i += 2 {
		a.Set(kv[i], kv[i+1])
	}
	return a
}
