package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/export"
	"climatedata-api/internal/locator"
	"climatedata-api/internal/models"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

// fakeSource serves in-memory datasets stored under their first locator
// candidate or their fixed key.
type fakeSource struct {
	cfg  config.DatasetsConfig
	keys map[string]*arrays.Dataset
}

func newFakeSource(cfg *config.Config) *fakeSource {
	return &fakeSource{cfg: cfg.Datasets, keys: make(map[string]*arrays.Dataset)}
}

func (f *fakeSource) add(req locator.Request, ds *arrays.Dataset) {
	f.keys[locator.Candidates(f.cfg, req)[0]] = ds
}

func (f *fakeSource) Open(_ context.Context, req locator.Request) (*arrays.Dataset, error) {
	candidates := locator.Candidates(f.cfg, req)
	for _, key := range candidates {
		if ds, ok := f.keys[key]; ok {
			return ds.Clone(), nil
		}
	}
	return nil, &models.DatasetNotFoundError{Dataset: req.String(), Candidates: candidates}
}

func (f *fakeSource) OpenOptional(ctx context.Context, req locator.Request) (*arrays.Dataset, bool, error) {
	ds, err := f.Open(ctx, req)
	if errors.Is(err, models.ErrDatasetNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ds, true, nil
}

func (f *fakeSource) OpenPath(_ context.Context, label, key string, sel arrays.Selection) (*arrays.Dataset, error) {
	ds, ok := f.keys[key]
	if !ok {
		return nil, &models.DatasetNotFoundError{Dataset: label, Candidates: []string{key}}
	}
	return ds.Clone().Select(sel)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.TempDir = t.TempDir()
	return cfg
}

func testMetrics() *metrics.Collector {
	return metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

func year(y int) time.Time {
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// grid builds a (time, lat, lon) dataset, every variable in Kelvin.
func grid(t *testing.T, times []time.Time, lats, lons []float64, vars map[string][]float64) *arrays.Dataset {
	t.Helper()
	ds := arrays.NewGrid(times, lats, lons)
	for name, data := range vars {
		if err := ds.AddVar(name, []string{"time", "lat", "lon"}, data, "units", "K"); err != nil {
			t.Fatal(err)
		}
	}
	return ds
}

func readArtifact(t *testing.T, a *export.Artifact) string {
	t.Helper()
	defer a.Close()
	data, err := io.ReadAll(a.Body)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	return string(data)
}

func TestParseSlice(t *testing.T) {
	cfg := config.Defaults()
	tests := []struct {
		name    string
		q       models.LocationQuery
		wantErr string
		check   func(t *testing.T, req models.SliceRequest)
	}{
		{
			name: "point defaults",
			q:    models.LocationQuery{Lat: "45.5", Lon: "-73.6", Variable: "tx_max"},
			check: func(t *testing.T, req models.SliceRequest) {
				if req.Point == nil || req.Point.Lat != 45.5 || req.Point.Lon != -73.6 {
					t.Errorf("Point = %v, want (45.5, -73.6)", req.Point)
				}
				if req.Period.Token != "ann" {
					t.Errorf("Period = %v, want ann", req.Period.Token)
				}
				if req.Generation != models.CMIP5 {
					t.Errorf("Generation = %v, want CMIP5", req.Generation)
				}
				if req.Decimals != 2 {
					t.Errorf("Decimals = %d, want 2", req.Decimals)
				}
			},
		},
		{
			name: "region",
			q:    models.LocationQuery{Partition: "census", Index: "12", Variable: "tg_mean", Month: "jul", DatasetName: "cmip6", Decimals: "0"},
			check: func(t *testing.T, req models.SliceRequest) {
				if req.Point != nil || req.Region != 12 || req.Partition != "census" {
					t.Errorf("request = %+v, want region 12 of census", req)
				}
				if req.Generation != models.CMIP6 || req.Decimals != 0 || req.Period.Month != 7 {
					t.Errorf("request = %+v, want CMIP6 jul with 0 decimals", req)
				}
			},
		},
		{name: "bad index", q: models.LocationQuery{Partition: "census", Index: "x", Variable: "tx_max"}, wantErr: "Invalid region index"},
		{name: "bad lat", q: models.LocationQuery{Lat: "north", Lon: "-73", Variable: "tx_max"}, wantErr: "Invalid latitude"},
		{name: "bad month", q: models.LocationQuery{Lat: "45", Lon: "-73", Variable: "tx_max", Month: "june"}, wantErr: "Invalid month requested"},
		{name: "negative decimals", q: models.LocationQuery{Lat: "45", Lon: "-73", Variable: "tx_max", Decimals: "-1"}, wantErr: "invalid number of decimals"},
		{name: "unknown variable", q: models.LocationQuery{Lat: "45", Lon: "-73", Variable: "tx_avg"}, wantErr: "Invalid variable requested"},
		{name: "unknown dataset", q: models.LocationQuery{Lat: "45", Lon: "-73", Variable: "tx_max", DatasetName: "CMIP7"}, wantErr: "Invalid dataset requested"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseSlice(cfg, tt.q, cfg.Export.ChartDecimals)
			if tt.wantErr != "" {
				var verr *models.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("ParseSlice() error = %v, want ValidationError", err)
				}
				if !strings.Contains(verr.Message, tt.wantErr) {
					t.Errorf("ParseSlice() error = %q, want %q", verr.Message, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSlice() error = %v", err)
			}
			tt.check(t, req)
		})
	}
}

func TestSliceRequest_PartitionDropsPeriod(t *testing.T) {
	jul, _ := models.LookupPeriod("jul")
	point := sliceRequest(models.SliceRequest{Variable: "tx_max", Period: jul}, models.CMIP5, models.KindAllYears)
	if point.Period != "_07July" || point.Freq != models.Monthly {
		t.Errorf("point request = %+v, want monthly _07July", point)
	}
	region := sliceRequest(models.SliceRequest{Variable: "tx_max", Period: jul, Partition: "census"}, models.CMIP5, models.KindAllYears)
	if region.Period != "" || region.Partition != "census" {
		t.Errorf("region request = %+v, want no period suffix", region)
	}
}

func TestThirtyYearService_DownloadPoint(t *testing.T) {
	cfg := testConfig(t)
	src := newFakeSource(cfg)
	src.add(locator.Request{Generation: models.CMIP5, Kind: models.Kind30YGraph, Variable: "tx_max", Freq: models.Annual},
		grid(t, []time.Time{year(1971), year(2071)}, []float64{45}, []float64{-73}, map[string][]float64{
			"rcp26_tx_max_p50":           {283.15, 285.15},
			"rcp26_tx_max_delta7100_p50": {0.5, 2},
		}))
	svc := NewThirtyYearService(cfg, src, logging.Nop(), testMetrics())

	req, err := svc.Parse(models.LocationQuery{Lat: "45.1", Lon: "-73.2", Variable: "tx_max"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	a, err := svc.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if a.Filename != "tx_max.csv" || !a.Attachment {
		t.Errorf("artifact = %s (attachment %v), want tx_max.csv attachment", a.Filename, a.Attachment)
	}

	lines := strings.Split(strings.TrimSpace(readArtifact(t, a)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header and 2 rows", len(lines))
	}
	header := strings.Split(lines[0], ",")
	if len(header) != 19 || header[0] != "time" || header[2] != "rcp26_tx_max_p50" || header[11] != "rcp26_tx_max_delta7100_p50" {
		t.Fatalf("header = %v", header)
	}
	row := strings.Split(lines[2], ",")
	if row[0] != "2071-01-01" || row[2] != "12.0" || row[11] != "2.0" {
		t.Errorf("row = %v, want 2071-01-01 with 12.0 and delta 2.0", row)
	}
	if row[1] != "" {
		t.Errorf("absent column = %q, want empty", row[1])
	}
}

func TestThirtyYearService_DownloadRegion(t *testing.T) {
	cfg := testConfig(t)
	src := newFakeSource(cfg)

	ds := arrays.NewDataset()
	if err := ds.AddDim("time", 2); err != nil {
		t.Fatal(err)
	}
	if err := ds.AddDim(regionDim, 2); err != nil {
		t.Fatal(err)
	}
	ds.SetCoord(arrays.TimeCoord([]time.Time{year(1971), year(2071)}))
	ds.SetCoord(arrays.DimCoord(regionDim, []float64{10, 11}))
	if err := ds.AddVar("rcp26_tx_max_p50", []string{"time", regionDim}, []float64{283.15, 284.15, 285.15, 286.15}, "units", "K"); err != nil {
		t.Fatal(err)
	}
	src.add(locator.Request{Generation: models.CMIP5, Kind: models.Kind30YGraph, Variable: "tx_max", Freq: models.Annual, Partition: "census"}, ds)
	svc := NewThirtyYearService(cfg, src, logging.Nop(), testMetrics())

	req, err := svc.Parse(models.LocationQuery{Partition: "census", Index: "11", Variable: "tx_max"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	a, err := svc.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(readArtifact(t, a)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, want := range []string{"11.0", "13.0"} {
		if got := strings.Split(lines[i+1], ",")[2]; got != want {
			t.Errorf("row %d p50 = %q, want %q", i, got, want)
		}
	}

	req.Region = 99
	if _, err := svc.Download(context.Background(), req); err == nil {
		t.Error("Download() with unknown region error = nil, want error")
	}
}

func TestThirtyYearService_MissingDataset(t *testing.T) {
	cfg := testConfig(t)
	svc := NewThirtyYearService(cfg, newFakeSource(cfg), logging.Nop(), testMetrics())
	req, err := svc.Parse(models.LocationQuery{Lat: "45", Lon: "-73", Variable: "tx_max"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	_, err = svc.Download(context.Background(), req)
	if !errors.Is(err, models.ErrDatasetNotFound) {
		t.Errorf("Download() error = %v, want ErrDatasetNotFound", err)
	}
}
