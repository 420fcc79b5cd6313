package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/models"
	"climatedata-api/internal/s2d"
	"climatedata-api/pkg/logging"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func forecastFixture(t *testing.T) *ForecastService {
	t.Helper()
	cfg := testConfig(t)
	src := newFakeSource(cfg)

	fill := func(times []time.Time, lats, lons []float64, names []string) *arrays.Dataset {
		ds := arrays.NewGrid(times, lats, lons)
		n := len(times) * len(lats) * len(lons)
		for k, name := range names {
			data := make([]float64, n)
			for i := range data {
				data[i] = float64(k*100+i) / 100
			}
			if err := ds.AddVar(name, []string{"time", "lat", "lon"}, data); err != nil {
				t.Fatal(err)
			}
		}
		return ds
	}
	forecastTimes := []time.Time{month(2025, time.June), month(2025, time.September), month(2025, time.December)}
	climTimes := []time.Time{month(1991, time.June), month(1991, time.September), month(1991, time.December)}
	lats, lons := []float64{45, 46}, []float64{-74, -73}

	src.keys["s2d/forecast/air_temp_seasonal_forecast.nc"] = fill(forecastTimes, lats, lons, cfg.S2D.ForecastVars)
	src.keys["s2d/climatology/air_temp_seasonal_climatology.nc"] = fill(climTimes, lats, lons, cfg.S2D.ClimatologyVars)
	src.keys["s2d/skill/air_temp_seasonal_skill_ref6.nc"] = fill(climTimes, lats, lons, cfg.S2D.SkillVars)

	merger := s2d.NewMerger(cfg.S2D, src, logging.Nop())
	return NewForecastService(cfg, merger, logging.Nop(), testMetrics())
}

func forecastBody() models.ForecastBody {
	return models.ForecastBody{
		Var:          "air_temp",
		Format:       "csv",
		BBox:         []float64{44, -75, 47, -72},
		ForecastType: "expected",
		Frequency:    "seasonal",
		Periods:      []string{"2025-06"},
	}
}

func TestForecastService_ParseForecast(t *testing.T) {
	svc := forecastFixture(t)
	tests := []struct {
		name    string
		mutate  func(b *models.ForecastBody)
		wantErr string
	}{
		{name: "valid", mutate: func(b *models.ForecastBody) {}},
		{name: "unknown variable", mutate: func(b *models.ForecastBody) { b.Var = "snow" }, wantErr: "Invalid variable `snow`"},
		{name: "unknown forecast type", mutate: func(b *models.ForecastBody) { b.ForecastType = "likely" }, wantErr: "Invalid forecast_type `likely`"},
		{name: "unknown frequency", mutate: func(b *models.ForecastBody) { b.Frequency = "daily" }, wantErr: "Invalid frequency `daily`"},
		{name: "parquet is not offered", mutate: func(b *models.ForecastBody) { b.Format = "parquet" }, wantErr: "Invalid format"},
		{name: "negative decimals", mutate: func(b *models.ForecastBody) { b.Decimals = "-1" }, wantErr: "invalid number of decimals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := forecastBody()
			tt.mutate(&body)
			req, err := svc.ParseForecast(body)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ParseForecast() error = %v", err)
				}
				if req.Decimals != 2 || len(req.Periods) != 1 {
					t.Errorf("ParseForecast() = %+v, want 2 decimals and one period", req)
				}
				return
			}
			var verr *models.ValidationError
			if !errors.As(err, &verr) || !strings.Contains(verr.Message, tt.wantErr) {
				t.Errorf("ParseForecast() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestForecastService_DownloadCSV(t *testing.T) {
	svc := forecastFixture(t)
	req, err := svc.ParseForecast(forecastBody())
	if err != nil {
		t.Fatalf("ParseForecast() error = %v", err)
	}
	a, err := svc.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !strings.HasSuffix(a.Filename, ".zip") || !a.Attachment {
		t.Errorf("artifact = %s (attachment %v), want zip attachment", a.Filename, a.Attachment)
	}

	data := []byte(readArtifact(t, a))
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("got %d entries, want metadata and csv", len(zr.File))
	}
	if name := zr.File[0].Name; !strings.HasPrefix(name, "metadata_") || !strings.HasSuffix(name, ".txt") {
		t.Errorf("entry 0 = %q, want metadata_*.txt", name)
	}
	if name := zr.File[1].Name; !strings.HasSuffix(name, ".csv") {
		t.Errorf("entry 1 = %q, want *.csv", name)
	}

	rc, err := zr.File[1].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if !strings.HasPrefix(lines[0], "lat,lon,prob_below_normal,prob_near_normal,prob_above_normal") {
		t.Errorf("header = %q", lines[0])
	}
	if strings.Contains(lines[0], "unusually") {
		t.Errorf("header = %q, want unusual columns dropped", lines[0])
	}
	if len(lines) != 5 {
		t.Errorf("got %d lines, want header and 4 cells", len(lines))
	}
}

func TestForecastService_ReleaseDate(t *testing.T) {
	svc := forecastFixture(t)
	got, err := svc.ReleaseDate(context.Background(), "air_temp", "seasonal")
	if err != nil {
		t.Fatalf("ReleaseDate() error = %v", err)
	}
	if got != "2025-06-01" {
		t.Errorf("ReleaseDate() = %q, want 2025-06-01", got)
	}

	if _, err := svc.ReleaseDate(context.Background(), "air_temp", "weekly"); err == nil {
		t.Error("ReleaseDate() with unknown frequency error = nil, want error")
	}
}
