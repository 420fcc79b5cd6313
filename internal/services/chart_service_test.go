package services

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strconv"
	"testing"
	"time"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/locator"
	"climatedata-api/internal/models"
	"climatedata-api/pkg/logging"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func msKey(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func chartFixture(t *testing.T) *ChartService {
	t.Helper()
	cfg := testConfig(t)
	src := newFakeSource(cfg)
	point := func(times []time.Time, vars map[string][]float64) *arrays.Dataset {
		return grid(t, times, []float64{45}, []float64{-73}, vars)
	}
	src.add(locator.Request{Generation: models.CMIP5, Kind: models.KindAllYears, Variable: "tx_max", Freq: models.Annual},
		point([]time.Time{year(2000), year(2010)}, map[string][]float64{
			"rcp26_tx_max_p10": {273.15, 274.15},
			"rcp26_tx_max_p50": {274.15, 275.15},
			"rcp26_tx_max_p90": {275.15, 276.15},
		}))
	src.add(locator.Request{Generation: models.CMIP5, Kind: models.Kind30YGraph, Variable: "tx_max", Freq: models.Annual},
		point([]time.Time{year(1971), year(2071)}, map[string][]float64{
			"rcp26_tx_max_p50":           {283.15, 285.15},
			"rcp26_tx_max_delta7100_p50": {0, 2},
		}))
	return NewChartService(cfg, src, logging.Nop(), testMetrics())
}

func TestChartService_Generate(t *testing.T) {
	svc := chartFixture(t)
	req, err := svc.Parse(models.LocationQuery{Lat: "45", Lon: "-73", Variable: "tx_max"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	series, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		key  string
		want interface{}
	}{
		{"modeled_historical_median", [][]interface{}{{ms(year(2000)), 1.0}}},
		{"modeled_historical_range", [][]interface{}{{ms(year(2000)), 0.0, 2.0}}},
		{"rcp26_median", [][]interface{}{{ms(year(2010)), 2.0}}},
		{"rcp26_range", [][]interface{}{{ms(year(2010)), 1.0, 3.0}}},
		{"30y_rcp26_median", map[string][]interface{}{msKey(year(1971)): {10.0}, msKey(year(2071)): {12.0}}},
		{"delta7100_rcp26_median", map[string][]interface{}{msKey(year(1971)): {0.0}, msKey(year(2071)): {2.0}}},
	}
	for _, tt := range tests {
		if got := series[tt.key]; !reflect.DeepEqual(got, tt.want) {
			t.Errorf("series[%s] = %v, want %v", tt.key, got, tt.want)
		}
	}

	if obs, ok := series["observations"].([][]interface{}); !ok || len(obs) != 0 {
		t.Errorf("observations = %v, want empty list", series["observations"])
	}
	if _, ok := series["rcp45_median"]; ok {
		t.Error("rcp45_median present without rcp45 data")
	}
}

func TestChartService_ObservationShapes(t *testing.T) {
	withObservations := func(t *testing.T) *ChartService {
		svc := chartFixture(t)
		times := make([]time.Time, 41)
		values := make([]float64, 41)
		for i := range times {
			times[i] = year(1971 + i)
			values[i] = float64(i)
		}
		src := svc.source.(*fakeSource)
		src.add(locator.Request{Generation: models.CMIP5.Spec().Observations, Kind: models.KindAllYears, Variable: "tx_max", Freq: models.Annual},
			grid(t, times, []float64{45}, []float64{-73}, map[string][]float64{"tx_max": values}))
		return svc
	}

	tests := []struct {
		name    string
		service func(t *testing.T) *ChartService
		want    map[string][]interface{}
	}{
		{"observations missing", chartFixture, map[string][]interface{}{}},
		{"observations present", withObservations, map[string][]interface{}{msKey(year(1971)): {14.5}, msKey(year(1981)): {24.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := tt.service(t)
			req, err := svc.Parse(models.LocationQuery{Lat: "45", Lon: "-73", Variable: "tx_max"})
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			series, err := svc.Generate(context.Background(), req)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			got, ok := series["30y_observations"].(map[string][]interface{})
			if !ok {
				t.Fatalf("30y_observations is %T, want map[string][]interface{}", series["30y_observations"])
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("30y_observations = %v, want %v", got, tt.want)
			}
			if _, ok := series["observations"].([][]interface{}); !ok {
				t.Errorf("observations is %T, want [][]interface{}", series["observations"])
			}
		})
	}
}

func TestChartService_SpecialVariables(t *testing.T) {
	svc := chartFixture(t)
	tests := []struct {
		name     string
		variable string
		gen      models.Generation
	}{
		{"slr outside CMIP5 and CMIP6", "slr", models.ANUSPLIN},
		{"allowance outside CMIP6", "allowance", models.CMIP5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ann, _ := models.LookupPeriod("ann")
			_, err := svc.Generate(context.Background(), models.SliceRequest{
				Variable:   tt.variable,
				Generation: tt.gen,
				Period:     ann,
				Point:      &models.Point{Lat: 45, Lon: -73},
			})
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Generate() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestRollingDecades(t *testing.T) {
	times := make([]time.Time, 41)
	values := make([]float64, 41)
	for i := range times {
		times[i] = year(1971 + i)
		values[i] = float64(i)
	}
	// the 1981 window holds a missing value
	values[35] = math.NaN()

	ds := arrays.NewDataset()
	if err := ds.AddDim(arrays.TimeDim, len(times)); err != nil {
		t.Fatal(err)
	}
	ds.SetCoord(arrays.TimeCoord(times))
	if err := ds.AddVar("tx_max", []string{arrays.TimeDim}, values); err != nil {
		t.Fatal(err)
	}

	out := rollingDecades(ds)
	got := out.Times()
	if len(got) != 1 || !got[0].Equal(year(1971)) {
		t.Fatalf("labels = %v, want [1971]", got)
	}
	if mean := out.Var("tx_max").Data[0]; mean != 14.5 {
		t.Errorf("mean = %v, want 14.5", mean)
	}
}

func TestChartValue(t *testing.T) {
	tests := []struct {
		v        float64
		decimals int
		want     interface{}
	}{
		{math.NaN(), 2, nil},
		{2.6, 0, int64(3)},
		{-2.5, 0, int64(-3)},
		{1.23456, 2, 1.23},
	}
	for _, tt := range tests {
		if got := chartValue(tt.v, tt.decimals); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("chartValue(%v, %d) = %v, want %v", tt.v, tt.decimals, got, tt.want)
		}
	}
}
