package locator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/models"
	"climatedata-api/internal/store"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

func testLocator(t *testing.T) (*Locator, string) {
	t.Helper()
	root := t.TempDir()
	st, err := store.NewFS(root)
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}
	m := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
	return New(st, config.Defaults().Datasets, logging.Nop(), m), root
}

func writeDataset(t *testing.T, root, key string) {
	t.Helper()
	writeDatasetVars(t, root, key, "rcp26_tx_max_p50")
}

func writeDatasetVars(t *testing.T, root, key string, names ...string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	ds := arrays.NewGrid([]time.Time{time.Date(1951, 1, 1, 0, 0, 0, 0, time.UTC)}, []float64{45}, []float64{-73})
	for _, name := range names {
		if err := ds.AddVar(name, []string{"time", "lat", "lon"}, []float64{270}, "units", "K"); err != nil {
			t.Fatal(err)
		}
	}
	if err := arrays.WriteFile(full, ds); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestCandidates(t *testing.T) {
	cfg := config.Defaults().Datasets
	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "cmip5 allyears tries both naming conventions",
			req:  Request{Generation: models.CMIP5, Kind: models.KindAllYears, Variable: "tx_max", Freq: models.Monthly, Period: "_01January"},
			want: []string{
				"CMIP5/allyears/tx_max/MS/BCCAQv2+ANUSPLIN300_ensemble-percentiles_historical+allrcps_1951-2100_tx_max_MS_01January.nc",
				"CMIP5/allyears/tx_max/MS/BCCAQv2+ANUSPLIN300_ensemble-percentiles_historical+allrcps_1950-2100_tx_max_MS_01January.nc",
			},
		},
		{
			name: "partitioned",
			req:  Request{Generation: models.CMIP6, Kind: models.Kind30YGraph, Variable: "tg_mean", Freq: models.Annual, Partition: "census"},
			want: []string{
				"CMIP6/partitions/census/tg_mean/YS/CanDCS-U6_ensemble-percentiles_allssps_30ygraph_tg_mean_YS.nc",
			},
		},
		{
			name: "no templates",
			req:  Request{Generation: models.NRCANMET, Kind: models.Kind30YMeans, Variable: "tg_mean", Freq: models.Annual},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Candidates(cfg, tt.req)
			if len(got) != len(tt.want) {
				t.Fatalf("Candidates() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Candidates()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFirstOf(t *testing.T) {
	calls := 0
	fixed := func(key string, ok bool) Resolver {
		return func(context.Context) (string, bool, error) {
			calls++
			return key, ok, nil
		}
	}

	key, ok, err := FirstOf(context.Background(), fixed("a", false), fixed("b", true), fixed("c", true))
	if err != nil || !ok || key != "b" {
		t.Errorf("FirstOf() = %q, %v, %v, want b, true, nil", key, ok, err)
	}
	if calls != 2 {
		t.Errorf("resolvers called %d times, want 2", calls)
	}

	if _, ok, _ := FirstOf(context.Background(), fixed("a", false)); ok {
		t.Error("FirstOf() found a key when none exists")
	}

	boom := errors.New("boom")
	failing := func(context.Context) (string, bool, error) { return "", false, boom }
	if _, _, err := FirstOf(context.Background(), failing, fixed("b", true)); !errors.Is(err, boom) {
		t.Errorf("FirstOf() error = %v, want boom", err)
	}
}

func TestLocator_LocateSecondTemplate(t *testing.T) {
	l, root := testLocator(t)
	req := Request{Generation: models.CMIP5, Kind: models.KindAllYears, Variable: "tx_max", Freq: models.Annual}
	second := Candidates(l.datasets, req)[1]
	writeDataset(t, root, second)

	key, err := l.Locate(context.Background(), req)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if key != second {
		t.Errorf("Locate() = %s, want %s", key, second)
	}

	ds, err := l.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if v := ds.Var("rcp26_tx_max_p50"); v == nil || v.Data[0] != 270 {
		t.Errorf("opened variable = %+v", v)
	}
}

func TestLocator_NotFound(t *testing.T) {
	l, _ := testLocator(t)
	req := Request{Generation: models.CMIP6, Kind: models.KindAllYears, Variable: "tx_max", Freq: models.Annual}

	_, err := l.Open(context.Background(), req)
	var nf *models.DatasetNotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, models.ErrDatasetNotFound) {
		t.Fatalf("Open() error = %v, want DatasetNotFoundError", err)
	}
	if len(nf.Candidates) != 1 {
		t.Errorf("candidates = %v, want 1", nf.Candidates)
	}

	ds, ok, err := l.OpenOptional(context.Background(), req)
	if ds != nil || ok || err != nil {
		t.Errorf("OpenOptional() = %v, %v, %v, want nil, false, nil", ds, ok, err)
	}
}

func TestLocator_OpenPath(t *testing.T) {
	l, root := testLocator(t)
	writeDataset(t, root, "slr/slr_cmip6_ensemble-percentiles.nc")

	if _, err := l.OpenPath(context.Background(), "slr", "slr/slr_cmip6_ensemble-percentiles.nc", arrays.Selection{}); err != nil {
		t.Errorf("OpenPath() error = %v", err)
	}
	ds, err := l.OpenPath(context.Background(), "slr", "slr/slr_cmip6_ensemble-percentiles.nc", arrays.Selection{Vars: arrays.CoordsOnly})
	if err != nil {
		t.Fatalf("OpenPath(coords only) error = %v", err)
	}
	if len(ds.Vars) != 0 || len(ds.Times()) != 1 {
		t.Errorf("OpenPath(coords only) vars = %v, times = %v", ds.VarNames(), ds.Times())
	}
	if _, err := l.OpenPath(context.Background(), "slr", "slr/missing.nc", arrays.Selection{}); !errors.Is(err, models.ErrDatasetNotFound) {
		t.Errorf("OpenPath() error = %v, want ErrDatasetNotFound", err)
	}
}

func TestLocator_OpenReadsRequestedVariable(t *testing.T) {
	l, root := testLocator(t)
	req := Request{Generation: models.CMIP5, Kind: models.KindAllYears, Variable: "tx_max", Freq: models.Annual}
	writeDatasetVars(t, root, Candidates(l.datasets, req)[0], "rcp26_tx_max_p50", "rcp26_tx_mean_p50", "rcp85_tx_max_p90")

	ds, err := l.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if names := ds.VarNames(); len(names) != 2 || names[0] != "rcp26_tx_max_p50" || names[1] != "rcp85_tx_max_p90" {
		t.Errorf("VarNames() = %v, want [rcp26_tx_max_p50 rcp85_tx_max_p90]", names)
	}

	// a file whose variables do not carry the requested name is read whole
	other := Request{Generation: models.CMIP5, Kind: models.KindAllYears, Variable: "humidex", Freq: models.Annual}
	writeDatasetVars(t, root, Candidates(l.datasets, other)[0], "hx_p50")
	ds, err = l.Open(context.Background(), other)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if names := ds.VarNames(); len(names) != 1 || names[0] != "hx_p50" {
		t.Errorf("VarNames() = %v, want [hx_p50]", names)
	}
}

func TestExpand(t *testing.T) {
	got := Expand("s2d/skill/{var}_{freq}_skill_ref{ref_month}.nc", map[string]string{
		"var": "air_temp", "freq": "seasonal", "ref_month": "6",
	})
	if want := "s2d/skill/air_temp_seasonal_skill_ref6.nc"; got != want {
		t.Errorf("Expand() = %s, want %s", got, want)
	}
}
