package subset

import (
	"testing"
	"time"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/models"
)

func TestSplit(t *testing.T) {
	for _, gen := range []models.Generation{models.CMIP5, models.CMIP6} {
		t.Run(gen.String(), func(t *testing.T) {
			spec := gen.Spec()
			times := yearly(spec.CutoffAfter.Year()-3, 6)

			ds := arrays.NewDataset()
			ds.Dims = []arrays.Dim{{Name: arrays.TimeDim, Len: len(times)}}
			ds.SetCoord(arrays.TimeCoord(times))
			var names []string
			for _, scenario := range spec.Scenarios {
				for _, pct := range models.Percentiles {
					names = append(names, models.PercentileVar(scenario, "tx_max", pct))
				}
			}
			for _, name := range names {
				if err := ds.AddVar(name, []string{arrays.TimeDim}, make([]float64, len(times))); err != nil {
					t.Fatal(err)
				}
			}

			hist, proj, err := Split(ds, spec, "tx_max")
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}

			if got := hist.VarNames(); len(got) != 3 || got[0] != models.PercentileVar(spec.BaseScenario(), "tx_max", "p10") {
				t.Errorf("historical vars = %v, want base scenario band", got)
			}
			if got := len(proj.VarNames()); got != len(names) {
				t.Errorf("projected vars = %d, want %d", got, len(names))
			}

			for _, tm := range hist.Times() {
				if tm.After(spec.CutoffBefore) {
					t.Errorf("historical time %v after cutoff %v", tm, spec.CutoffBefore)
				}
			}
			for _, tm := range proj.Times() {
				if tm.Before(spec.CutoffAfter) {
					t.Errorf("projected time %v before cutoff %v", tm, spec.CutoffAfter)
				}
			}

			// yearly steps fall on January 1st, so the two segments cover the whole axis
			joined := append(append([]time.Time(nil), hist.Times()...), proj.Times()...)
			if len(joined) != len(times) {
				t.Fatalf("joined %d times, want %d", len(joined), len(times))
			}
			for i := range joined {
				if !joined[i].Equal(times[i]) {
					t.Errorf("joined[%d] = %v, want %v", i, joined[i], times[i])
				}
			}
		})
	}
}
