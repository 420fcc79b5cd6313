package subset

import (
	"time"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/models"
)

// Split partitions a single-location time series at the cutoffs of spec.
// The historical segment keeps the time steps at or before CutoffBefore and
// only the base scenario's percentile band of variable; the projected
// segment keeps the time steps at or after CutoffAfter with every variable.
func Split(ds *arrays.Dataset, spec models.GenerationSpec, variable string) (historical, projected *arrays.Dataset, err error) {
	before, after := spec.CutoffBefore, spec.CutoffAfter

	historical, err = ds.SelectTime(func(t time.Time) bool { return !t.After(before) })
	if err != nil {
		return nil, nil, err
	}
	base := spec.BaseScenario()
	band := make([]string, 0, len(models.Percentiles))
	for _, pct := range models.Percentiles {
		band = append(band, models.PercentileVar(base, variable, pct))
	}
	historical = historical.KeepVars(band...)

	projected, err = ds.SelectTime(func(t time.Time) bool { return !t.Before(after) })
	if err != nil {
		return nil, nil, err
	}
	return historical, projected, nil
}
