// Package s2d merges the seasonal-to-decadal forecast, climatology and skill
// datasets into one dataset per requested period.
package s2d

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/locator"
	"climatedata-api/internal/models"
	"climatedata-api/internal/subset"
	"climatedata-api/pkg/logging"
)

// Loader opens datasets stored at fixed keys.
type Loader interface {
	OpenPath(ctx context.Context, label, key string, sel arrays.Selection) (*arrays.Dataset, error)
}

// Variables dropped from the merged output per forecast type.
var dropped = map[models.ForecastType][]string{
	models.ForecastExpected: {
		"prob_unusually_high", "prob_unusually_low",
		"cutoff_unusually_high_p80", "cutoff_unusually_low_p20",
	},
	models.ForecastUnusual: {
		"prob_above_normal", "prob_near_normal", "prob_below_normal",
		"cutoff_above_normal_p66", "cutoff_below_normal_p33",
	},
}

// Dropped lists the variables removed for forecast type ft.
func Dropped(ft models.ForecastType) []string {
	return append([]string(nil), dropped[ft]...)
}

// Period is the merged dataset of one requested period.
type Period struct {
	Date     time.Time
	Label    string
	Basename string
	Dataset  *arrays.Dataset
}

// Result is the outcome of a merge, one entry per distinct period file.
type Result struct {
	Release time.Time
	ZipName string
	Periods []Period
}

// Merger aligns the three periodic forecast datasets.
type Merger struct {
	cfg    config.S2DConfig
	loader Loader
	logger logging.Logger
}

// NewMerger creates a merger reading through loader.
func NewMerger(cfg config.S2DConfig, loader Loader, logger logging.Logger) *Merger {
	return &Merger{cfg: cfg, loader: loader, logger: logger}
}

func (m *Merger) key(tpl, variable string, freq models.ForecastFrequency, refMonth int) string {
	return locator.Expand(tpl, map[string]string{
		"var":       variable,
		"freq":      string(freq),
		"ref_month": strconv.Itoa(refMonth),
	})
}

// ReleaseDate returns the earliest time of the forecast dataset.
func (m *Merger) ReleaseDate(ctx context.Context, variable string, freq models.ForecastFrequency) (time.Time, error) {
	forecast, err := m.loader.OpenPath(ctx, "s2d_forecast", m.key(m.cfg.ForecastPath, variable, freq, 0),
		arrays.Selection{Vars: arrays.CoordsOnly})
	if err != nil {
		return time.Time{}, err
	}
	return releaseOf(forecast)
}

func releaseOf(forecast *arrays.Dataset) (time.Time, error) {
	times := forecast.Times()
	if len(times) == 0 {
		return time.Time{}, fmt.Errorf("forecast dataset has no time steps")
	}
	earliest := times[0]
	for _, t := range times[1:] {
		if t.Before(earliest) {
			earliest = t
		}
	}
	return time.Date(earliest.Year(), earliest.Month(), earliest.Day(), 0, 0, 0, 0, time.UTC), nil
}

// Merge loads, validates, subsets and merges the datasets of req.
func (m *Merger) Merge(ctx context.Context, req models.ForecastRequest) (*Result, error) {
	forecast, err := m.loader.OpenPath(ctx, "s2d_forecast", m.key(m.cfg.ForecastPath, req.Variable, req.Frequency, 0),
		arrays.Selection{Vars: arrays.Named(m.cfg.ForecastVars...)})
	if err != nil {
		return nil, err
	}
	for _, p := range req.Periods {
		if _, ok := yearMonthIndex(forecast, p); !ok {
			return nil, &models.DataGapError{Dataset: "forecast", Period: p.Format("2006-01")}
		}
	}
	release, err := releaseOf(forecast)
	if err != nil {
		return nil, err
	}

	climatology, err := m.loader.OpenPath(ctx, "s2d_climatology", m.key(m.cfg.ClimatologyPath, req.Variable, req.Frequency, 0),
		arrays.Selection{Vars: arrays.Named(m.cfg.ClimatologyVars...)})
	if err != nil {
		return nil, err
	}
	skill, err := m.loader.OpenPath(ctx, "s2d_skill", m.key(m.cfg.SkillPath, req.Variable, req.Frequency, int(release.Month())),
		arrays.Selection{Vars: arrays.Named(m.cfg.SkillVars...)})
	if err != nil {
		return nil, err
	}

	climatology = m.toNominalYear(climatology)
	skill = m.toNominalYear(skill)
	for _, p := range req.Periods {
		if _, ok := monthIndex(skill, p.Month()); !ok {
			return nil, &models.DataGapError{Dataset: "skill", Period: p.Format("2006-01")}
		}
		if _, ok := monthIndex(climatology, p.Month()); !ok {
			return nil, &models.DataGapError{Dataset: "climatology", Period: p.Format("2006-01")}
		}
	}

	operands := []*arrays.Dataset{forecast, climatology, skill}
	for i, ds := range operands {
		if operands[i], err = applyGeometry(ds, req.Geometry); err != nil {
			return nil, err
		}
	}

	res := &Result{Release: release}
	res.ZipName = fmt.Sprintf("%s_%s_%s_Release%s.zip",
		m.label(req.Variable), m.label(string(req.ForecastType)), m.label(string(req.Frequency)), releaseToken(release))

	seen := make(map[string]int)
	for _, p := range req.Periods {
		merged, err := mergePeriod(operands, p)
		if err != nil {
			return nil, fmt.Errorf("merge period %s: %w", p.Format("2006-01"), err)
		}
		label := PeriodLabel(req.Frequency, p.Month())
		merged.Attrs.Set("time_period", label)
		merged = merged.DropVars(dropped[req.ForecastType]...)

		period := Period{
			Date:     p,
			Label:    label,
			Basename: fmt.Sprintf("%s_%s_%s_Release%s", m.label(req.Variable), m.label(string(req.ForecastType)), label, releaseToken(release)),
			Dataset:  merged,
		}
		// a repeated label replaces the earlier file of the same name
		if i, ok := seen[period.Basename]; ok {
			res.Periods[i] = period
			continue
		}
		seen[period.Basename] = len(res.Periods)
		res.Periods = append(res.Periods, period)
	}

	m.logger.Debug(ctx, "[S2D_MERGE] Periodic forecast merged", logging.Fields{
		"variable": req.Variable,
		"periods":  len(res.Periods),
		"release":  release.Format("2006-01-02"),
	})
	return res, nil
}

func (m *Merger) label(key string) string {
	if l, ok := m.cfg.FilenameLabels[key]; ok {
		return l
	}
	return key
}

// toNominalYear moves every time step of ds onto the climatology year.
func (m *Merger) toNominalYear(ds *arrays.Dataset) *arrays.Dataset {
	out := ds.Clone()
	c := out.Coord(arrays.TimeDim)
	if c == nil {
		return out
	}
	for i, t := range c.Times {
		c.Times[i] = time.Date(m.cfg.ClimatologyYear, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	}
	return out
}

func applyGeometry(ds *arrays.Dataset, g models.Geometry) (*arrays.Dataset, error) {
	if g.IsBBox() {
		return subset.BBox(ds, *g.BBox, subset.Options{})
	}
	return subset.PointsMasked(ds, g.Points)
}

// mergePeriod selects period p from each operand, drops time and merges the
// operands on lat/lon. Attributes come from the forecast operand.
func mergePeriod(operands []*arrays.Dataset, p time.Time) (*arrays.Dataset, error) {
	slices := make([]*arrays.Dataset, len(operands))
	for i, ds := range operands {
		idx, ok := monthIndex(ds, p.Month())
		if i == 0 {
			idx, ok = yearMonthIndex(ds, p)
		}
		if !ok {
			return nil, fmt.Errorf("operand %d has no step for month %d", i, p.Month())
		}
		sel, err := ds.Isel(arrays.TimeDim, idx)
		if err != nil {
			return nil, err
		}
		slices[i] = sel.DropCoords(arrays.TimeDim)
	}
	return arrays.MergeOuter([]string{"lat", "lon"}, slices, 0)
}

func yearMonthIndex(ds *arrays.Dataset, p time.Time) (int, bool) {
	for i, t := range ds.Times() {
		if t.Year() == p.Year() && t.Month() == p.Month() {
			return i, true
		}
	}
	return 0, false
}

func monthIndex(ds *arrays.Dataset, month time.Month) (int, bool) {
	for i, t := range ds.Times() {
		if t.Month() == month {
			return i, true
		}
	}
	return 0, false
}

// PeriodLabel names a period in filenames: "Jun" for monthly forecasts,
// "Jun-Aug" for the three-month season starting in month.
func PeriodLabel(freq models.ForecastFrequency, month time.Month) string {
	if freq == models.ForecastSeasonal {
		end := time.Month((int(month)+1)%12 + 1)
		return abbr(month) + "-" + abbr(end)
	}
	return abbr(month)
}

func releaseToken(release time.Time) string {
	return abbr(release.Month()) + strconv.Itoa(release.Year())
}

func abbr(m time.Month) string {
	return m.String()[:3]
}
