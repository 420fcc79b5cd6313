package models

import (
	"fmt"
	"strings"
	"time"
)

// KelvinToCelsius is added to Kelvin-encoded values before exposure.
const KelvinToCelsius = -273.15

// Generation identifies a family of model-ensemble or observation datasets.
type Generation int

const (
	UnknownGeneration Generation = iota
	CMIP5
	CMIP6
	ANUSPLIN
	NRCANMET
)

var generationNames = map[Generation]string{
	CMIP5:    "CMIP5",
	CMIP6:    "CMIP6",
	ANUSPLIN: "ANUSPLIN",
	NRCANMET: "NRCANMET",
}

// Generations lists every known generation in declaration order.
func Generations() []Generation {
	return []Generation{CMIP5, CMIP6, ANUSPLIN, NRCANMET}
}

// String returns the on-disk directory name of the generation.
func (g Generation) String() string {
	if name, ok := generationNames[g]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseGeneration resolves a request value; matching is case-insensitive.
func ParseGeneration(s string) (Generation, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for g, n := range generationNames {
		if n == name {
			return g, nil
		}
	}
	return UnknownGeneration, &ValidationError{
		Field:   "dataset_name",
		Value:   s,
		Message: "Invalid dataset requested",
	}
}

// IsObservation reports whether g is an observation baseline (no scenarios).
func (g Generation) IsObservation() bool {
	return g == ANUSPLIN || g == NRCANMET
}

// GenerationSpec is the per-generation lookup record.
type GenerationSpec struct {
	Generation  Generation
	Scenarios   []string
	DeltaNaming string
	// Historical segment ends at CutoffBefore; projections start at CutoffAfter.
	CutoffBefore time.Time
	CutoffAfter  time.Time
	Observations Generation
	// SeaLevelPercentiles replaces the p10/p50/p90 convention for slr.
	SeaLevelPercentiles [3]string
}

// Percentiles is the default ensemble band.
var Percentiles = [3]string{"p10", "p50", "p90"}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Spec returns the lookup record of g.
func (g Generation) Spec() GenerationSpec {
	switch g {
	case CMIP5:
		return GenerationSpec{
			Generation:          CMIP5,
			Scenarios:           []string{"rcp26", "rcp45", "rcp85"},
			DeltaNaming:         "delta7100",
			CutoffBefore:        day(2005, time.December, 31),
			CutoffAfter:         day(2006, time.January, 1),
			Observations:        ANUSPLIN,
			SeaLevelPercentiles: [3]string{"p05", "p50", "p95"},
		}
	case CMIP6:
		return GenerationSpec{
			Generation:          CMIP6,
			Scenarios:           []string{"ssp126", "ssp245", "ssp585"},
			DeltaNaming:         "delta_1971_2000",
			CutoffBefore:        day(2014, time.December, 31),
			CutoffAfter:         day(2015, time.January, 1),
			Observations:        NRCANMET,
			SeaLevelPercentiles: [3]string{"p17", "p50", "p83"},
		}
	case ANUSPLIN, NRCANMET:
		return GenerationSpec{Generation: g}
	default:
		return GenerationSpec{}
	}
}

// BaseScenario is the scenario surfaced for the historical segment.
func (s GenerationSpec) BaseScenario() string {
	if len(s.Scenarios) == 0 {
		return ""
	}
	return s.Scenarios[0]
}

// PercentileVar names an absolute ensemble variable, e.g. rcp26_tx_max_p50.
func PercentileVar(scenario, variable, percentile string) string {
	return scenario + "_" + variable + "_" + percentile
}

// DeltaVar names a delta variable, e.g. rcp26_tx_max_delta7100_p50.
func (s GenerationSpec) DeltaVar(scenario, variable, percentile string) string {
	return scenario + "_" + variable + "_" + s.DeltaNaming + "_" + percentile
}

// UnitsProbe is the variable whose units decide the Kelvin offset.
func (s GenerationSpec) UnitsProbe(variable string) string {
	if s.Generation.IsObservation() || len(s.Scenarios) == 0 {
		return variable
	}
	return PercentileVar(s.BaseScenario(), variable, "p50")
}

// ThirtyYearColumns returns the column layout of 30-year graph exports:
// absolute then delta, each scenario, each of p10/p50/p90.
func (s GenerationSpec) ThirtyYearColumns(variable string) []string {
	prefixes := []string{"", s.DeltaNaming + "_"}
	cols := make([]string, 0, len(prefixes)*len(s.Scenarios)*len(Percentiles))
	for _, prefix := range prefixes {
		for _, scenario := range s.Scenarios {
			for _, pct := range Percentiles {
				cols = append(cols, fmt.Sprintf("%s_%s_%s%s", scenario, variable, prefix, pct))
			}
		}
	}
	return cols
}

// Kind is the structural role of a physical file within a generation.
type Kind string

const (
	KindAllYears   Kind = "allyears"
	Kind30YGraph   Kind = "30ygraph"
	Kind30YMeans   Kind = "30ymeans"
	PartitionsPath      = "partitions"
)

// Kinds lists the known kinds.
func Kinds() []Kind {
	return []Kind{KindAllYears, Kind30YGraph, Kind30YMeans}
}

// ParseKind validates a dataset_type request value.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &ValidationError{
		Field:   "dataset_type",
		Value:   s,
		Message: "Invalid dataset type requested",
	}
}

// IsDeltaVar reports whether a data variable holds deltas against a baseline.
func IsDeltaVar(name string) bool {
	return strings.Contains(name, "delta")
}

// UnitOffset is the offset applied to absolute values whose units attribute
// is units. Only Kelvin is converted.
func UnitOffset(units string) float64 {
	if units == "K" {
		return KelvinToCelsius
	}
	return 0
}
