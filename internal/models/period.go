package models

// Frequency is the sampling code used in dataset paths.
type Frequency string

const (
	Annual     Frequency = "YS"
	Monthly    Frequency = "MS"
	Seasonal   Frequency = "QS-DEC"
	SemiAnnual Frequency = "2QS-APR"
)

// Label is the JSON "calculated" header for the frequency.
func (f Frequency) Label() string {
	switch f {
	case Annual:
		return "by year"
	case Monthly:
		return "by month"
	case Seasonal:
		return "by season"
	case SemiAnnual:
		return "from April to September"
	default:
		return ""
	}
}

// FiltersMonth reports whether a multi-period file must be filtered to one month.
func (f Frequency) FiltersMonth() bool {
	return f == Monthly || f == Seasonal
}

// Period is one value of the month request parameter.
type Period struct {
	Token  string
	Suffix string
	Freq   Frequency
	Month  int
}

// AllMonthsToken asks for the twelve monthly files at once.
const AllMonthsToken = "all"

var periods = []Period{
	{"jan", "_01January", Monthly, 1},
	{"feb", "_02February", Monthly, 2},
	{"mar", "_03March", Monthly, 3},
	{"apr", "_04April", Monthly, 4},
	{"may", "_05May", Monthly, 5},
	{"jun", "_06June", Monthly, 6},
	{"jul", "_07July", Monthly, 7},
	{"aug", "_08August", Monthly, 8},
	{"sep", "_09September", Monthly, 9},
	{"oct", "_10October", Monthly, 10},
	{"nov", "_11November", Monthly, 11},
	{"dec", "_12December", Monthly, 12},
	{"ann", "", Annual, 1},
	{"winter", "_winter", Seasonal, 12},
	{"spring", "_spring", Seasonal, 3},
	{"summer", "_summer", Seasonal, 6},
	{"fall", "_fall", Seasonal, 9},
	{"2qsapr", "", SemiAnnual, 4},
}

// LookupPeriod resolves a month token such as "jan", "ann" or "summer".
func LookupPeriod(token string) (Period, error) {
	for _, p := range periods {
		if p.Token == token {
			return p, nil
		}
	}
	return Period{}, &ValidationError{
		Field:   "month",
		Value:   token,
		Message: "Invalid month requested",
	}
}

// MonthlyPeriods returns jan..dec in calendar order.
func MonthlyPeriods() []Period {
	out := make([]Period, 12)
	copy(out, periods[:12])
	return out
}
