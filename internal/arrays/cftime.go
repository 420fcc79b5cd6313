package arrays

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Calendars understood by DecodeTimes.
const (
	CalendarStandard = "standard"
	CalendarNoLeap   = "noleap"
	CalendarAllLeap  = "all_leap"
	Calendar360Day   = "360_day"
)

var calendarAliases = map[string]string{
	"":                    CalendarStandard,
	"standard":            CalendarStandard,
	"gregorian":           CalendarStandard,
	"proleptic_gregorian": CalendarStandard,
	"noleap":              CalendarNoLeap,
	"365_day":             CalendarNoLeap,
	"all_leap":            CalendarAllLeap,
	"366_day":             CalendarAllLeap,
	"360_day":             Calendar360Day,
}

var unitSeconds = map[string]float64{
	"second": 1, "seconds": 1, "s": 1, "sec": 1, "secs": 1,
	"minute": 60, "minutes": 60, "min": 60, "mins": 60,
	"hour": 3600, "hours": 3600, "h": 3600, "hr": 3600, "hrs": 3600,
	"day": 86400, "days": 86400, "d": 86400,
}

var epochLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:04:05",
	"2006-1-2",
}

// ParseTimeUnits splits a CF units string such as "days since 1950-01-01".
func ParseTimeUnits(units string) (step float64, epoch time.Time, err error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("unsupported time units %q", units)
	}
	step, ok := unitSeconds[strings.ToLower(strings.TrimSpace(parts[0]))]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unsupported time step %q", parts[0])
	}
	ref := strings.TrimSpace(parts[1])
	ref = strings.TrimSuffix(ref, " UTC")
	// fractional seconds such as "00:00:00.0"
	if i := strings.LastIndex(ref, "."); i > strings.LastIndex(ref, ":") && strings.Contains(ref, ":") {
		ref = ref[:i]
	}
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unsupported time reference %q", parts[1])
}

// DecodeTimes converts CF numeric time values to UTC timestamps.
func DecodeTimes(values []float64, units, calendar string) ([]time.Time, error) {
	cal, ok := calendarAliases[strings.ToLower(strings.TrimSpace(calendar))]
	if !ok {
		return nil, fmt.Errorf("unsupported calendar %q", calendar)
	}
	step, epoch, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("missing time value at index %d", i)
		}
		seconds := v * step
		if cal == CalendarStandard {
			days := math.Floor(seconds / 86400)
			rem := seconds - days*86400
			out[i] = epoch.AddDate(0, 0, int(days)).Add(time.Duration(math.Round(rem * float64(time.Second))))
			continue
		}
		out[i] = decodeFixedCalendar(epoch, seconds, cal)
	}
	return out, nil
}

var (
	noLeapMonths  = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	allLeapMonths = [12]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
)

// decodeFixedCalendar counts days in a calendar with a fixed year length and
// maps the resulting (year, month, day) onto the proleptic Gregorian calendar.
func decodeFixedCalendar(epoch time.Time, seconds float64, cal string) time.Time {
	yearLen, months := 365, noLeapMonths
	switch cal {
	case CalendarAllLeap:
		yearLen, months = 366, allLeapMonths
	case Calendar360Day:
		yearLen = 360
	}

	dayOfYear := func(m time.Month, d int) int {
		if cal == Calendar360Day {
			return (int(m)-1)*30 + d - 1
		}
		n := d - 1
		for i := 0; i < int(m)-1; i++ {
			n += months[i]
		}
		return n
	}

	clock := epoch.Sub(time.Date(epoch.Year(), epoch.Month(), epoch.Day(), 0, 0, 0, 0, time.UTC)).Seconds()
	startDay := float64(epoch.Year()*yearLen + dayOfYear(epoch.Month(), epoch.Day()))
	total := startDay + (clock+seconds)/86400

	day := math.Floor(total)
	rem := time.Duration(math.Round((total - day) * 86400 * float64(time.Second)))

	ordinal := int(day)
	year := floorDiv(ordinal, yearLen)
	doy := ordinal - year*yearLen

	var month, dom int
	if cal == Calendar360Day {
		month, dom = doy/30+1, doy%30+1
	} else {
		month = 1
		for doy >= months[month-1] {
			doy -= months[month-1]
			month++
		}
		dom = doy + 1
	}

	// days that do not exist in the Gregorian calendar clamp to the month end
	if last := daysIn(year, time.Month(month)); dom > last {
		dom = last
	}
	return time.Date(year, time.Month(month), dom, 0, 0, 0, 0, time.UTC).Add(rem)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// EncodeTimes converts timestamps to days since the reference date on the
// standard calendar.
func EncodeTimes(times []time.Time, ref time.Time) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = t.Sub(ref).Hours() / 24
	}
	return out
}
