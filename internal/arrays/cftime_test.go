package arrays

import (
	"testing"
	"time"
)

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units    string
		step     float64
		epoch    time.Time
		wantFail bool
	}{
		{"days since 1950-01-01", 86400, time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"hours since 1900-01-01 00:00:00", 3600, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"seconds since 1970-01-01T00:00:00Z", 1, time.Unix(0, 0).UTC(), false},
		{"days since 1850-1-1 00:00:00.0 UTC", 86400, time.Date(1850, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"months since 1950-01-01", 0, time.Time{}, true},
		{"1950-01-01", 0, time.Time{}, true},
	}
	for _, tt := range tests {
		step, epoch, err := ParseTimeUnits(tt.units)
		if tt.wantFail {
			if err == nil {
				t.Errorf("ParseTimeUnits(%q) succeeded, want error", tt.units)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeUnits(%q) error = %v", tt.units, err)
			continue
		}
		if step != tt.step || !epoch.Equal(tt.epoch) {
			t.Errorf("ParseTimeUnits(%q) = %v, %v, want %v, %v", tt.units, step, epoch, tt.step, tt.epoch)
		}
	}
}

func TestDecodeTimes(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		units    string
		calendar string
		want     []time.Time
	}{
		{
			name:     "standard",
			values:   []float64{0, 31, 365.5},
			units:    "days since 1950-01-01",
			calendar: "gregorian",
			want: []time.Time{
				time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(1950, 2, 1, 0, 0, 0, 0, time.UTC),
				time.Date(1951, 1, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		{
			name:     "noleap skips february 29",
			values:   []float64{59, 365},
			units:    "days since 2000-01-01",
			calendar: "noleap",
			want: []time.Time{
				time.Date(2000, 3, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name:     "360 day months",
			values:   []float64{30, 360},
			units:    "days since 2001-01-01",
			calendar: "360_day",
			want: []time.Time{
				time.Date(2001, 2, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2002, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name:     "360 day february 30 clamps",
			values:   []float64{59},
			units:    "days since 2001-01-01",
			calendar: "360_day",
			want:     []time.Time{time.Date(2001, 2, 28, 0, 0, 0, 0, time.UTC)},
		},
		{
			name:     "noleap before epoch",
			values:   []float64{-1},
			units:    "days since 2000-01-01",
			calendar: "365_day",
			want:     []time.Time{time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTimes(tt.values, tt.units, tt.calendar)
			if err != nil {
				t.Fatalf("DecodeTimes() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("DecodeTimes() returned %d times, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !got[i].Equal(tt.want[i]) {
					t.Errorf("DecodeTimes()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeTimes_UnknownCalendar(t *testing.T) {
	if _, err := DecodeTimes([]float64{0}, "days since 2000-01-01", "julian_lunar"); err == nil {
		t.Error("DecodeTimes() accepted an unknown calendar")
	}
}

func TestEncodeTimes(t *testing.T) {
	got := EncodeTimes([]time.Time{
		TimeEncodingRef,
		time.Date(1950, 1, 2, 12, 0, 0, 0, time.UTC),
	}, TimeEncodingRef)
	if got[0] != 0 || got[1] != 1.5 {
		t.Errorf("EncodeTimes() = %v, want [0 1.5]", got)
	}
}
