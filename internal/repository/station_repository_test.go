package repository

import (
	"strings"
	"testing"
	"time"
)

func TestBuildObservationQuery(t *testing.T) {
	start := time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 12, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   ObservationFilter
		wantArgs int
		contains []string
		absent   []string
	}{
		{
			name:     "stations only",
			filter:   ObservationFilter{StationIDs: []string{"3081680"}},
			wantArgs: 1,
			contains: []string{"station_id = ANY($1)", "ORDER BY station_id, variable, obs_date"},
			absent:   []string{"variable = ANY", "obs_date >="},
		},
		{
			name:     "variables and range",
			filter:   ObservationFilter{StationIDs: []string{"3081680"}, Variables: []string{"pr"}, StartDate: &start, EndDate: &end},
			wantArgs: 4,
			contains: []string{"variable = ANY($2)", "obs_date >= $3", "obs_date <= $4"},
		},
		{
			name:     "end date only",
			filter:   ObservationFilter{StationIDs: []string{"3081680"}, EndDate: &end},
			wantArgs: 2,
			contains: []string{"obs_date <= $2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildObservationQuery(tt.filter)
			if len(args) != tt.wantArgs {
				t.Errorf("args = %d, want %d", len(args), tt.wantArgs)
			}
			for _, s := range tt.contains {
				if !strings.Contains(query, s) {
					t.Errorf("query missing %q:\n%s", s, query)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(query, s) {
					t.Errorf("query contains %q:\n%s", s, query)
				}
			}
		})
	}
}
