package main

import (
	"context"

	"climatedata-api/internal/models"
	"climatedata-api/internal/repository"
)

// dryRunRepository validates extracts without a database. It keeps the
// station rows so a summary can list them, and discards observations.
type dryRunRepository struct {
	stations     map[string]*models.Station
	observations int
}

func newDryRunRepository() *dryRunRepository {
	return &dryRunRepository{stations: make(map[string]*models.Station)}
}

func (r *dryRunRepository) UpsertStation(_ context.Context, station *models.Station) error {
	r.stations[station.StationID] = station
	return nil
}

func (r *dryRunRepository) CreateObservationsBatch(_ context.Context, observations []*models.StationObservation) error {
	r.observations += len(observations)
	return nil
}

var _ repository.StationWriter = (*dryRunRepository)(nil)
