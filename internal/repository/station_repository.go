package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"climatedata-api/internal/models"
	"climatedata-api/pkg/database"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

// StationReader is the query side of the AHCCD station store. It is all
// the API holds; the store is only written by the offline ingester.
type StationReader interface {
	GetStations(ctx context.Context, stationIDs []string) ([]*models.Station, error)
	GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.StationObservation, error)
	HealthCheck(ctx context.Context) error
}

// StationWriter loads station extracts.
type StationWriter interface {
	UpsertStation(ctx context.Context, station *models.Station) error
	CreateObservationsBatch(ctx context.Context, observations []*models.StationObservation) error
}

// StationRepository provides data access for AHCCD station series
type StationRepository interface {
	StationReader
	StationWriter
}

// ObservationFilter defines filters for querying station observations
type ObservationFilter struct {
	StationIDs []string
	Variables  []string
	StartDate  *time.Time
	EndDate    *time.Time
}

// stationRepository implements StationRepository
type stationRepository struct {
	db      *database.PostgresDB
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewStationRepository creates a new station repository
func NewStationRepository(db *database.PostgresDB, logger logging.Logger, metricsCollector *metrics.Collector) StationRepository {
	return &stationRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// NewStationReader exposes only the queries of the repository over db.
func NewStationReader(db *database.PostgresDB, logger logging.Logger, metricsCollector *metrics.Collector) StationReader {
	return NewStationRepository(db, logger, metricsCollector)
}

// UpsertStation creates or refreshes a station record
func (r *stationRepository) UpsertStation(ctx context.Context, station *models.Station) error {
	query := `
		INSERT INTO ahccd_stations (station_id, station_name, province, lat, lon, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (station_id) DO UPDATE SET
			station_name = EXCLUDED.station_name,
			province = EXCLUDED.province,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon
	`

	createdAt := station.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, "upsert_station", query,
		station.StationID,
		station.Name,
		station.Province,
		station.Lat,
		station.Lon,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert station: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_UPSERT_STATION] Station stored", logging.Fields{
		"station_id": station.StationID,
		"province":   station.Province,
	})
	return nil
}

// GetStations retrieves the requested stations that exist, ordered by ID
func (r *stationRepository) GetStations(ctx context.Context, stationIDs []string) ([]*models.Station, error) {
	query := `
		SELECT station_id, station_name, province, lat, lon, created_at
		FROM ahccd_stations
		WHERE station_id = ANY($1)
		ORDER BY station_id
	`

	var stations []*models.Station
	if err := r.db.SelectContext(ctx, "get_stations", &stations, query, pq.Array(stationIDs)); err != nil {
		return nil, fmt.Errorf("failed to get stations: %w", err)
	}
	return stations, nil
}

// CreateObservationsBatch inserts observations in a single transaction
func (r *stationRepository) CreateObservationsBatch(ctx context.Context, observations []*models.StationObservation) error {
	if len(observations) == 0 {
		return nil
	}

	timer := r.metrics.NewTimer(r.metrics.DBQueryDuration.WithLabelValues("batch_insert_observations"))
	defer timer.ObserveDuration()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO ahccd_observations (station_id, variable, obs_date, value, flag)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (station_id, variable, obs_date) DO UPDATE SET
			value = EXCLUDED.value,
			flag = EXCLUDED.flag
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		if _, err := stmt.ExecContext(ctx, obs.StationID, obs.Variable, obs.Date, obs.Value, obs.Flag); err != nil {
			r.metrics.RecordDBError("batch_insert_error")
			return fmt.Errorf("failed to insert observation %s/%s/%s: %w",
				obs.StationID, obs.Variable, obs.Date.Format("2006-01"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info(ctx, "[REPO_BATCH_INSERT] Observations batch inserted", logging.Fields{
		"count": len(observations),
	})
	return nil
}

// GetObservations retrieves observations ordered by station, variable and date
func (r *stationRepository) GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.StationObservation, error) {
	query, args := buildObservationQuery(filter)

	var observations []*models.StationObservation
	if err := r.db.SelectContext(ctx, "get_observations", &observations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get observations: %w", err)
	}
	return observations, nil
}

func buildObservationQuery(filter ObservationFilter) (string, []interface{}) {
	query := `
		SELECT station_id, variable, obs_date, value, flag
		FROM ahccd_observations
		WHERE station_id = ANY($1)
	`
	args := []interface{}{pq.Array(filter.StationIDs)}
	argNum := 2

	if len(filter.Variables) > 0 {
		query += fmt.Sprintf(" AND variable = ANY($%d)", argNum)
		args = append(args, pq.Array(filter.Variables))
		argNum++
	}
	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND obs_date >= $%d", argNum)
		args = append(args, *filter.StartDate)
		argNum++
	}
	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND obs_date <= $%d", argNum)
		args = append(args, *filter.EndDate)
	}

	query += " ORDER BY station_id, variable, obs_date"
	return query, args
}

// HealthCheck performs a repository health check
func (r *stationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
