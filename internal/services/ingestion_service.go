package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"climatedata-api/internal/models"
	"climatedata-api/internal/repository"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

// extractColumns is the header of an AHCCD station extract.
var extractColumns = []string{"station_id", "station_name", "prov", "lat", "lon", "year", "month", "value", "flag"}

// IngestionService loads AHCCD station extracts into the station repository.
type IngestionService struct {
	repo    repository.StationWriter
	logger  logging.Logger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles        int
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	Stations          int
	Duration          time.Duration
	Errors            []string
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.StationWriter, logger logging.Logger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestDirectory ingests every *.csv extract of dataDir. The variable of
// an extract is the file name up to its first underscore (tas_ahccd.csv
// holds tas).
func (s *IngestionService) IngestDirectory(ctx context.Context, dataDir string, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting station ingestion", logging.Fields{
		"data_dir":   dataDir,
		"batch_size": batchSize,
		"stage":      "INITIALIZATION",
	})

	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no station extracts found in %s", dataDir)
	}

	result := &IngestionResult{TotalFiles: len(files), Errors: make([]string, 0)}
	seen := make(map[string]bool)

	for _, filePath := range files {
		fileResult, err := s.IngestFile(ctx, filePath, batchSize, seen)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", filePath, err))
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": filePath,
				"stage":     "FILE_PROCESSING",
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		result.TotalRecords += fileResult.TotalRecords
		result.SuccessfulRecords += fileResult.SuccessfulRecords
		result.FailedRecords += fileResult.FailedRecords

		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested", logging.Fields{
			"file_path":          filePath,
			"variable":           fileResult.Variable,
			"total_records":      fileResult.TotalRecords,
			"successful_records": fileResult.SuccessfulRecords,
			"failed_records":     fileResult.FailedRecords,
			"stage":              "FILE_COMPLETE",
		})
	}

	result.Stations = len(seen)
	result.Duration = time.Since(startTime)

	s.logger.Info(ctx, "[INGEST_COMPLETE] Station ingestion completed", logging.Fields{
		"total_files":        result.TotalFiles,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"stations":           result.Stations,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
		"stage":              "COMPLETE",
	})
	return result, nil
}

// FileIngestionResult contains per-file ingestion statistics
type FileIngestionResult struct {
	Variable          string
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
}

// ExtractVariable returns the station variable held by an extract file.
func ExtractVariable(filePath string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	name, _, _ := strings.Cut(stem, "_")
	for _, v := range models.StationVariables {
		if v.Name == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown station variable %q in %s", name, filepath.Base(filePath))
}

// IngestFile ingests one extract. Stations already in seen are not
// upserted again.
func (s *IngestionService) IngestFile(ctx context.Context, filePath string, batchSize int, seen map[string]bool) (*FileIngestionResult, error) {
	variable, err := ExtractVariable(filePath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return s.ingest(ctx, file, variable, batchSize, seen)
}

func (s *IngestionService) ingest(ctx context.Context, r io.Reader, variable string, batchSize int, seen map[string]bool) (*FileIngestionResult, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(extractColumns)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, name := range extractColumns {
		if strings.TrimSpace(strings.ToLower(header[i])) != name {
			return nil, fmt.Errorf("unexpected column %q at position %d, want %q", header[i], i, name)
		}
	}

	result := &FileIngestionResult{Variable: variable}
	batch := make([]*models.StationObservation, 0, batchSize)

	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		result.TotalRecords++
		if err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("parse_error")
			continue
		}

		record := &models.RawStationRecord{
			StationID: fields[0],
			Name:      fields[1],
			Province:  fields[2],
			Lat:       fields[3],
			Lon:       fields[4],
			Year:      fields[5],
			Month:     fields[6],
			Value:     fields[7],
			Flag:      fields[8],
		}

		if id := strings.TrimSpace(record.StationID); !seen[id] {
			station, err := record.ToStation()
			if err != nil {
				result.FailedRecords++
				s.metrics.RecordIngestionError("station_error")
				continue
			}
			if err := s.repo.UpsertStation(ctx, station); err != nil {
				return nil, fmt.Errorf("failed to upsert station %s: %w", id, err)
			}
			seen[id] = true
		}

		observation, err := record.ToObservation(variable)
		if err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("conversion_error")
			continue
		}
		batch = append(batch, observation)

		if len(batch) >= batchSize {
			if err := s.flush(ctx, batch); err != nil {
				return nil, err
			}
			result.SuccessfulRecords += len(batch)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.flush(ctx, batch); err != nil {
			return nil, err
		}
		result.SuccessfulRecords += len(batch)
	}
	return result, nil
}

func (s *IngestionService) flush(ctx context.Context, batch []*models.StationObservation) error {
	if err := s.repo.CreateObservationsBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	s.metrics.IngestionRecordsTotal.Add(float64(len(batch)))
	return nil
}
