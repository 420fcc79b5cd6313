package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"

	"climatedata-api/internal/config"
	"climatedata-api/internal/export"
	"climatedata-api/internal/models"
	"climatedata-api/internal/services"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services groups the operations served over HTTP. Stations is nil when
// the station database is disabled.
type Services struct {
	Export     *services.ExportService
	ThirtyYear *services.ThirtyYearService
	Charts     *services.ChartService
	Forecasts  *services.ForecastService
	Stations   *services.StationService
}

// Handler handles the export, chart and forecast endpoints
type Handler struct {
	cfg     *config.Config
	svc     Services
	db      HealthChecker
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewHandler creates a new API handler. db may be nil.
func NewHandler(cfg *config.Config, svc Services, db HealthChecker, logger logging.Logger, metricsCollector *metrics.Collector) *Handler {
	return &Handler{
		cfg:     cfg,
		svc:     svc,
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Download handles POST /download
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/download"
	defer h.observe(endpoint)()

	var body models.DownloadBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	req, err := h.svc.Export.ParseDownload(body)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	artifact, err := h.svc.Export.Download(r.Context(), req)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.sendArtifact(w, r, endpoint, artifact)
}

// DownloadS2D handles POST /download-s2d
func (h *Handler) DownloadS2D(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/download-s2d"
	defer h.observe(endpoint)()

	var body models.ForecastBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	req, err := h.svc.Forecasts.ParseForecast(body)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	artifact, err := h.svc.Forecasts.Download(r.Context(), req)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.sendArtifact(w, r, endpoint, artifact)
}

// DownloadAHCCD handles GET and POST /download-ahccd
func (h *Handler) DownloadAHCCD(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/download-ahccd"
	defer h.observe(endpoint)()

	if h.svc.Stations == nil {
		h.sendError(w, r, endpoint, "station data is not available", http.StatusServiceUnavailable)
		return
	}

	var body models.StationBody
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		body.Format = q.Get("format")
		body.VariableTypeFilter = q.Get("variable_type_filter")
		if s := q.Get("stations"); s != "" {
			body.Stations = strings.Split(s, ",")
		}
		if z := q.Get("zipped"); z != "" {
			zipped, err := strconv.ParseBool(z)
			if err != nil {
				h.fail(w, r, endpoint, &models.ValidationError{Field: "zipped", Value: z, Message: "zipped must be a boolean"})
				return
			}
			body.Zipped = models.FlexBool(zipped)
		}
	} else if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, endpoint, err)
		return
	}

	req, err := h.svc.Stations.ParseStations(body)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	artifact, err := h.svc.Stations.Download(r.Context(), req)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.sendArtifact(w, r, endpoint, artifact)
}

// Download30Y handles GET /download-30y and /download-regional-30y
func (h *Handler) Download30Y(w http.ResponseWriter, r *http.Request) {
	endpoint := "/download-30y"
	q := locationQuery(r)
	if q.IsRegional() {
		endpoint = "/download-regional-30y"
	}
	defer h.observe(endpoint)()

	req, err := h.svc.ThirtyYear.Parse(q)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	artifact, err := h.svc.ThirtyYear.Download(r.Context(), req)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.sendArtifact(w, r, endpoint, artifact)
}

// GenerateCharts handles GET /generate-charts and /generate-regional-charts
func (h *Handler) GenerateCharts(w http.ResponseWriter, r *http.Request) {
	endpoint := "/generate-charts"
	q := locationQuery(r)
	if q.IsRegional() {
		endpoint = "/generate-regional-charts"
	}
	defer h.observe(endpoint)()

	req, err := h.svc.Charts.Parse(q)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	series, err := h.svc.Charts.Generate(r.Context(), req)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, series, http.StatusOK)
}

// ReleaseDate handles GET /get-s2d-release-date/{var}/{freq}
func (h *Handler) ReleaseDate(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/get-s2d-release-date"
	defer h.observe(endpoint)()

	vars := mux.Vars(r)
	date, err := h.svc.Forecasts.ReleaseDate(r.Context(), vars["var"], vars["freq"])
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, date, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if h.db != nil {
		status["database"] = "healthy"
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK] Database unhealthy", logging.Fields{"error": err.Error()})
			status["status"] = "degraded"
			status["database"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Use(requestID)

	router.HandleFunc("/download", h.Download).Methods("POST")
	router.HandleFunc("/download-s2d", h.DownloadS2D).Methods("POST")
	router.HandleFunc("/download-ahccd", h.DownloadAHCCD).Methods("GET", "POST")
	router.HandleFunc("/download-30y/{lat}/{lon}/{var}/{month}", h.Download30Y).Methods("GET")
	router.HandleFunc("/download-regional-30y/{partition}/{index}/{var}/{month}", h.Download30Y).Methods("GET")
	router.HandleFunc("/generate-charts/{lat}/{lon}/{var}", h.GenerateCharts).Methods("GET")
	router.HandleFunc("/generate-charts/{lat}/{lon}/{var}/{month}", h.GenerateCharts).Methods("GET")
	router.HandleFunc("/generate-regional-charts/{partition}/{index}/{var}", h.GenerateCharts).Methods("GET")
	router.HandleFunc("/generate-regional-charts/{partition}/{index}/{var}/{month}", h.GenerateCharts).Methods("GET")
	router.HandleFunc("/get-s2d-release-date/{var}/{freq}", h.ReleaseDate).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc(docsPath, h.DocsPage).Methods("GET")
	router.HandleFunc(specPath, OpenAPISpec).Methods("GET")
}

// requestID tags the request context with the caller's X-Request-ID or a fresh one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func locationQuery(r *http.Request) models.LocationQuery {
	vars := mux.Vars(r)
	query := r.URL.Query()
	return models.LocationQuery{
		Lat:         vars["lat"],
		Lon:         vars["lon"],
		Partition:   vars["partition"],
		Index:       vars["index"],
		Variable:    vars["var"],
		Month:       vars["month"],
		Decimals:    query.Get("decimals"),
		DatasetName: query.Get("dataset_name"),
	}
}

func decodeBody(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return &models.ValidationError{Field: "body", Message: "Invalid JSON body"}
	}
	return nil
}

func (h *Handler) observe(endpoint string) func() {
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues(endpoint))
	return func() { timer.ObserveDuration() }
}

// fail maps err to a status code and writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var (
		verr  *models.ValidationError
		gap   *models.DataGapError
		empty *models.EmptyResultError
		nf    *models.DatasetNotFoundError
	)
	switch {
	case errors.As(err, &verr):
		h.metrics.RecordAPIError("validation_error", endpoint)
		h.sendError(w, r, endpoint, verr.Message, http.StatusBadRequest)
	case errors.As(err, &gap):
		h.metrics.RecordAPIError("data_gap", endpoint)
		h.sendError(w, r, endpoint, gap.Error(), http.StatusBadRequest)
	case errors.As(err, &empty):
		h.metrics.RecordAPIError("empty_result", endpoint)
		h.sendError(w, r, endpoint, empty.Message, http.StatusNotFound)
	case errors.As(err, &nf):
		h.logger.Warn(r.Context(), "[API_DATASET_MISSING] Requested dataset not available", logging.Fields{
			"endpoint":   endpoint,
			"dataset":    nf.Dataset,
			"candidates": nf.Candidates,
		})
		h.metrics.RecordAPIError("dataset_not_found", endpoint)
		h.sendError(w, r, endpoint, "Dataset not available: "+nf.Dataset, http.StatusBadRequest)
	case errors.Is(err, models.ErrDatasetNotFound):
		h.metrics.RecordAPIError("dataset_not_found", endpoint)
		h.sendError(w, r, endpoint, "Dataset not available", http.StatusBadRequest)
	default:
		h.logger.Error(r.Context(), "[API_"+apiTag(endpoint)+"_ERROR] Request failed", logging.Fields{
			"endpoint": endpoint,
			"path":     r.URL.Path,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		message := "internal server error"
		if h.cfg.Server.Debug {
			message = err.Error()
		}
		h.sendError(w, r, endpoint, message, http.StatusInternalServerError)
	}
}

// apiTag turns "/download-s2d" into "DOWNLOAD_S2D".
func apiTag(endpoint string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimPrefix(endpoint, "/"), "-", "_"))
}

// sendArtifact streams an export payload and releases it. A body already
// carrying a content coding is passed through when the client accepts that
// coding and decoded on the fly otherwise.
func (h *Handler) sendArtifact(w http.ResponseWriter, r *http.Request, endpoint string, a *export.Artifact) {
	defer a.Close()

	body, size := a.Body, a.Size
	if a.Encoding != "" {
		w.Header().Set("Vary", "Accept-Encoding")
		if accepts(r, a.Encoding) {
			w.Header().Set("Content-Encoding", a.Encoding)
		} else {
			zr, err := gzip.NewReader(a.Body)
			if err != nil {
				h.fail(w, r, endpoint, err)
				return
			}
			defer zr.Close()
			// decoded length is unknown
			body, size = zr, 0
		}
	}

	w.Header().Set("Content-Type", a.ContentType)
	disposition := "inline"
	if a.Attachment {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": a.Filename}))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn(r.Context(), "[API_STREAM_ERROR] Response interrupted", logging.Fields{
			"endpoint": endpoint,
			"filename": a.Filename,
			"error":    err.Error(),
		})
	}
}

// accepts reports whether the Accept-Encoding header of r lists coding with
// a non-zero quality.
func accepts(r *http.Request, coding string) bool {
	for _, field := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, params, _ := strings.Cut(field, ";")
		if !strings.EqualFold(strings.TrimSpace(name), coding) {
			continue
		}
		q, ok := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !ok {
			return true
		}
		v, err := strconv.ParseFloat(q, 64)
		return err == nil && v > 0
	}
	return false
}

// sendJSON sends a JSON response
func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}
