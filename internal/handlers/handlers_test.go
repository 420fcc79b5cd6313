package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/locator"
	"climatedata-api/internal/models"
	"climatedata-api/internal/repository"
	"climatedata-api/internal/s2d"
	"climatedata-api/internal/services"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

type mapSource struct {
	cfg  config.DatasetsConfig
	keys map[string]*arrays.Dataset
}

func (m *mapSource) Open(_ context.Context, req locator.Request) (*arrays.Dataset, error) {
	candidates := locator.Candidates(m.cfg, req)
	for _, key := range candidates {
		if ds, ok := m.keys[key]; ok {
			return ds.Clone(), nil
		}
	}
	return nil, &models.DatasetNotFoundError{Dataset: req.String(), Candidates: candidates}
}

func (m *mapSource) OpenOptional(ctx context.Context, req locator.Request) (*arrays.Dataset, bool, error) {
	ds, err := m.Open(ctx, req)
	if errors.Is(err, models.ErrDatasetNotFound) {
		return nil, false, nil
	}
	return ds, err == nil, err
}

func (m *mapSource) OpenPath(_ context.Context, label, key string, sel arrays.Selection) (*arrays.Dataset, error) {
	if ds, ok := m.keys[key]; ok {
		return ds.Clone().Select(sel)
	}
	return nil, &models.DatasetNotFoundError{Dataset: label, Candidates: []string{key}}
}

// emptyRepository knows no stations. The API only reads the station store.
type emptyRepository struct{ healthErr error }

var _ repository.StationReader = emptyRepository{}

func (emptyRepository) GetStations(context.Context, []string) ([]*models.Station, error) {
	return nil, nil
}
func (emptyRepository) GetObservations(context.Context, repository.ObservationFilter) ([]*models.StationObservation, error) {
	return nil, nil
}
func (r emptyRepository) HealthCheck(context.Context) error { return r.healthErr }

type options struct {
	debug    bool
	stations bool
	db       HealthChecker
}

func newRouter(t *testing.T, opts options) *mux.Router {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.TempDir = t.TempDir()
	cfg.Server.Debug = opts.debug

	src := &mapSource{cfg: cfg.Datasets, keys: make(map[string]*arrays.Dataset)}
	ds := arrays.NewGrid(
		[]time.Time{time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		[]float64{45}, []float64{-73},
	)
	if err := ds.AddVar("rcp26_tx_max_p50", []string{"time", "lat", "lon"}, []float64{274.15}, "units", "K"); err != nil {
		t.Fatal(err)
	}
	req := locator.Request{Generation: models.CMIP5, Kind: models.KindAllYears, Variable: "tx_max", Freq: models.Annual}
	src.keys[locator.Candidates(cfg.Datasets, req)[0]] = ds

	logger := logging.Nop()
	m := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
	svc := Services{
		Export:     services.NewExportService(cfg, src, logger, m),
		ThirtyYear: services.NewThirtyYearService(cfg, src, logger, m),
		Charts:     services.NewChartService(cfg, src, logger, m),
		Forecasts:  services.NewForecastService(cfg, s2d.NewMerger(cfg.S2D, src, logger), logger, m),
	}
	if opts.stations {
		svc.Stations = services.NewStationService(cfg, emptyRepository{}, logger, m)
	}

	router := mux.NewRouter()
	NewHandler(cfg, svc, opts.db, logger, m).RegisterRoutes(router)
	return router
}

func serve(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestDownload_CSV(t *testing.T) {
	router := newRouter(t, options{})
	rec := serve(router, "POST", "/download", `{"var":"tx_max","month":"ann","format":"csv","points":[[45,-73]]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "inline; filename=tx_max.csv" {
		t.Errorf("Content-Disposition = %q", got)
	}
	want := "time,lat,lon,rcp26_tx_max_p50\n2000-01-01,45,-73,1.0\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestDownload_Decimals(t *testing.T) {
	tests := []struct {
		name     string
		decimals string
		wantCode int
		wantBody string
	}{
		{"number", `2`, http.StatusOK, "2000-01-01,45,-73,1.00\n"},
		{"numeric string", `"2"`, http.StatusOK, "2000-01-01,45,-73,1.00\n"},
		{"zero as string", `"0"`, http.StatusOK, "2000-01-01,45,-73,1\n"},
		{"word", `"two"`, http.StatusBadRequest, "invalid number of decimals"},
		{"negative string", `"-1"`, http.StatusBadRequest, "invalid number of decimals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"var":"tx_max","month":"ann","format":"csv","points":[[45,-73]],"decimals":` + tt.decimals + `}`
			rec := serve(newRouter(t, options{}), "POST", "/download", body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				if resp := decodeError(t, rec); resp.Message != tt.wantBody {
					t.Errorf("message = %q, want %q", resp.Message, tt.wantBody)
				}
				return
			}
			if !strings.HasSuffix(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want suffix %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestDownload_NetCDF(t *testing.T) {
	const body = `{"var":"tx_max","month":"ann","format":"netcdf","points":[[45,-73]]}`
	tests := []struct {
		name           string
		acceptEncoding string
		wantEncoding   string
	}{
		{"gzip accepted", "gzip, deflate", "gzip"},
		{"gzip refused", "gzip;q=0", ""},
		{"no preference", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/download", strings.NewReader(body))
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			rec := httptest.NewRecorder()
			newRouter(t, options{}).ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=tx_max.nc" {
				t.Errorf("Content-Disposition = %q, want attachment; filename=tx_max.nc", got)
			}
			if got := rec.Header().Get("Content-Encoding"); got != tt.wantEncoding {
				t.Errorf("Content-Encoding = %q, want %q", got, tt.wantEncoding)
			}

			payload := rec.Body.Bytes()
			if tt.wantEncoding == "gzip" {
				if got := rec.Header().Get("Content-Length"); got != strconv.Itoa(len(payload)) {
					t.Errorf("Content-Length = %q, want %d", got, len(payload))
				}
				zr, err := gzip.NewReader(bytes.NewReader(payload))
				if err != nil {
					t.Fatalf("gzip.NewReader() error = %v", err)
				}
				if payload, err = io.ReadAll(zr); err != nil {
					t.Fatal(err)
				}
			}
			// classic netCDF magic
			if !bytes.HasPrefix(payload, []byte("CDF")) {
				t.Errorf("payload starts with %q, want CDF", payload[:min(len(payload), 4)])
			}
		})
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"gzip", true},
		{"deflate, GZIP", true},
		{"br;q=1.0, gzip;q=0.5", true},
		{"gzip;q=0", false},
		{"x-gzip", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Accept-Encoding", tt.header)
		if got := accepts(r, "gzip"); got != tt.want {
			t.Errorf("accepts(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestDownload_Errors(t *testing.T) {
	tests := []struct {
		name        string
		debug       bool
		body        string
		wantCode    int
		wantMessage string
	}{
		{"malformed json", false, `{"var":`, http.StatusBadRequest, "Invalid JSON body"},
		{"unknown variable", false, `{"var":"nope","month":"ann","format":"csv","points":[[45,-73]]}`, http.StatusBadRequest, "Invalid variable requested"},
		{"both geometries", false, `{"var":"tx_max","month":"ann","format":"csv","points":[[45,-73]],"bbox":[1,2,3,4]}`, http.StatusBadRequest, "Can't request both points and bbox simultaneously"},
		{"missing monthly dataset", false, `{"var":"tx_max","month":"jan","format":"csv","points":[[45,-73]]}`, http.StatusBadRequest, "Dataset not available: CMIP5, allyears, tx_max"},
		{"missing dataset in debug", true, `{"var":"tx_max","month":"jan","format":"csv","points":[[45,-73]]}`, http.StatusBadRequest, "Dataset not available"},
		{"missing generation", false, `{"var":"tx_max","month":"ann","format":"csv","dataset_name":"CMIP6","points":[[45,-73]]}`, http.StatusBadRequest, "Dataset not available: CMIP6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(t, options{debug: tt.debug}), "POST", "/download", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			resp := decodeError(t, rec)
			if !strings.Contains(resp.Message, tt.wantMessage) {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMessage)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestDownloadAHCCD(t *testing.T) {
	tests := []struct {
		name     string
		stations bool
		method   string
		target   string
		body     string
		wantCode int
	}{
		{"database disabled", false, "GET", "/download-ahccd?format=csv&stations=A", "", http.StatusServiceUnavailable},
		{"unknown station", true, "GET", "/download-ahccd?format=csv&stations=A,B", "", http.StatusNotFound},
		{"bad zipped flag", true, "GET", "/download-ahccd?format=csv&stations=A&zipped=maybe", "", http.StatusBadRequest},
		{"post without stations", true, "POST", "/download-ahccd", `{"format":"csv","stations":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(t, options{stations: tt.stations}), tt.method, tt.target, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestReleaseDate_InvalidFrequency(t *testing.T) {
	rec := serve(newRouter(t, options{}), "GET", "/get-s2d-release-date/air_temp/weekly", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Message != "Invalid frequency `weekly`" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		db         HealthChecker
		wantCode   int
		wantStatus string
	}{
		{"no database", nil, http.StatusOK, "healthy"},
		{"database up", emptyRepository{}, http.StatusOK, "healthy"},
		{"database down", emptyRepository{healthErr: errors.New("connection refused")}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(t, options{db: tt.db}), "GET", "/health", "")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestOpenAPISpec(t *testing.T) {
	rec := serve(newRouter(t, options{}), "GET", "/api/docs/openapi.json", "")
	var spec struct {
		Paths map[string]interface{} `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &spec); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"/download", "/download-s2d", "/download-ahccd", "/health"} {
		if _, ok := spec.Paths[path]; !ok {
			t.Errorf("paths missing %s", path)
		}
	}
}

func TestDocsPage(t *testing.T) {
	tests := []struct {
		name     string
		debug    bool
		tryItOut string
	}{
		{"production", false, "tryItOutEnabled: false"},
		{"debug", true, "tryItOutEnabled: true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(t, options{debug: tt.debug}), "GET", "/api/docs", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
				t.Errorf("Content-Type = %q", got)
			}
			page := rec.Body.String()
			for _, want := range []string{"<title>Climate Data API</title>", "openapi.json", tt.tryItOut} {
				if !strings.Contains(page, want) {
					t.Errorf("page missing %q", want)
				}
			}
		})
	}
}

func TestAPITag(t *testing.T) {
	tests := map[string]string{
		"/download":              "DOWNLOAD",
		"/download-s2d":          "DOWNLOAD_S2D",
		"/get-s2d-release-date":  "GET_S2D_RELEASE_DATE",
		"/download-regional-30y": "DOWNLOAD_REGIONAL_30Y",
	}
	for in, want := range tests {
		if got := apiTag(in); got != want {
			t.Errorf("apiTag(%q) = %q, want %q", in, got, want)
		}
	}
}
