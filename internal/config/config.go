package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"climatedata-api/internal/models"
)

// Config is loaded once at startup and passed explicitly to every component.
// Nothing mutates it after Load returns.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Datasets DatasetsConfig `yaml:"datasets"`
	Export   ExportConfig   `yaml:"export"`
	S2D      S2DConfig      `yaml:"s2d"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// Debug exposes internal error details in 500 responses.
	Debug bool `yaml:"debug"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	// Enabled turns on the station export backed by Postgres.
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type StorageConfig struct {
	// Backend is "fs" or "s3".
	Backend string `yaml:"backend"`
	// Root is the datasets root directory for the fs backend.
	Root string `yaml:"root"`
	// TempDir receives scratch files (netCDF responses, zip staging, S3 downloads).
	TempDir string   `yaml:"temp_dir"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// TemplateTable maps generation name to kind to ordered filename templates.
type TemplateTable map[string]map[string][]string

type DatasetsConfig struct {
	Variables          []string          `yaml:"variables"`
	SPEIVariables      []string          `yaml:"spei_variables"`
	SPEIDateLimit      string            `yaml:"spei_date_limit"`
	Templates          TemplateTable     `yaml:"templates"`
	PartitionTemplates TemplateTable     `yaml:"partition_templates"`
	SeaLevelPaths      map[string]string `yaml:"sea_level_paths"`
	// SeaLevelEnhancedPath holds the enhanced-scenario sea level point shown by charts.
	SeaLevelEnhancedPath string `yaml:"sea_level_enhanced_path"`
	AllowancePath        string `yaml:"allowance_path"`
	SPEIPath             string `yaml:"spei_path"`
	SPEIObservedPath     string `yaml:"spei_observed_path"`
}

type ExportConfig struct {
	DownloadPointsLimit int      `yaml:"download_points_limit"`
	DefaultDecimals     int      `yaml:"default_decimals"`
	ChartDecimals       int      `yaml:"chart_decimals"`
	CSVColumnsOrder     []string `yaml:"csv_columns_order"`
	AHCCDStationsLimit  int      `yaml:"ahccd_stations_limit"`
	AHCCDOrder          []string `yaml:"ahccd_order"`
}

type S2DConfig struct {
	Variables       []string          `yaml:"variables"`
	ForecastPath    string            `yaml:"forecast_path"`
	ClimatologyPath string            `yaml:"climatology_path"`
	SkillPath       string            `yaml:"skill_path"`
	ClimatologyYear int               `yaml:"climatology_year"`
	Decimals        int               `yaml:"decimals"`
	FilenameLabels  map[string]string `yaml:"filename_labels"`
	ForecastVars    []string          `yaml:"forecast_vars"`
	ClimatologyVars []string          `yaml:"climatology_vars"`
	SkillVars       []string          `yaml:"skill_vars"`
}

// Defaults returns the configuration used when no file overrides a value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 300 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "climatedata",
			Database:        "climatedata",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: "fs",
			Root:    "./datasets",
			TempDir: os.TempDir(),
			S3:      S3Config{Region: "us-east-1"},
		},
		Datasets: DatasetsConfig{
			Variables: []string{
				"cddcold_18", "frost_days", "gddgrow_0", "gddgrow_10", "gddgrow_5", "hddheat_17",
				"heat_wave_frequency_Tmin20_Tmax30", "heat_wave_max_length_Tmin20_Tmax30",
				"ice_days", "prcptot", "r10mm", "r1mm", "r20mm", "rx1day", "tg_mean",
				"tnlt_-15", "tnlt_-25", "tn_max", "tn_mean", "tn_min", "tr_18", "tr_20", "tr_22",
				"txgt_25", "txgt_27", "txgt_29", "txgt_30", "txgt_32", "tx_max", "tx_mean", "tx_min",
				"slr", "allowance", "spei_3m", "spei_12m",
			},
			SPEIVariables: []string{"spei_3m", "spei_12m"},
			SPEIDateLimit: "1950-01-01",
			Templates: TemplateTable{
				"CMIP5": {
					"allyears": {
						"BCCAQv2+ANUSPLIN300_ensemble-percentiles_historical+allrcps_1951-2100_{var}_{freq}{period}.nc",
						"BCCAQv2+ANUSPLIN300_ensemble-percentiles_historical+allrcps_1950-2100_{var}_{freq}{period}.nc",
					},
					"30ygraph": {"BCCAQv2+ANUSPLIN300_ensemble-percentiles_allrcps_30ygraph_{var}_{freq}{period}.nc"},
					"30ymeans": {"BCCAQv2+ANUSPLIN300_ensemble-percentiles_allrcps_30ymeans_{var}_{freq}{period}.nc"},
				},
				"CMIP6": {
					"allyears": {"CanDCS-U6_ensemble-percentiles_historical+allssps_1950-2100_{var}_{freq}{period}.nc"},
					"30ygraph": {"CanDCS-U6_ensemble-percentiles_allssps_30ygraph_{var}_{freq}{period}.nc"},
					"30ymeans": {"CanDCS-U6_ensemble-percentiles_allssps_30ymeans_{var}_{freq}{period}.nc"},
				},
				"ANUSPLIN": {
					"allyears": {"ANUSPLIN300_{var}_{freq}{period}.nc", "ANUSPLIN300_1950-2013_{var}_{freq}{period}.nc"},
				},
				"NRCANMET": {
					"allyears": {"nrcanmet_{var}_{freq}{period}.nc"},
				},
			},
			PartitionTemplates: TemplateTable{
				"CMIP5": {
					"allyears": {"BCCAQv2+ANUSPLIN300_ensemble-percentiles_historical+allrcps_1951-2100_{var}_{freq}.nc"},
					"30ygraph": {"BCCAQv2+ANUSPLIN300_ensemble-percentiles_allrcps_30ygraph_{var}_{freq}.nc"},
				},
				"CMIP6": {
					"allyears": {"CanDCS-U6_ensemble-percentiles_historical+allssps_1950-2100_{var}_{freq}.nc"},
					"30ygraph": {"CanDCS-U6_ensemble-percentiles_allssps_30ygraph_{var}_{freq}.nc"},
				},
				"ANUSPLIN": {
					"allyears": {"ANUSPLIN300_{var}_{freq}.nc"},
				},
				"NRCANMET": {
					"allyears": {"nrcanmet_{var}_{freq}.nc"},
				},
			},
			SeaLevelPaths: map[string]string{
				"CMIP5": "slr/slr_cmip5_ensemble-percentiles.nc",
				"CMIP6": "slr/slr_cmip6_ensemble-percentiles.nc",
			},
			SeaLevelEnhancedPath: "slr/slr_enhanced_cmip5.nc",
			AllowancePath:        "allowance/allowance_cmip6_ensemble-percentiles.nc",
			SPEIPath:             "spei/{var}_ensemble-percentiles.nc",
			SPEIObservedPath:     "spei/{var}_observed.nc",
		},
		Export: ExportConfig{
			DownloadPointsLimit: 1000,
			DefaultDecimals:     1,
			ChartDecimals:       2,
			CSVColumnsOrder:     []string{"time", "lat", "lon"},
			AHCCDStationsLimit:  100,
			AHCCDOrder: []string{
				"time", "station", "station_name", "prov", "lat", "lon",
				"tas", "tas_flag", "tasmax", "tasmax_flag", "tasmin", "tasmin_flag",
				"pr", "pr_flag", "prlp", "prlp_flag", "prsn", "prsn_flag",
			},
		},
		S2D: S2DConfig{
			Variables:       []string{"air_temp", "precip_accum"},
			ForecastPath:    "s2d/forecast/{var}_{freq}_forecast.nc",
			ClimatologyPath: "s2d/climatology/{var}_{freq}_climatology.nc",
			SkillPath:       "s2d/skill/{var}_{freq}_skill_ref{ref_month}.nc",
			ClimatologyYear: 1991,
			Decimals:        2,
			FilenameLabels: map[string]string{
				"air_temp":     "AirTemp",
				"precip_accum": "TotalPrecip",
				"expected":     "ExpectedCondition",
				"unusual":      "UnusualCondition",
				"monthly":      "Monthly",
				"seasonal":     "Seasonal",
			},
			ForecastVars: []string{
				"prob_unusually_low", "prob_below_normal", "prob_near_normal",
				"prob_above_normal", "prob_unusually_high",
			},
			ClimatologyVars: []string{
				"cutoff_unusually_low_p20", "cutoff_below_normal_p33", "historical_median_p50",
				"cutoff_above_normal_p66", "cutoff_unusually_high_p80",
			},
			SkillVars: []string{"skill_CRPSS", "skill_level"},
		},
	}
}

// LoadConfig loads the file named by CLIMATEDATA_CONFIG, or defaults when unset.
func LoadConfig() (*Config, error) {
	return Load(getEnv("CLIMATEDATA_CONFIG", ""))
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Host = getEnv("CLIMATEDATA_HOST", c.Server.Host)
	c.Logging.Level = getEnv("CLIMATEDATA_LOG_LEVEL", c.Logging.Level)
	c.Storage.Backend = getEnv("CLIMATEDATA_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Root = getEnv("CLIMATEDATA_DATASETS_ROOT", c.Storage.Root)
	c.Storage.TempDir = getEnv("CLIMATEDATA_TEMP_DIR", c.Storage.TempDir)
	c.Storage.S3.Bucket = getEnv("CLIMATEDATA_S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.S3.Prefix = getEnv("CLIMATEDATA_S3_PREFIX", c.Storage.S3.Prefix)
	c.Storage.S3.Region = getEnv("CLIMATEDATA_S3_REGION", c.Storage.S3.Region)
	c.Storage.S3.Endpoint = getEnv("CLIMATEDATA_S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", c.Storage.S3.AccessKeyID)
	c.Storage.S3.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", c.Storage.S3.SecretAccessKey)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)

	var err error
	if c.Server.Port, err = getEnvInt("CLIMATEDATA_PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Database.Port, err = getEnvInt("DB_PORT", c.Database.Port); err != nil {
		return err
	}
	if c.Server.Debug, err = getEnvBool("CLIMATEDATA_DEBUG", c.Server.Debug); err != nil {
		return err
	}
	if c.Database.Enabled, err = getEnvBool("CLIMATEDATA_DB_ENABLED", c.Database.Enabled); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required for the fs backend"))
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be fs or s3", c.Storage.Backend))
	}
	if c.Export.DownloadPointsLimit <= 0 {
		errs = append(errs, errors.New("export.download_points_limit must be positive"))
	}
	if c.Export.AHCCDStationsLimit <= 0 {
		errs = append(errs, errors.New("export.ahccd_stations_limit must be positive"))
	}
	if c.Export.DefaultDecimals < 0 || c.Export.ChartDecimals < 0 || c.S2D.Decimals < 0 {
		errs = append(errs, errors.New("decimals must not be negative"))
	}
	if _, err := time.Parse("2006-01-02", c.Datasets.SPEIDateLimit); err != nil {
		errs = append(errs, fmt.Errorf("datasets.spei_date_limit: %w", err))
	}
	for _, table := range []TemplateTable{c.Datasets.Templates, c.Datasets.PartitionTemplates} {
		if err := table.validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (t TemplateTable) validate() error {
	for gen, kinds := range t {
		if _, err := models.ParseGeneration(gen); err != nil {
			return fmt.Errorf("templates: unknown generation %q", gen)
		}
		for kind, templates := range kinds {
			if _, err := models.ParseKind(kind); err != nil {
				return fmt.Errorf("templates: unknown kind %q for %s", kind, gen)
			}
			if len(templates) == 0 {
				return fmt.Errorf("templates: no template for %s/%s", gen, kind)
			}
		}
	}
	return nil
}

// Lookup returns the ordered templates of (gen, kind), nil when none exist.
func (t TemplateTable) Lookup(gen models.Generation, kind models.Kind) []string {
	return t[gen.String()][string(kind)]
}

// SPEIFloor is the parsed SPEI time floor.
func (c *Config) SPEIFloor() time.Time {
	floor, _ := time.Parse("2006-01-02", c.Datasets.SPEIDateLimit)
	return floor
}

// IsVariable reports whether v is a known climate variable.
func (c *Config) IsVariable(v string) bool {
	return contains(c.Datasets.Variables, v)
}

// IsSPEI reports whether v is a SPEI variable.
func (c *Config) IsSPEI(v string) bool {
	return contains(c.Datasets.SPEIVariables, v)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
