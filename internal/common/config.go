package common

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/docintake/constants"
)

//go:embed config_schema.json
var configSchema []byte

// Extraction engines accepted by extraction_engine.
const (
	EngineRuleBased = "rule_based"
	EngineKeyValue  = "key_value"
	EngineHybrid    = "hybrid"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Folders    FolderConfig
	Watch      WatchConfig
	Processing ProcessingConfig
	OCR        OCRConfig
	Server     ServerConfig
	LogLevel   string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// FolderConfig holds the pipeline folders. All paths are absolute after LoadConfig.
type FolderConfig struct {
	Hot        string
	Archive    string
	Error      string
	Temp       string
	PageImages string
}

// WatchConfig holds folder watcher configuration
type WatchConfig struct {
	Patterns          []string
	PollInterval      time.Duration
	SettleDelay       time.Duration
	Recursive         bool
	MaxFileSizeMB     int64
	IntakeConcurrency int64
}

// MaxFileSizeBytes returns the size limit in bytes.
func (w WatchConfig) MaxFileSizeBytes() int64 {
	return w.MaxFileSizeMB * 1024 * 1024
}

// ProcessingConfig holds dispatcher and processor configuration
type ProcessingConfig struct {
	Workers          int
	AutoStart        bool
	ExtractionEngine string
}

// OCRConfig holds rasterization and OCR configuration
type OCRConfig struct {
	TesseractPath string
	TesseractLang string
	PdftoppmPath  string
	TessdataDir   string
	RenderDPI     int
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr    string
	MetricsAddr string
}

// fileConfig mirrors the config file keys. Nil means "not set".
type fileConfig struct {
	DatabaseURL         *string  `json:"database_url"`
	DBMaxConns          *int32   `json:"db_max_conns"`
	DBMinConns          *int32   `json:"db_min_conns"`
	HotFolder           *string  `json:"hot_folder"`
	ArchiveFolder       *string  `json:"archive_folder"`
	ErrorFolder         *string  `json:"error_folder"`
	TempFolder          *string  `json:"temp_folder"`
	PageImageFolder     *string  `json:"page_image_folder"`
	FilePatterns        []string `json:"file_patterns"`
	PollInterval        *int     `json:"poll_interval"`
	SettleDelayMS       *int     `json:"settle_delay_ms"`
	MaxFileSizeMB       *int64   `json:"max_file_size_mb"`
	ParallelWorkers     *int     `json:"parallel_workers"`
	IntakeConcurrency   *int64   `json:"intake_concurrency"`
	WatchSubfolders     *bool    `json:"watch_subfolders"`
	AutoStartProcessing *bool    `json:"auto_start_processing"`
	ExtractionEngine    *string  `json:"extraction_engine"`
	RenderDPI           *int     `json:"render_dpi"`
	TesseractLang       *string  `json:"tesseract_lang"`
	TesseractPath       *string  `json:"tesseract_path"`
	PdftoppmPath        *string  `json:"pdftoppm_path"`
	TessdataDir         *string  `json:"tessdata_dir"`
	LogLevel            *string  `json:"log_level"`
	GRPCAddr            *string  `json:"grpc_addr"`
	MetricsAddr         *string  `json:"metrics_addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             "file:./data/docintake.db",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Folders: FolderConfig{
			Hot:        "./data/hot",
			Archive:    "./data/archive",
			Error:      "./data/error",
			Temp:       "./data/tmp",
			PageImages: "./data/pages",
		},
		Watch: WatchConfig{
			Patterns:          append([]string(nil), constants.DefaultFilePatterns...),
			PollInterval:      30 * time.Second,
			SettleDelay:       500 * time.Millisecond,
			Recursive:         false,
			MaxFileSizeMB:     50,
			IntakeConcurrency: 4,
		},
		Processing: ProcessingConfig{
			Workers:          2,
			AutoStart:        true,
			ExtractionEngine: EngineRuleBased,
		},
		OCR: OCRConfig{
			TesseractPath: "tesseract",
			TesseractLang: "eng",
			PdftoppmPath:  "pdftoppm",
			RenderDPI:     144,
		},
		Server: ServerConfig{
			GRPCAddr:    ":8080",
			MetricsAddr: ":9090",
		},
		LogLevel: "info",
	}
}

// LoadConfig builds the configuration from defaults, the optional config file
// at path (JSON or YAML by extension) and environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		fc, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg.applyFile(fc)
	}

	cfg.applyEnv()

	if err := cfg.normalizePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("convert yaml config: %w", err)
		}
	}

	if err := validateAgainstSchema(data); err != nil {
		return nil, NewAppError("CONFIG_ERROR", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &fc, nil
}

func validateAgainstSchema(data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.json", bytes.NewReader(configSchema)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("config.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *Config) applyFile(fc *fileConfig) {
	setString(&c.Database.DSN, fc.DatabaseURL)
	if fc.DBMaxConns != nil {
		c.Database.MaxConns = *fc.DBMaxConns
	}
	if fc.DBMinConns != nil {
		c.Database.MinConns = *fc.DBMinConns
	}
	setString(&c.Folders.Hot, fc.HotFolder)
	setString(&c.Folders.Archive, fc.ArchiveFolder)
	setString(&c.Folders.Error, fc.ErrorFolder)
	setString(&c.Folders.Temp, fc.TempFolder)
	setString(&c.Folders.PageImages, fc.PageImageFolder)
	if fc.FilePatterns != nil {
		c.Watch.Patterns = fc.FilePatterns
	}
	if fc.PollInterval != nil {
		c.Watch.PollInterval = time.Duration(*fc.PollInterval) * time.Second
	}
	if fc.SettleDelayMS != nil {
		c.Watch.SettleDelay = time.Duration(*fc.SettleDelayMS) * time.Millisecond
	}
	if fc.MaxFileSizeMB != nil {
		c.Watch.MaxFileSizeMB = *fc.MaxFileSizeMB
	}
	if fc.IntakeConcurrency != nil {
		c.Watch.IntakeConcurrency = *fc.IntakeConcurrency
	}
	if fc.WatchSubfolders != nil {
		c.Watch.Recursive = *fc.WatchSubfolders
	}
	if fc.ParallelWorkers != nil {
		c.Processing.Workers = *fc.ParallelWorkers
	}
	if fc.AutoStartProcessing != nil {
		c.Processing.AutoStart = *fc.AutoStartProcessing
	}
	setString(&c.Processing.ExtractionEngine, fc.ExtractionEngine)
	if fc.RenderDPI != nil {
		c.OCR.RenderDPI = *fc.RenderDPI
	}
	setString(&c.OCR.TesseractLang, fc.TesseractLang)
	setString(&c.OCR.TesseractPath, fc.TesseractPath)
	setString(&c.OCR.PdftoppmPath, fc.PdftoppmPath)
	setString(&c.OCR.TessdataDir, fc.TessdataDir)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.Server.GRPCAddr, fc.GRPCAddr)
	setString(&c.Server.MetricsAddr, fc.MetricsAddr)
}

func (c *Config) applyEnv() {
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Folders.Hot = getEnv("DOCINTAKE_HOT_FOLDER", c.Folders.Hot)
	c.Folders.Archive = getEnv("DOCINTAKE_ARCHIVE_FOLDER", c.Folders.Archive)
	c.Folders.Error = getEnv("DOCINTAKE_ERROR_FOLDER", c.Folders.Error)
	c.Folders.Temp = getEnv("DOCINTAKE_TEMP_FOLDER", c.Folders.Temp)
	c.Folders.PageImages = getEnv("DOCINTAKE_PAGE_IMAGE_FOLDER", c.Folders.PageImages)

	if v := os.Getenv("DOCINTAKE_FILE_PATTERNS"); v != "" {
		c.Watch.Patterns = splitCSV(v)
	}
	c.Watch.PollInterval = time.Duration(getEnvAsInt("DOCINTAKE_POLL_INTERVAL", int(c.Watch.PollInterval/time.Second))) * time.Second
	c.Watch.SettleDelay = time.Duration(getEnvAsInt("DOCINTAKE_SETTLE_DELAY_MS", int(c.Watch.SettleDelay/time.Millisecond))) * time.Millisecond
	c.Watch.MaxFileSizeMB = int64(getEnvAsInt("DOCINTAKE_MAX_FILE_SIZE_MB", int(c.Watch.MaxFileSizeMB)))
	c.Watch.IntakeConcurrency = int64(getEnvAsInt("DOCINTAKE_INTAKE_CONCURRENCY", int(c.Watch.IntakeConcurrency)))
	c.Watch.Recursive = getEnvAsBool("DOCINTAKE_WATCH_SUBFOLDERS", c.Watch.Recursive)

	c.Processing.Workers = getEnvAsInt("DOCINTAKE_PARALLEL_WORKERS", c.Processing.Workers)
	c.Processing.AutoStart = getEnvAsBool("DOCINTAKE_AUTO_START_PROCESSING", c.Processing.AutoStart)
	c.Processing.ExtractionEngine = getEnv("DOCINTAKE_EXTRACTION_ENGINE", c.Processing.ExtractionEngine)

	c.OCR.RenderDPI = getEnvAsInt("DOCINTAKE_RENDER_DPI", c.OCR.RenderDPI)
	c.OCR.TesseractLang = getEnv("DOCINTAKE_TESSERACT_LANG", c.OCR.TesseractLang)
	c.OCR.TesseractPath = getEnv("DOCINTAKE_TESSERACT_PATH", c.OCR.TesseractPath)
	c.OCR.PdftoppmPath = getEnv("DOCINTAKE_PDFTOPPM_PATH", c.OCR.PdftoppmPath)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)

	c.LogLevel = getEnv("DOCINTAKE_LOG_LEVEL", c.LogLevel)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.MetricsAddr = getEnv("METRICS_ADDR", c.Server.MetricsAddr)
}

func (c *Config) normalizePaths() error {
	for _, p := range []*string{&c.Folders.Hot, &c.Folders.Archive, &c.Folders.Error, &c.Folders.Temp, &c.Folders.PageImages} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve folder %q: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// EnsureFolders creates every configured folder.
func (c *Config) EnsureFolders() error {
	for _, dir := range []string{c.Folders.Hot, c.Folders.Archive, c.Folders.Error, c.Folders.Temp, c.Folders.PageImages} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return NewAppError("CONFIG_ERROR", "create folder "+dir, err)
		}
	}
	return nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("database_url", c.Database.DSN, Required)
	v.Field("hot_folder", c.Folders.Hot, Required)
	v.Field("archive_folder", c.Folders.Archive, Required)
	v.Field("error_folder", c.Folders.Error, Required)
	v.Field("temp_folder", c.Folders.Temp, Required)
	v.Field("page_image_folder", c.Folders.PageImages, Required)
	v.Field("file_patterns", c.Watch.Patterns, NonEmptyList)
	v.Field("max_file_size_mb", int(c.Watch.MaxFileSizeMB), MinInt(1))
	v.Field("parallel_workers", c.Processing.Workers, MinInt(1))
	v.Field("intake_concurrency", int(c.Watch.IntakeConcurrency), MinInt(1))
	v.Field("poll_interval", int(c.Watch.PollInterval), MinInt(0))
	v.Field("render_dpi", c.OCR.RenderDPI, MinInt(36))
	v.Field("extraction_engine", c.Processing.ExtractionEngine, OneOf(EngineRuleBased, EngineKeyValue, EngineHybrid))
	v.Field("log_level", strings.ToLower(c.LogLevel), OneOf("debug", "info", "warn", "error"))
	if err := ValidateAndReturnError(v); err != nil {
		return NewAppError("CONFIG_ERROR", "invalid configuration", err)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
