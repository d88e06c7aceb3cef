package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Profile   string          `mapstructure:"profile"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Import    ImportConfig    `mapstructure:"import"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	RestAPI   RestAPIConfig   `mapstructure:"rest_api"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig holds scratch-store configuration. Per-tab databases are
// scratch files: they live under ScratchDir and are removed on tab close.
type StorageConfig struct {
	ScratchDir string `mapstructure:"scratch_dir"`
	DataDir    string `mapstructure:"data_dir"` // sessions, filter presets
}

// ImportConfig holds ingest tuning knobs
type ImportConfig struct {
	BatchRows       int `mapstructure:"batch_rows"`       // parser batch size
	FTSChunkRows    int `mapstructure:"fts_chunk_rows"`   // rows per FTS populate chunk
	EvtxSchemaScan  int `mapstructure:"evtx_schema_scan"` // records scanned before EVTX schema freeze
	MergeBatchRows  int `mapstructure:"merge_batch_rows"` // rows per merge insert batch
	AnnotationBatch int `mapstructure:"annotation_batch"` // row ids per bookmark/tag lookup
}

// LimitsConfig caps analytics row sets so latency stays bounded
type LimitsConfig struct {
	ProcessTreeRows int `mapstructure:"process_tree_rows"`
	LateralRows     int `mapstructure:"lateral_rows"`
	StackingValues  int `mapstructure:"stacking_values"`
	ChainResults    int `mapstructure:"chain_results"`
	IOCBatchSize    int `mapstructure:"ioc_batch_size"`
	IOCPageSize     int `mapstructure:"ioc_page_size"`
}

// RestAPIConfig holds REST API server configuration
type RestAPIConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	AutoPort     bool     `mapstructure:"auto_port"`
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	CORS         bool     `mapstructure:"cors"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	APIKey       string   `mapstructure:"api_key"`
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Global    LimitConfig     `mapstructure:"global"`
	Endpoints []EndpointLimit `mapstructure:"endpoints"`
}

// LimitConfig is a single token-bucket definition
type LimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// EndpointLimit is a per-endpoint token-bucket override
type EndpointLimit struct {
	Name              string  `mapstructure:"name"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
	Output string `mapstructure:"output"` // stderr, stdout, or file path
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".irflow")

	return &Config{
		Profile: "default",
		Storage: StorageConfig{
			ScratchDir: filepath.Join(configDir, "scratch"),
			DataDir:    filepath.Join(configDir, "data"),
		},
		Import: ImportConfig{
			BatchRows:       50000,
			FTSChunkRows:    200000,
			EvtxSchemaScan:  500,
			MergeBatchRows:  50000,
			AnnotationBatch: 5000,
		},
		Limits: LimitsConfig{
			ProcessTreeRows: 200000,
			LateralRows:     500000,
			StackingValues:  10000,
			ChainResults:    50,
			IOCBatchSize:    200,
			IOCPageSize:     500,
		},
		RestAPI: RestAPIConfig{
			Enabled:  true,
			AutoPort: true,
			Port:     3459,
			Host:     "127.0.0.1",
			CORS:     true,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Global: LimitConfig{
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads configuration from file, environment, and defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Search paths: working dir, then the user config dir
	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".irflow"))

	// Environment overrides: IRFLOW_LOGGING_LEVEL etc.
	v.SetEnvPrefix("IRFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; defaults and environment still apply
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults registers default values with viper so partial config
// files inherit the rest
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("profile", def.Profile)
	v.SetDefault("storage.scratch_dir", def.Storage.ScratchDir)
	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("import.batch_rows", def.Import.BatchRows)
	v.SetDefault("import.fts_chunk_rows", def.Import.FTSChunkRows)
	v.SetDefault("import.evtx_schema_scan", def.Import.EvtxSchemaScan)
	v.SetDefault("import.merge_batch_rows", def.Import.MergeBatchRows)
	v.SetDefault("import.annotation_batch", def.Import.AnnotationBatch)
	v.SetDefault("limits.process_tree_rows", def.Limits.ProcessTreeRows)
	v.SetDefault("limits.lateral_rows", def.Limits.LateralRows)
	v.SetDefault("limits.stacking_values", def.Limits.StackingValues)
	v.SetDefault("limits.chain_results", def.Limits.ChainResults)
	v.SetDefault("limits.ioc_batch_size", def.Limits.IOCBatchSize)
	v.SetDefault("limits.ioc_page_size", def.Limits.IOCPageSize)
	v.SetDefault("rest_api.enabled", def.RestAPI.Enabled)
	v.SetDefault("rest_api.auto_port", def.RestAPI.AutoPort)
	v.SetDefault("rest_api.port", def.RestAPI.Port)
	v.SetDefault("rest_api.host", def.RestAPI.Host)
	v.SetDefault("rest_api.cors", def.RestAPI.CORS)
	v.SetDefault("rate_limit.enabled", def.RateLimit.Enabled)
	v.SetDefault("rate_limit.global.requests_per_second", def.RateLimit.Global.RequestsPerSecond)
	v.SetDefault("rate_limit.global.burst_size", def.RateLimit.Global.BurstSize)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.output", def.Logging.Output)
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Import.BatchRows <= 0 {
		return fmt.Errorf("import.batch_rows must be positive, got %d", c.Import.BatchRows)
	}
	if c.Import.FTSChunkRows <= 0 {
		return fmt.Errorf("import.fts_chunk_rows must be positive, got %d", c.Import.FTSChunkRows)
	}
	if c.Import.AnnotationBatch <= 0 || c.Import.AnnotationBatch > 5000 {
		// Row-id lookups are batched at most 5000 per query, well under the SQLite host parameter limit
		return fmt.Errorf("import.annotation_batch must be in 1..5000, got %d", c.Import.AnnotationBatch)
	}
	if c.Limits.IOCBatchSize <= 0 || c.Limits.IOCBatchSize > 200 {
		return fmt.Errorf("limits.ioc_batch_size must be in 1..200, got %d", c.Limits.IOCBatchSize)
	}
	if c.RestAPI.Port < 0 || c.RestAPI.Port > 65535 {
		return fmt.Errorf("rest_api.port out of range: %d", c.RestAPI.Port)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

// EnsureDirs creates the scratch and data directories if missing
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Storage.ScratchDir, c.Storage.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigPath returns the expected path of the user config file
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".irflow", "config.yaml")
}

// PresetsPath returns the path of the persistent filter presets file
func (c *Config) PresetsPath() string {
	return filepath.Join(c.Storage.DataDir, "filter-presets.json")
}
