// Package config provides layered YAML + environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. DOCBATCH_PROCESSING_MAX_WORKERS.
const EnvPrefix = "DOCBATCH"

// AppConfig is the root configuration structure.
type AppConfig struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	Render     RenderConfig     `mapstructure:"render" yaml:"render"`
	Grouping   GroupingConfig   `mapstructure:"grouping" yaml:"grouping"`
	Publish    PublishConfig    `mapstructure:"publish" yaml:"publish"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Advanced   AdvancedConfig   `mapstructure:"advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	BindAddress  string `mapstructure:"bind_address" yaml:"bind_address"`
	EnableCORS   bool   `mapstructure:"enable_cors" yaml:"enable_cors"`
	AllowOrigins string `mapstructure:"allow_origins" yaml:"allow_origins"`
	ReadTimeout  int    `mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds" validate:"min=0"`
	WriteTimeout int    `mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds" validate:"min=0"`
	IdleTimeout  int    `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds" validate:"min=0"`
	BodyLimit    string `mapstructure:"body_limit" yaml:"body_limit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory      string `mapstructure:"data_directory" yaml:"data_directory" validate:"required"`
	UploadsDirectory   string `mapstructure:"uploads_directory" yaml:"uploads_directory" validate:"required"`
	TemplatesDirectory string `mapstructure:"templates_directory" yaml:"templates_directory" validate:"required"`
	TempDirectory      string `mapstructure:"temp_directory" yaml:"temp_directory" validate:"required"`
	ArchivesDirectory  string `mapstructure:"archives_directory" yaml:"archives_directory" validate:"required"`
}

// ProcessingConfig contains batch pipeline knobs.
type ProcessingConfig struct {
	MaxWorkers             int  `mapstructure:"max_workers" yaml:"max_workers" validate:"min=1"`
	ChunkSize              int  `mapstructure:"chunk_size" yaml:"chunk_size" validate:"min=1"`
	JobRetentionMinutes    int  `mapstructure:"job_retention_minutes" yaml:"job_retention_minutes" validate:"min=1"`
	CleanupIntervalMinutes int  `mapstructure:"cleanup_interval_minutes" yaml:"cleanup_interval_minutes" validate:"min=1"`
	UploadRetentionMinutes int  `mapstructure:"upload_retention_minutes" yaml:"upload_retention_minutes" validate:"min=0"`
	ArchiveCompression     int  `mapstructure:"archive_compression" yaml:"archive_compression" validate:"min=-1,max=9"`
	EnableCompression      bool `mapstructure:"enable_compression" yaml:"enable_compression"`
	CompressionLevel       int  `mapstructure:"compression_level" yaml:"compression_level" validate:"min=-1,max=9"`
}

// RenderConfig selects renderer backends and the fallback policy.
type RenderConfig struct {
	OutputFormat    string   `mapstructure:"output_format" yaml:"output_format" validate:"oneof=pdf native"`
	RequireTemplate bool     `mapstructure:"require_template" yaml:"require_template"`
	Fallbacks       []string `mapstructure:"fallbacks" yaml:"fallbacks" validate:"dive,oneof=builtin native"`
	DocxConverter   string   `mapstructure:"docx_converter" yaml:"docx_converter"`
	SVGConverter    string   `mapstructure:"svg_converter" yaml:"svg_converter"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds" validate:"min=0"`
	FilenameField   string   `mapstructure:"filename_field" yaml:"filename_field" validate:"required"`
	FilenamePrefix  string   `mapstructure:"filename_prefix" yaml:"filename_prefix"`
}

// GroupingConfig configures the multi-value-per-template mode.
type GroupingConfig struct {
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file"`
	KeyField  string `mapstructure:"key_field" yaml:"key_field" validate:"required"`
	MaxSlots  int    `mapstructure:"max_slots" yaml:"max_slots" validate:"min=1"`
}

// PublishConfig configures optional archive upload to S3-compatible storage.
type PublishConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	Bucket            string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`
	Region            string `mapstructure:"region" yaml:"region"`
	Endpoint          string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID       string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	KeyPrefix         string `mapstructure:"key_prefix" yaml:"key_prefix"`
	PresignTTLMinutes int    `mapstructure:"presign_ttl_minutes" yaml:"presign_ttl_minutes" validate:"min=1"`
}

// RateLimitConfig configures the Redis-backed /generate limiter.
type RateLimitConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr" validate:"required_if=Enabled true"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db" validate:"min=0"`
	Limit         int    `mapstructure:"limit" yaml:"limit" validate:"min=1"`
	WindowSeconds int    `mapstructure:"window_seconds" yaml:"window_seconds" validate:"min=1"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat            string `mapstructure:"log_format" yaml:"log_format" validate:"oneof=text json"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging" yaml:"enable_request_logging"`
	DuckDBThreads        int    `mapstructure:"duckdb_threads" yaml:"duckdb_threads" validate:"min=1"`
	DuckDBMemoryLimit    string `mapstructure:"duckdb_memory_limit" yaml:"duckdb_memory_limit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8080,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 120,
			IdleTimeout:  120,
			BodyLimit:    "100M",
		},
		Storage: StorageConfig{
			DataDirectory:      "./data",
			UploadsDirectory:   "./data/uploads",
			TemplatesDirectory: "./data/templates",
			TempDirectory:      "./data/temp",
			ArchivesDirectory:  "./data/archives",
		},
		Processing: ProcessingConfig{
			MaxWorkers:             2,
			ChunkSize:              2,
			JobRetentionMinutes:    60,
			CleanupIntervalMinutes: 5,
			UploadRetentionMinutes: 1440,
			ArchiveCompression:     -1,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Render: RenderConfig{
			OutputFormat:    "pdf",
			RequireTemplate: false,
			Fallbacks:       []string{"builtin"},
			DocxConverter:   "soffice",
			SVGConverter:    "rsvg-convert",
			TimeoutSeconds:  0,
			FilenameField:   "NUMERO",
			FilenamePrefix:  "Carta_",
		},
		Grouping: GroupingConfig{
			KeyField: "Cliente",
			MaxSlots: 6,
		},
		Publish: PublishConfig{
			Region:            "auto",
			KeyPrefix:         "archives/",
			PresignTTLMinutes: 60,
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     "localhost:6379",
			Limit:         30,
			WindowSeconds: 60,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "text",
			EnableRequestLogging: true,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "512MB",
		},
	}
}

// readSecret fills KEY from the file named by KEY_FILE when KEY is unset.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

// LoadConfig loads configuration from a YAML file, writing the defaults there
// first if it does not exist, then applies environment overrides.
func LoadConfig(configPath string) (*AppConfig, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := DefaultConfig().Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	readSecret(EnvPrefix + "_PUBLISH_SECRET_ACCESS_KEY")
	readSecret(EnvPrefix + "_RATE_LIMIT_REDIS_PASSWORD")

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	// PORT and DATA_DIR are honoured without prefix for container platforms.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("storage.data_directory", EnvPrefix+"_STORAGE_DATA_DIRECTORY", "DATA_DIR")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.deriveStorageDirs()
	cfg.resolvePaths(filepath.Dir(configPath))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *AppConfig) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.enable_cors", d.Server.EnableCORS)
	v.SetDefault("server.allow_origins", d.Server.AllowOrigins)
	v.SetDefault("server.read_timeout_seconds", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout_seconds", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout_seconds", d.Server.IdleTimeout)
	v.SetDefault("server.body_limit", d.Server.BodyLimit)

	v.SetDefault("storage.data_directory", d.Storage.DataDirectory)
	v.SetDefault("storage.uploads_directory", d.Storage.UploadsDirectory)
	v.SetDefault("storage.templates_directory", d.Storage.TemplatesDirectory)
	v.SetDefault("storage.temp_directory", d.Storage.TempDirectory)
	v.SetDefault("storage.archives_directory", d.Storage.ArchivesDirectory)

	v.SetDefault("processing.max_workers", d.Processing.MaxWorkers)
	v.SetDefault("processing.chunk_size", d.Processing.ChunkSize)
	v.SetDefault("processing.job_retention_minutes", d.Processing.JobRetentionMinutes)
	v.SetDefault("processing.cleanup_interval_minutes", d.Processing.CleanupIntervalMinutes)
	v.SetDefault("processing.upload_retention_minutes", d.Processing.UploadRetentionMinutes)
	v.SetDefault("processing.archive_compression", d.Processing.ArchiveCompression)
	v.SetDefault("processing.enable_compression", d.Processing.EnableCompression)
	v.SetDefault("processing.compression_level", d.Processing.CompressionLevel)

	v.SetDefault("render.output_format", d.Render.OutputFormat)
	v.SetDefault("render.require_template", d.Render.RequireTemplate)
	v.SetDefault("render.fallbacks", d.Render.Fallbacks)
	v.SetDefault("render.docx_converter", d.Render.DocxConverter)
	v.SetDefault("render.svg_converter", d.Render.SVGConverter)
	v.SetDefault("render.timeout_seconds", d.Render.TimeoutSeconds)
	v.SetDefault("render.filename_field", d.Render.FilenameField)
	v.SetDefault("render.filename_prefix", d.Render.FilenamePrefix)

	v.SetDefault("grouping.rules_file", d.Grouping.RulesFile)
	v.SetDefault("grouping.key_field", d.Grouping.KeyField)
	v.SetDefault("grouping.max_slots", d.Grouping.MaxSlots)

	v.SetDefault("publish.enabled", d.Publish.Enabled)
	v.SetDefault("publish.bucket", d.Publish.Bucket)
	v.SetDefault("publish.region", d.Publish.Region)
	v.SetDefault("publish.endpoint", d.Publish.Endpoint)
	v.SetDefault("publish.access_key_id", d.Publish.AccessKeyID)
	v.SetDefault("publish.secret_access_key", d.Publish.SecretAccessKey)
	v.SetDefault("publish.key_prefix", d.Publish.KeyPrefix)
	v.SetDefault("publish.presign_ttl_minutes", d.Publish.PresignTTLMinutes)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.redis_addr", d.RateLimit.RedisAddr)
	v.SetDefault("rate_limit.redis_password", d.RateLimit.RedisPassword)
	v.SetDefault("rate_limit.redis_db", d.RateLimit.RedisDB)
	v.SetDefault("rate_limit.limit", d.RateLimit.Limit)
	v.SetDefault("rate_limit.window_seconds", d.RateLimit.WindowSeconds)

	v.SetDefault("advanced.log_level", d.Advanced.LogLevel)
	v.SetDefault("advanced.log_format", d.Advanced.LogFormat)
	v.SetDefault("advanced.enable_request_logging", d.Advanced.EnableRequestLogging)
	v.SetDefault("advanced.duckdb_threads", d.Advanced.DuckDBThreads)
	v.SetDefault("advanced.duckdb_memory_limit", d.Advanced.DuckDBMemoryLimit)
}

// Validate checks struct tags.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, e := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# docbatch configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// deriveStorageDirs moves subdirectories that were left empty or at their
// defaults under a non-default data directory, so DATA_DIR alone relocates
// everything.
func (c *AppConfig) deriveStorageDirs() {
	def := DefaultConfig().Storage
	root := c.Storage.DataDirectory
	if root == "" || root == def.DataDirectory {
		return
	}
	for _, d := range []struct {
		dir  *string
		def  string
		name string
	}{
		{&c.Storage.UploadsDirectory, def.UploadsDirectory, "uploads"},
		{&c.Storage.TemplatesDirectory, def.TemplatesDirectory, "templates"},
		{&c.Storage.TempDirectory, def.TempDirectory, "temp"},
		{&c.Storage.ArchivesDirectory, def.ArchivesDirectory, "archives"},
	} {
		if *d.dir == "" || *d.dir == d.def {
			*d.dir = filepath.Join(root, d.name)
		}
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.TemplatesDirectory,
		&c.Storage.TempDirectory,
		&c.Storage.ArchivesDirectory,
	} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	if c.Grouping.RulesFile != "" && !filepath.IsAbs(c.Grouping.RulesFile) {
		c.Grouping.RulesFile = filepath.Join(configDir, c.Grouping.RulesFile)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// JobRetention is the eviction window for finished jobs.
func (c *AppConfig) JobRetention() time.Duration {
	return time.Duration(c.Processing.JobRetentionMinutes) * time.Minute
}

// CleanupInterval is the period of the background eviction ticker.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Processing.CleanupIntervalMinutes) * time.Minute
}

// UploadRetention is how long uploaded datasets are kept; zero keeps them
// until restart.
func (c *AppConfig) UploadRetention() time.Duration {
	return time.Duration(c.Processing.UploadRetentionMinutes) * time.Minute
}

// RenderTimeout is the per-document limit; zero means none.
func (c *AppConfig) RenderTimeout() time.Duration {
	return time.Duration(c.Render.TimeoutSeconds) * time.Second
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.TemplatesDirectory,
		c.Storage.TempDirectory,
		c.Storage.ArchivesDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
