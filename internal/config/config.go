package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	Database DatabaseConfig `yaml:"database"`
	Minio    MinioConfig    `yaml:"minio"`
}

type ServerConfig struct {
	Port            int               `yaml:"port"`
	ReadTimeout     time.Duration     `yaml:"readTimeout"`
	WriteTimeout    time.Duration     `yaml:"writeTimeout"`
	IdleTimeout     time.Duration     `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdownTimeout"`
	AllowedOrigins  []string          `yaml:"allowedOrigins"`
	APIKeys         map[string]string `yaml:"apiKeys"` // client name -> key
	RateLimit       RateLimitConfig   `yaml:"rateLimit"`
}

// RateLimitConfig is per client+IP; RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type AnalysisConfig struct {
	Interpreter string        `yaml:"interpreter"`
	Script      string        `yaml:"script"`
	Timeout     time.Duration `yaml:"timeout"` // 0 = no limit
}

type UploadsConfig struct {
	Dir      string   `yaml:"dir"`
	MaxBytes int64    `yaml:"maxBytes"`
	Allowed  []string `yaml:"allowed"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "", mysql, postgres
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`
}

type MinioConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	BucketName string `yaml:"bucketName"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"useSSL"`
}

// env holds the variables that override the file. Zero values are ignored.
type env struct {
	Port        int           `envconfig:"PORT"`
	PythonCmd   string        `envconfig:"PYTHON_CMD"`
	Script      string        `envconfig:"ANALYSIS_SCRIPT"`
	Timeout     time.Duration `envconfig:"ANALYSIS_TIMEOUT"`
	UploadDir   string        `envconfig:"UPLOAD_DIR"`
	LogLevel    string        `envconfig:"LOG_LEVEL"`
	LogFormat   string        `envconfig:"LOG_FORMAT"`
	DBDriver    string        `envconfig:"DB_DRIVER"`
	DBDSN       string        `envconfig:"DB_DSN"`
	MinioAccess string        `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecret string        `envconfig:"MINIO_SECRET_KEY"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimit:       RateLimitConfig{RPS: 5, Burst: 20},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Analysis: AnalysisConfig{
			Interpreter: "python3",
			Script:      "python/csv_processor.py",
		},
		Uploads: UploadsConfig{
			Dir:      "uploads",
			MaxBytes: 32 << 20,
			Allowed:  []string{".csv", ".data"},
		},
		Database: DatabaseConfig{SSLMode: "disable"},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var e env
	if err := envconfig.Process("", &e); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}
	cfg.apply(e)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(e env) {
	if e.Port != 0 {
		c.Server.Port = e.Port
	}
	if e.PythonCmd != "" {
		c.Analysis.Interpreter = e.PythonCmd
	}
	if e.Script != "" {
		c.Analysis.Script = e.Script
	}
	if e.Timeout != 0 {
		c.Analysis.Timeout = e.Timeout
	}
	if e.UploadDir != "" {
		c.Uploads.Dir = e.UploadDir
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		c.Log.Format = e.LogFormat
	}
	if e.DBDriver != "" {
		c.Database.Driver = e.DBDriver
	}
	if e.DBDSN != "" {
		c.Database.DSN = e.DBDSN
	}
	if e.MinioAccess != "" {
		c.Minio.AccessKey = e.MinioAccess
	}
	if e.MinioSecret != "" {
		c.Minio.SecretKey = e.MinioSecret
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Analysis.Script) == "" {
		return errors.New("analysis.script is required")
	}
	if c.Analysis.Timeout < 0 {
		return errors.New("analysis.timeout must not be negative")
	}
	if strings.TrimSpace(c.Uploads.Dir) == "" {
		return errors.New("uploads.dir is required")
	}
	switch c.Database.Driver {
	case "", "mysql", "postgres":
	default:
		return errors.Newf("database.driver %q not supported (mysql, postgres)", c.Database.Driver)
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		return errors.New("minio.endpoint and minio.bucketName are required when minio is enabled")
	}
	return nil
}

// MySQLDSN builds a go-sql-driver DSN.
func (c *Config) MySQLDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
