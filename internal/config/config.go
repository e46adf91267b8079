package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Provider kinds
const (
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderFallback = "fallback"
)

type Config struct {
	Server struct {
		Port        int               `yaml:"port"`
		CORSOrigins []string          `yaml:"corsOrigins"`
		APIKeys     map[string]string `yaml:"apiKeys"` // client name → key; empty disables auth
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		Path     string `yaml:"path"` // sqlite file
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Provider struct {
		Kind      string        `yaml:"kind"`
		APIKey    string        `yaml:"apiKey"`
		Host      string        `yaml:"host"` // ollama
		Model     string        `yaml:"model"`
		Timeout   time.Duration `yaml:"timeout"`
		MaxPrompt int           `yaml:"maxPrompt"`
		Models    struct {
			BIM        string `yaml:"bim"`
			Image      string `yaml:"image"`
			Comparison string `yaml:"comparison"`
		} `yaml:"models"`
	} `yaml:"provider"`

	Uploads struct {
		Dir string `yaml:"dir"`
	} `yaml:"uploads"`

	Worker struct {
		Concurrency   int           `yaml:"concurrency"`
		StaleAfter    time.Duration `yaml:"staleAfter"`
		SweepInterval time.Duration `yaml:"sweepInterval"`
	} `yaml:"worker"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"` // tokens per second
	} `yaml:"rateLimit"`
}

// Load baca file config.yaml, lalu override dari environment (APP_*).
// A missing file is not an error; defaults and env still apply.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns CONFIG_PATH or config.yaml.
func Path() string {
	return getEnv("CONFIG_PATH", "config.yaml")
}

func (c *Config) applyEnv() error {
	c.Database.Driver = getEnv("APP_DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("APP_DB_HOST", c.Database.Host)
	c.Database.User = getEnv("APP_DB_USER", c.Database.User)
	c.Database.Password = getEnv("APP_DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("APP_DB_NAME", c.Database.Name)
	c.Database.Path = getEnv("APP_DB_PATH", c.Database.Path)
	c.Minio.Endpoint = getEnv("APP_MINIO_ENDPOINT", c.Minio.Endpoint)
	c.Minio.AccessKey = getEnv("APP_MINIO_ACCESS_KEY", c.Minio.AccessKey)
	c.Minio.SecretKey = getEnv("APP_MINIO_SECRET_KEY", c.Minio.SecretKey)
	c.Provider.Kind = getEnv("APP_PROVIDER_KIND", c.Provider.Kind)
	c.Provider.APIKey = getEnv("APP_PROVIDER_API_KEY", c.Provider.APIKey)
	c.Provider.Host = getEnv("APP_PROVIDER_HOST", c.Provider.Host)
	c.Uploads.Dir = getEnv("APP_UPLOADS_DIR", c.Uploads.Dir)
	c.Logging.Level = getEnv("APP_LOG_LEVEL", c.Logging.Level)

	var err error
	if c.Server.Port, err = getEnvInt("APP_PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Database.Port, err = getEnvInt("APP_DB_PORT", c.Database.Port); err != nil {
		return err
	}
	if c.Worker.Concurrency, err = getEnvInt("APP_WORKER_CONCURRENCY", c.Worker.Concurrency); err != nil {
		return err
	}
	if v := os.Getenv("APP_WORKER_STALE_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("APP_WORKER_STALE_AFTER: %w", err)
		}
		c.Worker.StaleAfter = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMySQL
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case DriverMySQL:
			c.Database.Port = 3306
		case DriverPostgres:
			c.Database.Port = 5432
		}
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "storage/metro.db"
	}
	if c.Minio.BucketName == "" {
		c.Minio.BucketName = "metro-bim"
	}
	if c.Provider.Kind == "" {
		c.Provider.Kind = ProviderOpenAI
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4o-mini"
	}
	if c.Provider.Models.BIM == "" {
		c.Provider.Models.BIM = c.Provider.Model
	}
	if c.Provider.Models.Image == "" {
		c.Provider.Models.Image = c.Provider.Model
	}
	if c.Provider.Models.Comparison == "" {
		c.Provider.Models.Comparison = c.Provider.Model
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 60 * time.Second
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "storage/uploads"
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 5 * time.Minute
	}
	if c.Worker.SweepInterval == 0 {
		c.Worker.SweepInterval = time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 60
	}
	if c.RateLimit.RefillRate == 0 {
		c.RateLimit.RefillRate = 1
	}
}

// Validate checks the enums and the settings each choice needs.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.Provider.Kind {
	case ProviderOpenAI, ProviderFallback:
	case ProviderOllama:
		if c.Provider.Host == "" {
			return fmt.Errorf("config: provider.host is required for ollama")
		}
	default:
		return fmt.Errorf("config: unknown provider kind %q", c.Provider.Kind)
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("config: worker.concurrency must not be negative")
	}
	return nil
}

// DSN builds the connection string for the configured driver.
func (c *Config) DSN() string {
	switch c.Database.Driver {
	case DriverMySQL:
		return c.MySQLDSN()
	case DriverPostgres:
		return c.PostgresDSN()
	case DriverSQLite:
		return c.SQLiteDSN()
	}
	return ""
}

// Helper untuk build DSN MySQL. clientFoundRows makes UPDATE report matched rows.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&clientFoundRows=true&multiStatements=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c *Config) SQLiteDSN() string {
	return "file:" + c.Database.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// MinioEnabled reports whether an object store is configured.
func (c *Config) MinioEnabled() bool {
	return strings.TrimSpace(c.Minio.Endpoint) != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
