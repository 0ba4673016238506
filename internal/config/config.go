package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database   DatabaseConfig
	Storage    StorageConfig
	Embedding  EmbeddingConfig
	Auth       AuthConfig
	Mail       MailConfig
	Tagger     TaggerConfig
	Tasks      TasksConfig
	Scraper    ScraperConfig
	SharePoint SharePointConfig
	Log        LogConfig
	Defaults   DefaultsConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// StorageConfig points at an S3 compatible bucket (DigitalOcean Spaces in production).
type StorageConfig struct {
	Endpoint  string // e.g. https://fra1.digitaloceanspaces.com
	AccessKey string
	SecretKey string
	Bucket    string // defaults to pixpursuit
	Region    string
}

type EmbeddingConfig struct {
	URL     string        // model server base URL, defaults to http://localhost:8000
	Timeout time.Duration // per request timeout
}

type AuthConfig struct {
	SecretKey string
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	BaseURL  string // public URL used in verification links
}

type TaggerConfig struct {
	ModelPath    string
	LearningRate float64
}

type TasksConfig struct {
	Backend     string // "redis" or "memory"
	RedisURL    string
	Concurrency int
}

type ScraperConfig struct {
	AllowedPrefix string
}

type SharePointConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	SiteID       string
	DriveID      string
}

type LogConfig struct {
	Level  string
	Format string
}

// DefaultsConfig holds the static tables embedded in the binary.
type DefaultsConfig struct {
	EXIF     EXIFConfig     `yaml:"exif"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

type EXIFConfig struct {
	AllowedKeys []string `yaml:"allowed_keys"`
}

type ScheduleConfig struct {
	PredictAll string `yaml:"predict_all"`
	GroupFaces string `yaml:"group_faces"`
}

// PredictAllInterval returns the parsed predict_all period.
func (s ScheduleConfig) PredictAllInterval() time.Duration {
	return parseDurationOr(s.PredictAll, 15*time.Minute)
}

// GroupFacesInterval returns the parsed group_faces period.
func (s ScheduleConfig) GroupFacesInterval() time.Duration {
	return parseDurationOr(s.GroupFaces, 5*time.Minute)
}

func parseDurationOr(s string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envString returns the variable or defaultVal when unset.
func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var defaults DefaultsConfig
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// Embedded file, a failure here is a build defect
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("DO_SPACE_ENDPOINT"),
			AccessKey: os.Getenv("DO_SPACE_ACCESS_KEY"),
			SecretKey: os.Getenv("DO_SPACE_SECRET_KEY"),
			Bucket:    envString("DO_SPACE_BUCKET", "pixpursuit"),
			Region:    envString("DO_SPACE_REGION", "us-east-1"),
		},
		Embedding: EmbeddingConfig{
			URL:     envString("EMBEDDING_URL", "http://localhost:8000"),
			Timeout: time.Duration(envInt("EMBEDDING_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Auth: AuthConfig{
			SecretKey: os.Getenv("AUTH_SECRET_KEY"),
		},
		Mail: MailConfig{
			Host:     os.Getenv("MAIL_SERVER"),
			Port:     envInt("MAIL_PORT", 587),
			Username: os.Getenv("MAIL_USERNAME"),
			Password: os.Getenv("MAIL_PASSWORD"),
			From:     os.Getenv("MAIL_FROM"),
			BaseURL:  envString("MAIL_BASE_URL", "http://localhost:8080"),
		},
		Tagger: TaggerConfig{
			ModelPath:    envString("MODEL_PATH", "models/tag_predictor.gob"),
			LearningRate: envFloat("LEARNING_RATE", 0.001),
		},
		Tasks: TasksConfig{
			Backend:     envString("TASK_BACKEND", "redis"),
			RedisURL:    envString("REDIS_URL", "redis://localhost:6379/0"),
			Concurrency: envInt("WORKER_CONCURRENCY", 1),
		},
		Scraper: ScraperConfig{
			AllowedPrefix: os.Getenv("SCRAPER_ALLOWED_PREFIX"),
		},
		SharePoint: SharePointConfig{
			TenantID:     os.Getenv("SHAREPOINT_TENANT_ID"),
			ClientID:     os.Getenv("SHAREPOINT_CLIENT_ID"),
			ClientSecret: os.Getenv("SHAREPOINT_CLIENT_SECRET"),
			SiteID:       os.Getenv("SHAREPOINT_SITE_ID"),
			DriveID:      os.Getenv("SHAREPOINT_DRIVE_ID"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "console"),
		},
		Defaults: defaults,
	}
}

// Enabled reports whether SMTP delivery is configured.
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.From != ""
}

// Enabled reports whether the SharePoint loader has credentials.
func (s SharePointConfig) Enabled() bool {
	return s.TenantID != "" && s.ClientID != "" && s.ClientSecret != "" && s.DriveID != ""
}

// ValidateServe checks the settings the HTTP API cannot start without.
func (c *Config) ValidateServe() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}
	if c.Auth.SecretKey == "" {
		errs = append(errs, errors.New("AUTH_SECRET_KEY environment variable is required"))
	}
	if err := c.validateStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateWorker checks the settings a task worker cannot start without.
func (c *Config) ValidateWorker() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}
	if err := c.validateStorage(); err != nil {
		errs = append(errs, err)
	}
	if c.Tasks.Backend == "redis" && c.Tasks.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL environment variable is required for the redis backend"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateStorage() error {
	if c.Storage.Endpoint == "" || c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("DO_SPACE_ENDPOINT, DO_SPACE_ACCESS_KEY and DO_SPACE_SECRET_KEY are required")
	}
	return nil
}
