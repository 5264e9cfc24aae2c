package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBucket      = "nih-uploaded-docs"
	DefaultRegion      = "us-east-1"
	DefaultEndpoint    = "s3.amazonaws.com"
	DefaultMaxFiles    = 50
	DefaultMaxFileSize = 10 * 1024 * 1024
	DefaultPort        = 8080
)

type Config struct {
	Server struct {
		Port               int      `yaml:"port"`
		CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
		APIKeys            []string `yaml:"apiKeys"`
		UploadRatePerMin   int      `yaml:"uploadRatePerMin"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // memory | mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Storage struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`

		// CreateBucket bikin bucket kalau belum ada (MinIO lokal)
		CreateBucket bool `yaml:"createBucket"`
	} `yaml:"storage"`

	Workflow struct {
		StateMachineARN string `yaml:"stateMachineArn"`
	} `yaml:"workflow"`

	Upload struct {
		MaxFiles    int   `yaml:"maxFiles"`
		MaxFileSize int64 `yaml:"maxFileSize"`
	} `yaml:"upload"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = DefaultPort
	cfg.Server.UploadRatePerMin = 30
	cfg.Database.Driver = "memory"
	cfg.Database.SSLMode = "disable"
	cfg.Storage.Endpoint = DefaultEndpoint
	cfg.Storage.BucketName = DefaultBucket
	cfg.Storage.Region = DefaultRegion
	cfg.Storage.UseSSL = true
	cfg.Upload.MaxFiles = DefaultMaxFiles
	cfg.Upload.MaxFileSize = DefaultMaxFileSize
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return &cfg
}

// Load baca .env, config.yaml (kalau ada), lalu override dari environment.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// no file, defaults + env only
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	integer := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	integer(&c.Server.Port, "PORT")
	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}
	if v, ok := lookup("API_KEYS"); ok && v != "" {
		c.Server.APIKeys = splitList(v)
	}
	integer(&c.Server.UploadRatePerMin, "UPLOAD_RATE_PER_MIN")

	str(&c.Database.Driver, "DATABASE_DRIVER")
	str(&c.Database.Host, "DATABASE_HOST")
	integer(&c.Database.Port, "DATABASE_PORT")
	str(&c.Database.User, "DATABASE_USER")
	str(&c.Database.Password, "DATABASE_PASSWORD")
	str(&c.Database.Name, "DATABASE_NAME")
	str(&c.Database.SSLMode, "DATABASE_SSLMODE")

	str(&c.Storage.Region, "AWS_REGION", "REGION")
	str(&c.Storage.BucketName, "S3_BUCKET_NAME")
	str(&c.Storage.Endpoint, "S3_ENDPOINT")
	str(&c.Storage.AccessKey, "AWS_ACCESS_KEY_ID")
	str(&c.Storage.SecretKey, "AWS_SECRET_ACCESS_KEY")
	if v, ok := lookup("S3_USE_SSL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("S3_USE_SSL: %w", err))
		} else {
			c.Storage.UseSSL = b
		}
	}

	str(&c.Workflow.StateMachineARN, "STEP_FUNCTION_ARN")

	integer(&c.Upload.MaxFiles, "MAX_FILES")
	if v, ok := lookup("MAX_FILE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_FILE_SIZE: %w", err))
		} else {
			c.Upload.MaxFileSize = n
		}
	}

	str(&c.Log.Level, "LOG_LEVEL")
	str(&c.Log.Format, "LOG_FORMAT")

	return errors.Join(errs...)
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.BucketName == "" {
		errs = append(errs, errors.New("storage.bucketName is required"))
	}
	if c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required"))
	}
	if (c.Storage.AccessKey == "") != (c.Storage.SecretKey == "") {
		errs = append(errs, errors.New("storage.accessKey and storage.secretKey must be set together"))
	}
	if c.Upload.MaxFiles <= 0 {
		errs = append(errs, errors.New("upload.maxFiles must be positive"))
	}
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, errors.New("upload.maxFileSize must be positive"))
	}
	if arn := c.Workflow.StateMachineARN; arn != "" && len(strings.Split(arn, ":")) < 7 {
		errs = append(errs, fmt.Errorf("workflow.stateMachineArn %q is not a state machine ARN", arn))
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.host and database.name are required for %s", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.portOr(3306),
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.portOr(5432),
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) portOr(def int) int {
	if c.Database.Port == 0 {
		return def
	}
	return c.Database.Port
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
