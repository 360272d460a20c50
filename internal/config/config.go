package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Vision     VisionConfig     `yaml:"vision"`
	Batch      BatchConfig      `yaml:"batch"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	APIKey       string        `yaml:"api_key"`
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTAudience  string        `yaml:"jwt_audience"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
	// JobWorkers is the number of reprocess jobs a worker process runs at once.
	JobWorkers int `yaml:"job_workers"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// PublicURL prefixes every artifact URL; defaults to the endpoint.
	PublicURL string `yaml:"public_url"`
}

// ImageSize bounds a re-encoded JPEG. Zero width or height means unbounded on that axis.
type ImageSize struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
	Quality   int `yaml:"quality"`
}

type VisionConfig struct {
	// BaseURL of the external vision service. Empty disables every vision stage.
	BaseURL            string        `yaml:"base_url"`
	Timeout            time.Duration `yaml:"timeout"`
	DetectionThreshold float64       `yaml:"detection_threshold"`
	EmbeddingDim       int           `yaml:"embedding_dim"`
	Working            ImageSize     `yaml:"working"`
	Cropped            ImageSize     `yaml:"cropped"`
	Segmented          ImageSize     `yaml:"segmented"`
}

type BatchConfig struct {
	MaxPhotos int           `yaml:"max_photos"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MaxSimilarResults caps how many candidates a similarity lookup may return.
const MaxSimilarResults = 4

type SimilarityConfig struct {
	// K is the number of nearest neighbours evaluated, at most MaxSimilarResults.
	K                int           `yaml:"k"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, then applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would break the pipeline's guarantees.
func (c *Config) Validate() error {
	if c.Similarity.K < 1 || c.Similarity.K > MaxSimilarResults {
		return fmt.Errorf("similarity.k must be within [1,%d], got %d", MaxSimilarResults, c.Similarity.K)
	}
	if c.Vision.DetectionThreshold < 0 || c.Vision.DetectionThreshold > 1 {
		return fmt.Errorf("vision.detection_threshold must be within [0,1], got %v", c.Vision.DetectionThreshold)
	}
	for name, size := range map[string]ImageSize{
		"working":   c.Vision.Working,
		"cropped":   c.Vision.Cropped,
		"segmented": c.Vision.Segmented,
	} {
		if size.Quality < 1 || size.Quality > 100 {
			return fmt.Errorf("vision.%s.quality must be within [1,100], got %d", name, size.Quality)
		}
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 90 * time.Second
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.NATS.JobWorkers == 0 {
		cfg.NATS.JobWorkers = 1
	}
	if cfg.MinIO.PublicURL == "" && cfg.MinIO.Endpoint != "" {
		scheme := "http"
		if cfg.MinIO.UseSSL {
			scheme = "https"
		}
		cfg.MinIO.PublicURL = scheme + "://" + cfg.MinIO.Endpoint
	}
	if cfg.Vision.Timeout == 0 {
		cfg.Vision.Timeout = 20 * time.Second
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 384
	}
	cfg.Vision.Working = sizeDefaults(cfg.Vision.Working, ImageSize{MaxWidth: 1600, MaxHeight: 1600, Quality: 85})
	cfg.Vision.Cropped = sizeDefaults(cfg.Vision.Cropped, ImageSize{MaxWidth: 800, MaxHeight: 800, Quality: 85})
	cfg.Vision.Segmented = sizeDefaults(cfg.Vision.Segmented, cfg.Vision.Cropped)
	if cfg.Batch.MaxPhotos == 0 {
		cfg.Batch.MaxPhotos = 50
	}
	if cfg.Batch.Timeout == 0 {
		cfg.Batch.Timeout = 60 * time.Second
	}
	if cfg.Similarity.K == 0 {
		cfg.Similarity.K = MaxSimilarResults
	}
	if cfg.Similarity.FetchConcurrency == 0 {
		cfg.Similarity.FetchConcurrency = 4
	}
	if cfg.Similarity.CacheTTL == 0 {
		cfg.Similarity.CacheTTL = 10 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func sizeDefaults(s, def ImageSize) ImageSize {
	if s.MaxWidth == 0 && s.MaxHeight == 0 {
		s.MaxWidth = def.MaxWidth
		s.MaxHeight = def.MaxHeight
	}
	if s.Quality == 0 {
		s.Quality = def.Quality
	}
	return s
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAUNA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FAUNA_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FAUNA_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("FAUNA_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FAUNA_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FAUNA_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FAUNA_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FAUNA_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FAUNA_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FAUNA_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FAUNA_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FAUNA_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FAUNA_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FAUNA_VISION_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
	if v := os.Getenv("FAUNA_VISION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Vision.Timeout = d
		}
	}
}
