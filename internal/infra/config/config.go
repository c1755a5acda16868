package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the workbench API service configuration.
type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	BaseDir string `yaml:"base_dir"`

	QueueCapacity int `yaml:"queue_capacity"`
	PoolSize      int `yaml:"pool_size"`

	TaskTTL          time.Duration `yaml:"task_ttl"`
	MaxUploadBytesMb int64         `yaml:"max_upload_mb"`

	FileURLTTL   time.Duration `yaml:"file_url_ttl"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	Redis   Redis   `yaml:"redis"`
	MinIO   MinIO   `yaml:"minio"`
	NATS    NATS    `yaml:"nats"`
	Engines Engines `yaml:"engines"`
	History History `yaml:"history"`
}

// WorkerConfig is the background worker service configuration.
type WorkerConfig struct {
	BaseDir string `yaml:"base_dir"`

	QueueCapacity int `yaml:"queue_capacity"`
	PoolSize      int `yaml:"pool_size"`

	TaskTTL             time.Duration `yaml:"task_ttl"`
	TaskCleanupInterval time.Duration `yaml:"task_cleanup_interval"`
	ProcessTimeout      time.Duration `yaml:"process_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`

	Limits Limits `yaml:"limits"`

	Redis   Redis   `yaml:"redis"`
	MinIO   MinIO   `yaml:"minio"`
	NATS    NATS    `yaml:"nats"`
	Engines Engines `yaml:"engines"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

type NATS struct {
	URL           string `yaml:"url"`
	QueueName     string `yaml:"queue_name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Subject       string `yaml:"subject"`
}

// Engines points at the WebAssembly binaries the engine loader compiles on
// first use. Paths may be empty on the API side if media probing is disabled.
type Engines struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	TranscoderPath  string        `yaml:"transcoder_path"`
	PDFPath         string        `yaml:"pdf_path"`
}

type History struct {
	MaxItems int `yaml:"max_items"`
}

// Limits are per operation class input ceilings, in MiB.
type Limits struct {
	ImageMb    int64 `yaml:"image_mb"`
	DocumentMb int64 `yaml:"document_mb"`
	MediaMb    int64 `yaml:"media_mb"`
}

func MustLoad(path string) *Config {
	var cfg Config
	mustUnmarshal(path, &cfg)

	if cfg.Addr == "" {
		log.Fatalf("config: addr is empty")
	}
	if cfg.BaseDir == "" {
		log.Fatalf("config: base_dir is empty")
	}
	if cfg.NATS.Subject == "" {
		log.Fatalf("config: nats.subject is empty")
	}
	if cfg.TaskTTL <= 0 {
		log.Fatalf("config: task_ttl must be positive, got %s", cfg.TaskTTL)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 50
	}
	if cfg.FileURLTTL <= 0 {
		cfg.FileURLTTL = 15 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.Engines.FreshnessWindow <= 0 {
		cfg.Engines.FreshnessWindow = 30 * time.Minute
	}
	if cfg.History.MaxItems <= 0 {
		cfg.History.MaxItems = 10
	}

	return &cfg
}

func MustLoadWorker(path string) *WorkerConfig {
	var cfg WorkerConfig
	mustUnmarshal(path, &cfg)

	if cfg.BaseDir == "" {
		log.Fatalf("config: base_dir is empty")
	}
	if cfg.NATS.Subject == "" {
		log.Fatalf("config: nats.subject is empty")
	}
	if cfg.TaskTTL <= 0 {
		log.Fatalf("config: task_ttl must be positive, got %s", cfg.TaskTTL)
	}
	if cfg.TaskCleanupInterval <= 0 {
		cfg.TaskCleanupInterval = time.Minute
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Engines.FreshnessWindow <= 0 {
		cfg.Engines.FreshnessWindow = 30 * time.Minute
	}
	if cfg.Limits.ImageMb <= 0 {
		cfg.Limits.ImageMb = 100
	}
	if cfg.Limits.DocumentMb <= 0 {
		cfg.Limits.DocumentMb = 256
	}
	if cfg.Limits.MediaMb <= 0 {
		cfg.Limits.MediaMb = 1024
	}

	return &cfg
}

func mustUnmarshal(path string, out any) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}
}
