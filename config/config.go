// Package config loads the sonido-sentinel YAML configuration.
package config

import (
	"os"
	"time"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
	"github.com/RyanBlaney/sonido-sentinel/lock"
	"github.com/RyanBlaney/sonido-sentinel/storage"
	"github.com/RyanBlaney/sonido-sentinel/transcode"
)

// DataDirEnv overrides Storage.Root when set.
const DataDirEnv = "SONIDO_DATA_DIR"

// StorageBackend selects where profiles are persisted.
type StorageBackend string

const (
	StorageLocal  StorageBackend = "local"
	StorageS3     StorageBackend = "s3"
	StorageBadger StorageBackend = "badger"
	StorageMemory StorageBackend = "memory"
)

// IsValid reports whether b is a known backend.
func (b StorageBackend) IsValid() bool {
	switch b {
	case StorageLocal, StorageS3, StorageBadger, StorageMemory:
		return true
	}
	return false
}

// LockBackend selects how concurrent trainings are excluded.
type LockBackend string

const (
	LockLocal LockBackend = "local"
	LockRedis LockBackend = "redis"
)

// IsValid reports whether b is a known backend.
func (b LockBackend) IsValid() bool {
	return b == LockLocal || b == LockRedis
}

// Config is the root of the YAML configuration file.
type Config struct {
	Log         LogConfig               `yaml:"log"`
	Storage     StorageConfig           `yaml:"storage"`
	Lock        LockConfig              `yaml:"lock"`
	Decoder     transcode.DecoderConfig `yaml:"decoder"`
	Calibration anomaly.Config          `yaml:"calibration"`
	Server      ServerConfig            `yaml:"server"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StorageConfig describes the profile store.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`

	// Root is the profile directory for the local backend and the parent
	// of the default Badger directory.
	Root string `yaml:"root"`

	S3 storage.S3Config `yaml:"s3"`

	// BadgerDir defaults to <root>/badger.
	BadgerDir string `yaml:"badger_dir"`
}

// LockConfig describes the training lock.
type LockConfig struct {
	Backend LockBackend      `yaml:"backend"`
	Redis   lock.RedisConfig `yaml:"redis"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: StorageLocal,
			Root:    DefaultDataDir(),
		},
		Lock: LockConfig{
			Backend: LockLocal,
			Redis:   lock.DefaultRedisConfig(),
		},
		Decoder:     *transcode.DefaultDecoderConfig(),
		Calibration: anomaly.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 200 << 20,
			ReadTimeout:    2 * time.Minute,
			WriteTimeout:   30 * time.Minute,
		},
	}
}

// DefaultDataDir is /data when that directory exists and models otherwise.
func DefaultDataDir() string {
	if info, err := os.Stat("/data"); err == nil && info.IsDir() {
		return "/data"
	}
	return "models"
}

// ApplyEnv applies environment overrides to cfg.
func ApplyEnv(cfg *Config) {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		cfg.Storage.Root = dir
	}
}
