package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-sentinel/logging"
)

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults, applies environment
// overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	s := cfg.Storage
	if !s.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: local, s3, badger, memory", s.Backend))
	}
	if (s.Backend == StorageLocal || s.Backend == StorageBadger) && s.Root == "" && s.BadgerDir == "" {
		errs = append(errs, fmt.Errorf("storage.root is required for the %s backend", s.Backend))
	}
	if s.Backend == StorageS3 {
		if s.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
		if s.S3.Region == "" {
			errs = append(errs, errors.New("storage.s3.region is required for the s3 backend"))
		}
	}

	if !cfg.Lock.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("lock.backend %q is invalid; valid values: local, redis", cfg.Lock.Backend))
	}
	if cfg.Lock.Backend == LockRedis && cfg.Lock.Redis.Addr == "" {
		errs = append(errs, errors.New("lock.redis.addr is required for the redis lock"))
	}

	if cfg.Decoder.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("decoder.target_sample_rate must be positive, got %d", cfg.Decoder.TargetSampleRate))
	}
	if err := cfg.Calibration.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("calibration: %w", err))
	}

	if cfg.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive, got %d", cfg.Server.MaxUploadBytes))
	}

	return errors.Join(errs...)
}

// BadgerPath returns the Badger directory for the storage config.
func (s StorageConfig) BadgerPath() string {
	if s.BadgerDir != "" {
		return s.BadgerDir
	}
	return filepath.Join(s.Root, "badger")
}
