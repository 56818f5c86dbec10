// Package config loads the core's YAML configuration and overlays
// environment variables onto it, the same reflection-walk technique the
// teacher's configuration.Parser uses (gopkg.in/yaml.v2 plus a struct-field
// walk keyed by "PREFIX_FIELD_SUBFIELD"), trimmed to this tool's domain:
// no HTTP, auth, or notifications sections, just the store and the
// transfer engine's knobs.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix environment overrides are matched against, e.g.
// S3LFS_BUCKET, S3LFS_RETRY_MAXATTEMPTS.
const EnvPrefix = "S3LFS"

// Retry configures the Object Store Client's retry policy (spec §4.4).
type Retry struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
}

// Log configures the ambient logger (spec §10.1).
type Log struct {
	Level     string `yaml:"level"`
	Formatter string `yaml:"formatter"`
}

// Config is the core's complete configuration surface. ManifestPath,
// Bucket and Prefix are also stored inside the manifest itself once init
// has run (spec §3); the YAML file's copies are the values used to create
// or validate against that manifest.
type Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	ManifestPath string `yaml:"manifestPath"`

	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"forcePathStyle"`
	Signed         bool   `yaml:"signed"`
	Encrypt        bool   `yaml:"encrypt"`

	ChunkSize          int64 `yaml:"chunkSize"`
	MultipartChunkSize int64 `yaml:"multipartChunkSize"`
	PoolSize           int   `yaml:"poolSize"`

	Retry Retry `yaml:"retry"`
	Log   Log   `yaml:"log"`
}

// Default returns the configuration spec §5, §4.4 and §10.3 name as
// defaults: an 8-worker pool, a 5 GiB chunk threshold, a 64 MiB multipart
// threshold, signed access, and up to 3 retry attempts.
func Default() Config {
	return Config{
		Prefix:             "s3lfs",
		ManifestPath:       ".s3_manifest.yaml",
		Signed:             true,
		ChunkSize:          5 * 1024 * 1024 * 1024,
		MultipartChunkSize: 64 * 1024 * 1024,
		PoolSize:           8,
		Retry: Retry{
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
		},
		Log: Log{
			Level:     "info",
			Formatter: "text",
		},
	}
}

// Load reads a YAML document from path onto Default(), then overlays any
// matching S3LFS_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}

	if err := overlayEnv(&cfg, EnvPrefix, envMap()); err != nil {
		return Config{}, fmt.Errorf("config: environment overlay: %w", err)
	}

	return cfg, nil
}

func envMap() map[string]string {
	m := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// overlayEnv walks v's fields, replacing any whose "PREFIX_FIELD" env
// variable is set, recursing into nested structs so e.g. Retry.MaxAttempts
// is reachable as S3LFS_RETRY_MAXATTEMPTS.
func overlayEnv(v any, prefix string, env map[string]string) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	for i := 0; i < rv.NumField(); i++ {
		field := rv.Type().Field(i)
		fieldPrefix := strings.ToUpper(prefix + "_" + field.Name)

		if raw, ok := env[fieldPrefix]; ok {
			target := reflect.New(field.Type)
			if err := yaml.Unmarshal([]byte(raw), target.Interface()); err != nil {
				return fmt.Errorf("field %s: %w", fieldPrefix, err)
			}
			rv.Field(i).Set(target.Elem())
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := overlayEnv(rv.Field(i).Addr().Interface(), fieldPrefix, env); err != nil {
				return err
			}
		}
	}
	return nil
}
