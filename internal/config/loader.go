package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validLogLevels lists the recognized server.log_level values.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// validEmbeddingsBackends / validVectorBackends list known backend names.
var (
	validEmbeddingsBackends = []string{"openai", "ollama"}
	validVectorBackends     = []string{"postgres", "qdrant"}
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in the standard defaults: chunk_default_size=1000,
// chunk_default_overlap=200, default_score_threshold=0.6,
// embedding_dimension=1536. It also lets GraphConfig share VectorConfig's
// Postgres DSN, a single-pool-by-default pattern.
func applyDefaults(cfg *Config) {
	if cfg.Chunker.DefaultSize <= 0 {
		cfg.Chunker.DefaultSize = 1000
	}
	if cfg.Chunker.DefaultOverlap <= 0 {
		cfg.Chunker.DefaultOverlap = 200
	}
	if cfg.Retrieval.DefaultScoreThreshold <= 0 {
		cfg.Retrieval.DefaultScoreThreshold = 0.6
	}
	if cfg.Embeddings.Dimension <= 0 {
		cfg.Embeddings.Dimension = 1536
	}
	if cfg.Graph.PostgresDSN == "" {
		cfg.Graph.PostgresDSN = cfg.Vector.PostgresDSN
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}

	if cfg.Embeddings.Backend == "" {
		errs = append(errs, errors.New("embeddings.backend is required"))
	} else if !slices.Contains(validEmbeddingsBackends, cfg.Embeddings.Backend) {
		errs = append(errs, fmt.Errorf("embeddings.backend %q is invalid; valid values: %v", cfg.Embeddings.Backend, validEmbeddingsBackends))
	}
	if cfg.Embeddings.Backend == "openai" && cfg.Embeddings.APIKey == "" {
		slog.Warn("embeddings.backend is openai but embeddings.api_key is empty; relying on the provider's environment-based default")
	}

	switch cfg.Vector.Backend {
	case "":
		errs = append(errs, errors.New("vector.backend is required"))
	case "postgres":
		if cfg.Vector.PostgresDSN == "" {
			errs = append(errs, errors.New("vector.postgres_dsn is required when vector.backend is postgres"))
		}
	case "qdrant":
		if cfg.Vector.QdrantAddr == "" {
			errs = append(errs, errors.New("vector.qdrant_addr is required when vector.backend is qdrant"))
		}
	default:
		errs = append(errs, fmt.Errorf("vector.backend %q is invalid; valid values: %v", cfg.Vector.Backend, validVectorBackends))
	}

	if cfg.Embeddings.Cache.RedisAddr != "" && cfg.Embeddings.Cache.TTLHours < 0 {
		errs = append(errs, errors.New("embeddings.cache.ttl_hours must not be negative"))
	}

	if cfg.Blobstore.Bucket != "" && cfg.Blobstore.Region == "" && cfg.Blobstore.Endpoint == "" {
		slog.Warn("blobstore.bucket is configured but neither region nor endpoint is set; the AWS SDK will rely on its own default resolution")
	}

	return errors.Join(errs...)
}
