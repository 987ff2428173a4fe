// Package config provides the configuration schema and loader for the
// relaymem contextual memory service.
package config

// Config is the root configuration structure for relaymem. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Vector     VectorConfig     `yaml:"vector"`
	Graph      GraphConfig      `yaml:"graph"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Blobstore  BlobstoreConfig  `yaml:"blobstore"`
	AuthN      AuthNConfig      `yaml:"authn"`
}

// ServerConfig holds network and logging settings for the relaymem HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// EmbeddingsConfig configures the embedding provider and its optional cache.
type EmbeddingsConfig struct {
	// Backend selects the provider implementation. Valid values: "openai", "ollama".
	Backend string `yaml:"backend"`

	// APIKey authenticates against the backend (ignored by ollama).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific embedding model within the backend.
	Model string `yaml:"model"`

	// Dimension is the fixed vector length the configured model produces.
	// Must match VectorConfig's collection dimension. Defaults to 1536.
	Dimension int `yaml:"embedding_dimension"`

	// Cache, if RedisAddr is non-empty, wraps the provider in a
	// Redis-backed cache (pkg/embeddings/cached).
	Cache EmbeddingCacheConfig `yaml:"cache"`
}

// EmbeddingCacheConfig configures the optional embedding cache.
type EmbeddingCacheConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	TTLHours  int    `yaml:"ttl_hours"`
}

// VectorConfig configures the VectorStore DAL.
type VectorConfig struct {
	// Backend selects the implementation. Valid values: "postgres", "qdrant".
	Backend string `yaml:"backend"`

	// PostgresDSN is used when Backend is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`

	// QdrantAddr is used when Backend is "qdrant" (host:port, gRPC).
	QdrantAddr string `yaml:"qdrant_addr"`

	// CollectionName names the Qdrant collection (default "relaymem_chunks").
	// The postgres backend ignores it and always uses the chunks table.
	CollectionName string `yaml:"vector_collection_name"`
}

// GraphConfig configures the GraphStore DAL.
type GraphConfig struct {
	// PostgresDSN connects the relational graph store. Defaults to
	// Vector.PostgresDSN when empty, sharing one pool across vector and
	// graph data.
	PostgresDSN string `yaml:"postgres_dsn"`

	// DatabaseName is an informational label for the graph schema/database
	// (graph_database_name); the Postgres graph store does not itself need
	// a separate database, but an alternate GraphStore backend would.
	DatabaseName string `yaml:"graph_database_name"`
}

// ChunkerConfig holds the text-chunking defaults (chunk_default_size,
// chunk_default_overlap). They are loaded with defaults filled in, but
// nothing passes them on to DocumentConnector.IngestDocument: a request
// without chunk_size/chunk_overlap gets the chunker package's own defaults.
type ChunkerConfig struct {
	DefaultSize    int `yaml:"chunk_default_size"`
	DefaultOverlap int `yaml:"chunk_default_overlap"`
}

// RetrievalConfig configures RetrievalEngine/PreferenceResolver defaults.
type RetrievalConfig struct {
	DefaultScoreThreshold float64 `yaml:"default_score_threshold"`
}

// BlobstoreConfig configures the optional S3-compatible document blob
// store. An empty Bucket disables it (DocumentConnector.blobs stays nil).
type BlobstoreConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
	Prefix       string `yaml:"prefix"`
}

// AuthNConfig configures the optional bearer-token authentication
// middleware. An empty SigningKey leaves authentication disabled
// (development mode, a no-op passthrough).
type AuthNConfig struct {
	SigningKey string `yaml:"signing_key"`
}
