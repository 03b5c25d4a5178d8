package config

const (
	// DefaultAPIListen is the default results API listen address.
	DefaultAPIListen = "127.0.0.1:8831"

	// DefaultSQLitePath is the default results store location, resolved
	// relative to the .distill/ directory when not absolute.
	DefaultSQLitePath = "results.db"

	// DefaultEmbeddingField is the document field read by the
	// precomputed embedding producer.
	DefaultEmbeddingField = "sbert"
)

// NewDefaultConfig returns a fully-populated Config with harness defaults.
// Every loader path merges these in, so callers never see zero values for
// settings that have a sensible default.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			SQLitePath: DefaultSQLitePath,
		},
		API: APIConfig{
			Listen: DefaultAPIListen,
		},
		Dataset: DatasetConfig{},
		Embedding: EmbeddingConfig{
			Provider:   "precomputed",
			Target:     "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			Field:      DefaultEmbeddingField,
		},
		VectorStore: VectorStoreConfig{
			Provider: "exact",
		},
		Training: TrainingConfig{
			BatchSize:           32,
			Epochs:              1,
			LogEveryStep:        100,
			ContextualLoss:      "mse",
			ContextualMaxLength: 512,
			StaticLoss:          "",
			SoftCCALam:          0.1,
			ContrastiveMargin:   1.0,
			ProjectionNorm:      "layer",
		},
		Retrieval: RetrievalConfig{
			TopK:           1000,
			HitsThresholds: []int{10, 100},
		},
		EventStream: EventStreamConfig{
			Provider: "nop",
			Topic:    "distill.metrics",
		},
	}
}
