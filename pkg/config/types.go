package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config is the persistent distill configuration stored as config.toml in
// the .distill/ directory. The TOML layout uses sections for logical
// grouping; zero values mean "use the default".
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	Dataset     DatasetConfig     `toml:"dataset"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Training    TrainingConfig    `toml:"training"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// StorageConfig holds the run-results store settings.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// APIConfig holds results API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// DatasetConfig points at the document corpus.
type DatasetConfig struct {
	Path  string `toml:"path,omitempty"`
	Limit int    `toml:"limit,omitempty"`
}

// EmbeddingConfig selects the embedding producer. Provider "precomputed"
// reads the named document field; "http" calls an Ollama-compatible
// embedding endpoint.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
	Field      string `toml:"field,omitempty"`
}

// VectorStoreConfig selects the retrieval index backend: "exact" for the
// in-memory index or "sqlitevec" for the sqlite-vec driver.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"`
	Path     string `toml:"path,omitempty"`
}

// TrainingConfig drives the training-monitor pass: batching, logging
// cadence, and the static/contextual loss composition.
type TrainingConfig struct {
	BatchSize    int `toml:"batch_size,omitempty"`
	Epochs       int `toml:"epochs,omitempty"`
	LogEveryStep int `toml:"log_every_step,omitempty"`

	// ContextualLoss and StaticLoss name the configured sub-losses;
	// empty string disables the corresponding term.
	ContextualLoss      string  `toml:"contextual_loss,omitempty"`
	ContextualMaxLength int     `toml:"contextual_max_length,omitempty"`
	ContextualLam       float64 `toml:"contextual_lam,omitempty"`

	StaticLoss        string  `toml:"static_loss,omitempty"`
	CCAOutputDim      int     `toml:"cca_output_dim,omitempty"`
	SoftCCALam        float64 `toml:"soft_cca_lam,omitempty"`
	ContrastiveMargin float64 `toml:"contrastive_margin,omitempty"`

	// Optional projection stacks in front of the static loss, formatted
	// as layer widths. Empty means project neither view.
	ProjectionLayers       []int  `toml:"projection_layers,omitempty"`
	StaticProjectionLayers []int  `toml:"static_projection_layers,omitempty"`
	ProjectionNorm         string `toml:"projection_norm,omitempty"`
}

// RetrievalConfig drives the retrieval evaluation pass.
type RetrievalConfig struct {
	TopK           int   `toml:"top_k,omitempty"`
	HitsThresholds []int `toml:"hits_thresholds,omitempty"`
}

// EventStreamConfig selects the metric scalar publisher: "nop" or "kafka".
type EventStreamConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter
// on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"dataset.path": {
		get: func(c *Config) string { return c.Dataset.Path },
		set: func(c *Config, v string) error { c.Dataset.Path = v; return nil },
	},
	"dataset.limit": {
		get: func(c *Config) string { return strconv.Itoa(c.Dataset.Limit) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("dataset.limit must be an integer: %w", err)
			}
			c.Dataset.Limit = n
			return nil
		},
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("embedding.dimensions must be an unsigned integer: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"embedding.field": {
		get: func(c *Config) string { return c.Embedding.Field },
		set: func(c *Config, v string) error { c.Embedding.Field = v; return nil },
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.path": {
		get: func(c *Config) string { return c.VectorStore.Path },
		set: func(c *Config, v string) error { c.VectorStore.Path = v; return nil },
	},
	"training.batch_size": {
		get: func(c *Config) string { return strconv.Itoa(c.Training.BatchSize) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("training.batch_size must be an integer: %w", err)
			}
			c.Training.BatchSize = n
			return nil
		},
	},
	"training.epochs": {
		get: func(c *Config) string { return strconv.Itoa(c.Training.Epochs) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("training.epochs must be an integer: %w", err)
			}
			c.Training.Epochs = n
			return nil
		},
	},
	"training.log_every_step": {
		get: func(c *Config) string { return strconv.Itoa(c.Training.LogEveryStep) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("training.log_every_step must be an integer: %w", err)
			}
			c.Training.LogEveryStep = n
			return nil
		},
	},
	"training.contextual_loss": {
		get: func(c *Config) string { return c.Training.ContextualLoss },
		set: func(c *Config, v string) error { c.Training.ContextualLoss = v; return nil },
	},
	"training.static_loss": {
		get: func(c *Config) string { return c.Training.StaticLoss },
		set: func(c *Config, v string) error { c.Training.StaticLoss = v; return nil },
	},
	"retrieval.top_k": {
		get: func(c *Config) string { return strconv.Itoa(c.Retrieval.TopK) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("retrieval.top_k must be an integer: %w", err)
			}
			c.Retrieval.TopK = n
			return nil
		},
	},
	"retrieval.hits_thresholds": {
		get: func(c *Config) string {
			parts := make([]string, len(c.Retrieval.HitsThresholds))
			for i, t := range c.Retrieval.HitsThresholds {
				parts[i] = strconv.Itoa(t)
			}
			return strings.Join(parts, ",")
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.Retrieval.HitsThresholds = nil
				return nil
			}
			parts := strings.Split(v, ",")
			thresholds := make([]int, len(parts))
			for i, p := range parts {
				n, err := strconv.Atoi(strings.TrimSpace(p))
				if err != nil {
					return fmt.Errorf("retrieval.hits_thresholds must be comma-separated integers: %w", err)
				}
				thresholds[i] = n
			}
			c.Retrieval.HitsThresholds = thresholds
			return nil
		},
	},
	"eventstream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error { c.EventStream.Provider = v; return nil },
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error {
			if v == "" {
				c.EventStream.Brokers = nil
				return nil
			}
			c.EventStream.Brokers = strings.Split(v, ",")
			return nil
		},
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
}
