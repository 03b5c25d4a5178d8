package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via .distill/ resolution), and binds environment variables
// with the DISTILL_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindFlag)
//  2. Environment variables (DISTILL_API_LISTEN, DISTILL_RETRIEVAL_TOP_K, ...)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	target, err := resolveDir(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}
	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("DISTILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. Keeps defaults.go the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("api.listen", d.API.Listen)

	v.SetDefault("dataset.path", d.Dataset.Path)
	v.SetDefault("dataset.limit", d.Dataset.Limit)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.field", d.Embedding.Field)

	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.path", d.VectorStore.Path)

	v.SetDefault("training.batch_size", d.Training.BatchSize)
	v.SetDefault("training.epochs", d.Training.Epochs)
	v.SetDefault("training.log_every_step", d.Training.LogEveryStep)
	v.SetDefault("training.contextual_loss", d.Training.ContextualLoss)
	v.SetDefault("training.contextual_max_length", d.Training.ContextualMaxLength)
	v.SetDefault("training.static_loss", d.Training.StaticLoss)
	v.SetDefault("training.soft_cca_lam", d.Training.SoftCCALam)
	v.SetDefault("training.contrastive_margin", d.Training.ContrastiveMargin)
	v.SetDefault("training.projection_norm", d.Training.ProjectionNorm)

	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("retrieval.hits_thresholds", d.Retrieval.HitsThresholds)

	v.SetDefault("eventstream.provider", d.EventStream.Provider)
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
}

// BindFlag binds an already-registered cobra flag into the viper precedence
// chain (flag > env > file > default). Call in PreRunE after InitViper.
func BindFlag(v *viper.Viper, cmd *cobra.Command, flagName, viperKey string) {
	f := cmd.Flags().Lookup(flagName)
	if f == nil {
		return
	}
	_ = v.BindPFlag(viperKey, f)
}

// ConfigFromViper materializes a Config from the viper precedence chain.
func ConfigFromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			SQLitePath: v.GetString("storage.sqlite_path"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Dataset: DatasetConfig{
			Path:  v.GetString("dataset.path"),
			Limit: v.GetInt("dataset.limit"),
		},
		Embedding: EmbeddingConfig{
			Provider:   v.GetString("embedding.provider"),
			Target:     v.GetString("embedding.target"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetUint("embedding.dimensions"),
			Field:      v.GetString("embedding.field"),
		},
		VectorStore: VectorStoreConfig{
			Provider: v.GetString("vector_store.provider"),
			Path:     v.GetString("vector_store.path"),
		},
		Training: TrainingConfig{
			BatchSize:           v.GetInt("training.batch_size"),
			Epochs:              v.GetInt("training.epochs"),
			LogEveryStep:        v.GetInt("training.log_every_step"),
			ContextualLoss:      v.GetString("training.contextual_loss"),
			ContextualMaxLength: v.GetInt("training.contextual_max_length"),
			ContextualLam:       v.GetFloat64("training.contextual_lam"),
			StaticLoss:          v.GetString("training.static_loss"),
			CCAOutputDim:        v.GetInt("training.cca_output_dim"),
			SoftCCALam:          v.GetFloat64("training.soft_cca_lam"),
			ContrastiveMargin:   v.GetFloat64("training.contrastive_margin"),
			ProjectionLayers:    v.GetIntSlice("training.projection_layers"),
			StaticProjectionLayers: v.GetIntSlice(
				"training.static_projection_layers"),
			ProjectionNorm: v.GetString("training.projection_norm"),
		},
		Retrieval: RetrievalConfig{
			TopK:           v.GetInt("retrieval.top_k"),
			HitsThresholds: v.GetIntSlice("retrieval.hits_thresholds"),
		},
		EventStream: EventStreamConfig{
			Provider: v.GetString("eventstream.provider"),
			Brokers:  v.GetStringSlice("eventstream.brokers"),
			Topic:    v.GetString("eventstream.topic"),
		},
	}
	applyDefaults(cfg)
	return cfg
}
