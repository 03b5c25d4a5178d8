// Package evaluatecmder provides the retrieval evaluation cobra command.
package evaluatecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quillml/distill/pkg/cliui"
	"github.com/quillml/distill/pkg/config"
	"github.com/quillml/distill/pkg/dataset"
	embeddingutils "github.com/quillml/distill/pkg/embeddings/utils"
	"github.com/quillml/distill/pkg/logger"
	"github.com/quillml/distill/pkg/results"
	"github.com/quillml/distill/pkg/retrieval"
	vectorutils "github.com/quillml/distill/pkg/vector/utils"
)

const evaluateLongDesc string = `Run the retrieval evaluation pass.

Embeds every document in the corpus with the configured producer, indexes
the normalized embeddings, and queries the index once per labeled document.
Reports mean reciprocal rank, mean percentile rank, and hit rate at the
configured thresholds, and persists the scalars to the results store.

Examples:
  distill evaluate
  distill evaluate --dataset corpus/test.jsonl --top-k 100
  distill evaluate --name dbow-eval`

const evaluateShortDesc string = "Run the retrieval evaluation pass"

type evaluateCommander struct {
	runName string
	debug   bool

	cfg *config.Config
	log *slog.Logger
}

func NewEvaluateCmd() *cobra.Command {
	cmder := &evaluateCommander{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: evaluateShortDesc,
		Long:  evaluateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}
			config.BindFlag(v, cmd, "dataset", "dataset.path")
			config.BindFlag(v, cmd, "limit", "dataset.limit")
			config.BindFlag(v, cmd, "sqlite", "storage.sqlite_path")
			config.BindFlag(v, cmd, "top-k", "retrieval.top_k")
			cmder.cfg = config.ConfigFromViper(v)

			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().String("dataset", "", "Path to the JSONL document corpus")
	cmd.Flags().Int("limit", 0, "Maximum documents to read (0 = all)")
	cmd.Flags().StringP("sqlite", "s", "", "Path to the results SQLite database")
	cmd.Flags().IntP("top-k", "k", 0, "Neighbors retrieved per query")
	cmd.Flags().StringVarP(&cmder.runName, "name", "n", "evaluate", "Run name recorded in the results store")

	return cmd
}

func (c *evaluateCommander) run(ctx context.Context) error {
	cfg := c.cfg
	c.log = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))

	if cfg.Dataset.Path == "" {
		return errors.New("no dataset configured: pass --dataset or set dataset.path")
	}

	src, err := dataset.LoadJSONL(cfg.Dataset.Path, cfg.Dataset.Limit)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}

	producer, err := embeddingutils.NewProducer(&embeddingutils.NewProducerOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Field:        cfg.Embedding.Field,
	})
	if err != nil {
		return fmt.Errorf("creating embedding producer: %w", err)
	}
	defer producer.Close()

	idx, err := vectorutils.NewIndex(&vectorutils.NewIndexOpts{
		ProviderType: cfg.VectorStore.Provider,
		DBPath:       cfg.VectorStore.Path,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       c.log,
	})
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}
	defer idx.Close()

	evaluator := retrieval.NewEvaluator(
		retrieval.WithIndex(idx),
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithThresholds(cfg.Retrieval.HitsThresholds...),
		retrieval.WithLogger(c.log),
	)

	var res *retrieval.Results
	if err := cliui.Step(os.Stdout, fmt.Sprintf("Evaluating %d documents", src.Len()), func() error {
		var evalErr error
		res, evalErr = evaluator.Evaluate(ctx, src, producer.Produce)
		return evalErr
	}); err != nil {
		return err
	}

	scalars := res.Scalars()
	if err := c.persist(ctx, scalars); err != nil {
		return err
	}

	names := make([]string, 0, len(scalars))
	width := 0
	for name := range scalars {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	fmt.Printf("\n  %s\n\n", cliui.HeaderStyle.Render("Retrieval results"))
	for _, name := range names {
		cliui.KV(os.Stdout, width, name, fmt.Sprintf("%.4f", scalars[name]))
	}
	fmt.Println()
	return nil
}

// persist records the evaluation scalars as a single-step run.
func (c *evaluateCommander) persist(ctx context.Context, scalars map[string]float64) error {
	store, err := results.Open(c.cfg.Storage.SQLitePath, c.log)
	if err != nil {
		return fmt.Errorf("opening results store: %w", err)
	}
	defer store.Close()

	run, err := store.CreateRun(ctx, c.runName, config.RenderTOML(c.cfg))
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	if err := store.LogScalars(ctx, run.ID, 1, scalars); err != nil {
		return fmt.Errorf("persisting results: %w", err)
	}

	c.log.Info("evaluation persisted", "run", run.ID)
	return nil
}
