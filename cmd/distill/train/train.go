// Package traincmder provides the streaming training-monitor cobra command.
package traincmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/quillml/distill/pkg/cca"
	"github.com/quillml/distill/pkg/cliui"
	"github.com/quillml/distill/pkg/config"
	"github.com/quillml/distill/pkg/dataset"
	"github.com/quillml/distill/pkg/embeddings"
	embeddingutils "github.com/quillml/distill/pkg/embeddings/utils"
	"github.com/quillml/distill/pkg/eventstream"
	eventstreamutils "github.com/quillml/distill/pkg/eventstream/utils"
	"github.com/quillml/distill/pkg/logger"
	"github.com/quillml/distill/pkg/loss"
	"github.com/quillml/distill/pkg/metric"
	"github.com/quillml/distill/pkg/results"
)

const trainLongDesc string = `Run the streaming training-monitor pass.

Streams the document corpus in batches, produces pooled embeddings with the
configured producer, scores them against the contextual and static teacher
targets with the composite loss, and drives the windowed metric zoo. Scalars
are emitted every training.log_every_step steps to the results store, the
event stream, and the log.

Examples:
  distill train
  distill train --dataset corpus/train.jsonl --limit 10000
  distill train --name soft-cca-run --batch-size 64`

const trainShortDesc string = "Run the streaming training-monitor pass"

type trainCommander struct {
	runName string
	debug   bool

	cfg         *config.Config
	log         *slog.Logger
	staticViews bool
}

func NewTrainCmd() *cobra.Command {
	cmder := &trainCommander{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: trainShortDesc,
		Long:  trainLongDesc,
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
			config.BindFlag(v, cmd, "batch-size", "training.batch_size")
			config.BindFlag(v, cmd, "epochs", "training.epochs")
			config.BindFlag(v, cmd, "log-every", "training.log_every_step")
			cmder.cfg = config.ConfigFromViper(v)

			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().String("dataset", "", "Path to the JSONL document corpus")
	cmd.Flags().Int("limit", 0, "Maximum documents to read (0 = all)")
	cmd.Flags().StringP("sqlite", "s", "", "Path to the results SQLite database")
	cmd.Flags().Int("batch-size", 0, "Documents per training step")
	cmd.Flags().Int("epochs", 0, "Passes over the corpus")
	cmd.Flags().Int("log-every", 0, "Steps between scalar emissions")
	cmd.Flags().StringVarP(&cmder.runName, "name", "n", "train", "Run name recorded in the results store")

	return cmd
}

func (c *trainCommander) run(ctx context.Context) error {
	cfg := c.cfg
	c.log = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))

	if cfg.Dataset.Path == "" {
		return errors.New("no dataset configured: pass --dataset or set dataset.path")
	}

	src, err := dataset.LoadJSONL(cfg.Dataset.Path, cfg.Dataset.Limit)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	c.log.Info("dataset loaded", "path", cfg.Dataset.Path, "documents", src.Len())

	store, err := results.Open(cfg.Storage.SQLitePath, c.log)
	if err != nil {
		return fmt.Errorf("opening results store: %w", err)
	}
	defer store.Close()

	run, err := store.CreateRun(ctx, c.runName, config.RenderTOML(cfg))
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	pub, err := eventstreamutils.NewPublisher(&eventstreamutils.NewPublisherOpts{
		ProviderType: cfg.EventStream.Provider,
		Brokers:      cfg.EventStream.Brokers,
		Topic:        cfg.EventStream.Topic,
		Logger:       c.log,
	})
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer pub.Close()

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

	pooledDim, contextualDim, staticDim, err := probeDims(ctx, src, producer)
	if err != nil {
		return err
	}
	c.staticViews = staticDim > 0

	composite, err := c.buildLoss(pooledDim, contextualDim, staticDim)
	if err != nil {
		return err
	}

	mlog := metric.NewLogger(
		c.buildMetrics(pooledDim, staticDim),
		metric.WithSinks(
			metric.SlogSink{Log: c.log},
			store.Sink(run.ID),
			eventstream.Sink(pub, run.ID),
		),
		metric.WithLog(c.log),
	)

	for epoch := 1; epoch <= cfg.Training.Epochs; epoch++ {
		if err := src.Reset(); err != nil {
			return err
		}
		if err := c.runEpoch(ctx, src, producer, composite, mlog); err != nil {
			return err
		}
		c.log.Info("epoch finished", "epoch", epoch, "step", mlog.CurrentStep())
		mlog.Flush(ctx)
	}

	fmt.Println()
	cliui.KV(os.Stdout, 10, "Run", run.ID)
	cliui.KV(os.Stdout, 10, "Steps", fmt.Sprintf("%d", mlog.CurrentStep()))
	cliui.KV(os.Stdout, 10, "Documents", fmt.Sprintf("%d", src.Len()))
	fmt.Println()
	return nil
}

func (c *trainCommander) runEpoch(
	ctx context.Context,
	src dataset.Source,
	producer embeddings.Producer,
	composite *loss.StaticContextual,
	mlog *metric.Logger,
) error {
	tc := c.cfg.Training

	for {
		docs, err := dataset.ReadBatch(src, tc.BatchSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		pooled, err := pooledMatrix(ctx, producer, docs)
		if err != nil {
			return err
		}
		contextual, err := dataset.ContextualMatrix(docs)
		if err != nil {
			return fmt.Errorf("contextual targets: %w", err)
		}
		lengths := dataset.Lengths(docs)

		var static *mat.Dense
		if c.staticViews {
			static, err = dataset.StaticMatrix(docs)
			if err != nil {
				return fmt.Errorf("static targets: %w", err)
			}
		}

		out, err := composite.Forward(pooled, contextual, static, lengths)
		if err != nil {
			return fmt.Errorf("loss at step %d: %w", mlog.CurrentStep()+1, err)
		}

		batch := metric.Batch{
			"pooled":          pooled,
			"contextual":      contextual,
			"length":          metric.Column(lengths),
			"contextual_mask": maskColumn(lengths, tc.ContextualMaxLength),
		}
		if static != nil {
			batch["static"] = static
		}

		if err := mlog.Step(ctx, scalarOutputs(out), batch); err != nil {
			return err
		}
	}
}

// buildLoss assembles the composite teacher loss from the training config.
func (c *trainCommander) buildLoss(pooledDim, contextualDim, staticDim int) (*loss.StaticContextual, error) {
	tc := c.cfg.Training
	opts := []loss.StaticContextualOption{loss.WithMaxLength(tc.ContextualMaxLength)}

	if tc.ContextualLoss != "" {
		if contextualDim == 0 {
			return nil, errors.New("contextual loss configured but documents carry no contextual embeddings")
		}
		l, err := loss.New(tc.ContextualLoss,
			loss.WithMargin(tc.ContrastiveMargin),
			loss.WithDim(pooledDim),
			loss.WithSoftCCALam(tc.SoftCCALam),
		)
		if err != nil {
			return nil, err
		}
		lam := tc.ContextualLam
		if lam == 0 {
			lam = 1
		}
		opts = append(opts, loss.WithContextual(l, lam))
	}

	if tc.StaticLoss != "" {
		if staticDim == 0 {
			return nil, errors.New("static loss configured but documents carry no static embeddings")
		}
		l, err := c.staticLoss(pooledDim, staticDim)
		if err != nil {
			return nil, err
		}
		opts = append(opts, loss.WithStatic(l))
	}

	return loss.NewStaticContextual(opts...), nil
}

// staticLoss builds the static-target term, wrapping pair losses in the
// configured projection nets.
func (c *trainCommander) staticLoss(pooledDim, staticDim int) (loss.Masked, error) {
	tc := c.cfg.Training
	projected := len(tc.ProjectionLayers) > 0 || len(tc.StaticProjectionLayers) > 0

	d1, d2 := pooledDim, staticDim
	var net1, net2 *cca.Net
	if projected {
		norm := tc.ProjectionNorm
		if norm == "none" {
			norm = cca.NormNone
		}
		var err error
		net1, err = cca.NewNet(pooledDim, tc.ProjectionLayers, cca.WithNorm(norm))
		if err != nil {
			return nil, fmt.Errorf("pooled projection: %w", err)
		}
		net2, err = cca.NewNet(staticDim, tc.StaticProjectionLayers, cca.WithNorm(norm))
		if err != nil {
			return nil, fmt.Errorf("static projection: %w", err)
		}
		d1, d2 = net1.OutputDim(), net2.OutputDim()
	}

	var inner cca.PairLoss
	switch tc.StaticLoss {
	case "cca":
		var lossOpts []cca.LossOption
		if tc.CCAOutputDim > 0 {
			lossOpts = append(lossOpts, cca.WithOutputDim(tc.CCAOutputDim))
		}
		inner = cca.NewRunningLoss(cca.NewRunningCovariance(d1, d2), lossOpts...)
	case loss.KindSoftCCA:
		if d1 != d2 {
			return nil, fmt.Errorf(
				"soft_cca needs equal view widths, got %d and %d (add projection layers)", d1, d2)
		}
		inner = cca.NewSoftCCA(
			cca.NewStochasticDecorrelation(d1),
			cca.NewStochasticDecorrelation(d2),
			tc.SoftCCALam,
		)
	default:
		if projected {
			return nil, fmt.Errorf(
				"projection layers require a pair loss (cca or soft_cca), got %q", tc.StaticLoss)
		}
		return loss.New(tc.StaticLoss,
			loss.WithMargin(tc.ContrastiveMargin),
			loss.WithDim(staticDim),
			loss.WithSoftCCALam(tc.SoftCCALam),
		)
	}

	if projected {
		inner = cca.NewProjection(net1, net2, inner)
	}
	return loss.Pair(inner), nil
}

// buildMetrics assembles the training metric zoo: the loss means, batch
// shape diagnostics, and the windowed cross-view metrics.
func (c *trainCommander) buildMetrics(pooledDim, staticDim int) []*metric.TrainingMetric {
	tc := c.cfg.Training
	freq := tc.LogEveryStep
	window := windowRows(tc)

	metrics := []*metric.TrainingMetric{
		{Name: "loss", Metric: metric.NewWindowedMean(window), LogFreq: freq},
		batchMetric("mean_length", metric.NewMean(), freq, "length"),
		batchMetric("max_length", metric.NewMax(), freq, "length"),
		batchMetric("contextual_mask_rate", metric.NewMaskRate(), freq, "contextual_mask"),
		batchMetric("sbert_mse", metric.NewWindowedMSE(window), freq, "pooled", "contextual"),
		batchMetric("sbert_correlation", metric.NewWindowedCorrelation(window), freq, "pooled", "contextual"),
	}

	if tc.ContextualLoss != "" {
		metrics = append(metrics, &metric.TrainingMetric{
			Name:    loss.PrefixContextual + "loss",
			Metric:  metric.NewWindowedMean(window),
			LogFreq: freq,
		})
	}
	if tc.StaticLoss != "" {
		metrics = append(metrics, &metric.TrainingMetric{
			Name:    loss.PrefixStatic + "loss",
			Metric:  metric.NewWindowedMean(window),
			LogFreq: freq,
		})
	}

	if staticDim > 0 {
		components := tc.CCAOutputDim
		if components <= 0 || components > pooledDim || components > staticDim {
			components = min(pooledDim, staticDim)
		}
		for _, ws := range []int{window, 4 * window} {
			metrics = append(metrics, batchMetric(
				fmt.Sprintf("cca_%d", ws),
				metric.NewWindowedCCA(ws, components, metric.WithCCALogger(c.log)),
				freq,
				"pooled", "static",
			))
		}
	}

	return metrics
}

// batchMetric binds a metric to named batch tensors through an accessor.
func batchMetric(name string, m metric.Metric, freq int, keys ...string) *metric.TrainingMetric {
	acc := metric.WithAccessor(m, metric.FromBatch(keys...))
	return &metric.TrainingMetric{
		Name:    name,
		Metric:  acc,
		LogFreq: freq,
		Update: func(_ metric.Metric, outputs, batch metric.Batch) error {
			return acc.UpdateBatch(outputs, batch)
		},
	}
}

// windowRows sizes the shared metric window to a few logging intervals
// worth of documents.
func windowRows(tc config.TrainingConfig) int {
	rows := tc.BatchSize * tc.LogEveryStep
	if rows <= 0 {
		rows = 1024
	}
	return rows
}

// probeDims reads one document to discover the view widths, then rewinds
// the source.
func probeDims(ctx context.Context, src dataset.Source, producer embeddings.Producer) (pooled, contextual, static int, err error) {
	doc, err := src.Next()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("probing dataset: %w", err)
	}
	vec, err := producer.Produce(ctx, doc)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("probing embedding producer: %w", err)
	}
	if err := src.Reset(); err != nil {
		return 0, 0, 0, err
	}
	return len(vec), len(doc.Contextual), len(doc.Static), nil
}

// pooledMatrix produces one embedding per document and stacks them.
func pooledMatrix(ctx context.Context, producer embeddings.Producer, docs []*dataset.Document) (*mat.Dense, error) {
	var out *mat.Dense
	for i, doc := range docs {
		vec, err := producer.Produce(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("embedding document %d: %w", doc.ID, err)
		}
		if out == nil {
			out = mat.NewDense(len(docs), len(vec), nil)
		}
		if _, cols := out.Dims(); cols != len(vec) {
			return nil, fmt.Errorf("embedding document %d: width %d, want %d", doc.ID, len(vec), cols)
		}
		for j, v := range vec {
			out.Set(i, j, float64(v))
		}
	}
	return out, nil
}

// scalarOutputs lifts loss outputs into 1x1 tensors for the metric logger.
func scalarOutputs(out cca.Outputs) metric.Batch {
	b := make(metric.Batch, len(out))
	for k, v := range out {
		b[k] = metric.Scalar(v)
	}
	return b
}

// maskColumn encodes the contextual length mask as a 0/1 column.
func maskColumn(lengths []float64, maxLength int) *mat.Dense {
	col := make([]float64, len(lengths))
	for i, l := range lengths {
		if maxLength <= 0 || l <= float64(maxLength) {
			col[i] = 1
		}
	}
	return metric.Column(col)
}
