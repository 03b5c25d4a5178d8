// Package distillcmder
package distillcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/quillml/distill/cmd/distill/config"
	evaluatecmder "github.com/quillml/distill/cmd/distill/evaluate"
	servecmder "github.com/quillml/distill/cmd/distill/serve"
	traincmder "github.com/quillml/distill/cmd/distill/train"
	versioncmder "github.com/quillml/distill/cmd/version"
)

const distillLongDesc string = `Distill is a research harness for document-embedding distillation.

Stream a document corpus through the composite teacher losses while the
windowed metric zoo tracks how closely the pooled embeddings follow their
contextual and static targets, then score the same embeddings with the
exact-retrieval evaluator.

Common invocations:
  distill train       Run the streaming training-monitor pass
  distill evaluate    Run the retrieval evaluation pass
  distill serve       Run the results API server`

const distillShortDesc string = "Distill - document-embedding distillation harness"

func NewDistillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distill",
		Short: distillShortDesc,
		Long:  distillLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory holding config.toml (default: .distill/ resolution)")

	// Add subcommands
	cmd.AddCommand(traincmder.NewTrainCmd())
	cmd.AddCommand(evaluatecmder.NewEvaluateCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
