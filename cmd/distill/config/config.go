// Package configcmder provides the config command for managing persistent
// distill configuration stored in the .distill/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent distill configuration.

Configuration is stored as config.toml in the .distill/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path, api.listen,
  dataset.path, dataset.limit,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  embedding.field,
  vector_store.provider, vector_store.path,
  training.batch_size, training.epochs, training.log_every_step,
  training.contextual_loss, training.static_loss, ...
  retrieval.top_k, retrieval.hits_thresholds,
  eventstream.provider, eventstream.brokers, eventstream.topic

Use subcommands to get, set, or list configuration values:
  distill config set <key> <value>    Set a configuration value
  distill config get <key>            Get a configuration value
  distill config list                 List all configuration values

Examples:
  distill config set training.static_loss soft_cca
  distill config set embedding.field dbow
  distill config get retrieval.top_k
  distill config list`

const configShortDesc string = "Manage persistent distill configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
