// Package servecmder provides the results API server cobra command.
package servecmder

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quillml/distill/api"
	"github.com/quillml/distill/pkg/config"
	"github.com/quillml/distill/pkg/logger"
	"github.com/quillml/distill/pkg/results"
)

const serveLongDesc string = `Run the distill results API server.

Serves recorded runs and their metric scalars from the results store over
HTTP.

Examples:
  distill serve
  distill serve --listen :8831 --sqlite results.db`

const serveShortDesc string = "Run the results API server"

type serveCommander struct {
	debug bool

	cfg *config.Config
	log *slog.Logger
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
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
			config.BindFlag(v, cmd, "listen", "api.listen")
			config.BindFlag(v, cmd, "sqlite", "storage.sqlite_path")
			cmder.cfg = config.ConfigFromViper(v)

			return cmder.run()
		},
	}

	cmd.Flags().StringP("listen", "l", "", "Address for the API server to listen on")
	cmd.Flags().StringP("sqlite", "s", "", "Path to the results SQLite database")

	return cmd
}

func (c *serveCommander) run() error {
	c.log = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))

	store, err := results.Open(c.cfg.Storage.SQLitePath, c.log)
	if err != nil {
		return fmt.Errorf("opening results store: %w", err)
	}
	defer store.Close()

	server := api.NewServer(api.Config{
		ListenAddr: c.cfg.API.Listen,
	}, store, c.log)

	return server.Run()
}
