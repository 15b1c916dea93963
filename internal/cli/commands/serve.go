package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/geoquery/internal/cli/config"
	"github.com/leapstack-labs/geoquery/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the geoquery HTTP API.

Endpoints:
  POST   /api/query                   ask a question
  POST   /api/query/{token}/resume    answer a clarification
  GET    /api/sessions/{id}/history   session history
  GET    /api/cache/stats             cache effectiveness
  DELETE /api/cache                   clear the cache
  GET    /healthz                     liveness probe`,
		Example: `  geoquery serve
  geoquery serve --port 9090 --llm-provider openai --llm-model gpt-4o-mini`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			srv := server.New(app.Engine, app.Store, app.Logger)
			return srv.Serve(ctx, config.FromContext(cmd.Context()).Server.Addr())
		},
	}
}
