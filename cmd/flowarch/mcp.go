package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/flowarch/pkg/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose the canvas capabilities to MCP clients over stdio",
		Long: `Run an MCP server on stdin/stdout.

Clients get the six canvas capabilities as tools plus flowarch.chat,
flowarch.diagram and flowarch.export. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, c.cfg, appOptions{logOut: os.Stderr, autosave: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			srv := mcp.NewFlowServer(mcp.FlowServerDeps{
				Session:  a.session,
				Logger:   a.logger,
				ASCIIBin: c.cfg.Render.ASCIIBin,
			})
			return srv.Serve(ctx)
		},
	}
}
