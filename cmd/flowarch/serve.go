package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/flowarch/internal/httpapi"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		listen  string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the canvas over HTTP and server-sent events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, c.cfg, appOptions{autosave: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			addr := c.cfg.Server.ListenAddr
			if cmd.Flags().Changed("listen") {
				addr = listen
			}
			allowed := c.cfg.Server.AllowedOrigins
			if cmd.Flags().Changed("origin") {
				allowed = origins
			}

			srv := httpapi.NewServer(httpapi.Deps{
				Session:        a.session,
				Logger:         a.logger,
				AllowedOrigins: allowed,
				ASCIIBin:       c.cfg.Render.ASCIIBin,
			})
			a.logger.InfoContext(ctx, "http shell listening",
				slog.String("addr", addr),
				slog.String("session", a.session.ID()),
			)
			return srv.Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from server.listen_addr)")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "allowed CORS origin; repeatable")
	return cmd
}
