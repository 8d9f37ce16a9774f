package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/flowarch/internal/config"
	"github.com/rendis/flowarch/internal/shell"
)

func newChatCmd(c *cli) *cobra.Command {
	var (
		messages []string
		plain    bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the terminal shell",
		Long: `Open an interactive shell on the session canvas.

Plain lines are sent to the architect agent; dot-commands (.help) inspect and
edit the canvas directly. With --message the given lines are sent in order
and the command exits.`,
		Example: `  flowarch chat
  flowarch chat -m "Draw a login flow with a decision for invalid passwords"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, c.cfg, appOptions{autosave: len(messages) == 0})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			opts := []shell.Option{shell.WithASCIIBin(c.cfg.Render.ASCIIBin)}
			if plain {
				opts = append(opts, shell.WithPlain())
			}
			sh := shell.New(a.session, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts...)

			if len(messages) > 0 {
				sh.PrintPending()
				for _, m := range messages {
					if sh.Handle(ctx, m) {
						break
					}
				}
				return nil
			}

			dir := config.Dir()
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			return sh.Run(ctx, filepath.Join(dir, "chat_history"))
		},
	}
	cmd.Flags().StringArrayVarP(&messages, "message", "m", nil, "send a message (or dot-command) without opening the shell; repeatable")
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colors")
	return cmd
}
