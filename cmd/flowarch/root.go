package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/flowarch/internal/config"
)

// cli carries state shared by the commands of one invocation.
type cli struct {
	cfgFile string
	cfg     *config.Loaded
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "flowarch",
		Short: "Flow Architect - chat-driven diagram editor",
		Long: `flowarch turns a conversation into a flow diagram.

Describe a process in plain language and the architect agent adds nodes and
links to the canvas. The canvas is available from a terminal shell, over HTTP
with server-sent events, and to other agents through MCP.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "install" {
				return nil
			}
			cfg, err := config.Load(c.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default: ./flowarch.yaml or ~/.flowarch/config.yaml)")
	flags.String("provider", "", "model provider: gemini or offline")
	flags.String("model", "", "model name")
	flags.String("api-key", "", "model API key (default: $GEMINI_API_KEY)")
	flags.Duration("timeout", 0, "per-request model timeout")
	flags.Int("max-rounds", 0, "model rounds per message")
	flags.String("db", "", "session database path (empty string disables persistence)")
	flags.String("autosave", "", "autosave cron spec")
	flags.StringP("session", "s", "", "session id to open or resume")
	flags.String("title", "", "diagram title")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("ascii-bin", "", "mermaid-ascii binary for ASCII diagrams")
	flags.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces")

	_ = root.RegisterFlagCompletionFunc("provider", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{config.ProviderGemini, config.ProviderOffline}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newChatCmd(c),
		newServeCmd(c),
		newMCPCmd(c),
		newRenderCmd(c),
		newInstallCmd(),
		newVersionCmd(),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
