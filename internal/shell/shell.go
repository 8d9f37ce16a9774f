// Package shell is the terminal presentation of a session: a line-oriented
// chat where plain lines go to the agent and dot-commands inspect, export or
// import the canvas.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/diagram"
	"github.com/rendis/flowarch/internal/session"
	"github.com/rendis/flowarch/internal/streaming"
	"github.com/rendis/flowarch/pkg/schema"
)

// Shell drives one session from a terminal.
type Shell struct {
	session  *session.Session
	out      io.Writer
	errOut   io.Writer
	asciiBin string
	styles   styles
	now      func() time.Time

	// printed is how many transcript entries have been written to out.
	printed int
}

// Option configures a Shell.
type Option func(*Shell)

// WithASCIIBin selects a mermaid-ascii binary for .ascii.
func WithASCIIBin(path string) Option {
	return func(sh *Shell) { sh.asciiBin = path }
}

// WithPlain disables colors.
func WithPlain() Option {
	return func(sh *Shell) { sh.styles = plainStyles() }
}

// New creates a shell over s writing to out and errOut.
func New(s *session.Session, out, errOut io.Writer, opts ...Option) *Shell {
	sh := &Shell{
		session: s,
		out:     out,
		errOut:  errOut,
		styles:  defaultStyles(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(sh)
	}
	return sh
}

// Prompt renders the prompt, which carries the canvas counters.
func (sh *Shell) Prompt() string {
	return sh.styles.status.Render("["+sh.session.StatusLine()+"]") + " " + sh.styles.prompt.Render("flowarch> ")
}

// Run reads lines until EOF, .quit or ctx is done.
func (sh *Shell) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.Prompt(),
		HistoryFile:     historyFile,
		AutoComplete:    newCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          sh.out,
		Stderr:          sh.errOut,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize shell: %w", err)
	}
	defer func() { _ = rl.Close() }()

	stop := sh.watchActivity(ctx)
	defer stop()

	_, _ = fmt.Fprintf(sh.out, "%s (session: %s)\n", sh.styles.title.Render(sh.title()), sh.session.ID())
	_, _ = fmt.Fprintln(sh.out, "Describe a process to draw it. Type .help for commands, .quit to exit")
	sh.PrintPending()

	for {
		if ctx.Err() != nil {
			return nil
		}
		rl.SetPrompt(sh.Prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if quit := sh.Handle(ctx, line); quit {
			return nil
		}
	}
}

// Handle processes one input line and reports whether the shell should exit.
func (sh *Shell) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, ".") {
		return sh.dotCommand(ctx, line)
	}

	_, err := sh.session.Submit(ctx, line)
	if schema.HasCode(err, schema.ErrCodeBusy) || schema.HasCode(err, schema.ErrCodeValidation) {
		sh.printError(err)
		return false
	}
	// Model errors already landed in the transcript as an "Agent Error" entry.
	sh.PrintPending()
	return false
}

// PrintPending writes transcript entries not yet shown, skipping the user's
// own lines.
func (sh *Shell) PrintPending() {
	msgs := sh.session.Messages()
	if sh.printed > len(msgs) {
		// The transcript was replaced by a restore.
		sh.printed = 0
	}
	for _, m := range msgs[sh.printed:] {
		if m.Role != agent.MessageUser {
			sh.printMessage(m)
		}
	}
	sh.printed = len(msgs)
}

func (sh *Shell) printMessage(m agent.Message) {
	switch {
	case m.Planning:
		_, _ = fmt.Fprintf(sh.out, "%s\n%s\n", sh.styles.planning.Render(agent.PlanningLabel), sh.styles.muted.Render(m.Content))
	case m.Role == agent.MessageSystem:
		_, _ = fmt.Fprintln(sh.out, sh.styles.system.Render(m.Content))
	case strings.HasPrefix(m.Content, "Agent Error:"):
		_, _ = fmt.Fprintln(sh.out, sh.styles.err.Render(m.Content))
	default:
		_, _ = fmt.Fprintln(sh.out, sh.styles.assistant.Render(m.Content))
	}
}

func (sh *Shell) printError(err error) {
	_, _ = fmt.Fprintln(sh.errOut, sh.styles.err.Render("Error: "+err.Error()))
}

func (sh *Shell) title() string {
	if t := sh.session.Title(); t != "" {
		return t
	}
	return "Flow Architect"
}

// watchActivity echoes activity changes to errOut while a turn runs.
func (sh *Shell) watchActivity(ctx context.Context) func() {
	hub := sh.session.Hub()
	if hub == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	ch, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{
		SessionID:  sh.session.ID(),
		EventTypes: []string{schema.EventActivity},
	})
	if err != nil {
		cancel()
		return func() {}
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if a, _ := ev.Payload.(string); a != "" {
					_, _ = fmt.Fprintln(sh.errOut, sh.styles.muted.Render("  "+a))
				}
			}
		}
	}()
	return func() {
		unsubscribe()
		cancel()
	}
}

func (sh *Shell) dotCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printHelp(sh.out)

	case ".status":
		_, _ = fmt.Fprintln(sh.out, sh.session.StatusLine())

	case ".canvas":
		renderCanvas(sh.out, sh.session.Snapshot())

	case ".mermaid", ".ascii":
		format := strings.TrimPrefix(command, ".")
		r, err := diagram.Render(ctx, sh.session.Snapshot(), sh.session.Title(), format, sh.asciiBin)
		if err != nil {
			sh.printError(err)
			break
		}
		_, _ = fmt.Fprintln(sh.out, strings.TrimRight(string(r.Body), "\n"))

	case ".export":
		path := arg
		if path == "" {
			path = session.ExportFileName(sh.now())
		}
		if err := sh.export(path); err != nil {
			sh.printError(err)
			break
		}
		_, _ = fmt.Fprintf(sh.out, "Exported to %s\n", path)

	case ".import":
		if arg == "" {
			_, _ = fmt.Fprintln(sh.errOut, "Usage: .import <file>")
			break
		}
		if err := sh.importFile(ctx, arg); err != nil {
			sh.printError(err)
			break
		}
		_, _ = fmt.Fprintf(sh.out, "Imported %s (%s)\n", arg, sh.session.StatusLine())

	case ".query":
		if arg == "" {
			_, _ = fmt.Fprintln(sh.errOut, "Usage: .query <jq expression>")
			break
		}
		v, err := sh.session.Query(ctx, arg)
		if err != nil {
			sh.printError(err)
			break
		}
		printJSON(sh.out, v)

	case ".check":
		result := sh.session.Check(ctx)
		if result.Empty() {
			_, _ = fmt.Fprintln(sh.out, sh.styles.system.Render("Diagram check: no issues"))
			break
		}
		renderIssues(sh.out, result)

	default:
		_, _ = fmt.Fprintf(sh.errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func (sh *Shell) export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := sh.session.Export(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (sh *Shell) importFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	// A rejected document leaves a notice in the transcript.
	defer sh.PrintPending()
	return sh.session.Import(ctx, f)
}

func printHelp(w io.Writer) {
	help := `
Commands:
  .help              Show this help message
  .status            Show the canvas counters
  .canvas            List nodes and links
  .mermaid           Print the canvas as Mermaid source
  .ascii             Draw the canvas in the terminal
  .export [file]     Save the canvas as JSON
  .import <file>     Replace the canvas from a JSON file
  .query <jq>        Run a jq expression over the canvas
  .check             Run the diagram checks
  .quit / .exit      Exit the shell

Anything else is sent to the Flow Architect.
`
	_, _ = fmt.Fprintln(w, help)
}

func newCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".status"),
		readline.PcItem(".canvas"),
		readline.PcItem(".mermaid"),
		readline.PcItem(".ascii"),
		readline.PcItem(".export"),
		readline.PcItem(".import"),
		readline.PcItem(".query"),
		readline.PcItem(".check"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
