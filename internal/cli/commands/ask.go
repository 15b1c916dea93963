package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// AskOptions holds options for the ask command.
type AskOptions struct {
	Format  string
	Intent  string
	Spatial bool
	Session string
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	opts := &AskOptions{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a natural-language question",
		Long: `Ask a question about the spatial database in natural language.

When invoked without a question, enters interactive REPL mode where
consecutive questions share a session.`,
		Example: `  # One-shot question
  geoquery ask "which 5A attractions are within 10km of West Lake?"

  # Force a summary answer, output as JSON
  geoquery ask "attractions per province" --intent summary --format json

  # Interactive mode
  geoquery ask`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if len(args) > 0 {
				return askOnce(cmd, app, strings.Join(args, " "), opts)
			}
			return runAskREPL(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVar(&opts.Intent, "intent", "", "Intent hint: query or summary")
	cmd.Flags().BoolVar(&opts.Spatial, "spatial", false, "Force spatial interpretation")
	cmd.Flags().StringVar(&opts.Session, "session", "", "Session id for conversational context")

	return cmd
}

func buildRequest(text string, opts *AskOptions) core.QueryRequest {
	req := core.QueryRequest{Text: text, SessionID: opts.Session}

	ctx := map[string]string{}
	if opts.Intent != "" {
		ctx["intent"] = opts.Intent
	}
	if opts.Spatial {
		ctx["spatial"] = "true"
	}
	if len(ctx) > 0 {
		req.Context = ctx
	}
	return req
}

// askOnce runs a single question, prompting on stdin when the engine asks for
// clarification.
func askOnce(cmd *cobra.Command, app *App, question string, opts *AskOptions) error {
	state := app.Engine.Run(cmd.Context(), buildRequest(question, opts))

	in := bufio.NewReader(cmd.InOrStdin())
	for state.Status == core.StatusSuspended {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n> ", state.ClarificationPrompt)

		clarification, err := readLine(in)
		if err != nil || clarification == "" {
			return fmt.Errorf("clarification required: %s", state.ClarificationPrompt)
		}

		state, err = app.Engine.Resume(cmd.Context(), state.ResumptionToken, clarification)
		if err != nil {
			return err
		}
	}

	return renderState(cmd.OutOrStdout(), state, opts.Format)
}

// readLine reads one full input line. Clarifications are whole sentences, so
// word-at-a-time scanning is not enough.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runAskREPL(cmd *cobra.Command, app *App, opts *AskOptions) error {
	ctx := cmd.Context()

	session := opts.Session
	if session == "" {
		session = uuid.NewString()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "geoquery> ",
		HistoryFile:     ".geoquery_history",
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "geoquery REPL (session: %s)\n", session)
	fmt.Fprintln(out, "Ask a question in natural language. Type .help for commands, .quit to exit")
	fmt.Fprintln(out)

	// pendingToken is set while the engine waits for a clarification; the
	// next line answers it instead of starting a new question.
	var pendingToken string

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			pendingToken = ""
			rl.SetPrompt("geoquery> ")
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if quit := handleDotCommand(ctx, out, app, session, line); quit {
				break
			}
			continue
		}

		var state *core.WorkflowState
		if pendingToken != "" {
			state, err = app.Engine.Resume(ctx, pendingToken, line)
			pendingToken = ""
			rl.SetPrompt("geoquery> ")
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				continue
			}
		} else {
			repl := *opts
			repl.Session = session
			state = app.Engine.Run(ctx, buildRequest(line, &repl))
		}

		if state.Status == core.StatusSuspended {
			pendingToken = state.ResumptionToken
			fmt.Fprintln(out, state.ClarificationPrompt)
			rl.SetPrompt("clarify> ")
			continue
		}

		if err := renderState(out, state, opts.Format); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		fmt.Fprintln(out)
	}

	return nil
}

func handleDotCommand(_ context.Context, out io.Writer, app *App, session, line string) bool {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  .history   show this session's questions and answers")
		fmt.Fprintln(out, "  .stats     show cache statistics")
		fmt.Fprintln(out, "  .quit      exit the REPL")

	case ".history":
		turns := app.Engine.SessionHistory(session)
		if len(turns) == 0 {
			fmt.Fprintln(out, "(no history)")
			return false
		}
		for i, turn := range turns {
			fmt.Fprintf(out, "%2d. [%s] %s\n    %s\n", i+1, turn.Status, turn.Question, turn.Answer)
		}

	case ".stats":
		if app.Store == nil {
			fmt.Fprintln(out, "cache disabled")
			return false
		}
		stats := app.Store.Stats()
		fmt.Fprintf(out, "entries=%d hits=%d misses=%d hit_rate=%.2f\n",
			stats.Size, stats.Hits, stats.Misses, stats.HitRate)

	default:
		fmt.Fprintf(out, "unknown command %s (try .help)\n", line)
	}
	return false
}
