package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/giantswarm/mcp-inspect/internal/browser"
	"github.com/giantswarm/mcp-inspect/internal/logging"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// REPL walks a guided flow one command at a time.
type REPL struct {
	session         *Session
	logger          *logging.Logger
	out             io.Writer
	openURL         func(string) error
	rl              *readline.Instance
	commandHandlers map[string]commandHandler
}

// NewREPL creates a REPL over the session's machine.
func NewREPL(session *Session, logger *logging.Logger) *REPL {
	r := &REPL{
		session: session,
		logger:  logger,
		out:     os.Stdout,
		openURL: browser.Open,
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r
}

// Run starts a guided flow and reads commands until exit or EOF.
func (r *REPL) Run(ctx context.Context) error {
	historyFile := filepath.Join(os.TempDir(), ".mcp_inspect_history")

	config := &readline.Config{
		Prompt:          "auth> ",
		HistoryFile:     historyFile,
		AutoComplete:    createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.rl = rl
	r.out = rl.Stdout()

	r.session.Machine.StartGuided()
	r.logger.Info("Guided OAuth flow for %s. Type 'help' for available commands.", r.session.Machine.ServerURL())
	r.printState()

	for {
		select {
		case <-ctx.Done():
			_ = r.session.StopListening(context.Background())
			r.logger.Info("REPL shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			_ = r.session.StopListening(context.Background())
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				_ = r.session.StopListening(context.Background())
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}

		fmt.Fprintln(r.out)
	}
}

// createCompleter creates the tab completion configuration
func createCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("state"),
		readline.PcItem("next"),
		readline.PcItem("run"),
		readline.PcItem("code", readline.PcItem(flagNoAdvance)),
		readline.PcItem("url"),
		readline.PcItem("open"),
		readline.PcItem("listen"),
		readline.PcItem("clear"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
	)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	help := commandHandler{minArgs: 1, handler: func(ctx context.Context, parts []string) error {
		return r.showHelp()
	}}
	exit := commandHandler{minArgs: 1, handler: func(ctx context.Context, parts []string) error {
		return errExit
	}}
	return map[string]commandHandler{
		"help": help,
		"?":    help,
		"exit": exit,
		"quit": exit,
		"state": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			r.printState()
			return nil
		}},
		"next": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleNext(ctx)
		}},
		"run": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleRun(ctx)
		}},
		"code": {
			minArgs: 2,
			usage:   "usage: code <authorization-code> [" + flagNoAdvance + "]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleCode(ctx, parts[1:])
			},
		},
		"url": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleURL()
		}},
		"open": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleOpen()
		}},
		"listen": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleListen()
		}},
		"clear": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleClear()
		}},
	}
}

// executeCommand parses and executes a command
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := r.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

func (r *REPL) showHelp() error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out, "  help, ?                      - Show this help message")
	fmt.Fprintln(r.out, "  state                        - Show the flow state")
	fmt.Fprintln(r.out, "  next                         - Run the current step")
	fmt.Fprintln(r.out, "  run                          - Run steps until input is needed")
	fmt.Fprintln(r.out, "  code <code> [--no-advance]   - Supply the authorization code")
	fmt.Fprintln(r.out, "  url                          - Print the authorization URL")
	fmt.Fprintln(r.out, "  open                         - Open the authorization URL in a browser")
	fmt.Fprintln(r.out, "  listen                       - Wait for the redirect on the callback port")
	fmt.Fprintln(r.out, "  clear                        - Forget stored state and start over")
	fmt.Fprintln(r.out, "  exit, quit                   - Exit the REPL")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Keyboard shortcuts:")
	fmt.Fprintln(r.out, "  TAB                          - Auto-complete commands")
	fmt.Fprintln(r.out, "  Ctrl+R                       - Search command history")
	fmt.Fprintln(r.out, "  Ctrl+D                       - Exit REPL")
	return nil
}
