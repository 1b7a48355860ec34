// Package app wires CLI commands to the session owner, its IPC socket, and
// the offline report commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/rbright/livescribe/internal/audio"
	"github.com/rbright/livescribe/internal/cli"
	"github.com/rbright/livescribe/internal/config"
	"github.com/rbright/livescribe/internal/doctor"
	"github.com/rbright/livescribe/internal/fsm"
	"github.com/rbright/livescribe/internal/ipc"
	"github.com/rbright/livescribe/internal/logging"
	"github.com/rbright/livescribe/internal/version"
)

const (
	binaryName     = "livescribe"
	forwardTimeout = 220 * time.Millisecond
)

var errNoSession = errors.New("no active livescribe session")

// Runner executes one CLI invocation against the given streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Capturer overrides Pulse capture for the owner session.
	Capturer audio.Capturer
}

// invocation carries what every command handler needs after config and
// logging are set up.
type invocation struct {
	args   []string
	loaded config.Loaded
	logger *slog.Logger
}

type handler func(Runner, context.Context, invocation) error

var handlers = map[cli.Command]handler{
	cli.CommandDoctor:  Runner.commandDoctor,
	cli.CommandDevices: Runner.commandDevices,
	cli.CommandReports: Runner.commandReports,
	cli.CommandReport:  Runner.commandReport,
	cli.CommandStatus:  Runner.commandStatus,
	cli.CommandStop:    forwarding(ipc.CommandStop),
	cli.CommandCancel:  forwarding(ipc.CommandCancel),
	cli.CommandToggle:  Runner.commandToggle,
}

// exitError selects a process exit code. A nil err exits without printing.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return Runner{Stdout: stdout, Stderr: stderr}.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	switch {
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n\n%s", err, cli.HelpText(binaryName))
		return 2
	case parsed.ShowHelp:
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	case parsed.Command == cli.CommandVersion:
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	run, ok := handlers[parsed.Command]
	if !ok {
		return r.exitCode(exitWith(2, fmt.Errorf("unsupported command %q", parsed.Command)))
	}

	loaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		return r.exitCode(err)
	}

	logRuntime, err := r.setupLogging(parsed, loaded.Config.Log)
	if err != nil {
		return r.exitCode(fmt.Errorf("setup logging: %w", err))
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}
	r.reportWarnings(loaded.Warnings, logger)

	logger.Info("command start",
		"command", parsed.Command,
		"config", loaded.Path,
		"backend", loaded.Config.Backend,
		"log", logRuntime.Path,
	)

	return r.exitCode(run(r, ctx, invocation{args: parsed.Args, loaded: loaded, logger: logger}))
}

// exitCode prints err (if any) once and maps it to a process exit status.
func (r Runner) exitCode(err error) int {
	if err == nil {
		return 0
	}
	code := 1
	var exit *exitError
	if errors.As(err, &exit) {
		code = exit.code
		if exit.err == nil {
			return code
		}
	}
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return code
}

func (r Runner) reportWarnings(warnings []config.Warning, logger *slog.Logger) {
	for _, w := range warnings {
		if w.Line > 0 {
			fmt.Fprintf(r.Stderr, "warning: line %d: %s\n", w.Line, w.Message)
		} else {
			fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}
}

// setupLogging mirrors records to stderr when --verbose or log.console is set.
func (r Runner) setupLogging(parsed cli.Parsed, cfg config.LogConfig) (logging.Runtime, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return logging.Runtime{}, err
	}
	opts := logging.Options{Level: level}
	if parsed.Verbose || cfg.Console {
		opts.Console = r.Stderr
	}
	if parsed.Verbose {
		opts.Level = min(level, slog.LevelDebug)
	}
	return logging.New(opts)
}

func (r Runner) commandDoctor(ctx context.Context, inv invocation) error {
	report := doctor.Run(ctx, inv.loaded)
	fmt.Fprintln(r.Stdout, report.String())
	if !report.OK() {
		return exitWith(1, nil)
	}
	return nil
}

// commandDevices prints one row per Pulse source; the default is starred.
func (r Runner) commandDevices(ctx context.Context, _ invocation) error {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return exitWith(1, nil)
	}

	tw := tabwriter.NewWriter(r.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tDESCRIPTION\tSTATE\tAVAILABLE\tMUTED")
	for _, d := range devices {
		mark := ""
		if d.Default {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, d.ID, d.Description, d.State, yesNo(d.Available), yesNo(d.Muted))
	}
	return tw.Flush()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// commandStatus prints the owner's state and, while recording, its live text.
// No reachable owner means idle.
func (r Runner) commandStatus(ctx context.Context, _ invocation) error {
	resp, err := forward(ctx, ipc.CommandStatus)
	if errors.Is(err, errNoSession) {
		fmt.Fprintln(r.Stdout, fsm.StateIdle)
		return nil
	}
	if err != nil {
		return err
	}

	state := resp.State
	if state == "" {
		state = string(fsm.StateIdle)
	}
	fmt.Fprintln(r.Stdout, state)
	if resp.Transcript != "" {
		fmt.Fprintln(r.Stdout, resp.Transcript)
	}
	return nil
}

// forwarding builds a handler that requires a running owner.
func forwarding(command string) handler {
	return func(r Runner, ctx context.Context, _ invocation) error {
		resp, err := forward(ctx, command)
		if err != nil {
			return err
		}
		r.printMessage(resp)
		return nil
	}
}

func (r Runner) printMessage(resp ipc.Response) {
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
}

// forward sends command to the owner at the runtime socket, returning
// errNoSession when nobody is listening.
func forward(ctx context.Context, command string) (ipc.Response, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return ipc.Response{}, errNoSession
	}
	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		return ipc.Response{}, errNoSession
	}
	return resp, err
}

// tryForward sends command to a running owner. handled is false only when
// nobody owns the socket.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	switch {
	case err == nil && resp.OK:
		return resp, true, nil
	case err == nil:
		return resp, true, errors.New(resp.Error)
	case ipc.Unreachable(err):
		return ipc.Response{}, false, nil
	default:
		return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
	}
}
