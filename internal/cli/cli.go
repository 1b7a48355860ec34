// Package cli parses livescribe's command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandToggle  Command = "toggle"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandReports Command = "reports"
	CommandReport  Command = "report"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// commandArgs is the number of positional arguments each command takes.
var commandArgs = map[Command]int{
	CommandToggle:  0,
	CommandStop:    0,
	CommandCancel:  0,
	CommandStatus:  0,
	CommandDevices: 0,
	CommandDoctor:  0,
	CommandReports: 0,
	CommandReport:  1,
	CommandVersion: 0,
	CommandHelp:    0,
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	Verbose    bool
	ShowHelp   bool
}

// Parse reads global flags followed by one command and its arguments.
// Flags must precede the command.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "-h" || arg == "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case arg == "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case arg == "-v" || arg == "--verbose":
			parsed.Verbose = true
		case arg == "--config":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case strings.HasPrefix(arg, "--config="):
			path := strings.TrimPrefix(arg, "--config=")
			if strings.TrimSpace(path) == "" {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = path
		case strings.HasPrefix(arg, "-"):
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		default:
			cmd := Command(arg)
			want, ok := commandArgs[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			switch {
			case len(rest) > want:
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			case len(rest) < want:
				return Parsed{}, fmt.Errorf("command %q requires %d argument(s)", arg, want)
			}

			parsed.Command = cmd
			parsed.Args = rest
			parsed.ShowHelp = cmd == CommandHelp
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--verbose] <command> [args]

Commands:
  toggle        Start streaming transcription, or stop and commit when already recording
  stop          Stop the live session and commit its transcript
  cancel        Cancel the live session and discard its transcript
  status        Print current state and live transcript
  devices       List available input devices
  doctor        Run configuration, credential, and backend checks
  reports       List saved transcripts, newest first
  report NAME   Print a saved transcript and its extracted keywords
  version       Print version information
  help          Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/livescribe/config.jsonc)
  -v, --verbose   Mirror logs to stderr
  -h, --help      Show help
  --version       Show version

Environment:
  DEEPGRAM_API_KEY         Deepgram API key
  LIVESCRIBE_RELAY_TOKEN   Bearer token for the relay backend
  LIVESCRIBE_BACKEND       Override the configured backend
`, binaryName)
}
