// Package doctor runs readiness diagnostics for config, credentials, tools,
// audio, and the transcription backend.
package doctor

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/rbright/livescribe/internal/audio"
	"github.com/rbright/livescribe/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	lines := make([]string, 0, len(r.Checks))
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", status, check.Name, check.Message))
	}
	return strings.Join(lines, "\n")
}

// selectDevice is swapped in tests to avoid a live Pulse server.
var selectDevice = audio.SelectDevice

// Run executes every check for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkCredentials(cfg))
	checks = append(checks, checkEndpoint(cfg))
	if cfg.Output.Clipboard {
		checks = append(checks, checkCommand(cfg.Output.ClipboardCmd.Argv, "clipboard_cmd"))
	}
	if cfg.Output.Archive {
		checks = append(checks, checkArchiveDir(cfg.Output.ArchiveDir))
	}
	checks = append(checks, checkAudioSelection(ctx, cfg))
	if cfg.Backend == config.BackendRelay && strings.TrimSpace(cfg.Relay.HealthGRPC) != "" {
		checks = append(checks, checkRelayHealth(ctx, cfg.Relay.HealthGRPC))
	}

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	msg := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		msg = fmt.Sprintf("no file at %q, using defaults", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 {
		msg += fmt.Sprintf(" (%d warnings)", n)
	}
	return Check{Name: "config", Pass: true, Message: msg}
}

// checkCredentials never echoes the secret itself.
func checkCredentials(cfg config.Config) Check {
	switch cfg.Backend {
	case config.BackendDeepgram:
		if strings.TrimSpace(cfg.Deepgram.APIKey) == "" {
			return Check{Name: "credentials", Pass: false, Message: "DEEPGRAM_API_KEY is not set"}
		}
		return Check{Name: "credentials", Pass: true, Message: "deepgram api key present"}
	case config.BackendRelay:
		if strings.TrimSpace(cfg.Relay.Token) == "" {
			return Check{Name: "credentials", Pass: true, Message: "relay token not set; connecting without Authorization"}
		}
		return Check{Name: "credentials", Pass: true, Message: "relay token present"}
	default:
		return Check{Name: "credentials", Pass: false, Message: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

func checkEndpoint(cfg config.Config) Check {
	raw := cfg.Deepgram.URL
	if cfg.Backend == config.BackendRelay {
		raw = cfg.Relay.URL
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Check{Name: "endpoint", Pass: false, Message: fmt.Sprintf("parse %q: %v", raw, err)}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return Check{Name: "endpoint", Pass: false, Message: fmt.Sprintf("scheme must be ws or wss (got %q)", u.Scheme)}
	}
	if u.Host == "" {
		return Check{Name: "endpoint", Pass: false, Message: "host is empty"}
	}
	msg := fmt.Sprintf("%s backend at %s://%s%s", cfg.Backend, u.Scheme, u.Host, u.Path)
	if u.Scheme == "ws" && !isLoopback(u.Hostname()) {
		msg += " (unencrypted)"
	}
	return Check{Name: "endpoint", Pass: true, Message: msg}
}

func isLoopback(host string) bool {
	return host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1"
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", argv[0])}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("found %s at %s", argv[0], path)}
}

func checkArchiveDir(dir string) Check {
	if strings.TrimSpace(dir) == "" {
		return Check{Name: "archive_dir", Pass: false, Message: "archive dir is empty"}
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return Check{Name: "archive_dir", Pass: true, Message: fmt.Sprintf("%s will be created on first save", dir)}
	case err != nil:
		return Check{Name: "archive_dir", Pass: false, Message: err.Error()}
	case !info.IsDir():
		return Check{Name: "archive_dir", Pass: false, Message: fmt.Sprintf("%s is not a directory", dir)}
	}
	return Check{Name: "archive_dir", Pass: true, Message: dir}
}

// checkAudioSelection runs live device selection to surface fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := selectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message += " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}
