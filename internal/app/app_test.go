package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/livescribe/internal/audio"
	"github.com/rbright/livescribe/internal/cli"
	"github.com/rbright/livescribe/internal/ipc"
	"github.com/rbright/livescribe/internal/reports"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "livescribe")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteRejectsInvalidConfig(t *testing.T) {
	paths := setupRunnerEnv(t, `{"backend": "whisper"}`)

	var stdout, stderr bytes.Buffer
	exitCode := Execute(context.Background(), []string{"--config", paths.configPath, "status"}, &stdout, &stderr)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "backend must be one of")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active livescribe session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	commands := make(chan string, 8)

	startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "active", Transcript: "cough since tuesday..."}
		case ipc.CommandStop, ipc.CommandCancel, ipc.CommandToggle:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Failure("unsupported")
		}
	})

	for _, cmd := range []string{"status", "stop", "cancel", "toggle"} {
		var stdout, stderr bytes.Buffer
		runner := Runner{Stdout: &stdout, Stderr: &stderr}

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
		if cmd == "status" {
			require.Equal(t, "active\ncough since tuesday...\n", stdout.String())
		} else {
			require.Equal(t, cmd+" handled\n", stdout.String())
		}
	}

	got := []string{<-commands, <-commands, <-commands, <-commands}
	require.Equal(t, []string{"status", "stop", "cancel", "toggle"}, got)
}

func TestRunnerForwardedErrorFails(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Failure("session is stopping; try again shortly")
	})

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "session is stopping")
}

func TestTryForwardTreatsStaleSocketAsUnhandled(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "livescribe.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "livescribe.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.ErrorContains(t, err, `forward command "status":`)
}

func TestRunnerDoctorCommandPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] credentials: DEEPGRAM_API_KEY is not set")
}

func TestRunnerDevicesCommandFailsWithoutPulse(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerToggleOwnerReportsHandshakeFailure(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	capturer := &scriptedCapturer{}

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Capturer: capturer}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "deepgram api key is empty")
	require.Zero(t, capturer.startCount())

	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerToggleOwnerStreamsCommitsAndArchives(t *testing.T) {
	relay := newRelayServer(t, "patient has a fever since yesterday")
	paths := setupRunnerEnv(t, "")
	archiveDir := filepath.Join(t.TempDir(), "transcripts")
	writeConfig(t, paths.configPath, fmt.Sprintf(`{
		// relay fixture
		"backend": "relay",
		"relay": {"url": %q},
		"output": {"clipboard": false, "archive": true, "archive_dir": %q},
		"transcript": {"capitalize_sentences": true},
	}`, relay.url, archiveDir))

	capturer := &scriptedCapturer{frames: [][]float32{{0.5, -0.5}, {0.25}}}
	var ownerOut, ownerErr bytes.Buffer
	owner := Runner{Stdout: &ownerOut, Stderr: &ownerErr, Capturer: capturer}

	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	}()

	require.Eventually(t, func() bool {
		resp, err := ipc.Send(context.Background(), paths.socketPath(), ipc.Request{Command: ipc.CommandStatus}, time.Second)
		return err == nil && resp.State == "active" && strings.Contains(resp.Transcript, "fever")
	}, 5*time.Second, 20*time.Millisecond)

	var stopOut, stopErr bytes.Buffer
	stopper := Runner{Stdout: &stopOut, Stderr: &stopErr}
	require.Equal(t, 0, stopper.Execute(context.Background(), []string{"--config", paths.configPath, "stop"}), stopErr.String())

	select {
	case code := <-done:
		require.Equal(t, 0, code, ownerErr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not finish")
	}
	require.Equal(t, "Patient has a fever since yesterday\n", ownerOut.String())
	require.Contains(t, ownerErr.String(), "patient has a fever since yesterday (final)")

	require.Equal(t, []string{"start_transcription", "audio_chunk", "audio_chunk", "stop_transcription"}, relay.messageTypes())

	saved, err := reports.List(archiveDir)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	var listOut bytes.Buffer
	lister := Runner{Stdout: &listOut, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, lister.Execute(context.Background(), []string{"--config", paths.configPath, "reports"}))
	require.Contains(t, listOut.String(), saved[0].Name)

	var reportOut bytes.Buffer
	reader := Runner{Stdout: &reportOut, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, reader.Execute(context.Background(), []string{"--config", paths.configPath, "report", saved[0].Name}))
	require.Contains(t, reportOut.String(), "Patient has a fever since yesterday\n\n")
	require.Contains(t, reportOut.String(), "symptoms: fever")
	require.Contains(t, reportOut.String(), "since, yesterday")

	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerReportRejectsTraversal(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}
	require.Equal(t, 2, runner.Execute(context.Background(), []string{"--config", paths.configPath, "report", "../config.jsonc"}))
	require.Contains(t, stderr.String(), "invalid report name")

	stderr.Reset()
	require.Equal(t, 1, runner.Execute(context.Background(), []string{"--config", paths.configPath, "report", "transcript_2020-01-01_00-00-00.txt"}))
	require.Contains(t, stderr.String(), "report not found")
}

// scriptedCapturer delivers its frames as soon as capture starts.
type scriptedCapturer struct {
	frames [][]float32

	mu     sync.Mutex
	starts int
}

func (s *scriptedCapturer) Start(_ context.Context, consume audio.FrameFunc) (audio.Handle, error) {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()

	for i, samples := range s.frames {
		consume(audio.Frame{Seq: uint64(i + 1), Samples: samples, SampleRate: audio.DefaultSampleRate})
	}
	return &scriptedHandle{frames: uint64(len(s.frames))}, nil
}

func (s *scriptedCapturer) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

type scriptedHandle struct {
	frames uint64
}

func (*scriptedHandle) Stop() error { return nil }

func (*scriptedHandle) Device() audio.Device { return audio.Device{ID: "test.mic"} }

func (h *scriptedHandle) FramesCaptured() uint64 { return h.frames }

// relayServer answers start_transcription with one final transcript.
type relayServer struct {
	url string

	mu    sync.Mutex
	types []string
}

func newRelayServer(t *testing.T, final string) *relayServer {
	t.Helper()

	rs := &relayServer{}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			rs.mu.Lock()
			rs.types = append(rs.types, msg.Type)
			rs.mu.Unlock()

			if msg.Type == "start_transcription" {
				reply, _ := json.Marshal(map[string]any{"type": "transcript_update", "transcript": final, "is_final": true})
				_ = conn.WriteMessage(websocket.TextMessage, reply)
			}
		}
	}))
	t.Cleanup(srv.Close)

	rs.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return rs
}

func (rs *relayServer) messageTypes() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.types...)
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func (p runnerPaths) socketPath() string {
	return filepath.Join(p.runtimeDir, "livescribe.sock")
}

// setupRunnerEnv isolates XDG dirs and credentials and writes a config that
// silences desktop side effects.
func setupRunnerEnv(t *testing.T, content string) runnerPaths {
	t.Helper()

	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	for _, key := range []string{"DEEPGRAM_API_KEY", "LIVESCRIBE_RELAY_TOKEN", "LIVESCRIBE_BACKEND", "LIVESCRIBE_METRICS_LISTEN"} {
		t.Setenv(key, "")
	}

	if content == "" {
		content = `{
			"indicator": {"enable": false, "sound_enable": false},
			"output": {"clipboard": false},
		}`
	}
	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	writeConfig(t, configPath, content)
	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func writeConfig(t *testing.T, path string, content string) {
	t.Helper()
	if !strings.Contains(content, `"indicator"`) {
		content = strings.Replace(content, "{", `{"indicator": {"enable": false, "sound_enable": false},`, 1)
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestRunnerExitCodeMapping(t *testing.T) {
	var stderr bytes.Buffer
	r := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	require.Equal(t, 0, r.exitCode(nil))
	require.Empty(t, stderr.String())

	require.Equal(t, 1, r.exitCode(exitWith(1, nil)))
	require.Empty(t, stderr.String())

	require.Equal(t, 2, r.exitCode(fmt.Errorf("wrapped: %w", exitWith(2, errors.New("bad name")))))
	require.Equal(t, "error: wrapped: bad name\n", stderr.String())

	stderr.Reset()
	require.Equal(t, 1, r.exitCode(errNoSession))
	require.Equal(t, "error: no active livescribe session\n", stderr.String())
}

func TestHandlersCoverEveryRunnableCommand(t *testing.T) {
	for _, cmd := range []cli.Command{
		cli.CommandToggle, cli.CommandStop, cli.CommandCancel, cli.CommandStatus,
		cli.CommandDevices, cli.CommandDoctor, cli.CommandReports, cli.CommandReport,
	} {
		require.Contains(t, handlers, cmd, "no handler for %s", cmd)
	}
	require.NotContains(t, handlers, cli.CommandVersion)
}
