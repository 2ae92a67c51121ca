// Package browser attaches to the Chrome instance the operator logs in
// with, starting one with remote debugging enabled when none is listening.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"
)

// Mode reports how Launch obtained a browser.
type Mode string

const (
	// ModeAttached means a browser was already serving CDP on the port.
	ModeAttached Mode = "attached"
	// ModeSpawned means this process started the browser.
	ModeSpawned Mode = "spawned"
)

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	// StartURL is opened in the first window, normally the broker login.
	StartURL string
	// ProfileDir keeps cookies and "remember this device" state between runs.
	ProfileDir string
	// Binary overrides browser detection.
	Binary       string
	WindowSize   string
	ReadyTimeout time.Duration
}

// Launcher manages the lifecycle of a browser process.
type Launcher struct {
	cfg    Config
	client *http.Client
	cmd    *exec.Cmd
	logf   *os.File
	mode   Mode
}

// NewLauncher creates a new browser launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1440,1000"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg, client: &http.Client{Timeout: time.Second}}
}

// versionInfo is the subset of /json/version used to recognise a browser.
type versionInfo struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (l *Launcher) versionURL() string {
	return fmt.Sprintf("http://%s:%d/json/version", l.cfg.CDPAddress, l.cfg.CDPPort)
}

// ping asks the CDP port for its version. An error means nothing usable is
// listening.
func (l *Launcher) ping(ctx context.Context) (versionInfo, error) {
	var v versionInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.versionURL(), nil)
	if err != nil {
		return v, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return v, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return v, fmt.Errorf("%s: status %d", l.versionURL(), resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("%s: %w", l.versionURL(), err)
	}
	if v.WebSocketDebuggerURL == "" {
		return v, fmt.Errorf("%s: no webSocketDebuggerUrl", l.versionURL())
	}
	return v, nil
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser(override string) (string, error) {
	if override != "" {
		if path, err := exec.LookPath(override); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("browser binary %q not found", override)
	}
	candidates := []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (set BROWSER_BINARY)")
}

// args builds the command line for a spawned browser. The window is a normal
// headed window so the operator can take over for logins.
func (l *Launcher) args() []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", l.cfg.CDPPort),
		fmt.Sprintf("--remote-debugging-address=%s", l.cfg.CDPAddress),
		fmt.Sprintf("--user-data-dir=%s", l.cfg.ProfileDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
		fmt.Sprintf("--window-size=%s", l.cfg.WindowSize),
	}
	if l.cfg.StartURL != "" {
		args = append(args, l.cfg.StartURL)
	}
	return args
}

// Launch attaches to a browser already serving CDP, or starts one and waits
// for its endpoint.
func (l *Launcher) Launch(ctx context.Context) (Mode, error) {
	if v, err := l.ping(ctx); err == nil {
		slog.Info("browser attached", "browser", v.Browser,
			"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
		l.mode = ModeAttached
		return l.mode, nil
	}

	browserPath, err := detectBrowser(l.cfg.Binary)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o700); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	// Browser output stays out of stdout, which carries command results.
	logPath := filepath.Join(l.cfg.ProfileDir, "chrome.log")
	logf, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return "", fmt.Errorf("open browser log: %w", err)
	}

	l.cmd = exec.Command(browserPath, l.args()...)
	l.cmd.Stdout = logf
	l.cmd.Stderr = logf
	if err := l.cmd.Start(); err != nil {
		logf.Close()
		return "", fmt.Errorf("start browser: %w", err)
	}
	l.logf = logf
	l.mode = ModeSpawned
	slog.Info("browser process started", "path", browserPath, "pid", l.cmd.Process.Pid, "log", logPath)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return "", fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
	return l.mode, nil
}

// waitForCDP polls /json/version until the spawned browser answers.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	deadline := time.NewTimer(l.cfg.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("CDP did not become ready within %s at %s", l.cfg.ReadyTimeout, l.versionURL())
		case <-ticker.C:
			if _, err := l.ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// Mode reports how the last Launch obtained the browser; empty before it.
func (l *Launcher) Mode() Mode {
	return l.mode
}

// Stop terminates a browser this launcher spawned with SIGTERM, falling
// back to SIGKILL. An attached browser is never touched.
func (l *Launcher) Stop() {
	if l.mode != ModeSpawned || l.cmd == nil || l.cmd.Process == nil {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("browser stopped gracefully")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = l.cmd.Process.Kill()
		<-done
	}
	if l.logf != nil {
		l.logf.Close()
		l.logf = nil
	}
	l.mode = ""
}
