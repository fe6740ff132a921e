// Package service supervises the proxy process as a launchd system daemon.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/config"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

const domain = "system"

var plistTmpl = template.Must(template.New("daemon").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Binary}}</string>
		<string>-addr</string>
		<string>{{.Addr}}</string>
		<string>-port</string>
		<string>{{.Port}}</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{.Stdout}}</string>
	<key>StandardErrorPath</key>
	<string>{{.Stderr}}</string>
</dict>
</plist>
`))

type plistData struct {
	Label  string
	Binary string
	Addr   string
	Port   string
	Stdout string
	Stderr string
}

// Launchd registers, starts and stops one launchd job.
type Launchd struct {
	runner tools.Runner
	fs     afero.Fs
	cfg    config.DaemonConfig
}

func NewLaunchd(runner tools.Runner, fs afero.Fs, cfg config.DaemonConfig) *Launchd {
	return &Launchd{runner: runner, fs: fs, cfg: cfg}
}

func (l *Launchd) target() string {
	return domain + "/" + l.cfg.Label
}

// RenderPlist returns the job definition for binary listening on port.
func RenderPlist(cfg config.DaemonConfig, binary string, port int) ([]byte, error) {
	var buf bytes.Buffer
	err := plistTmpl.Execute(&buf, plistData{
		Label:  cfg.Label,
		Binary: binary,
		Addr:   tools.LoopbackIP,
		Port:   strconv.Itoa(port),
		Stdout: cfg.StdoutLog(),
		Stderr: cfg.StderrLog(),
	})
	if err != nil {
		return nil, fmt.Errorf("render plist: %w", err)
	}
	return buf.Bytes(), nil
}

// Start registers the job for binary and starts it. A job that is already
// running with the same definition is left alone.
func (l *Launchd) Start(ctx context.Context, binary string, port int) error {
	plist, err := RenderPlist(l.cfg, binary, port)
	if err != nil {
		return err
	}

	if err := l.fs.MkdirAll(l.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	current, readErr := afero.ReadFile(l.fs, l.cfg.PlistPath())
	changed := readErr != nil || !bytes.Equal(current, plist)
	if changed {
		if err := l.fs.MkdirAll(l.cfg.PlistDir, 0o755); err != nil {
			return fmt.Errorf("create plist directory: %w", err)
		}
		if err := afero.WriteFile(l.fs, l.cfg.PlistPath(), plist, 0o644); err != nil {
			return fmt.Errorf("write plist: %w", err)
		}
	}

	loaded, running, err := l.query(ctx)
	if err != nil {
		return err
	}

	switch {
	case loaded && changed:
		// The definition moved; reload so launchd picks it up.
		if _, err := l.bootout(ctx); err != nil {
			return err
		}
		return l.bootstrap(ctx)
	case loaded && running:
		logger.Log.WithField("label", l.cfg.Label).Debug("Daemon already running")
		return nil
	case loaded:
		if _, err := l.runner.Run(ctx, "launchctl", "kickstart", l.target()); err != nil {
			return fmt.Errorf("launchctl kickstart: %w", err)
		}
		return nil
	default:
		return l.bootstrap(ctx)
	}
}

func (l *Launchd) bootstrap(ctx context.Context) error {
	out, err := l.runner.Run(ctx, "launchctl", "bootstrap", domain, l.cfg.PlistPath())
	if err != nil && !strings.Contains(out, "already bootstrapped") {
		return fmt.Errorf("launchctl bootstrap: %w", err)
	}
	logger.Log.WithFields(logrus.Fields{
		"label": l.cfg.Label,
		"plist": l.cfg.PlistPath(),
	}).Info("🚀 Daemon registered with launchd")
	return nil
}

func (l *Launchd) bootout(ctx context.Context) (bool, error) {
	out, err := l.runner.Run(ctx, "launchctl", "bootout", l.target())
	if err != nil {
		if notLoaded(out) {
			return false, nil
		}
		return false, fmt.Errorf("launchctl bootout: %w", err)
	}
	return true, nil
}

// Stop unloads the job so launchd does not restart it. Stopping a job that
// is not loaded gives stopped=false.
func (l *Launchd) Stop(ctx context.Context) (bool, error) {
	stopped, err := l.bootout(ctx)
	if err != nil {
		return false, err
	}
	if stopped {
		logger.Log.WithField("label", l.cfg.Label).Info("🛑 Daemon stopped")
	}
	return stopped, nil
}

// WaitRunning polls IsRunning up to checks times, delay apart.
func (l *Launchd) WaitRunning(ctx context.Context, checks int, delay time.Duration) (bool, error) {
	var lastErr error
	for i := 0; i < checks; i++ {
		running, err := l.IsRunning(ctx)
		if err == nil && running {
			return true, nil
		}
		lastErr = err
		if i == checks-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
	return false, lastErr
}

// IsRunning reports whether the job has a live process.
func (l *Launchd) IsRunning(ctx context.Context) (bool, error) {
	_, running, err := l.query(ctx)
	return running, err
}

// IsLoaded reports whether launchd knows the job.
func (l *Launchd) IsLoaded(ctx context.Context) (bool, error) {
	loaded, _, err := l.query(ctx)
	return loaded, err
}

// IsRegistered reports whether the job definition is installed.
func (l *Launchd) IsRegistered() (bool, error) {
	return afero.Exists(l.fs, l.cfg.PlistPath())
}

// Unregister removes the job definition.
func (l *Launchd) Unregister(_ context.Context) (bool, error) {
	return removeIfExists(l.fs, l.cfg.PlistPath())
}

// RemoveLogs deletes the daemon log directory.
func (l *Launchd) RemoveLogs() (bool, error) {
	exists, err := afero.DirExists(l.fs, l.cfg.LogDir)
	if err != nil || !exists {
		return false, err
	}
	if err := l.fs.RemoveAll(l.cfg.LogDir); err != nil {
		return false, fmt.Errorf("remove log directory: %w", err)
	}
	return true, nil
}

// query reads `launchctl print system/<label>`. An unknown job is not an
// error.
func (l *Launchd) query(ctx context.Context) (loaded, running bool, err error) {
	out, err := l.runner.Run(ctx, "launchctl", "print", l.target())
	if err != nil {
		if notLoaded(out) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("launchctl print: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "state = running" {
			return true, true, nil
		}
	}
	return true, false, nil
}

func notLoaded(out string) bool {
	return strings.Contains(out, "Could not find") ||
		strings.Contains(out, "No such process") ||
		strings.Contains(out, "not find service")
}

func removeIfExists(fs afero.Fs, path string) (bool, error) {
	if err := fs.Remove(filepath.Clean(path)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}
