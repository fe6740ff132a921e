// Package notify shows desktop notifications at action boundaries.
package notify

import (
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
)

type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notifier delivers a notification without blocking the caller.
type Notifier interface {
	Notify(title, message string, severity Severity)
}

// Noop drops every notification.
type Noop struct{}

func (Noop) Notify(string, string, Severity) {}

// Launcher starts a command and returns without waiting for it.
type Launcher func(name string, args ...string) error

// StartDetached starts the command and reaps it in the background.
func StartDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// OSAScript shows notifications through osascript.
type OSAScript struct {
	Launch Launcher
}

func NewOSAScript() *OSAScript {
	return &OSAScript{Launch: StartDetached}
}

// Script builds the AppleScript for one notification.
func Script(title, message string, severity Severity) string {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	switch severity {
	case Error:
		script += ` subtitle "Error" sound name "Basso"`
	case Warning:
		script += ` subtitle "Warning"`
	}
	return script
}

// Notify never returns an error; a failed launch is only logged.
func (o *OSAScript) Notify(title, message string, severity Severity) {
	if err := o.Launch("osascript", "-e", Script(title, message, severity)); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"title":    title,
			"severity": severity.String(),
			"error":    err.Error(),
		}).Debug("Notification not delivered")
	}
}
