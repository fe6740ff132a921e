package app

import (
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/config"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/health"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/metrics"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/netif"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/notify"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/pfctl"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/pkgmgr"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/service"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/state"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/sysproxy"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

// Container wires the host controllers into a state manager. It is the only
// place that knows about the real command runner and filesystem.
type Container struct {
	Cfg     *config.Config
	Runner  tools.Runner
	Fs      afero.Fs
	Printer *report.Printer
	Manager *state.Manager
}

// Options are the process-level inputs Build cannot read from config.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	// Stderr receives interactive prompts so stdout stays one document per
	// action.
	Stderr io.Writer
	// User runs Homebrew commands, which refuse to run as root.
	User string
}

// DefaultOptions uses the process streams and the invoking sudo user.
func DefaultOptions() Options {
	return Options{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr, User: os.Getenv("SUDO_USER")}
}

// Build creates every component with explicit dependency ordering.
func Build(cfg *config.Config, opts Options) *Container {
	runner := tools.NewExecRunner(cfg.CommandTimeout)
	c := &Container{
		Cfg:     cfg,
		Runner:  runner,
		Fs:      afero.NewOsFs(),
		Printer: report.NewPrinter(opts.Stdout, cfg.Output),
	}

	prompts := opts.Stderr
	if prompts == nil {
		prompts = os.Stderr
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NotificationsEnabled {
		notifier = notify.NewOSAScript()
	}

	c.Manager = state.NewManager(state.Deps{
		Config:     cfg,
		Inventory:  netif.NewInventory(&netif.IfconfigSource{Runner: c.Runner}),
		Filter:     pfctl.NewManager(c.Runner, c.Fs, cfg.RuleFile),
		Proxy:      sysproxy.NewController(c.Runner),
		Supervisor: service.NewLaunchd(c.Runner, c.Fs, cfg.Daemon),
		Acquirer: &pkgmgr.Homebrew{
			Runner:         runner.WithTimeout(cfg.InstallTimeout),
			Fs:             c.Fs,
			Formula:        cfg.Daemon.BinaryName,
			User:           opts.User,
			AllowBootstrap: cfg.AllowBootstrap,
		},
		Probe:       health.NewProbe(health.DefaultTimeout, cfg.ProbeTarget),
		Notifier:    notifier,
		Printer:     c.Printer,
		Prompter:    NewPrompter(opts.Stdin, prompts),
		RequireRoot: tools.RequireRoot,
	})

	logger.Log.WithField("port", cfg.Port).Debug("Application container built")
	return c
}

// Shutdown flushes the metrics textfile, if configured.
func (c *Container) Shutdown() error {
	if err := metrics.WriteTextfile(c.Cfg.MetricsFile); err != nil {
		logger.LogError("Failed to write metrics file", err)
		return err
	}
	return nil
}
