package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/app"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/config"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
)

const examples = `  # First time setup, then route traffic through the proxy
  sudo spoofdpi-daemon --install --enable-proxy

  # Redirect only selected interfaces with pf
  sudo spoofdpi-daemon --enable-redirect --interfaces en0,utun3

  # Inspect everything
  spoofdpi-daemon --status --output json

  # Remove everything but keep the binary
  sudo SPOOFDPI_KEEP_BINARY=1 spoofdpi-daemon --uninstall

  # Enable debug logging
  LOG_LEVEL=debug spoofdpi-daemon --status`

var (
	configFile string
	exitCode   int
	requested  = map[string]*bool{}
)

var rootCmd = &cobra.Command{
	Use:           "spoofdpi-daemon",
	Short:         "Manage the SpoofDPI daemon, system proxy and pf redirect on macOS",
	Example:       examples,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()

	for _, a := range app.Actions {
		requested[a.Name] = flags.Bool(a.Name, false, a.Usage)
	}

	flags.StringVar(&configFile, "config", "", "config file (default searches /etc/spoofdpi, ~/.spoofdpi and .)")
	flags.Int("port", config.DefaultPort, "local proxy port")
	flags.String("interfaces", "", "comma-separated interfaces to redirect (default auto-detect)")
	flags.String("output", config.OutputText, "report format: text, json or yaml")
	flags.Bool("keep-binary", false, "keep the proxy binary on uninstall")
	flags.Bool("remove-binary", false, "remove the proxy binary on uninstall without asking")

	// Bind supported flags to configuration keys.
	for key, flag := range map[string]string{
		"port":          "port",
		"interfaces":    "interfaces",
		"output":        "output",
		"keep_binary":   "keep-binary",
		"remove_binary": "remove-binary",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			logger.LogError("Failed to bind flag "+flag, err)
		}
	}
}

func run(cmd *cobra.Command, _ []string) error {
	selected := map[string]bool{}
	for name, set := range requested {
		selected[name] = *set
	}
	actions := app.Select(selected)
	if len(actions) == 0 {
		return cmd.Help()
	}

	if err := config.InitViper(configFile); err != nil {
		logger.LogError("Failed to initialize configuration", err)
		exitCode = report.ExitValidation
		return nil
	}
	cfg, err := config.LoadConfigFromViper()
	if err != nil {
		logger.LogError("Invalid configuration", err)
		exitCode = report.ExitValidation
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := app.Build(cfg, app.DefaultOptions())
	exitCode = container.Run(ctx, actions)

	if err := container.Shutdown(); err != nil {
		logger.LogError("Failed to shutdown cleanly", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Log.Warn("🛑 Interrupted")
	}
	return nil
}

func main() {
	logger.Setup()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.LogError("Invalid invocation", err)
		os.Exit(report.ExitValidation)
	}
	os.Exit(exitCode)
}
