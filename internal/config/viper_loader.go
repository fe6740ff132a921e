package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

// ErrInvalidPort is returned when the configured proxy port is out of range.
var ErrInvalidPort = tools.ErrInvalidPort

// InitViper initializes the viper configuration.
func InitViper(configFile string) error {
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("SPOOFDPI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.AddConfigPath("/etc/spoofdpi/")
	viper.AddConfigPath("$HOME/.spoofdpi/")
	viper.AddConfigPath(".")

	setDefaults()

	if configFile != "" {
		return readConfigFromFile(configFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		logger.LogDebug("No config file found in default locations", nil)
	}
	return nil
}

// readConfigFromFile reads configuration from a specific file path.
func readConfigFromFile(configFile string) error {
	if !filepath.IsAbs(configFile) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current working directory: %w", err)
		}
		configFile = filepath.Join(cwd, configFile)
	}

	viper.SetConfigFile(configFile)

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// setDefaults sets the default values for configuration.
func setDefaults() {
	viper.SetDefault("port", DefaultPort)
	viper.SetDefault("notifications", true)
	viper.SetDefault("keep_binary", false)
	viper.SetDefault("remove_binary", false)
	viper.SetDefault("allow_bootstrap", false)

	// pf
	viper.SetDefault("anchor", DefaultAnchor)
	viper.SetDefault("rule_file", DefaultRuleFile)

	// launchd
	viper.SetDefault("label", DefaultLabel)
	viper.SetDefault("plist_dir", DefaultPlistDir)
	viper.SetDefault("log_dir", DefaultLogDir)
	viper.SetDefault("binary_name", DefaultBinaryName)
	viper.SetDefault("startup_checks", DefaultStartupChecks)
	viper.SetDefault("startup_delay", DefaultStartupDelay.String())

	// Timeouts
	viper.SetDefault("command_timeout", DefaultCommandTimeout.String())
	viper.SetDefault("install_timeout", DefaultInstallTimeout.String())

	viper.SetDefault("probe_target", "")
	viper.SetDefault("metrics_file", "")
	viper.SetDefault("output", OutputText)
}

// LoadConfigFromViper creates a config object from viper. Only an out of
// range port is fatal; other bad values fall back to their defaults.
func LoadConfigFromViper() (*Config, error) {
	cfg := Default()

	cfg.Port = viper.GetInt("port")
	if err := tools.ValidatePort(cfg.Port); err != nil {
		return nil, err
	}

	cfg.Interfaces = parseList(viper.Get("interfaces"))
	cfg.NotificationsEnabled = viper.GetBool("notifications")
	cfg.BinaryPolicy = ResolvePolicy(viper.GetBool("keep_binary"), viper.GetBool("remove_binary"))
	cfg.AllowBootstrap = viper.GetBool("allow_bootstrap")

	cfg.Anchor = viper.GetString("anchor")
	cfg.RuleFile = viper.GetString("rule_file")

	cfg.Daemon = DaemonConfig{
		Label:         viper.GetString("label"),
		PlistDir:      viper.GetString("plist_dir"),
		LogDir:        viper.GetString("log_dir"),
		BinaryName:    viper.GetString("binary_name"),
		StartupChecks: viper.GetInt("startup_checks"),
	}

	// Parse durations
	if d, err := time.ParseDuration(viper.GetString("startup_delay")); err == nil {
		cfg.Daemon.StartupDelay = d
	}
	if d, err := time.ParseDuration(viper.GetString("command_timeout")); err == nil {
		cfg.CommandTimeout = d
	}
	if d, err := time.ParseDuration(viper.GetString("install_timeout")); err == nil {
		cfg.InstallTimeout = d
	}

	cfg.ProbeTarget = viper.GetString("probe_target")
	cfg.MetricsFile = viper.GetString("metrics_file")
	cfg.Output = strings.ToLower(viper.GetString("output"))

	validateConfig(cfg)

	return cfg, nil
}

// validateConfig replaces unusable values with defaults, logging each fix.
func validateConfig(cfg *Config) {
	def := Default()

	if cfg.Anchor == "" || strings.ContainsAny(cfg.Anchor, " \t\"") {
		logger.Log.Warnf("Invalid anchor %q, using default %q", cfg.Anchor, def.Anchor)
		cfg.Anchor = def.Anchor
	}
	if cfg.RuleFile == "" {
		cfg.RuleFile = def.RuleFile
	}
	if cfg.Daemon.Label == "" {
		cfg.Daemon.Label = def.Daemon.Label
	}
	if cfg.Daemon.PlistDir == "" {
		cfg.Daemon.PlistDir = def.Daemon.PlistDir
	}
	if cfg.Daemon.LogDir == "" {
		cfg.Daemon.LogDir = def.Daemon.LogDir
	}
	if cfg.Daemon.BinaryName == "" {
		cfg.Daemon.BinaryName = def.Daemon.BinaryName
	}
	if cfg.Daemon.StartupChecks < 1 {
		logger.Log.Warnf("startup_checks must be at least 1, using %d", def.Daemon.StartupChecks)
		cfg.Daemon.StartupChecks = def.Daemon.StartupChecks
	}
	if cfg.Daemon.StartupDelay < 0 {
		cfg.Daemon.StartupDelay = def.Daemon.StartupDelay
	}
	if cfg.CommandTimeout <= 0 {
		logger.Log.Warnf("command_timeout must be positive, using %s", def.CommandTimeout)
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.InstallTimeout < cfg.CommandTimeout {
		cfg.InstallTimeout = max(def.InstallTimeout, cfg.CommandTimeout)
	}

	switch cfg.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		logger.Log.Warnf("Unknown output format %q, using %q", cfg.Output, OutputText)
		cfg.Output = OutputText
	}
}
