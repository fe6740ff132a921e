package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPort           = 53210
	DefaultAnchor         = "spoofdpi"
	DefaultRuleFile       = "/tmp/spoofdpi-pf.conf"
	DefaultLogDir         = "/Library/Logs/SpoofDPI"
	DefaultLabel          = "com.spoofdpi.daemon"
	DefaultPlistDir       = "/Library/LaunchDaemons"
	DefaultBinaryName     = "spoofdpi"
	DefaultCommandTimeout = 15 * time.Second
	DefaultInstallTimeout = 10 * time.Minute
	DefaultStartupChecks  = 5
	DefaultStartupDelay   = time.Second
)

// Output formats accepted by the report printer.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// BinaryPolicy decides what uninstall does with the proxy binary.
type BinaryPolicy int

const (
	BinaryAsk BinaryPolicy = iota
	BinaryKeep
	BinaryRemove
)

func (p BinaryPolicy) String() string {
	switch p {
	case BinaryKeep:
		return "keep"
	case BinaryRemove:
		return "remove"
	default:
		return "ask"
	}
}

// DaemonConfig describes how the proxy process is supervised by launchd.
type DaemonConfig struct {
	Label      string
	PlistDir   string
	LogDir     string
	BinaryName string
	// StartupChecks is how many times IsRunning is polled after a start.
	StartupChecks int
	StartupDelay  time.Duration
}

// Config is the resolved configuration of one run.
type Config struct {
	Port int
	// Interfaces is nil for auto-detection.
	Interfaces           []string
	NotificationsEnabled bool
	BinaryPolicy         BinaryPolicy
	AllowBootstrap       bool

	Anchor   string
	RuleFile string
	Daemon   DaemonConfig

	CommandTimeout time.Duration
	InstallTimeout time.Duration

	ProbeTarget string
	MetricsFile string
	Output      string
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:                 DefaultPort,
		NotificationsEnabled: true,
		BinaryPolicy:         BinaryAsk,
		Anchor:               DefaultAnchor,
		RuleFile:             DefaultRuleFile,
		Daemon: DaemonConfig{
			Label:         DefaultLabel,
			PlistDir:      DefaultPlistDir,
			LogDir:        DefaultLogDir,
			BinaryName:    DefaultBinaryName,
			StartupChecks: DefaultStartupChecks,
			StartupDelay:  DefaultStartupDelay,
		},
		CommandTimeout: DefaultCommandTimeout,
		InstallTimeout: DefaultInstallTimeout,
		Output:         OutputText,
	}
}

// PlistPath is where the launchd job definition lives.
func (d DaemonConfig) PlistPath() string {
	return strings.TrimSuffix(d.PlistDir, "/") + "/" + d.Label + ".plist"
}

func (d DaemonConfig) StdoutLog() string {
	return strings.TrimSuffix(d.LogDir, "/") + "/spoofdpi.out.log"
}

func (d DaemonConfig) StderrLog() string {
	return strings.TrimSuffix(d.LogDir, "/") + "/spoofdpi.err.log"
}

// ResolvePolicy maps the keep/remove switches to a policy. Keep wins when
// both are set.
func ResolvePolicy(keep, remove bool) BinaryPolicy {
	switch {
	case keep:
		return BinaryKeep
	case remove:
		return BinaryRemove
	default:
		return BinaryAsk
	}
}

// parseList turns a comma or whitespace separated value into a list of
// trimmed, non-empty entries. A nil result means the value was unset.
func parseList(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = []string{fmt.Sprint(v)}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
