package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/config"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Setup()
	os.Exit(m.Run())
}

func load(t *testing.T, configFile string) (*config.Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, config.InitViper(configFile))
	return config.LoadConfigFromViper()
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, 53210, cfg.Port)
	assert.Nil(t, cfg.Interfaces)
	assert.True(t, cfg.NotificationsEnabled)
	assert.Equal(t, config.BinaryAsk, cfg.BinaryPolicy)
	assert.Equal(t, "spoofdpi", cfg.Anchor)
	assert.Equal(t, "/tmp/spoofdpi-pf.conf", cfg.RuleFile)
	assert.Equal(t, 15*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 10*time.Minute, cfg.InstallTimeout)
	assert.Equal(t, "/Library/LaunchDaemons/com.spoofdpi.daemon.plist", cfg.Daemon.PlistPath())
	assert.Equal(t, "/Library/Logs/SpoofDPI/spoofdpi.out.log", cfg.Daemon.StdoutLog())
	assert.Equal(t, "/Library/Logs/SpoofDPI/spoofdpi.err.log", cfg.Daemon.StderrLog())
	assert.Equal(t, config.OutputText, cfg.Output)
	assert.False(t, cfg.AllowBootstrap)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SPOOFDPI_PORT", "8080")
	t.Setenv("SPOOFDPI_INTERFACES", "en0, utun3,,en0 ")
	t.Setenv("SPOOFDPI_NOTIFICATIONS", "false")
	t.Setenv("SPOOFDPI_REMOVE_BINARY", "true")
	t.Setenv("SPOOFDPI_COMMAND_TIMEOUT", "3s")

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	// Deduplication happens in the inventory, the loader keeps order only.
	assert.Equal(t, []string{"en0", "utun3", "en0"}, cfg.Interfaces)
	assert.False(t, cfg.NotificationsEnabled)
	assert.Equal(t, config.BinaryRemove, cfg.BinaryPolicy)
	assert.Equal(t, 3*time.Second, cfg.CommandTimeout)
}

func TestInvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port string
	}{
		{"zero", "0"},
		{"negative", "-5"},
		{"too high", "70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SPOOFDPI_PORT", tt.port)
			_, err := load(t, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalidPort)
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spoofdpi.yaml")
	content := `port: 9000
interfaces: [en1, bridge0]
anchor: custom
output: json
keep_binary: true
remove_binary: true
startup_checks: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"en1", "bridge0"}, cfg.Interfaces)
	assert.Equal(t, "custom", cfg.Anchor)
	assert.Equal(t, config.OutputJSON, cfg.Output)
	assert.Equal(t, config.BinaryKeep, cfg.BinaryPolicy, "keep wins over remove")
	assert.Equal(t, config.DefaultStartupChecks, cfg.Daemon.StartupChecks)
}

func TestMissingConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	err := config.InitViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidationFallsBack(t *testing.T) {
	t.Setenv("SPOOFDPI_OUTPUT", "xml")
	t.Setenv("SPOOFDPI_ANCHOR", "bad anchor")
	t.Setenv("SPOOFDPI_COMMAND_TIMEOUT", "-1s")

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, config.OutputText, cfg.Output)
	assert.Equal(t, config.DefaultAnchor, cfg.Anchor)
	assert.Equal(t, config.DefaultCommandTimeout, cfg.CommandTimeout)
}

func TestResolvePolicy(t *testing.T) {
	assert.Equal(t, config.BinaryAsk, config.ResolvePolicy(false, false))
	assert.Equal(t, config.BinaryKeep, config.ResolvePolicy(true, false))
	assert.Equal(t, config.BinaryRemove, config.ResolvePolicy(false, true))
	assert.Equal(t, config.BinaryKeep, config.ResolvePolicy(true, true))
	assert.Equal(t, "ask", config.BinaryAsk.String())
}
