package app_test

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/app"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/config"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/netif"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/pfctl"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/pkgmgr"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/service"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/state"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/sysproxy"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools/toolstest"
)

func TestMain(m *testing.M) {
	logger.Setup()
	os.Exit(m.Run())
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name  string
		codes []int
		want  int
	}{
		{"nothing", nil, report.ExitOK},
		{"all ok", []int{0, 0}, report.ExitOK},
		{"failure", []int{0, 1, 0}, report.ExitFailure},
		{"validation beats failure", []int{1, 2}, report.ExitValidation},
		{"precondition is worst", []int{3, 2, 1}, report.ExitPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, app.Reduce(tt.codes...))
		})
	}
}

func TestSelectKeepsCanonicalOrder(t *testing.T) {
	got := app.Select(map[string]bool{
		state.ActionUninstall:      true,
		state.ActionStatus:         true,
		state.ActionInstall:        true,
		state.ActionEnableRedirect: false,
	})

	names := make([]string, len(got))
	for i, a := range got {
		names[i] = a.Name
	}
	assert.Equal(t, []string{state.ActionInstall, state.ActionStatus, state.ActionUninstall}, names)
}

func TestActionsCoverEveryOperation(t *testing.T) {
	require.Len(t, app.Actions, 8)
	seen := map[string]bool{}
	for _, a := range app.Actions {
		assert.NotEmpty(t, a.Usage, a.Name)
		assert.NotNil(t, a.Run, a.Name)
		seen[a.Name] = true
	}
	assert.Len(t, seen, 8)
}

func TestPrompter(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    bool
		prompts int
	}{
		{"yes", "y\n", true, 1},
		{"yes uppercase", "YES\n", true, 1},
		{"yes padded", "  yes  \n", true, 1},
		{"yes without newline", "y", true, 1},
		{"no", "n\n", false, 1},
		{"empty line", "\n", false, 1},
		{"eof", "", false, 1},
		{"asks again", "maybe\ny\n", true, 2},
		{"gives up", "a\nb\nc\ny\n", false, 3},
		{"garbage then eof", "maybe", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := app.NewPrompter(strings.NewReader(tt.input), &out)

			got, err := p.Confirm("Remove the proxy binary?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.prompts, strings.Count(out.String(), "Remove the proxy binary? [y/N]: "))
		})
	}
}

func TestPrompterKeepsBufferedAnswers(t *testing.T) {
	var out bytes.Buffer
	p := app.NewPrompter(strings.NewReader("y\nn\n"), &out)

	first, err := p.Confirm("first?")
	require.NoError(t, err)
	second, err := p.Confirm("second?")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func newContainer(t *testing.T, fake *toolstest.FakeRunner, out *bytes.Buffer) *app.Container {
	t.Helper()

	cfg := config.Default()
	cfg.Interfaces = []string{"doesnotexist0"}
	fs := afero.NewMemMapFs()
	printer := report.NewPrinter(out, report.FormatText)

	m := state.NewManager(state.Deps{
		Config:     cfg,
		Inventory:  netif.NewInventory(&netif.IfconfigSource{Runner: fake}),
		Filter:     pfctl.NewManager(fake, fs, cfg.RuleFile),
		Proxy:      sysproxy.NewController(fake),
		Supervisor: service.NewLaunchd(fake, fs, cfg.Daemon),
		Acquirer:   &pkgmgr.Homebrew{Runner: fake, Fs: fs, Formula: cfg.Daemon.BinaryName},
		Printer:    printer,
	})
	require.NoError(t, afero.WriteFile(fs, "/opt/homebrew/bin/spoofdpi", []byte("x"), 0o755))

	return &app.Container{Cfg: cfg, Runner: fake, Fs: fs, Printer: printer, Manager: m}
}

func TestRunContinuesPastFailedAction(t *testing.T) {
	fake := toolstest.NewFakeRunner().
		Fail("ifconfig doesnotexist0", "ifconfig: interface doesnotexist0 does not exist")
	var out bytes.Buffer
	c := newContainer(t, fake, &out)

	code := c.Run(context.Background(), app.Select(map[string]bool{
		state.ActionEnableRedirect: true,
		state.ActionRedirectStatus: true,
	}))

	assert.Equal(t, report.ExitValidation, code)
	assert.Contains(t, out.String(), "✗ enable-redirect failed")
	assert.Contains(t, out.String(), "✓ redirect-status succeeded")
	assert.Contains(t, out.String(), "==> enable-redirect: selecting interfaces")
}

func TestRunStopsWhenCancelled(t *testing.T) {
	fake := toolstest.NewFakeRunner()
	var out bytes.Buffer
	c := newContainer(t, fake, &out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := c.Run(ctx, app.Select(map[string]bool{state.ActionStatus: true}))

	assert.Equal(t, report.ExitFailure, code)
	assert.Empty(t, fake.Lines())
}

func TestShutdownWithoutMetricsFile(t *testing.T) {
	var out bytes.Buffer
	c := newContainer(t, toolstest.NewFakeRunner(), &out)

	assert.NoError(t, c.Shutdown())
}

func TestBuildWiresManager(t *testing.T) {
	cfg := config.Default()
	cfg.NotificationsEnabled = false

	c := app.Build(cfg, app.Options{Stdin: strings.NewReader(""), Stdout: &bytes.Buffer{}})

	require.NotNil(t, c.Manager)
	assert.Same(t, cfg, c.Manager.Config)
	assert.NotNil(t, c.Manager.Prompter)
}

func TestBuildPromptsOnStderr(t *testing.T) {
	cfg := config.Default()
	cfg.Output = config.OutputJSON
	cfg.NotificationsEnabled = false
	var stdout, stderr bytes.Buffer

	c := app.Build(cfg, app.Options{Stdin: strings.NewReader("y\n"), Stdout: &stdout, Stderr: &stderr})
	ok, err := c.Manager.Prompter.Confirm("Remove the proxy binary?")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Remove the proxy binary? [y/N]: ")
}
