package service_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/config"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/service"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools/toolstest"
)

const (
	binary     = "/opt/homebrew/bin/spoofdpi"
	printLine  = "launchctl print system/com.spoofdpi.daemon"
	notFound   = "Could not find service \"com.spoofdpi.daemon\" in domain for system"
	runningOut = "system/com.spoofdpi.daemon = {\n\tactive count = 1\n\tstate = running\n\tpid = 4242\n}"
	waitingOut = "system/com.spoofdpi.daemon = {\n\tactive count = 0\n\tstate = waiting\n}"
)

func TestMain(m *testing.M) {
	logger.Setup()
	os.Exit(m.Run())
}

func newLaunchd(fake *toolstest.FakeRunner) (*service.Launchd, afero.Fs, config.DaemonConfig) {
	fs := afero.NewMemMapFs()
	cfg := config.Default().Daemon
	return service.NewLaunchd(fake, fs, cfg), fs, cfg
}

func TestRenderPlist(t *testing.T) {
	plist, err := service.RenderPlist(config.Default().Daemon, binary, 53210)
	require.NoError(t, err)

	text := string(plist)
	assert.Contains(t, text, "<string>com.spoofdpi.daemon</string>")
	assert.Contains(t, text, "<string>"+binary+"</string>\n\t\t<string>-addr</string>\n\t\t<string>127.0.0.1</string>")
	assert.Contains(t, text, "<string>-port</string>\n\t\t<string>53210</string>")
	assert.Contains(t, text, "<string>/Library/Logs/SpoofDPI/spoofdpi.out.log</string>")
	assert.Contains(t, text, "<string>/Library/Logs/SpoofDPI/spoofdpi.err.log</string>")
}

func TestStartFreshHost(t *testing.T) {
	fake := toolstest.NewFakeRunner().Fail(printLine, notFound)
	l, fs, cfg := newLaunchd(fake)

	require.NoError(t, l.Start(context.Background(), binary, 53210))

	registered, err := l.IsRegistered()
	require.NoError(t, err)
	assert.True(t, registered)

	logDir, err := afero.DirExists(fs, cfg.LogDir)
	require.NoError(t, err)
	assert.True(t, logDir)

	assert.Equal(t, 1, fake.Count("launchctl bootstrap system "+cfg.PlistPath()))
}

func TestStartAlreadyRunningIsNoop(t *testing.T) {
	fake := toolstest.NewFakeRunner().Fail(printLine, notFound).On(printLine, runningOut)
	l, _, _ := newLaunchd(fake)

	require.NoError(t, l.Start(context.Background(), binary, 53210))
	require.NoError(t, l.Start(context.Background(), binary, 53210))

	assert.Equal(t, 1, fake.CountPrefix("launchctl bootstrap"))
	assert.Zero(t, fake.CountPrefix("launchctl bootout"))
	assert.Zero(t, fake.CountPrefix("launchctl kickstart"))
}

func TestStartReloadsChangedDefinition(t *testing.T) {
	fake := toolstest.NewFakeRunner().Fail(printLine, notFound).On(printLine, runningOut)
	l, _, _ := newLaunchd(fake)

	require.NoError(t, l.Start(context.Background(), binary, 53210))
	require.NoError(t, l.Start(context.Background(), binary, 8080))

	assert.Equal(t, 1, fake.Count("launchctl bootout system/com.spoofdpi.daemon"))
	assert.Equal(t, 2, fake.CountPrefix("launchctl bootstrap"))
}

func TestStartKickstartsStoppedJob(t *testing.T) {
	fake := toolstest.NewFakeRunner().Fail(printLine, notFound).On(printLine, waitingOut)
	l, _, _ := newLaunchd(fake)

	require.NoError(t, l.Start(context.Background(), binary, 53210))
	require.NoError(t, l.Start(context.Background(), binary, 53210))

	assert.Equal(t, 1, fake.Count("launchctl kickstart system/com.spoofdpi.daemon"))
}

func TestStopAndUnregisterOnCleanHost(t *testing.T) {
	fake := toolstest.NewFakeRunner().
		Fail("launchctl bootout system/com.spoofdpi.daemon", "Boot-out failed: 3: No such process")
	l, _, _ := newLaunchd(fake)

	stopped, err := l.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)

	removed, err := l.Unregister(context.Background())
	require.NoError(t, err)
	assert.False(t, removed)

	logs, err := l.RemoveLogs()
	require.NoError(t, err)
	assert.False(t, logs)
}

func TestStopAndUnregisterInstalledJob(t *testing.T) {
	fake := toolstest.NewFakeRunner().Fail(printLine, notFound)
	l, fs, cfg := newLaunchd(fake)
	require.NoError(t, l.Start(context.Background(), binary, 53210))
	require.NoError(t, afero.WriteFile(fs, cfg.StdoutLog(), []byte("listening\n"), 0o644))

	stopped, err := l.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)

	removed, err := l.Unregister(context.Background())
	require.NoError(t, err)
	assert.True(t, removed)

	logs, err := l.RemoveLogs()
	require.NoError(t, err)
	assert.True(t, logs)

	exists, err := afero.Exists(fs, cfg.StdoutLog())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStopFailure(t *testing.T) {
	fake := toolstest.NewFakeRunner().
		Fail("launchctl bootout system/com.spoofdpi.daemon", "Boot-out failed: 1: Operation not permitted")
	l, _, _ := newLaunchd(fake)

	_, err := l.Stop(context.Background())
	assert.Error(t, err)
}

func TestIsRunning(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*toolstest.FakeRunner)
		wantRunning bool
		wantLoaded  bool
		wantErr     bool
	}{
		{"running", func(f *toolstest.FakeRunner) { f.On(printLine, runningOut) }, true, true, false},
		{"loaded not running", func(f *toolstest.FakeRunner) { f.On(printLine, waitingOut) }, false, true, false},
		{"not loaded", func(f *toolstest.FakeRunner) { f.Fail(printLine, notFound) }, false, false, false},
		{"query fails", func(f *toolstest.FakeRunner) { f.Fail(printLine, "Operation not permitted") }, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := toolstest.NewFakeRunner()
			tt.setup(fake)
			l, _, _ := newLaunchd(fake)

			running, err := l.IsRunning(context.Background())
			loaded, _ := l.IsLoaded(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRunning, running)
			assert.Equal(t, tt.wantLoaded, loaded)
		})
	}
}

func TestWaitRunningPolls(t *testing.T) {
	fake := toolstest.NewFakeRunner().
		On(printLine, waitingOut).
		On(printLine, waitingOut).
		On(printLine, runningOut)
	l, _, _ := newLaunchd(fake)

	running, err := l.WaitRunning(context.Background(), 5, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, 3, fake.Count(printLine))
}

func TestWaitRunningGivesUp(t *testing.T) {
	fake := toolstest.NewFakeRunner().On(printLine, waitingOut)
	l, _, _ := newLaunchd(fake)

	running, err := l.WaitRunning(context.Background(), 3, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, 3, fake.Count(printLine))
}
