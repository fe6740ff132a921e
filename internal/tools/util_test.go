package tools_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

func TestMain(m *testing.M) {
	logger.Setup()
	os.Exit(m.Run())
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"default port", 53210, false},
		{"lowest", 1, false},
		{"highest", 65535, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too high", 65536, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tools.ValidatePort(tt.port)
			if tt.wantErr {
				assert.ErrorIs(t, err, tools.ErrInvalidPort)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIsPortAvailableOnIPRejectsInvalidPorts(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		assert.False(t, tools.IsPortAvailableOnIP("127.0.0.1", port), "port %d", port)
	}
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	r := tools.NewExecRunner(5 * time.Second)

	out, err := r.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExecRunnerFeedsInput(t *testing.T) {
	r := tools.NewExecRunner(5 * time.Second)

	out, err := r.RunWithInput(context.Background(), "rdr pass on en0\n", "cat")
	require.NoError(t, err)
	assert.Equal(t, "rdr pass on en0", out)
}

func TestExecRunnerReturnsCommandError(t *testing.T) {
	r := tools.NewExecRunner(5 * time.Second)

	out, err := r.Run(context.Background(), "sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, "oops", out)

	var cmdErr *tools.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "sh", cmdErr.Command)
	assert.Equal(t, "oops", cmdErr.Output)
	assert.Contains(t, err.Error(), "oops")
}

func TestExecRunnerTimesOut(t *testing.T) {
	r := tools.NewExecRunner(50 * time.Millisecond)

	_, err := r.Run(context.Background(), "sleep", "5")
	require.Error(t, err)
	assert.True(t, tools.IsTimeout(err))
}

func TestExecRunnerWithTimeout(t *testing.T) {
	r := tools.NewExecRunner(time.Second)

	assert.Equal(t, 10*time.Minute, r.WithTimeout(10*time.Minute).Timeout)
	assert.Equal(t, tools.DefaultCommandTimeout, r.WithTimeout(0).Timeout)
	assert.Equal(t, time.Second, r.Timeout)

	_, err := r.WithTimeout(50*time.Millisecond).Run(context.Background(), "sleep", "5")
	assert.True(t, tools.IsTimeout(err))
}
