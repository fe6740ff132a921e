package health_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/health"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
)

const target = "example.invalid:80"

func TestMain(m *testing.M) {
	logger.Setup()
	os.Exit(m.Run())
}

func portOf(t *testing.T, addr net.Addr) int {
	t.Helper()
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	return tcp.Port
}

func TestProbeNotListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := portOf(t, ln.Addr())
	require.NoError(t, ln.Close())

	res := health.NewProbe(time.Second, target).Check(context.Background(), port)
	assert.Equal(t, report.False, res.Listening)
	assert.Equal(t, report.Unknown, res.Forwarding)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestProbeListeningWithoutTarget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	res := health.NewProbe(time.Second, "").Check(context.Background(), portOf(t, ln.Addr()))
	assert.Equal(t, report.True, res.Listening)
	assert.Equal(t, report.Unknown, res.Forwarding)
}

func TestProbeHTTPProxy(t *testing.T) {
	var gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := health.NewProbe(time.Second, target).Check(context.Background(), portOf(t, srv.Listener.Addr()))
	assert.Equal(t, report.True, res.Listening)
	assert.Equal(t, report.True, res.Forwarding)
	assert.Equal(t, target, gotHost)
}

func TestProbeProxyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := health.NewProbe(500*time.Millisecond, target).Check(context.Background(), portOf(t, srv.Listener.Addr()))
	assert.Equal(t, report.True, res.Listening)
	assert.Equal(t, report.False, res.Forwarding)
	assert.Contains(t, res.ErrorMessage, "status 502")
}

func TestProbeSOCKS5(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go serveSOCKS5(ln)

	res := health.NewProbe(time.Second, target).Check(context.Background(), portOf(t, ln.Addr()))
	assert.Equal(t, report.True, res.Listening)
	assert.Equal(t, report.True, res.Forwarding)
}

// serveSOCKS5 answers the no-auth CONNECT handshake and nothing else.
func serveSOCKS5(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			_ = c.SetDeadline(time.Now().Add(2 * time.Second))

			head := make([]byte, 2)
			if _, err := io.ReadFull(c, head); err != nil || head[0] != 5 {
				return
			}
			if _, err := io.ReadFull(c, make([]byte, head[1])); err != nil {
				return
			}
			if _, err := c.Write([]byte{5, 0}); err != nil {
				return
			}

			req := make([]byte, 4)
			if _, err := io.ReadFull(c, req); err != nil {
				return
			}
			var addrLen int
			switch req[3] {
			case 1:
				addrLen = 4
			case 4:
				addrLen = 16
			case 3:
				l := make([]byte, 1)
				if _, err := io.ReadFull(c, l); err != nil {
					return
				}
				addrLen = int(l[0])
			default:
				return
			}
			if _, err := io.ReadFull(c, make([]byte, addrLen+2)); err != nil {
				return
			}
			_, _ = c.Write([]byte{5, 0, 0, 1, 127, 0, 0, 1, 0, 80})
			_, _ = io.Copy(io.Discard, c)
		}(conn)
	}
}
