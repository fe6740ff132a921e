// Package health checks that the local proxy accepts and forwards traffic.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

const DefaultTimeout = 2 * time.Second

// Result is the outcome of one probe.
type Result struct {
	Listening    report.Tristate
	Forwarding   report.Tristate
	ResponseTime time.Duration
	ErrorMessage string
}

// Probe checks the proxy on the loopback address.
type Probe struct {
	Timeout time.Duration
	// Target is a host:port fetched through the proxy. Empty skips the
	// forwarding check.
	Target string
}

func NewProbe(timeout time.Duration, target string) *Probe {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Probe{Timeout: timeout, Target: target}
}

// Check never fails; problems are reported in the result.
func (p *Probe) Check(ctx context.Context, port int) Result {
	start := time.Now()
	res := Result{Listening: report.False, Forwarding: report.Unknown}
	addr := net.JoinHostPort(tools.LoopbackIP, strconv.Itoa(port))

	if err := p.checkTCPConnection(ctx, addr); err != nil {
		res.ErrorMessage = err.Error()
		res.ResponseTime = time.Since(start)
		return res
	}
	res.Listening = report.True

	if p.Target != "" {
		httpErr := p.checkHTTPProxy(ctx, addr)
		if httpErr == nil {
			res.Forwarding = report.True
		} else if socksErr := p.checkSOCKS5(ctx, addr); socksErr == nil {
			res.Forwarding = report.True
		} else {
			res.Forwarding = report.False
			res.ErrorMessage = errors.Join(httpErr, socksErr).Error()
		}
	}

	res.ResponseTime = time.Since(start)
	logger.LogDebug("Proxy probe result", logrus.Fields{
		"port":        port,
		"listening":   res.Listening.String(),
		"forwarding":  res.Forwarding.String(),
		"response_ms": res.ResponseTime.Milliseconds(),
	})
	return res
}

// checkTCPConnection performs a simple TCP connection test.
func (p *Probe) checkTCPConnection(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// checkHTTPProxy fetches the target through the proxy as an HTTP proxy.
// Any response below 500 counts as forwarded.
func (p *Probe) checkHTTPProxy(ctx context.Context, addr string) error {
	proxyURL := &url.URL{Scheme: "http", Host: addr}
	client := &http.Client{
		Timeout: p.Timeout,
		Transport: &http.Transport{
			Proxy:              http.ProxyURL(proxyURL),
			DisableKeepAlives:  true,
			DisableCompression: true,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "http://"+p.Target+"/", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http proxy probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("http proxy probe: status %d", resp.StatusCode)
	}
	return nil
}

// checkSOCKS5 opens a connection to the target through the proxy as SOCKS5.
func (p *Probe) checkSOCKS5(ctx context.Context, addr string) error {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: p.Timeout})
	if err != nil {
		return fmt.Errorf("socks5 probe: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var conn net.Conn
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", p.Target)
	} else {
		conn, err = dialer.Dial("tcp", p.Target)
	}
	if err != nil {
		return fmt.Errorf("socks5 probe: %w", err)
	}
	return conn.Close()
}
