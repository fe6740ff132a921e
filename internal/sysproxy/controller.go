// Package sysproxy sets and clears the macOS web proxy settings of network
// services through networksetup.
package sysproxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/metrics"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

const networksetup = "networksetup"

// Controller applies proxy settings per network service. Services are the
// OS's logical network objects, not interface names.
type Controller struct {
	runner tools.Runner
}

func NewController(runner tools.Runner) *Controller {
	return &Controller{runner: runner}
}

// ListServices returns the enabled network services in OS order.
func (c *Controller) ListServices(ctx context.Context) ([]string, error) {
	out, err := c.runner.Run(ctx, networksetup, "-listallnetworkservices")
	if err != nil {
		return nil, fmt.Errorf("failed to list network services: %w", err)
	}
	return parseServices(out), nil
}

func parseServices(out string) []string {
	var services []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "An asterisk") {
			continue
		}
		if name, disabled := strings.CutPrefix(line, "*"); disabled {
			logger.LogDebug("Skipping disabled network service", logrus.Fields{"service": strings.TrimSpace(name)})
			continue
		}
		services = append(services, line)
	}
	return services
}

// Enable points both web proxies of service at host:port, then switches them
// on. The target is set first so the service never uses a stale one.
func (c *Controller) Enable(ctx context.Context, service, host string, port int) error {
	p := strconv.Itoa(port)
	steps := [][]string{
		{"-setwebproxy", service, host, p},
		{"-setsecurewebproxy", service, host, p},
		{"-setwebproxystate", service, "on"},
		{"-setsecurewebproxystate", service, "on"},
	}
	for _, args := range steps {
		if _, err := c.runner.Run(ctx, networksetup, args...); err != nil {
			return fmt.Errorf("failed to enable proxy for %q: %w", service, err)
		}
	}
	return nil
}

// Disable switches both web proxies of service off. The stored target is
// left in place.
func (c *Controller) Disable(ctx context.Context, service string) error {
	var errs []string
	for _, flag := range []string{"-setwebproxystate", "-setsecurewebproxystate"} {
		if _, err := c.runner.Run(ctx, networksetup, flag, service, "off"); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to disable proxy for %q: %s", service, strings.Join(errs, "; "))
	}
	return nil
}

// State reads the web and secure web proxy of service. Enabled is true only
// when both are on.
func (c *Controller) State(ctx context.Context, service string) (report.ServiceProxy, error) {
	web, err := c.runner.Run(ctx, networksetup, "-getwebproxy", service)
	if err != nil {
		return report.ServiceProxy{}, fmt.Errorf("failed to read web proxy of %q: %w", service, err)
	}
	secure, err := c.runner.Run(ctx, networksetup, "-getsecurewebproxy", service)
	if err != nil {
		return report.ServiceProxy{}, fmt.Errorf("failed to read secure web proxy of %q: %w", service, err)
	}

	w := parseProxy(web)
	s := parseProxy(secure)
	return report.ServiceProxy{
		Enabled: report.FromBool(w.enabled && s.enabled),
		Server:  w.server,
		Port:    w.port,
	}, nil
}

type proxySetting struct {
	enabled bool
	server  string
	port    int
}

// parseProxy reads networksetup -getwebproxy output:
//
//	Enabled: Yes
//	Server: 127.0.0.1
//	Port: 53210
func parseProxy(out string) proxySetting {
	var p proxySetting
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Enabled":
			p.enabled = value == "Yes"
		case "Server":
			p.server = value
		case "Port":
			if n, err := strconv.Atoi(value); err == nil {
				p.port = n
			}
		}
	}
	return p
}

// EnableAll enables the proxy on every service. A failing service is logged
// and recorded; the rest are still attempted.
func (c *Controller) EnableAll(ctx context.Context, services []string, host string, port int) report.Aggregate {
	return c.forEach(services, "enable-proxy", func(service string) error {
		return c.Enable(ctx, service, host, port)
	})
}

// DisableAll disables the proxy on every service, best effort.
func (c *Controller) DisableAll(ctx context.Context, services []string) report.Aggregate {
	return c.forEach(services, "disable-proxy", func(service string) error {
		return c.Disable(ctx, service)
	})
}

func (c *Controller) forEach(services []string, action string, fn func(string) error) report.Aggregate {
	var agg report.Aggregate
	for _, service := range services {
		if err := fn(service); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"service": service,
				"action":  action,
				"error":   err.Error(),
			}).Warn("Network service rejected proxy change")
			metrics.RecordServiceResult(action, string(report.ItemFailed))
			agg.Add(report.Failed(service, err))
			continue
		}
		metrics.RecordServiceResult(action, string(report.ItemOK))
		agg.Add(report.OK(service))
	}
	return agg
}
