package state

import (
	"context"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

// EnableProxy starts the daemon and points every network service at it. It
// succeeds only when the daemon is confirmed running and at least one
// service accepted the setting. Services are not touched while the daemon is
// down, since they would lose connectivity.
func (m *Manager) EnableProxy(ctx context.Context) *report.ActionReport {
	return m.run(ctx, ActionEnableProxy, true, func(ctx context.Context, r *report.ActionReport) {
		binary, ok := m.locateBinary(ctx, r)
		if !ok {
			return
		}

		if !m.ensureDaemon(ctx, r, binary) {
			return
		}

		m.step(r.Action, "configuring network services")
		services, err := m.Proxy.ListServices(ctx)
		if err != nil {
			r.Fail(report.KindExternal, "%v", err)
			return
		}

		agg := m.Proxy.EnableAll(ctx, services, tools.LoopbackIP, m.Config.Port)
		r.Add(agg.Items...)

		switch {
		case agg.Succeeded() == 0:
			r.Fail(report.KindExternal, "no network service accepted the proxy setting")
		case agg.Failed() > 0:
			r.Partial("%d of %d network services configured", agg.Succeeded(), len(agg.Items))
		}
	})
}

// ensureDaemon starts the daemon when needed and waits until launchd reports
// it running.
func (m *Manager) ensureDaemon(ctx context.Context, r *report.ActionReport, binary string) bool {
	m.step(r.Action, "starting daemon")
	if running, _ := m.Supervisor.IsRunning(ctx); !running && !tools.IsPortAvailableOnIP(tools.LoopbackIP, m.Config.Port) {
		logger.Log.WithField("port", m.Config.Port).Warn("Proxy port is already in use by another process")
	}
	if err := m.Supervisor.Start(ctx, binary, m.Config.Port); err != nil {
		r.Add(report.Failed("daemon", err))
		r.Fail(report.KindExternal, "failed to start daemon: %v", err)
		return false
	}

	d := m.Config.Daemon
	running, err := m.Supervisor.WaitRunning(ctx, d.StartupChecks, d.StartupDelay)
	if !running {
		if err != nil {
			r.Fail(report.KindExternal, "daemon is not running: %v", err)
		} else {
			r.Fail(report.KindExternal, "daemon did not reach running state after %d checks", d.StartupChecks)
		}
		r.Add(report.Item{Name: "daemon", Status: report.ItemFailed, Detail: r.Message})
		return false
	}

	r.Add(report.OK("daemon"))
	return true
}

// DisableProxy turns the proxy off on every service, then stops and
// unregisters the daemon. Every step runs even when an earlier one failed.
func (m *Manager) DisableProxy(ctx context.Context) *report.ActionReport {
	return m.run(ctx, ActionDisableProxy, true, func(ctx context.Context, r *report.ActionReport) {
		m.step(r.Action, "clearing network service proxies")
		services, err := m.Proxy.ListServices(ctx)
		if err != nil {
			r.Add(report.Failed("network services", err))
		} else {
			agg := m.Proxy.DisableAll(ctx, services)
			r.Add(agg.Items...)
		}

		m.step(r.Action, "stopping daemon")
		r.Add(removal("daemon", "not running")(m.Supervisor.Stop(ctx)))

		m.step(r.Action, "removing daemon registration")
		r.Add(removal("daemon registration", "not registered")(m.Supervisor.Unregister(ctx)))

		settle(r)
	})
}

// removal turns a (removed, err) pair into a report item.
func removal(name, absent string) func(bool, error) report.Item {
	return func(removed bool, err error) report.Item {
		switch {
		case err != nil:
			return report.Failed(name, err)
		case removed:
			return report.Removed(name)
		default:
			return report.Skipped(name, absent)
		}
	}
}
