package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/config"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

// Install makes sure the proxy binary is present and the daemon runs. It does
// not touch network services or pf.
func (m *Manager) Install(ctx context.Context) *report.ActionReport {
	return m.run(ctx, ActionInstall, true, func(ctx context.Context, r *report.ActionReport) {
		m.step(r.Action, "locating proxy binary")
		binary, err := m.Acquirer.Locate(ctx)
		if err != nil {
			m.step(r.Action, "installing proxy binary")
			if err := m.Acquirer.Install(ctx); err != nil {
				r.Add(report.Failed("binary", err))
				if tools.IsTimeout(err) {
					r.Fail(report.KindExternal, "install timed out after %s (raise install_timeout)", m.Config.InstallTimeout)
					return
				}
				r.Fail(report.KindExternal, "install failed: %v", err)
				return
			}
			if binary, err = m.Acquirer.Locate(ctx); err != nil {
				r.Add(report.Failed("binary", err))
				r.Fail(report.KindExternal, "binary not found after install: %v", err)
				return
			}
			r.Add(report.Item{Name: "binary", Status: report.ItemOK, Detail: "installed at " + binary})
		} else {
			r.Add(report.Item{Name: "binary", Status: report.ItemOK, Detail: "found at " + binary})
		}

		m.ensureDaemon(ctx, r, binary)
	})
}

// Uninstall removes everything the tool may have left on the host, one
// independent step at a time. A clean host yields only skipped steps.
func (m *Manager) Uninstall(ctx context.Context) *report.ActionReport {
	return m.run(ctx, ActionUninstall, true, func(ctx context.Context, r *report.ActionReport) {
		m.removeRedirect(ctx, r)

		m.step(r.Action, "clearing network service proxies")
		r.Add(m.clearProxies(ctx))

		m.step(r.Action, "stopping daemon")
		r.Add(removal("daemon", report.NothingToRemove)(m.Supervisor.Stop(ctx)))

		m.step(r.Action, "removing daemon registration")
		r.Add(removal("daemon registration", report.NothingToRemove)(m.Supervisor.Unregister(ctx)))

		m.step(r.Action, "removing log storage")
		r.Add(removal("log storage", report.NothingToRemove)(m.Supervisor.RemoveLogs()))

		m.step(r.Action, "applying binary policy")
		r.Add(m.removeBinary(ctx))

		settle(r)
	})
}

// clearProxies disables the proxy on services that may still have it on.
func (m *Manager) clearProxies(ctx context.Context) report.Item {
	const name = "proxy settings"

	services, err := m.Proxy.ListServices(ctx)
	if err != nil {
		return report.Failed(name, err)
	}

	var errs []error
	cleared := 0
	for _, svc := range services {
		st, err := m.Proxy.State(ctx, svc)
		if err == nil && st.Enabled == report.False {
			continue
		}
		if err := m.Proxy.Disable(ctx, svc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", svc, err))
			continue
		}
		cleared++
	}

	switch {
	case len(errs) > 0:
		return report.Failed(name, errors.Join(errs...))
	case cleared == 0:
		return report.Skipped(name, report.NothingToRemove)
	default:
		return report.Item{Name: name, Status: report.ItemRemoved, Detail: fmt.Sprintf("%d services", cleared)}
	}
}

func (m *Manager) removeBinary(ctx context.Context) report.Item {
	const name = "binary"

	path, err := m.Acquirer.Locate(ctx)
	if err != nil {
		return report.Skipped(name, report.NothingToRemove)
	}

	switch m.Config.BinaryPolicy {
	case config.BinaryKeep:
		return report.Skipped(name, "kept at "+path)
	case config.BinaryAsk:
		if !m.confirm(fmt.Sprintf("Remove the proxy binary at %s?", path)) {
			return report.Skipped(name, "kept at "+path)
		}
	}

	if err := m.Acquirer.Remove(ctx, path); err != nil {
		return report.Failed(name, err)
	}
	return report.Removed(name)
}

// confirm treats a missing prompter or a failed prompt as a no.
func (m *Manager) confirm(message string) bool {
	if m.Prompter == nil {
		return false
	}
	ok, err := m.Prompter.Confirm(message)
	return err == nil && ok
}
