package state

import (
	"context"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/metrics"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
)

// Status queries the daemon, the proxy listener, every network service and
// pf. Fields whose query failed are reported as unknown.
func (m *Manager) Status(ctx context.Context) *report.ActionReport {
	return m.run(ctx, ActionStatus, false, func(ctx context.Context, r *report.ActionReport) {
		st := &report.StatusReport{Anchor: m.Config.Anchor}

		st.DaemonRegistered = report.FromResult(m.Supervisor.IsRegistered())
		st.DaemonLoaded = report.FromResult(m.Supervisor.IsLoaded(ctx))
		st.DaemonRunning = report.FromResult(m.Supervisor.IsRunning(ctx))
		metrics.SetState(metrics.DaemonRunning, st.DaemonRunning == report.True, st.DaemonRunning != report.Unknown)

		if m.Probe != nil {
			res := m.Probe.Check(ctx, m.Config.Port)
			st.ProxyListening = res.Listening
			st.ProxyForwarding = res.Forwarding
		}

		st.ProxyServices = report.Unknown
		if services, err := m.Proxy.ListServices(ctx); err == nil {
			st.ProxyServices = report.True
			st.ProxyEnabled = make(map[string]report.ServiceProxy, len(services))
			for _, svc := range services {
				sp, err := m.Proxy.State(ctx, svc)
				if err != nil {
					sp = report.ServiceProxy{Enabled: report.Unknown}
				}
				st.ProxyEnabled[svc] = sp
			}
		}

		m.filterStatus(ctx, st)
		r.Status = st
	})
}
