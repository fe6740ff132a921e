// Package state reconciles the host against the requested redirection state.
// Nothing is cached: every action queries the host before it mutates it, so
// a run interrupted half way is repaired by the next one.
package state

import (
	"context"
	"time"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/config"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/health"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/metrics"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/netif"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/notify"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/pfctl"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
)

// Action names, also used as CLI flag names.
const (
	ActionInstall         = "install"
	ActionEnableProxy     = "enable-proxy"
	ActionDisableProxy    = "disable-proxy"
	ActionStatus          = "status"
	ActionEnableRedirect  = "enable-redirect"
	ActionDisableRedirect = "disable-redirect"
	ActionRedirectStatus  = "redirect-status"
	ActionUninstall       = "uninstall"
)

const notificationTitle = "SpoofDPI"

// Inventory lists the interfaces eligible for redirection.
type Inventory interface {
	ListCandidates(ctx context.Context, filter []string) (netif.Result, error)
}

// PacketFilter owns the anchor, its rule file and the pf enable token.
type PacketFilter interface {
	Apply(ctx context.Context, anchor string, rs pfctl.RuleSet) (pfctl.ApplyResult, error)
	EnsureEnabled(ctx context.Context) (bool, error)
	Remove(ctx context.Context, anchor string) (bool, error)
	Status(ctx context.Context, anchor string) pfctl.Status
	RemoveRuleFile() (bool, error)
}

// ProxySettings reads and writes the web proxy of network services.
type ProxySettings interface {
	ListServices(ctx context.Context) ([]string, error)
	State(ctx context.Context, service string) (report.ServiceProxy, error)
	Disable(ctx context.Context, service string) error
	EnableAll(ctx context.Context, services []string, host string, port int) report.Aggregate
	DisableAll(ctx context.Context, services []string) report.Aggregate
}

// Supervisor controls the launchd job that runs the proxy daemon.
type Supervisor interface {
	Start(ctx context.Context, binary string, port int) error
	Stop(ctx context.Context) (bool, error)
	WaitRunning(ctx context.Context, checks int, delay time.Duration) (bool, error)
	IsRunning(ctx context.Context) (bool, error)
	IsLoaded(ctx context.Context) (bool, error)
	IsRegistered() (bool, error)
	Unregister(ctx context.Context) (bool, error)
	RemoveLogs() (bool, error)
}

// Acquirer manages the proxy binary through the package manager.
type Acquirer interface {
	Locate(ctx context.Context) (string, error)
	Install(ctx context.Context) error
	Remove(ctx context.Context, path string) error
}

// Prober checks whether the local proxy accepts and forwards traffic.
type Prober interface {
	Check(ctx context.Context, port int) health.Result
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(message string) (bool, error)
}

// Deps are the collaborators of the Manager.
type Deps struct {
	Config     *config.Config
	Inventory  Inventory
	Filter     PacketFilter
	Proxy      ProxySettings
	Supervisor Supervisor
	Acquirer   Acquirer
	Probe      Prober
	Notifier   notify.Notifier
	Printer    *report.Printer
	Prompter   Confirmer
	// RequireRoot is the privilege precondition of mutating actions.
	RequireRoot func() error
}

// Manager runs the redirection actions. Every action is idempotent and
// returns a report instead of an error.
type Manager struct {
	Deps
}

func NewManager(deps Deps) *Manager {
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if deps.RequireRoot == nil {
		deps.RequireRoot = func() error { return nil }
	}
	return &Manager{Deps: deps}
}

// run wraps one action with timing, logging, metrics and, for mutating
// actions, the privilege check and the boundary notification.
func (m *Manager) run(
	ctx context.Context,
	action string,
	mutating bool,
	fn func(ctx context.Context, r *report.ActionReport),
) *report.ActionReport {
	start := time.Now()
	r := report.New(action)

	if mutating {
		if err := m.RequireRoot(); err != nil {
			r.Fail(report.KindPrecondition, "%v", err)
		}
	}
	if !r.Failed() {
		fn(ctx, r)
	}

	r.Duration = time.Since(start)
	logger.LogActionResult(action, r.Outcome.String(), r.Duration, r.Failed())
	metrics.RecordAction(action, r.Outcome.String(), r.Duration)

	if mutating {
		m.notify(r)
	}
	return r
}

func (m *Manager) step(action, text string) {
	logger.LogStep(action, text)
	if m.Printer != nil {
		m.Printer.Step(action, text)
	}
}

func (m *Manager) notify(r *report.ActionReport) {
	if !m.Config.NotificationsEnabled {
		return
	}
	switch r.Outcome {
	case report.Success:
		m.Notifier.Notify(notificationTitle, r.Action+" succeeded", notify.Info)
	case report.PartialSuccess:
		m.Notifier.Notify(notificationTitle, r.Action+" partially succeeded: "+r.Message, notify.Warning)
	default:
		m.Notifier.Notify(notificationTitle, r.Action+" failed: "+r.Message, notify.Error)
	}
}

// settle derives the outcome of a best-effort action from its items. Any
// failure next to a removal, success or skip is a partial success.
func settle(r *report.ActionReport) {
	agg := report.Aggregate{Items: r.Items}
	failed := agg.Failed()
	if failed == 0 {
		return
	}
	if failed == len(r.Items) {
		r.Fail(report.KindExternal, "%d of %d steps failed", failed, len(r.Items))
		return
	}
	r.Partial("%d of %d steps failed", failed, len(r.Items))
}

// locateBinary resolves the proxy binary or fails r with a precondition.
func (m *Manager) locateBinary(ctx context.Context, r *report.ActionReport) (string, bool) {
	m.step(r.Action, "locating proxy binary")
	path, err := m.Acquirer.Locate(ctx)
	if err != nil {
		r.Fail(report.KindPrecondition, "%v (run --install first)", err)
		return "", false
	}
	return path, true
}
