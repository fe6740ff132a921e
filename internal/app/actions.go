package app

import (
	"context"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/state"
)

// Action is one CLI-selectable operation of the state manager.
type Action struct {
	Name  string
	Usage string
	Run   func(m *state.Manager, ctx context.Context) *report.ActionReport
}

// Actions lists every action in the order they run when combined.
var Actions = []Action{
	{state.ActionInstall, "install the proxy binary and start the daemon", (*state.Manager).Install},
	{state.ActionEnableProxy, "start the daemon and set the system proxy on every network service", (*state.Manager).EnableProxy},
	{state.ActionDisableProxy, "clear the system proxy and stop the daemon", (*state.Manager).DisableProxy},
	{state.ActionStatus, "show daemon, proxy and redirect state", (*state.Manager).Status},
	{state.ActionEnableRedirect, "redirect web traffic to the daemon with pf", (*state.Manager).EnableRedirect},
	{state.ActionDisableRedirect, "remove the pf redirect rules", (*state.Manager).DisableRedirect},
	{state.ActionRedirectStatus, "show pf redirect state", (*state.Manager).RedirectStatus},
	{state.ActionUninstall, "remove everything this tool installed", (*state.Manager).Uninstall},
}

// Select returns the actions whose name is in requested, in canonical order.
func Select(requested map[string]bool) []Action {
	var out []Action
	for _, a := range Actions {
		if requested[a.Name] {
			out = append(out, a)
		}
	}
	return out
}

// Reduce folds exit codes; the worst one wins.
func Reduce(codes ...int) int {
	worst := report.ExitOK
	for _, c := range codes {
		if c > worst {
			worst = c
		}
	}
	return worst
}

// Run executes actions in order and prints each report. A failed action
// does not stop the ones after it; a cancelled context does.
func (c *Container) Run(ctx context.Context, actions []Action) int {
	codes := make([]int, 0, len(actions))
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			logger.Log.WithField("action", a.Name).Warn("Interrupted, skipping remaining actions")
			codes = append(codes, report.ExitFailure)
			break
		}

		r := a.Run(c.Manager, ctx)
		if err := c.Printer.Result(r); err != nil {
			logger.LogError("Failed to print report", err)
		}
		codes = append(codes, r.ExitCode())
	}
	return Reduce(codes...)
}
