// Package report holds the result types shared by the controllers and the
// state manager: per-item results, action reports, live status snapshots and
// the exit-code policy derived from them.
package report

import (
	"fmt"
	"time"
)

// Tristate is a boolean that can also be unknown, used for live status
// fields whose underlying query may fail.
type Tristate int

const (
	Unknown Tristate = iota
	False
	True
)

// FromBool converts a known boolean.
func FromBool(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// FromResult converts a query result, mapping any error to Unknown.
func FromResult(b bool, err error) Tristate {
	if err != nil {
		return Unknown
	}
	return FromBool(b)
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "yes"
	case False:
		return "no"
	default:
		return "unknown"
	}
}

func (t Tristate) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Outcome is the overall verdict of an action.
type Outcome int

const (
	Success Outcome = iota
	PartialSuccess
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case PartialSuccess:
		return "partial"
	default:
		return "failure"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// FailureKind classifies why an action failed.
type FailureKind int

const (
	KindNone FailureKind = iota
	KindExternal
	KindValidation
	KindPrecondition
)

func (k FailureKind) String() string {
	switch k {
	case KindExternal:
		return "external"
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	default:
		return "none"
	}
}

func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Exit codes returned by the CLI. Higher is worse.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitValidation   = 2
	ExitPrecondition = 3
)

// ItemStatus is the result of one per-item step (a network service, an
// uninstall step, an interface).
type ItemStatus string

const (
	ItemOK      ItemStatus = "ok"
	ItemRemoved ItemStatus = "removed"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// NothingToRemove is the detail attached to uninstall steps that found no
// state to tear down.
const NothingToRemove = "nothing to remove"

// Item is a single per-item result inside an action report.
type Item struct {
	Name   string     `json:"name" yaml:"name"`
	Status ItemStatus `json:"status" yaml:"status"`
	Detail string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (i Item) String() string {
	if i.Detail == "" {
		return fmt.Sprintf("%s: %s", i.Name, i.Status)
	}
	return fmt.Sprintf("%s: %s: %s", i.Name, i.Status, i.Detail)
}

// OK builds a successful item.
func OK(name string) Item { return Item{Name: name, Status: ItemOK} }

// Removed builds an item for state that was torn down.
func Removed(name string) Item { return Item{Name: name, Status: ItemRemoved} }

// Skipped builds an item that did nothing, with the reason.
func Skipped(name, reason string) Item {
	return Item{Name: name, Status: ItemSkipped, Detail: reason}
}

// Failed builds an item for a failed step.
func Failed(name string, err error) Item {
	return Item{Name: name, Status: ItemFailed, Detail: err.Error()}
}

// Aggregate folds per-item results for operations that keep going past
// individual failures.
type Aggregate struct {
	Items []Item
}

func (a *Aggregate) Add(item Item) {
	a.Items = append(a.Items, item)
}

func (a *Aggregate) Succeeded() int {
	n := 0
	for _, it := range a.Items {
		if it.Status == ItemOK || it.Status == ItemRemoved {
			n++
		}
	}
	return n
}

func (a *Aggregate) Failed() int {
	n := 0
	for _, it := range a.Items {
		if it.Status == ItemFailed {
			n++
		}
	}
	return n
}

// Outcome is Success with zero failures, Failure with zero successes, and
// PartialSuccess otherwise.
func (a *Aggregate) Outcome() Outcome {
	switch {
	case a.Failed() == 0:
		return Success
	case a.Succeeded() == 0:
		return Failure
	default:
		return PartialSuccess
	}
}

// ServiceProxy is the live proxy state of one network service.
type ServiceProxy struct {
	Enabled Tristate `json:"enabled" yaml:"enabled"`
	Server  string   `json:"server,omitempty" yaml:"server,omitempty"`
	Port    int      `json:"port,omitempty" yaml:"port,omitempty"`
}

// StatusReport is a snapshot of the host, recomputed on every query.
// ProxyServices is Unknown when the network services could not be listed, in
// which case ProxyEnabled is empty.
type StatusReport struct {
	DaemonRegistered    Tristate                `json:"daemon_registered" yaml:"daemon_registered"`
	DaemonLoaded        Tristate                `json:"daemon_loaded" yaml:"daemon_loaded"`
	DaemonRunning       Tristate                `json:"daemon_running" yaml:"daemon_running"`
	ProxyListening      Tristate                `json:"proxy_listening" yaml:"proxy_listening"`
	ProxyForwarding     Tristate                `json:"proxy_forwarding" yaml:"proxy_forwarding"`
	ProxyServices       Tristate                `json:"proxy_services_listed" yaml:"proxy_services_listed"`
	ProxyEnabled        map[string]ServiceProxy `json:"proxy_enabled_per_service,omitempty" yaml:"proxy_enabled_per_service,omitempty"`
	PacketFilterEnabled Tristate                `json:"packet_filter_enabled" yaml:"packet_filter_enabled"`
	RedirectRulesActive Tristate                `json:"redirect_rules_active" yaml:"redirect_rules_active"`
	Anchor              string                  `json:"anchor" yaml:"anchor"`
	// RedirectOnly limits the report to the packet filter fields.
	RedirectOnly bool `json:"-" yaml:"-"`
}

// ActionReport is the caller-facing result of one state manager operation.
type ActionReport struct {
	Action   string        `json:"action" yaml:"action"`
	Outcome  Outcome       `json:"outcome" yaml:"outcome"`
	Kind     FailureKind   `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Message  string        `json:"message,omitempty" yaml:"message,omitempty"`
	Items    []Item        `json:"items,omitempty" yaml:"items,omitempty"`
	Used     []string      `json:"interfaces_used,omitempty" yaml:"interfaces_used,omitempty"`
	Skipped  []string      `json:"interfaces_skipped,omitempty" yaml:"interfaces_skipped,omitempty"`
	RuleText string        `json:"rule_text,omitempty" yaml:"rule_text,omitempty"`
	Status   *StatusReport `json:"status,omitempty" yaml:"status,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// New starts an empty, successful report for action.
func New(action string) *ActionReport {
	return &ActionReport{Action: action, Outcome: Success}
}

// Fail marks the report as failed with the given kind. The first failure
// message wins; later calls only escalate the kind.
func (r *ActionReport) Fail(kind FailureKind, format string, args ...any) {
	r.Outcome = Failure
	if kind > r.Kind {
		r.Kind = kind
	}
	if r.Message == "" {
		r.Message = fmt.Sprintf(format, args...)
	}
}

// Partial downgrades a successful report to a partial success.
func (r *ActionReport) Partial(format string, args ...any) {
	if r.Outcome != Success {
		return
	}
	r.Outcome = PartialSuccess
	if r.Message == "" {
		r.Message = fmt.Sprintf(format, args...)
	}
}

func (r *ActionReport) Add(items ...Item) {
	r.Items = append(r.Items, items...)
}

// Failed reports whether the action as a whole failed.
func (r *ActionReport) Failed() bool {
	return r.Outcome == Failure
}

// ExitCode maps the report to a process exit code.
func (r *ActionReport) ExitCode() int {
	if r.Outcome != Failure {
		return ExitOK
	}
	switch r.Kind {
	case KindPrecondition:
		return ExitPrecondition
	case KindValidation:
		return ExitValidation
	default:
		return ExitFailure
	}
}
