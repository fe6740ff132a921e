package netif

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/metrics"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

// MaxAutoDetect caps how many auto-detected names are validated.
const MaxAutoDetect = 10

// ErrNoInterfaces is returned by callers when a selection has no valid entry.
var ErrNoInterfaces = errors.New("no valid network interfaces")

// Source is the OS view of interfaces.
type Source interface {
	// Names lists interface names in OS order.
	Names(ctx context.Context) ([]string, error)
	// Describe returns the ifconfig style description of one interface.
	Describe(ctx context.Context, name string) (string, error)
}

// IfconfigSource reads interfaces through ifconfig.
type IfconfigSource struct {
	Runner tools.Runner
}

func (s *IfconfigSource) Names(ctx context.Context) ([]string, error) {
	out, err := s.Runner.Run(ctx, "ifconfig", "-l")
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	return strings.Fields(out), nil
}

func (s *IfconfigSource) Describe(ctx context.Context, name string) (string, error) {
	return s.Runner.Run(ctx, "ifconfig", name)
}

// Result splits the candidates into usable and rejected ones. Both keep
// candidate order.
type Result struct {
	Valid   []NetworkInterface
	Invalid []Rejected
}

// Names returns the valid interface names.
func (r Result) Names() []string {
	names := make([]string, len(r.Valid))
	for i, iface := range r.Valid {
		names[i] = iface.Name
	}
	return names
}

// Inventory lists interfaces. It keeps no state between calls.
type Inventory struct {
	source Source
}

func NewInventory(source Source) *Inventory {
	return &Inventory{source: source}
}

// ListCandidates validates either the explicit filter or, when filter is nil,
// the auto-detected ethernet, tunnel and bridge interfaces. A candidate that
// fails validation is rejected, not returned as an error.
func (inv *Inventory) ListCandidates(ctx context.Context, filter []string) (Result, error) {
	var candidates []string
	if filter == nil {
		names, err := inv.source.Names(ctx)
		if err != nil {
			return Result{}, err
		}
		candidates = autoDetect(names)
	} else {
		candidates = normalize(filter)
	}

	var res Result
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if !ValidName(name) {
			res.reject(name, "invalid interface name")
			continue
		}

		out, err := inv.source.Describe(ctx, name)
		if err != nil {
			res.reject(name, "interface not found")
			continue
		}

		desc := parseDescription(out)
		if desc.name != name {
			res.reject(name, "interface not found")
			continue
		}
		ok, reason := desc.usable()
		if !ok {
			res.reject(name, reason)
			continue
		}

		res.Valid = append(res.Valid, NetworkInterface{
			Name:     name,
			Kind:     Classify(name),
			IsActive: true,
		})
	}

	metrics.UpdateInterfaces(len(res.Valid), len(res.Invalid))
	logger.Log.WithFields(logrus.Fields{
		"valid":   len(res.Valid),
		"invalid": len(res.Invalid),
		"auto":    filter == nil,
	}).Debug("🔌 Interface selection complete")

	return res, nil
}

func (r *Result) reject(name, reason string) {
	logger.Log.WithFields(logrus.Fields{
		"interface": name,
		"reason":    reason,
	}).Warn("Skipping interface")
	r.Invalid = append(r.Invalid, Rejected{Name: name, Reason: reason})
}

func autoDetect(names []string) []string {
	var out []string
	for _, name := range names {
		if Classify(name) == KindOther {
			continue
		}
		out = append(out, name)
		if len(out) == MaxAutoDetect {
			break
		}
	}
	return out
}

// normalize trims entries, drops empty ones and keeps the first of duplicates.
func normalize(filter []string) []string {
	seen := make(map[string]bool, len(filter))
	out := make([]string, 0, len(filter))
	for _, name := range filter {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
