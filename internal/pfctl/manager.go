package pfctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/report"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

// SystemConfPath is the boot time pf ruleset. It is read, never written.
const SystemConfPath = "/etc/pf.conf"

// ApplyError is returned when an anchor load fails. It keeps the attempted
// rule text for diagnostics.
type ApplyError struct {
	Anchor   string
	RuleText string
	Output   string
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed to load pf anchor %q: %v", e.Anchor, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// ApplyResult describes a successful anchor load.
type ApplyResult struct {
	// Changed is true when the rule text differs from the previous artifact.
	Changed bool
	// ReferenceAdded is true when the anchor was spliced into the main ruleset.
	ReferenceAdded bool
}

// Status is a read of the pf state for one anchor.
type Status struct {
	FilterEnabled report.Tristate
	GroupHasRules report.Tristate
}

// Manager drives pfctl for a single rule artifact. It holds no pf state;
// every call queries the host.
type Manager struct {
	runner   tools.Runner
	fs       afero.Fs
	ruleFile string
	confPath string
}

func NewManager(runner tools.Runner, fs afero.Fs, ruleFile string) *Manager {
	return &Manager{
		runner:   runner,
		fs:       fs,
		ruleFile: ruleFile,
		confPath: SystemConfPath,
	}
}

// RuleFile is the path of the transient rule artifact.
func (m *Manager) RuleFile() string {
	return m.ruleFile
}

// Apply replaces the contents of anchor with rs. It is not retried on
// failure since the same text would fail again.
func (m *Manager) Apply(ctx context.Context, anchor string, rs RuleSet) (ApplyResult, error) {
	var res ApplyResult
	if rs.Text == "" {
		return res, ErrEmptyRuleset
	}

	added, err := m.ensureAnchorReference(ctx, anchor)
	if err != nil {
		return res, &ApplyError{Anchor: anchor, RuleText: rs.Text, Output: commandOutput(err), Err: err}
	}
	res.ReferenceAdded = added

	previous, err := afero.ReadFile(m.fs, m.ruleFile)
	res.Changed = err != nil || string(previous) != rs.Text

	if err := afero.WriteFile(m.fs, m.ruleFile, []byte(rs.Text), 0o644); err != nil {
		return res, &ApplyError{
			Anchor:   anchor,
			RuleText: rs.Text,
			Err:      fmt.Errorf("failed to write rule file: %w", err),
		}
	}

	if _, err := m.runner.Run(ctx, "pfctl", "-a", anchor, "-f", m.ruleFile); err != nil {
		return res, &ApplyError{Anchor: anchor, RuleText: rs.Text, Output: commandOutput(err), Err: err}
	}

	logger.Log.WithFields(logrus.Fields{
		"anchor":  anchor,
		"rules":   len(rs.Rules),
		"changed": res.Changed,
	}).Info("🔀 Loaded pf redirect rules")

	return res, nil
}

// EnsureEnabled turns pf on unless it already is.
func (m *Manager) EnsureEnabled(ctx context.Context) (bool, error) {
	if enabled, err := m.filterEnabled(ctx); err == nil && enabled {
		return false, nil
	}

	out, err := m.runner.Run(ctx, "pfctl", "-e")
	if err != nil {
		if strings.Contains(out, "already enabled") {
			return false, nil
		}
		return false, fmt.Errorf("failed to enable pf: %w", err)
	}

	logger.Log.Info("🛡️  Enabled packet filter")
	return true, nil
}

// Remove flushes every rule in anchor. Flushing an anchor that was never
// loaded succeeds with removed=false.
func (m *Manager) Remove(ctx context.Context, anchor string) (bool, error) {
	had, _ := m.groupHasRules(ctx, anchor)

	out, err := m.runner.Run(ctx, "pfctl", "-a", anchor, "-F", "all")
	if err != nil {
		if strings.Contains(out, "does not exist") {
			return false, nil
		}
		return false, fmt.Errorf("failed to flush pf anchor %q: %w", anchor, err)
	}

	if had {
		logger.Log.WithField("anchor", anchor).Info("🗑️  Flushed pf anchor")
	}
	return had, nil
}

// Status reads the filter and anchor state. Failed queries become Unknown.
func (m *Manager) Status(ctx context.Context, anchor string) Status {
	enabled, enabledErr := m.filterEnabled(ctx)
	hasRules, rulesErr := m.groupHasRules(ctx, anchor)

	return Status{
		FilterEnabled: report.FromResult(enabled, enabledErr),
		GroupHasRules: report.FromResult(hasRules, rulesErr),
	}
}

// RemoveRuleFile deletes the rule artifact. A missing file gives removed=false.
func (m *Manager) RemoveRuleFile() (bool, error) {
	if err := m.fs.Remove(m.ruleFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove rule file: %w", err)
	}
	return true, nil
}

func (m *Manager) filterEnabled(ctx context.Context) (bool, error) {
	out, err := m.runner.Run(ctx, "pfctl", "-s", "info")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "Status: Enabled"), nil
}

func (m *Manager) groupHasRules(ctx context.Context, anchor string) (bool, error) {
	out, err := m.runner.Run(ctx, "pfctl", "-a", anchor, "-s", "nat")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "rdr") {
			return true, nil
		}
	}
	return false, nil
}

// ensureAnchorReference makes the main ruleset evaluate anchor. When the
// running ruleset lacks the reference, /etc/pf.conf is loaded with an
// rdr-anchor line spliced in. The file on disk is left untouched, and an
// unreadable file aborts so the main ruleset is never replaced by a partial
// one.
func (m *Manager) ensureAnchorReference(ctx context.Context, anchor string) (bool, error) {
	ref := fmt.Sprintf("rdr-anchor %q", anchor)

	out, err := m.runner.Run(ctx, "pfctl", "-s", "nat")
	if err == nil && strings.Contains(out, ref) {
		return false, nil
	}

	conf, err := afero.ReadFile(m.fs, m.confPath)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", m.confPath, err)
	}

	if _, err := m.runner.RunWithInput(ctx, SpliceAnchor(string(conf), ref), "pfctl", "-f", "-"); err != nil {
		return false, fmt.Errorf("failed to reference anchor in main ruleset: %w", err)
	}

	logger.Log.WithField("anchor", anchor).Debug("🔗 Referenced anchor in main ruleset")
	return true, nil
}

// SpliceAnchor inserts ref after the last options, normalization, queueing
// or translation statement of conf, which is where pf expects translation
// rules. With none of those it goes first.
func SpliceAnchor(conf, ref string) string {
	lines := strings.Split(strings.TrimRight(conf, "\n"), "\n")
	if conf == "" {
		lines = nil
	}

	at := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == ref {
			return strings.Join(lines, "\n") + "\n"
		}
		if precedesFilter(trimmed) {
			at = i + 1
		}
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at]...)
	out = append(out, ref)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n") + "\n"
}

// precedesFilter reports whether a pf.conf statement belongs to a section
// that must come before filter rules.
func precedesFilter(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "set",
		"scrub", "scrub-anchor",
		"altq", "queue",
		"nat", "rdr", "binat", "nat-anchor", "rdr-anchor", "binat-anchor":
		return true
	case "no":
		return len(fields) > 1 && (fields[1] == "nat" || fields[1] == "rdr" || fields[1] == "binat")
	}
	return false
}

func commandOutput(err error) string {
	var cmdErr *tools.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Output
	}
	return ""
}
