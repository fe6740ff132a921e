package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output formats understood by the printer.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Printer writes the fixed-format progress and result lines the CLI shows.
type Printer struct {
	out    io.Writer
	format string
}

func NewPrinter(out io.Writer, format string) *Printer {
	if format == "" {
		format = FormatText
	}
	return &Printer{out: out, format: format}
}

// Step prints one progress line for a major step of an action. Structured
// formats stay silent so that stdout remains a single document per action.
func (p *Printer) Step(action, step string) {
	if p.format != FormatText {
		return
	}
	fmt.Fprintf(p.out, "==> %s: %s\n", action, step)
}

// Result prints the final report of an action.
func (p *Printer) Result(r *ActionReport) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		p.text(r)
		return nil
	}
}

func (p *Printer) text(r *ActionReport) {
	if r.Status != nil {
		p.status(r.Status)
	}
	if len(r.Used) > 0 {
		fmt.Fprintf(p.out, "    interfaces used: %s\n", strings.Join(r.Used, ", "))
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(p.out, "    interfaces skipped: %s\n", strings.Join(r.Skipped, ", "))
	}
	for _, it := range r.Items {
		fmt.Fprintf(p.out, "    - %s\n", it)
	}
	if r.Failed() && r.RuleText != "" {
		fmt.Fprintf(p.out, "    attempted rules:\n")
		for _, line := range strings.Split(strings.TrimRight(r.RuleText, "\n"), "\n") {
			fmt.Fprintf(p.out, "      %s\n", line)
		}
	}

	switch r.Outcome {
	case Success:
		fmt.Fprintf(p.out, "✓ %s succeeded\n", r.Action)
	case PartialSuccess:
		fmt.Fprintf(p.out, "! %s partially succeeded: %s\n", r.Action, r.Message)
	default:
		fmt.Fprintf(p.out, "✗ %s failed: %s\n", r.Action, r.Message)
	}
}

func (p *Printer) status(s *StatusReport) {
	if !s.RedirectOnly {
		p.serviceStatus(s)
	}
	fmt.Fprintf(p.out, "    packet filter enabled:  %s\n", s.PacketFilterEnabled)
	fmt.Fprintf(p.out, "    redirect rules active:  %s (anchor %q)\n", s.RedirectRulesActive, s.Anchor)
}

func (p *Printer) serviceStatus(s *StatusReport) {
	fmt.Fprintf(p.out, "    daemon registered:      %s\n", s.DaemonRegistered)
	fmt.Fprintf(p.out, "    daemon loaded:          %s\n", s.DaemonLoaded)
	fmt.Fprintf(p.out, "    daemon running:         %s\n", s.DaemonRunning)
	fmt.Fprintf(p.out, "    proxy listening:        %s\n", s.ProxyListening)
	if s.ProxyForwarding != Unknown {
		fmt.Fprintf(p.out, "    proxy forwarding:       %s\n", s.ProxyForwarding)
	}

	if s.ProxyServices == Unknown {
		fmt.Fprintf(p.out, "    proxy per service:      %s\n", Unknown)
		return
	}

	names := make([]string, 0, len(s.ProxyEnabled))
	for name := range s.ProxyEnabled {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sp := s.ProxyEnabled[name]
		if sp.Server != "" {
			fmt.Fprintf(p.out, "    proxy on %q: %s (%s:%d)\n", name, sp.Enabled, sp.Server, sp.Port)
			continue
		}
		fmt.Fprintf(p.out, "    proxy on %q: %s\n", name, sp.Enabled)
	}
}
