// Package pfctl compiles redirect rules and loads them into a pf anchor.
package pfctl

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/netif"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

var (
	ErrEmptyRuleset = errors.New("empty ruleset: no valid interfaces to redirect")
	ErrInvalidPort  = tools.ErrInvalidPort
)

// RedirectedPorts are the web ports sent to the local proxy.
var RedirectedPorts = []int{80, 443}

var loopback = netip.MustParseAddr("127.0.0.1")

// RedirectRule sends TCP traffic for one port on one interface to the proxy.
type RedirectRule struct {
	Interface string
	Protocol  string
	MatchPort int
	Target    netip.AddrPort
}

// String renders the rule in pf.conf syntax.
// Example: rdr pass on en0 inet proto tcp from any to any port 80 -> 127.0.0.1 port 53210
func (r RedirectRule) String() string {
	return fmt.Sprintf("rdr pass on %s inet proto %s from any to any port %d -> %s port %d",
		r.Interface, r.Protocol, r.MatchPort, r.Target.Addr(), r.Target.Port())
}

// RuleSet is a compiled anchor body.
type RuleSet struct {
	Rules []RedirectRule
	Text  string
}

// Compile builds the redirect rules for ifaces, in order. Identical input
// gives byte-identical text.
func Compile(ifaces []netif.NetworkInterface, port int) (RuleSet, error) {
	if err := tools.ValidatePort(port); err != nil {
		return RuleSet{}, err
	}
	if len(ifaces) == 0 {
		return RuleSet{}, ErrEmptyRuleset
	}

	target := netip.AddrPortFrom(loopback, uint16(port))

	var rs RuleSet
	var b strings.Builder
	for _, iface := range ifaces {
		for _, match := range RedirectedPorts {
			rule := RedirectRule{
				Interface: iface.Name,
				Protocol:  "tcp",
				MatchPort: match,
				Target:    target,
			}
			rs.Rules = append(rs.Rules, rule)
			b.WriteString(rule.String())
			b.WriteByte('\n')
		}
	}
	rs.Text = b.String()

	return rs, nil
}
