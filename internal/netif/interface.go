// Package netif enumerates and validates the host interfaces that can carry
// redirected traffic.
package netif

import (
	"strings"
)

// Kind is the coarse class of an interface, derived from its name only.
type Kind int

const (
	KindOther Kind = iota
	KindEthernet
	KindTunnel
	KindBridge
)

func (k Kind) String() string {
	switch k {
	case KindEthernet:
		return "ethernet"
	case KindTunnel:
		return "tunnel"
	case KindBridge:
		return "bridge"
	default:
		return "other"
	}
}

// NetworkInterface is a validated candidate for redirection.
type NetworkInterface struct {
	Name     string
	Kind     Kind
	IsActive bool
}

// Rejected is a candidate that failed validation.
type Rejected struct {
	Name   string
	Reason string
}

// Classify maps an interface name to its kind by prefix.
func Classify(name string) Kind {
	switch {
	case hasIndexedPrefix(name, "utun"), hasIndexedPrefix(name, "ipsec"):
		return KindTunnel
	case hasIndexedPrefix(name, "bridge"):
		return KindBridge
	case hasIndexedPrefix(name, "en"):
		return KindEthernet
	default:
		return KindOther
	}
}

// ValidName reports whether name looks like a BSD interface name: a lower
// case driver name followed by a unit number.
func ValidName(name string) bool {
	i := strings.IndexFunc(name, func(r rune) bool { return r < 'a' || r > 'z' })
	if i <= 0 {
		return false
	}
	return hasIndexedPrefix(name, name[:i])
}

// hasIndexedPrefix reports whether name is prefix followed by a unit number.
func hasIndexedPrefix(name, prefix string) bool {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// description is the parsed output of `ifconfig <name>`.
type description struct {
	name      string
	flags     map[string]bool
	status    string
	hasStatus bool
}

// parseDescription reads the flags and the status line of ifconfig output:
//
//	en0: flags=8863<UP,BROADCAST,SMART,RUNNING,SIMPLEX,MULTICAST> mtu 1500
//		status: active
func parseDescription(out string) description {
	d := description{flags: make(map[string]bool)}

	for i, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if i == 0 {
			d.name, _, _ = strings.Cut(line, ":")
			start := strings.Index(line, "<")
			end := strings.Index(line, ">")
			if start >= 0 && end > start {
				for _, f := range strings.Split(line[start+1:end], ",") {
					d.flags[strings.TrimSpace(f)] = true
				}
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "status:"); ok {
			d.status = strings.TrimSpace(v)
			d.hasStatus = true
		}
	}
	return d
}

// usable reports whether the interface can carry traffic, and why not.
func (d description) usable() (bool, string) {
	if !d.flags["UP"] {
		return false, "interface is down"
	}
	if d.hasStatus {
		if d.status != "active" {
			return false, "link status is " + d.status
		}
		return true, ""
	}
	if !d.flags["RUNNING"] {
		return false, "interface is not running"
	}
	return true, ""
}
