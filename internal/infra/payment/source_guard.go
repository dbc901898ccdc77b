package payment

import (
	"fmt"
	"net/netip"
	"strings"
)

// DefaultProcessorCIDRs are the ranges the processor publishes for
// notification delivery.
var DefaultProcessorCIDRs = []string{
	"197.97.145.144/28",
	"41.74.179.192/27",
	"102.216.36.0/28",
	"102.216.36.128/28",
	"144.126.193.139/32",
}

// SourceGuard restricts notifications to known sender ranges. An empty guard
// allows every source.
type SourceGuard struct {
	prefixes []netip.Prefix
}

func NewSourceGuard(cidrs []string) (*SourceGuard, error) {
	g := &SourceGuard{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("parse trusted cidr %q: %w", c, err)
		}
		g.prefixes = append(g.prefixes, p.Masked())
	}
	return g, nil
}

func (g *SourceGuard) Enabled() bool { return g != nil && len(g.prefixes) > 0 }

// Allowed reports whether ip (with or without port) is inside a trusted range.
func (g *SourceGuard) Allowed(ip string) bool {
	if !g.Enabled() {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		ap, perr := netip.ParseAddrPort(strings.TrimSpace(ip))
		if perr != nil {
			return false
		}
		addr = ap.Addr()
	}
	addr = addr.Unmap()
	for _, p := range g.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
