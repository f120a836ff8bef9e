// Package privacy implements PrivacyGate: a runtime-togglable whitelist
// check that every network-classified tool call must pass before an
// outbound request is allowed.
package privacy

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
)

// DefaultWhitelist is the whitelist a freshly constructed Gate starts with.
func DefaultWhitelist() []string {
	return []string{"127.0.0.1", "localhost", "192.168.0.0/16", "10.0.0.0/8", "172.16.0.0/12"}
}

// Gate is the PrivacyGate: a single runtime boolean plus a whitelist of
// hostnames, IPs, and CIDRs. Enabling/disabling never persists on its own —
// the caller is responsible for seeding the initial state from a
// start_in_privacy_mode flag.
type Gate struct {
	mu       sync.RWMutex
	enabled  bool
	hosts    map[string]bool
	nets     []*net.IPNet
	resolver func(host string) ([]net.IP, error)
	dnsCache map[string][]net.IP
	log      *slog.Logger
}

// New builds a Gate seeded with DefaultWhitelist and the given initial
// enabled state.
func New(startEnabled bool) *Gate {
	g := &Gate{
		enabled:  startEnabled,
		resolver: net.LookupIP,
		dnsCache: make(map[string][]net.IP),
		log:      slog.Default().With("component", "privacy"),
	}
	_ = g.SetWhitelist(DefaultWhitelist())
	return g
}

// SetWhitelist replaces the whitelist wholesale. Each entry is either an
// exact hostname, a bare IP, or a CIDR; entries that parse as an IP or CIDR
// are checked against resolved/literal addresses, everything else is
// checked as an exact, case-insensitive hostname match.
func (g *Gate) SetWhitelist(entries []string) error {
	hosts := make(map[string]bool, len(entries))
	var nets []*net.IPNet

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			nets = append(nets, &net.IPNet{IP: ip, Mask: singleHostMask(ip)})
			continue
		}
		hosts[strings.ToLower(entry)] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.hosts = hosts
	g.nets = nets
	g.dnsCache = make(map[string][]net.IP)
	return nil
}

func singleHostMask(ip net.IP) net.IPMask {
	if ip4 := ip.To4(); ip4 != nil {
		return net.CIDRMask(32, 32)
	}
	return net.CIDRMask(128, 128)
}

// Enable turns privacy mode on and invalidates the DNS cache.
func (g *Gate) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = true
	g.dnsCache = make(map[string][]net.IP)
}

// Disable turns privacy mode off and invalidates the DNS cache.
func (g *Gate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = false
	g.dnsCache = make(map[string][]net.IP)
}

// Toggle flips the enabled flag and invalidates the DNS cache, returning
// the new state.
func (g *Gate) Toggle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = !g.enabled
	g.dnsCache = make(map[string][]net.IP)
	return g.enabled
}

// IsEnabled reports whether privacy mode is currently on.
func (g *Gate) IsEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// IsAllowedEndpoint reports whether urlOrHost may be reached. When privacy
// mode is disabled every endpoint is allowed. Input may be a full URL or a
// bare hostname/IP.
func (g *Gate) IsAllowedEndpoint(urlOrHost string) bool {
	g.mu.RLock()
	enabled := g.enabled
	g.mu.RUnlock()
	if !enabled {
		return true
	}

	host := extractHost(urlOrHost)
	if host == "" {
		g.deny(urlOrHost, "could not determine hostname")
		return false
	}

	g.mu.RLock()
	allowedHost := g.hosts[strings.ToLower(host)]
	g.mu.RUnlock()
	if allowedHost {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		if g.ipAllowed(ip) {
			return true
		}
		g.deny(urlOrHost, "IP address not in whitelist")
		return false
	}

	ips, err := g.resolve(host)
	if err != nil || len(ips) == 0 {
		g.deny(urlOrHost, "unable to resolve hostname")
		return false
	}
	for _, ip := range ips {
		if g.ipAllowed(ip) {
			return true
		}
	}
	g.deny(urlOrHost, "resolved address not in whitelist")
	return false
}

func (g *Gate) ipAllowed(ip net.IP) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// resolve looks up host via DNS, caching the result until the next toggle.
func (g *Gate) resolve(host string) ([]net.IP, error) {
	key := strings.ToLower(host)

	g.mu.RLock()
	cached, ok := g.dnsCache[key]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	ips, err := g.resolver(host)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.dnsCache[key] = ips
	g.mu.Unlock()
	return ips, nil
}

func (g *Gate) deny(target, reason string) {
	g.log.Info("privacy gate blocked endpoint", "target", target, "reason", reason)
}

// extractHost pulls the hostname (or bare IP, brackets stripped) out of
// either a full URL or a bare host[:port] string.
func extractHost(urlOrHost string) string {
	trimmed := strings.TrimSpace(urlOrHost)
	if trimmed == "" {
		return ""
	}

	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}

	if host, _, err := net.SplitHostPort(trimmed); err == nil {
		return host
	}
	return strings.Trim(trimmed, "[]")
}
