// Package admission implements the pre-flight SSRF gate. A URL must pass
// Validate before it is allowed anywhere near the job queue: only http(s)
// schemes are admitted, and the target host must not resolve to loopback,
// private, link-local or cloud-metadata address space. DNS failures reject
// the URL (fail closed).
package admission

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/raysh454/kansa/internal/logging"
)

// ErrRejected is wrapped by every rejection returned from Validate so
// callers can distinguish admission failures from infrastructure errors.
var ErrRejected = errors.New("url rejected")

// Config controls gate behavior.
type Config struct {
	// DNSTimeout bounds hostname resolution. Resolution that does not
	// finish within this window rejects the URL.
	DNSTimeout time.Duration
}

// DefaultConfig returns the gate defaults.
func DefaultConfig() Config {
	return Config{DNSTimeout: 5 * time.Second}
}

// blockedPrefixes covers loopback, RFC1918 private space, link-local,
// multicast/reserved and "this network" ranges for v4 plus their v6
// counterparts.
var blockedPrefixes = func() []netip.Prefix {
	raw := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"224.0.0.0/4",
		"240.0.0.0/4",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		out = append(out, netip.MustParsePrefix(s))
	}
	return out
}()

// blockedHostnames are single-host blocks, primarily cloud metadata
// endpoints that must never be fetched on behalf of a caller.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"metadata.azure.com":       {},
	"169.254.169.254":          {},
}

// Gate validates candidate scan URLs. It is stateless and safe for
// concurrent use.
type Gate struct {
	cfg      Config
	resolver *net.Resolver
	logger   logging.Logger
}

// NewGate creates a Gate. A nil logger disables gate logging.
func NewGate(cfg Config, logger logging.Logger) *Gate {
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = DefaultConfig().DNSTimeout
	}
	return &Gate{
		cfg:      cfg,
		resolver: net.DefaultResolver,
		logger:   logger,
	}
}

// Validate returns nil when the URL may be scanned, or an error wrapping
// ErrRejected describing why it may not. The only side effect is a single
// bounded DNS query for non-literal hostnames.
func (g *Gate) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", ErrRejected, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrRejected, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrRejected)
	}

	if _, ok := blockedHostnames[host]; ok {
		return fmt.Errorf("%w: access to %s is blocked", ErrRejected, host)
	}

	// Literal addresses are checked directly, no DNS involved.
	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: address %s is in a blocked range", ErrRejected, host)
		}
		return nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, g.cfg.DNSTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupNetIP(resolveCtx, "ip", host)
	if err != nil {
		// Fail closed: an unresolvable host is never admitted.
		if g.logger != nil {
			g.logger.Warn("dns resolution failed, rejecting url",
				logging.Field{Key: "host", Value: host},
				logging.Field{Key: "error", Value: err.Error()})
		}
		return fmt.Errorf("%w: could not resolve %s: %v", ErrRejected, host, err)
	}

	for _, addr := range addrs {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: %s resolves to blocked address %s", ErrRejected, host, addr)
		}
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
