package httpserver

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller's IP address. X-Forwarded-For is honored
// only when the direct peer is inside one of the trusted proxy CIDRs;
// otherwise the peer address wins. The left-most parseable entry of the
// header is used.
func ClientIP(r *http.Request, trustedProxies []netip.Prefix) string {
	peer := peerAddr(r)

	if len(trustedProxies) == 0 || !peerTrusted(peer, trustedProxies) {
		return peer.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	for _, part := range strings.Split(xff, ",") {
		if ip, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
			return ip.String()
		}
	}
	return peer.String()
}

// ParsePrefixes parses CIDR strings, accepting bare IPs as /32 (or /128).
// Unparseable entries are skipped.
func ParsePrefixes(entries []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p)
			continue
		}
		if ip, err := netip.ParseAddr(e); err == nil {
			out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
		}
	}
	return out
}

// PrefixesContain reports whether ip is inside any of the prefixes.
func PrefixesContain(prefixes []netip.Prefix, ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

func peerTrusted(peer netip.Addr, prefixes []netip.Prefix) bool {
	if !peer.IsValid() {
		return false
	}
	for _, p := range prefixes {
		if p.Contains(peer) {
			return true
		}
	}
	return false
}
