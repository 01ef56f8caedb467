package netmgr

import "github.com/square/ltcnet/serveraddr"

// DnsPolicy decides how a new connection's hostname gets resolved. The
// original patches the process-wide socket.getaddrinfo whenever a proxy is
// set, so every DNS lookup in the process — not just Electrum dials — goes
// through the tunnel. That global patching is unwanted here; instead the
// policy is an explicit value threaded through NetworkManager and down to
// electrum.Dial, so only Electrum connections are affected.
type DnsPolicy interface {
	// ForDial returns the proxy electrum.Dial should use for a new
	// connection, or nil to resolve and dial directly.
	ForDial() *serveraddr.ProxySpec
}

// proxyDnsPolicy routes every dial through proxy, so hostnames are never
// resolved on the local machine (matching the original's DNS-leak
// prevention rationale for its getaddrinfo monkey-patch).
type proxyDnsPolicy struct {
	proxy serveraddr.ProxySpec
}

// NewProxyDnsPolicy returns a DnsPolicy that tunnels every dial through proxy.
func NewProxyDnsPolicy(proxy serveraddr.ProxySpec) DnsPolicy {
	return proxyDnsPolicy{proxy: proxy}
}

func (p proxyDnsPolicy) ForDial() *serveraddr.ProxySpec {
	return &p.proxy
}

// directDnsPolicy resolves and dials locally, with no proxy.
type directDnsPolicy struct{}

// NewDirectDnsPolicy returns a DnsPolicy that dials directly.
func NewDirectDnsPolicy() DnsPolicy {
	return directDnsPolicy{}
}

func (directDnsPolicy) ForDial() *serveraddr.ProxySpec {
	return nil
}
