// Package serveraddr implements the codecs for Electrum server and proxy
// address strings, and the peer-feature grammar used by
// server.peers.subscribe.
package serveraddr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Proto is the wire protocol an Interface speaks to a server.
type Proto string

const (
	TCP Proto = "t"
	SSL Proto = "s"
)

// ServerAddr identifies one Electrum server.
type ServerAddr struct {
	Host  string
	Port  uint16
	Proto Proto
}

// ErrBadServerString is returned by Deserialize for any string that isn't
// "host:port:s" or "host:port:t".
var ErrBadServerString = errors.New("serveraddr: bad server string")

// Serialize renders a ServerAddr in its canonical "host:port:s|t" form.
func Serialize(host string, port uint16, proto Proto) string {
	return fmt.Sprintf("%s:%d:%s", host, port, proto)
}

// String is the canonical form of addr.
func (addr ServerAddr) String() string {
	return Serialize(addr.Host, addr.Port, addr.Proto)
}

// Deserialize parses the canonical "host:port:s|t" form. It is the exact
// inverse of Serialize for every valid triple.
func Deserialize(s string) (ServerAddr, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ServerAddr{}, ErrBadServerString
	}
	host, portStr, protoStr := parts[0], parts[1], parts[2]
	if host == "" {
		return ServerAddr{}, ErrBadServerString
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ServerAddr{}, ErrBadServerString
	}
	var proto Proto
	switch protoStr {
	case string(TCP):
		proto = TCP
	case string(SSL):
		proto = SSL
	default:
		return ServerAddr{}, ErrBadServerString
	}
	return ServerAddr{Host: host, Port: uint16(port), Proto: proto}, nil
}

// IsOnion reports whether addr is a Tor hidden-service host.
func (addr ServerAddr) IsOnion() bool {
	return strings.HasSuffix(addr.Host, ".onion")
}

// ProxyMode is the SOCKS dialect a ProxySpec speaks.
type ProxyMode string

const (
	Socks4 ProxyMode = "socks4"
	Socks5 ProxyMode = "socks5"
)

// ProxySpec describes a SOCKS proxy to dial outbound connections through.
type ProxySpec struct {
	Mode     ProxyMode
	Host     string
	Port     uint16
	User     string
	Password string
}

// DefaultProxySpec is the proxy assumed when a serialized proxy string omits
// fields: socks5, localhost, port 1080 (8080 for an http mode, which this
// codec accepts syntactically but set_parameters rejects — see netmgr).
func DefaultProxySpec() ProxySpec {
	return ProxySpec{Mode: Socks5, Host: "localhost", Port: 1080}
}

// SerializeProxy renders p as "mode:host:port:user:pw", with user/pw left
// blank when absent.
func SerializeProxy(p ProxySpec) string {
	return strings.Join([]string{
		string(p.Mode), p.Host, strconv.Itoa(int(p.Port)), p.User, p.Password,
	}, ":")
}

// DeserializeProxy parses the "mode:host:port:user:pw" form. "none"
// (case-insensitive) deserializes to (ProxySpec{}, false). Absent trailing
// fields fall back to DefaultProxySpec's values, except port, which defaults
// to 8080 for an "http" mode token and 1080 otherwise.
func DeserializeProxy(s string) (ProxySpec, bool) {
	if strings.EqualFold(s, "none") {
		return ProxySpec{}, false
	}
	p := DefaultProxySpec()
	args := strings.Split(s, ":")
	n := 0
	if n < len(args) && (args[n] == string(Socks4) || args[n] == string(Socks5) || args[n] == "http") {
		p.Mode = ProxyMode(args[n])
		n++
	}
	if n < len(args) {
		p.Host = args[n]
		n++
	}
	if n < len(args) {
		port, err := strconv.ParseUint(args[n], 10, 16)
		if err == nil {
			p.Port = uint16(port)
		}
		n++
	} else {
		if p.Mode == "http" {
			p.Port = 8080
		} else {
			p.Port = 1080
		}
	}
	if n < len(args) {
		p.User = args[n]
		n++
	}
	if n < len(args) {
		p.Password = args[n]
	}
	return p, true
}

// PeerFeature describes one (protocol, port) or metadata entry from a
// server.peers.subscribe features list.
type PeerFeature struct {
	Proto   string // "s" or "t", empty if this entry was a version/pruning tag
	Port    string
	Version string
	Pruning string
}

var (
	protoFeatureRe = regexp.MustCompile(`^[st]\d*$`)
	versionRe      = regexp.MustCompile(`^v.+$`)
	pruningRe      = regexp.MustCompile(`^p\d*$`)
)

// ParsePeerFeatures classifies one server's raw feature-string list into
// per-protocol ports plus a version and pruning level. Unrecognized tokens
// are ignored, matching the original's behaviour.
func ParsePeerFeatures(features []string, network string, defaultTCP, defaultSSL string) (ports map[string]string, version string, pruning string) {
	ports = make(map[string]string)
	pruning = "0"
	for _, f := range features {
		switch {
		case protoFeatureRe.MatchString(f):
			proto, port := f[:1], f[1:]
			if port == "" {
				if proto == string(TCP) {
					port = defaultTCP
				} else {
					port = defaultSSL
				}
			}
			ports[proto] = port
		case versionRe.MatchString(f):
			version = f[1:]
		case pruningRe.MatchString(f):
			pruning = f[1:]
			if pruning == "" {
				pruning = "0"
			}
		}
	}
	return ports, version, pruning
}

// FormatFeatures is the inverse of ParsePeerFeatures: it renders a port map
// plus version/pruning back into the wire feature-string list. It round
// trips with ParsePeerFeatures for the shapes that function produces (ports
// populated with explicit values, never the "" shorthand).
func FormatFeatures(ports map[string]string, version, pruning string) []string {
	out := make([]string, 0, len(ports)+2)
	for _, proto := range []string{string(TCP), string(SSL)} {
		if port, ok := ports[proto]; ok {
			out = append(out, proto+port)
		}
	}
	if version != "" {
		out = append(out, "v"+version)
	}
	out = append(out, "p"+pruning)
	return out
}
