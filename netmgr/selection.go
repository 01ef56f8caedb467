package netmgr

import (
	"math/rand"
	"strconv"

	"github.com/Masterminds/semver"
	"github.com/square/ltcnet/serveraddr"
	"github.com/square/ltcnet/utils"
)

// ServerEntry is one host's known feature map, the Go shape of the
// original's per-host "portmap" dict (protocol -> port, plus version and
// pruning level).
type ServerEntry struct {
	Host    string
	Ports   map[string]string // "s" -> ssl port, "t" -> tcp port
	Version string
	Pruning string
}

// ProtocolVersion is the protocol version this client requires of peers,
// used by filterVersion to drop servers advertising an older version.
const ProtocolVersion = "1.4"

// parseServers turns a server.peers.subscribe result
// ([][]interface{}{ip, host, features...}) into a host->ServerEntry map,
// following the original's parse_servers almost line for line.
func parseServers(peers [][]interface{}, network utils.Network) map[string]ServerEntry {
	defaultTCP, defaultSSL := utils.DefaultPorts(network)
	out := make(map[string]ServerEntry)
	for _, item := range peers {
		if len(item) < 2 {
			continue
		}
		host, ok := item[1].(string)
		if !ok || host == "" {
			continue
		}
		var features []string
		if len(item) > 2 {
			if raw, ok := item[2].([]interface{}); ok {
				for _, f := range raw {
					if s, ok := f.(string); ok {
						features = append(features, s)
					}
				}
			}
		}
		ports, version, pruning := serveraddr.ParsePeerFeatures(features, "", defaultTCP, defaultSSL)
		if len(ports) == 0 {
			continue
		}
		out[host] = ServerEntry{Host: host, Ports: ports, Version: version, Pruning: pruning}
	}
	return out
}

// filterVersion keeps only entries whose advertised version is >= required,
// using Masterminds/semver for the comparison (the original uses a
// hand-rolled versiontuple() comparison; semver gives us the same "dotted
// integers, left-padded" ordering without reinventing it).
func filterVersion(servers map[string]ServerEntry, required string) map[string]ServerEntry {
	req, err := semver.NewVersion(normalizeVersion(required))
	if err != nil {
		return servers
	}
	out := make(map[string]ServerEntry)
	for host, e := range servers {
		v, err := semver.NewVersion(normalizeVersion(e.Version))
		if err != nil {
			continue
		}
		if !v.LessThan(req) {
			out[host] = e
		}
	}
	return out
}

// normalizeVersion pads a dotted version string ("1.4") to the three-part
// form semver requires ("1.4.0").
func normalizeVersion(v string) string {
	dots := 0
	for _, c := range v {
		if c == '.' {
			dots++
		}
	}
	switch dots {
	case 0:
		return v + ".0.0"
	case 1:
		return v + ".0"
	default:
		return v
	}
}

// filterNoOnion excludes .onion hosts.
func filterNoOnion(servers map[string]ServerEntry) map[string]ServerEntry {
	out := make(map[string]ServerEntry)
	for host, e := range servers {
		addr := serveraddr.ServerAddr{Host: host}
		if !addr.IsOnion() {
			out[host] = e
		}
	}
	return out
}

// filterProtocol renders every entry advertising proto as a serialized
// ServerAddr string, the Go shape of the original's filter_protocol.
func filterProtocol(servers map[string]ServerEntry, proto serveraddr.Proto) []string {
	var out []string
	for host, e := range servers {
		port, ok := e.Ports[string(proto)]
		if !ok || port == "" {
			continue
		}
		portNum, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			continue
		}
		out = append(out, serveraddr.ServerAddr{Host: host, Port: uint16(portNum), Proto: proto}.String())
	}
	return out
}

// pickRandomServer chooses uniformly from servers filtered to proto, minus
// exclude. It returns ("", false) if nothing is eligible.
func pickRandomServer(servers map[string]ServerEntry, proto serveraddr.Proto, exclude map[string]bool) (string, bool) {
	eligible := filterProtocol(servers, proto)
	var candidates []string
	for _, s := range eligible {
		if !exclude[s] {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}
