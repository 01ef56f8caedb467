package netmgr

import (
	"testing"

	"github.com/square/ltcnet/serveraddr"
	"github.com/square/ltcnet/utils"
	"github.com/stretchr/testify/assert"
)

func TestParseServersExtractsFeatures(t *testing.T) {
	peers := [][]interface{}{
		{"1.2.3.4", "electrum.example.com", []interface{}{"v1.4.2", "s50002", "t50001"}},
		{"5.6.7.8", "bad.example.com"}, // no feature list, skipped
	}
	servers := parseServers(peers, utils.Mainnet)
	assert.Len(t, servers, 1)
	e := servers["electrum.example.com"]
	assert.Equal(t, "1.4.2", e.Version)
	assert.Equal(t, "50002", e.Ports["s"])
	assert.Equal(t, "50001", e.Ports["t"])
}

func TestParseServersAppliesDefaultPorts(t *testing.T) {
	peers := [][]interface{}{
		{"1.2.3.4", "electrum.example.com", []interface{}{"v1.4", "s", "t"}},
	}
	servers := parseServers(peers, utils.Mainnet)
	e := servers["electrum.example.com"]
	assert.Equal(t, "50002", e.Ports["s"])
	assert.Equal(t, "50001", e.Ports["t"])
}

func TestFilterVersionExcludesOld(t *testing.T) {
	servers := map[string]ServerEntry{
		"old":   {Host: "old", Version: "1.2", Ports: map[string]string{"s": "50002"}},
		"exact": {Host: "exact", Version: "1.4", Ports: map[string]string{"s": "50002"}},
		"new":   {Host: "new", Version: "1.4.2", Ports: map[string]string{"s": "50002"}},
	}
	filtered := filterVersion(servers, ProtocolVersion)
	assert.NotContains(t, filtered, "old")
	assert.Contains(t, filtered, "exact")
	assert.Contains(t, filtered, "new")
}

func TestFilterVersionDropsUnparseable(t *testing.T) {
	servers := map[string]ServerEntry{
		"garbage": {Host: "garbage", Version: "not-a-version"},
	}
	filtered := filterVersion(servers, ProtocolVersion)
	assert.Empty(t, filtered)
}

func TestFilterNoOnionExcludesOnionHosts(t *testing.T) {
	servers := map[string]ServerEntry{
		"clear.example.com": {Host: "clear.example.com"},
		"abc123xyz.onion":   {Host: "abc123xyz.onion"},
	}
	filtered := filterNoOnion(servers)
	assert.Contains(t, filtered, "clear.example.com")
	assert.NotContains(t, filtered, "abc123xyz.onion")
}

func TestFilterProtocolSerializesEligibleHosts(t *testing.T) {
	servers := map[string]ServerEntry{
		"a.example.com": {Host: "a.example.com", Ports: map[string]string{"s": "50002", "t": "50001"}},
		"b.example.com": {Host: "b.example.com", Ports: map[string]string{"t": "50001"}},
	}
	eligible := filterProtocol(servers, serveraddr.SSL)
	assert.Equal(t, []string{"a.example.com:50002:s"}, eligible)
}

func TestPickRandomServerExcludesGiven(t *testing.T) {
	servers := map[string]ServerEntry{
		"only.example.com": {Host: "only.example.com", Ports: map[string]string{"s": "50002"}},
	}
	_, ok := pickRandomServer(servers, serveraddr.SSL, map[string]bool{"only.example.com:50002:s": true})
	assert.False(t, ok)

	picked, ok := pickRandomServer(servers, serveraddr.SSL, nil)
	assert.True(t, ok)
	assert.Equal(t, "only.example.com:50002:s", picked)
}
