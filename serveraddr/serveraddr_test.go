package serveraddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerAddrRoundTrip(t *testing.T) {
	cases := []struct {
		host  string
		port  uint16
		proto Proto
	}{
		{"electrum.ltc.xurious.com", 50002, SSL},
		{"ltc.rentonrisk.com", 50001, TCP},
		{"xyz.onion", 50002, SSL},
	}
	for _, c := range cases {
		s := Serialize(c.host, c.port, c.proto)
		addr, err := Deserialize(s)
		assert.NoError(t, err)
		assert.Equal(t, c.host, addr.Host)
		assert.Equal(t, c.port, addr.Port)
		assert.Equal(t, c.proto, addr.Proto)
	}
}

func TestDeserializeBadStrings(t *testing.T) {
	for _, s := range []string{"", "host:50002", "host:50002:x", "host:notaport:s", ":50002:s"} {
		_, err := Deserialize(s)
		assert.Equal(t, ErrBadServerString, err)
	}
}

func TestIsOnion(t *testing.T) {
	addr, err := Deserialize("foo.onion:50002:s")
	assert.NoError(t, err)
	assert.True(t, addr.IsOnion())

	addr, err = Deserialize("foo.example.com:50002:s")
	assert.NoError(t, err)
	assert.False(t, addr.IsOnion())
}

func TestProxyRoundTrip(t *testing.T) {
	p := ProxySpec{Mode: Socks5, Host: "10.0.0.1", Port: 9050, User: "alice", Password: "hunter2"}
	s := SerializeProxy(p)
	got, ok := DeserializeProxy(s)
	assert.True(t, ok)
	assert.Equal(t, p, got)
}

func TestDeserializeProxyNone(t *testing.T) {
	_, ok := DeserializeProxy("none")
	assert.False(t, ok)
	_, ok = DeserializeProxy("None")
	assert.False(t, ok)
}

func TestDeserializeProxyDefaults(t *testing.T) {
	p, ok := DeserializeProxy("socks5:10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, uint16(1080), p.Port)
	assert.Equal(t, "", p.User)
}

func TestParseFormatFeaturesRoundTrip(t *testing.T) {
	ports, version, pruning := ParsePeerFeatures([]string{"s50002", "t50001", "v1.4.2", "p0"}, "mainnet", "50001", "50002")
	assert.Equal(t, "50002", ports["s"])
	assert.Equal(t, "50001", ports["t"])
	assert.Equal(t, "1.4.2", version)
	assert.Equal(t, "0", pruning)

	features := FormatFeatures(ports, version, pruning)
	ports2, version2, pruning2 := ParsePeerFeatures(features, "mainnet", "50001", "50002")
	assert.Equal(t, ports, ports2)
	assert.Equal(t, version, version2)
	assert.Equal(t, pruning, pruning2)
}

func TestParsePeerFeaturesEmptyPort(t *testing.T) {
	ports, _, _ := ParsePeerFeatures([]string{"s"}, "mainnet", "50001", "50002")
	assert.Equal(t, "50002", ports["s"])
}
