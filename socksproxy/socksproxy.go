// Package socksproxy dials outbound Electrum connections through a SOCKS4 or
// SOCKS5 proxy, so the hostname is resolved by the proxy rather than the
// local machine (see serveraddr.ProxySpec and netmgr's DnsPolicy).
package socksproxy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/square/ltcnet/serveraddr"
)

// ErrUnsupportedMode is returned by Dial for any ProxyMode other than
// socks4/socks5.
var ErrUnsupportedMode = errors.New("socksproxy: unsupported proxy mode")

// Dial connects to addr ("host:port") through the given proxy. The target
// hostname is passed through to the proxy unresolved; it is never looked up
// locally, so no DNS leaks outside the tunnel.
func Dial(proxy serveraddr.ProxySpec, network, addr string, timeout time.Duration) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(proxy.Host, strconv.Itoa(int(proxy.Port)))
	switch proxy.Mode {
	case serveraddr.Socks5:
		p := &socks.Proxy{
			Addr:     proxyAddr,
			Username: proxy.User,
			Password: proxy.Password,
		}
		return p.Dial(network, addr)
	case serveraddr.Socks4:
		return dialSocks4(proxyAddr, addr, timeout)
	default:
		return nil, ErrUnsupportedMode
	}
}

// dialSocks4 performs the (much simpler, username-only) SOCKS4a CONNECT
// handshake. go-socks only implements SOCKS5, so SOCKS4 is hand-rolled here,
// following RFC 1928's predecessor: https://www.openssh.com/txt/socks4.protocol
func dialSocks4(proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", proxyAddr, timeout)
	if err != nil {
		return nil, err
	}

	// SOCKS4a: invalid IP (0.0.0.x) signals "resolve hostname at the
	// proxy"; the hostname follows the (empty) user-id field.
	req := make([]byte, 0, 9+len(host)+1)
	req = append(req, 0x04, 0x01) // version 4, CONNECT
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, uint16(port))
	req = append(req, portBuf...)
	req = append(req, 0, 0, 0, 1) // invalid IP -> SOCKS4a hostname resolution
	req = append(req, 0)          // empty user id, NUL terminated
	req = append(req, []byte(host)...)
	req = append(req, 0)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, err
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, err
	}
	if resp[1] != 0x5a {
		conn.Close()
		return nil, fmt.Errorf("socksproxy: socks4 connect rejected, code %d", resp[1])
	}
	return conn, nil
}
