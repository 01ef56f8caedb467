package electrum

import (
	"bufio"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/square/ltcnet/serveraddr"
	"github.com/square/ltcnet/socksproxy"
)

const (
	dialTimeout  = 10 * time.Second
	messageDelim = byte('\n')
)

// transport owns the raw socket. It is line-oriented: Electrum framing is
// exactly one JSON document per newline-terminated line.
type transport struct {
	conn   net.Conn
	reader *bufio.Reader
}

// dial opens a TCP or TLS connection to addr, optionally tunnelled through a
// SOCKS proxy. verify is an optional pinned certificate fingerprint verifier;
// nil means the server's certificate is accepted unconditionally, matching
// a blanket InsecureSkipVerify default for first contact (see
// netiface.CertStore for the pinning that replaces this on repeat connects).
func dial(addr serveraddr.ServerAddr, proxy *serveraddr.ProxySpec, verify VerifyFunc) (*transport, error) {
	hostport := net.JoinHostPort(addr.Host, strconv.Itoa(int(addr.Port)))

	var conn net.Conn
	var err error
	if proxy != nil {
		conn, err = socksproxy.Dial(*proxy, "tcp", hostport, dialTimeout)
	} else {
		conn, err = net.DialTimeout("tcp", hostport, dialTimeout)
	}
	if err != nil {
		return nil, err
	}

	if addr.Proto == serveraddr.SSL {
		tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true, ServerName: addr.Host})
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, err
		}
		if verify != nil {
			state := tlsConn.ConnectionState()
			if err := verify(addr.Host, &state); err != nil {
				tlsConn.Close()
				return nil, err
			}
		}
		conn = tlsConn
	}

	return &transport{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// VerifyFunc pins a server's certificate; see netiface.CertStore.
type VerifyFunc func(host string, state *tls.ConnectionState) error

func (t *transport) writeFrame(b []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	b = append(b, messageDelim)
	n, err := t.conn.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return ErrTimeout
	}
	return nil
}

func (t *transport) readFrame() ([]byte, error) {
	_ = t.conn.SetReadDeadline(time.Time{})
	return t.reader.ReadBytes(messageDelim)
}

func (t *transport) close() error {
	return t.conn.Close()
}

const writeTimeout = 10 * time.Second
