package netiface

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// ErrCertMismatch is returned by CertStore.Verify when a server presents a
// certificate different from the one pinned on a previous connection.
var ErrCertMismatch = errors.New("netiface: certificate does not match pinned value")

// CertStore pins one certificate fingerprint per host under a directory,
// one file per host. It generalizes the original's NewSSLTransport, which
// always sets InsecureSkipVerify and verifies nothing: here, the first
// connection to a host pins its leaf certificate's fingerprint, and every
// later connection is checked against that pin instead of trusting
// blindly forever.
type CertStore struct {
	mu  sync.Mutex
	dir string
}

// NewCertStore returns a CertStore backed by dir, creating it if absent.
func NewCertStore(dir string) (*CertStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "netiface: creating cert dir")
	}
	return &CertStore{dir: dir}, nil
}

func (s *CertStore) path(host string) string {
	return filepath.Join(s.dir, host+".pin")
}

// Verify implements electrum.VerifyFunc: on first contact with host it pins
// the server's leaf certificate fingerprint; on later contacts it requires
// an exact match.
func (s *CertStore) Verify(host string, state *tls.ConnectionState) error {
	if len(state.PeerCertificates) == 0 {
		return errors.New("netiface: no peer certificate presented")
	}
	sum := sha256.Sum256(state.PeerCertificates[0].Raw)
	fingerprint := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(host)
	existing, err := ioutil.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrap(err, "netiface: reading pinned cert")
		}
		if err := ioutil.WriteFile(path, []byte(fingerprint), 0600); err != nil {
			return errors.Wrap(err, "netiface: pinning cert")
		}
		return nil
	}
	if string(existing) != fingerprint {
		return fmt.Errorf("%w: %s", ErrCertMismatch, host)
	}
	return nil
}
