package netiface

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tempCertDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "certstore")
	assert.NoError(t, err)
	return dir
}

func TestVerifyPinsOnFirstContact(t *testing.T) {
	dir := tempCertDir(t)
	defer os.RemoveAll(dir)
	s, err := NewCertStore(dir)
	assert.NoError(t, err)

	state := &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{Raw: []byte("cert-a")}}}
	assert.NoError(t, s.Verify("server1", state))

	// Same cert on a later connection is fine.
	assert.NoError(t, s.Verify("server1", state))
}

func TestVerifyRejectsMismatchedCert(t *testing.T) {
	dir := tempCertDir(t)
	defer os.RemoveAll(dir)
	s, err := NewCertStore(dir)
	assert.NoError(t, err)

	state1 := &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{Raw: []byte("cert-a")}}}
	assert.NoError(t, s.Verify("server1", state1))

	state2 := &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{Raw: []byte("cert-b")}}}
	err = s.Verify("server1", state2)
	assert.Error(t, err)
}

func TestVerifyRejectsNoPeerCertificates(t *testing.T) {
	dir := tempCertDir(t)
	defer os.RemoveAll(dir)
	s, err := NewCertStore(dir)
	assert.NoError(t, err)

	err = s.Verify("server1", &tls.ConnectionState{})
	assert.Error(t, err)
}
