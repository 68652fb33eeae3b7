// Package dnssec signs assembled responses on the fly with a
// per-zone ZSK and synthesizes NSEC denial of existence.
package dnssec

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/miekg/dns"
)

// Key is a zone signing key with its validity bounds. Zero bounds mean
// unbounded on that side.
type Key struct {
	DNSKEY    *dns.DNSKEY
	Signer    crypto.Signer
	NotBefore time.Time
	NotAfter  time.Time
}

// NewKey wraps an already parsed key pair.
func NewKey(public *dns.DNSKEY, signer crypto.Signer, notBefore, notAfter time.Time) *Key {
	return &Key{DNSKEY: public, Signer: signer, NotBefore: notBefore, NotAfter: notAfter}
}

// LoadKey reads a BIND format key pair (Kname.+alg+tag.key and
// .private) with optional RFC 3339 validity bounds.
func LoadKey(pubFile, privFile, notBefore, notAfter string) (*Key, error) {
	pub, err := os.Open(pubFile)
	if err != nil {
		return nil, fmt.Errorf("open public key: %w", err)
	}
	defer pub.Close()

	rr, err := dns.ReadRR(pub, pubFile)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", pubFile, err)
	}
	dnskey, ok := rr.(*dns.DNSKEY)
	if !ok {
		return nil, fmt.Errorf("%s: not a DNSKEY record", pubFile)
	}

	priv, err := os.Open(privFile)
	if err != nil {
		return nil, fmt.Errorf("open private key: %w", err)
	}
	defer priv.Close()

	secret, err := dnskey.ReadPrivateKey(priv, privFile)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", privFile, err)
	}

	signer, err := asSigner(secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", privFile, err)
	}

	key := &Key{DNSKEY: dnskey, Signer: signer}

	if notBefore != "" {
		if key.NotBefore, err = time.Parse(time.RFC3339, notBefore); err != nil {
			return nil, fmt.Errorf("key not-before: %w", err)
		}
	}
	if notAfter != "" {
		if key.NotAfter, err = time.Parse(time.RFC3339, notAfter); err != nil {
			return nil, fmt.Errorf("key not-after: %w", err)
		}
	}

	return key, nil
}

func asSigner(secret crypto.PrivateKey) (crypto.Signer, error) {
	switch k := secret.(type) {
	case *ecdsa.PrivateKey:
		return k, nil
	case *rsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", secret)
	}
}
