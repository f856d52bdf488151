// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// KeySet resolves the public keys used to verify JWT signatures. A KeySet is
// expected to be backed by a set of local or remote keys and must be safe for
// concurrent use.
type KeySet interface {
	// Key returns the signing key published under kid. Implementations
	// return ErrKeyNotFound when no such key exists and ErrKeySetFetch when
	// the backing keys could not be retrieved.
	Key(ctx context.Context, kid string) (*SigningKey, error)
}

// SigningKey is a public key from a key set. Keys are shared read-only
// between concurrent verifications and must not be modified.
type SigningKey struct {
	KeyID string

	// Algorithm is the "alg" declared for the key, if any. When set, a token
	// must name the same algorithm in its header.
	Algorithm Alg

	Key crypto.PublicKey

	FetchedAt time.Time
	ExpiresAt time.Time
}

// StaticKeySet serves local PEM-encoded public keys.
type StaticKeySet struct {
	keys map[string]*SigningKey
}

var _ KeySet = (*StaticKeySet)(nil)

// NewStaticKeySet returns a KeySet for the given PEM-encoded public keys. The
// keys must be of PEM-encoded x509 certificate or PKIX public key forms. Each
// key is addressed by its RFC 7638 SHA-256 thumbprint; when the set holds a
// single key it is also returned for tokens that carry no kid.
func NewStaticKeySet(publicKeys []string) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	ks := &StaticKeySet{keys: make(map[string]*SigningKey, len(publicKeys))}
	now := time.Now()
	for _, k := range publicKeys {
		pub, err := ParsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tp, err := (&jose.JSONWebKey{Key: pub}).Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to compute key thumbprint: %w", op, err)
		}
		kid := base64.RawURLEncoding.EncodeToString(tp)
		ks.keys[kid] = &SigningKey{
			KeyID:     kid,
			Key:       pub,
			FetchedAt: now,
		}
	}
	return ks, nil
}

// Key implements KeySet.
func (ks *StaticKeySet) Key(_ context.Context, kid string) (*SigningKey, error) {
	const op = "StaticKeySet.Key"
	if k, ok := ks.keys[kid]; ok {
		return k, nil
	}
	if kid == "" && len(ks.keys) == 1 {
		for _, k := range ks.keys {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
}

// ParsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from
// PEMs.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, err
			}
		}

		switch k := rawKey.(type) {
		case *rsa.PublicKey:
			return k, nil
		case *ecdsa.PublicKey:
			return k, nil
		case ed25519.PublicKey:
			return k, nil
		}
	}

	return nil, errors.New("data does not contain any valid RSA, ECDSA, or ED25519 public keys")
}
