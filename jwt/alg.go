// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Alg represents asymmetric signing algorithms
type Alg string

const (
	// JOSE asymmetric signing algorithm values as defined by RFC 7518.
	//
	// See: https://tools.ietf.org/html/rfc7518#section-3.1
	RS256 Alg = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 Alg = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 Alg = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	ES256 Alg = "ES256" // ECDSA using P-256 and SHA-256
	ES384 Alg = "ES384" // ECDSA using P-384 and SHA-384
	ES512 Alg = "ES512" // ECDSA using P-521 and SHA-512
	PS256 Alg = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 Alg = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 Alg = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
	EdDSA Alg = "EdDSA" // Ed25519 using SHA-512
)

// DefaultSigningAlgorithms is used when Expected.SigningAlgorithms is empty.
var DefaultSigningAlgorithms = []Alg{RS256}

// supportedAlgorithms never contains HMAC or "none". A token header naming
// either is rejected no matter what a caller configures.
var supportedAlgorithms = map[Alg]jose.SignatureAlgorithm{
	RS256: jose.RS256,
	RS384: jose.RS384,
	RS512: jose.RS512,
	ES256: jose.ES256,
	ES384: jose.ES384,
	ES512: jose.ES512,
	PS256: jose.PS256,
	PS384: jose.PS384,
	PS512: jose.PS512,
	EdDSA: jose.EdDSA,
}

// SupportedSigningAlgorithm returns an error if any of the given Algs
// are not supported signing algorithms.
func SupportedSigningAlgorithm(algs ...Alg) error {
	for _, a := range algs {
		if _, ok := supportedAlgorithms[a]; !ok {
			return fmt.Errorf("unsupported signing algorithm %q: %w", a, ErrUnsupportedAlg)
		}
	}
	return nil
}

func joseAlgorithms(algs []Alg) []jose.SignatureAlgorithm {
	out := make([]jose.SignatureAlgorithm, 0, len(algs))
	for _, a := range algs {
		out = append(out, supportedAlgorithms[a])
	}
	return out
}

func containsAlg(algs []Alg, a Alg) bool {
	for _, v := range algs {
		if v == a {
			return true
		}
	}
	return false
}
