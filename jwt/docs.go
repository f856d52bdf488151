// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package jwt verifies JSON Web Tokens issued by an OIDC provider.

Primary types provided by the package:

  - KeySet: resolves verification keys by kid. RemoteKeySet caches a provider's
    published JWKS with TTL and single-flight refresh; StaticKeySet serves local
    PEM keys.

  - Validator: checks a token's structure, header algorithm, signature and
    registered claims, in that order.

  - Expected: the issuer, audiences, algorithms and clock skew a token must
    satisfy.
*/
package jwt
