// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is a package for writing clients that integrate with OIDC
providers using the authorization code flow.

Primary types provided by the package:

* Request: represents one authorization code flow for a user. It carries
the state and nonce of the flow and is consumed exactly once by the
callback.

* Token: represents the tokens returned by a successful code exchange. The
secret values are redacted when formatted or marshaled.

* Config: provides the configuration for a provider.

* Provider: discovers the provider at construction and provides AuthURL,
Exchange, VerifyIDToken, UserInfo and LogoutURL.

* TestProvider: an in-process OIDC provider for tests.

Errors returned by Provider are *auth.Error values wrapping this package's
sentinel errors, so both errors.Is(err, auth.ErrProvider) and
errors.Is(err, oidc.ErrExchangeFailed) hold for a failed exchange.
*/
package oidc
