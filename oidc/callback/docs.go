// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides the callback handler (in the form of an
http.HandlerFunc) for OIDC provider responses to authorization code flow
authentication attempts, and the stores that hold a login's oidc.Request
between the login redirect and the callback.

A stored request is consumed by the first Read of its state, so a callback
can never be replayed.
*/
package callback
