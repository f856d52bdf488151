// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package auth authenticates bearer tokens and enforces scopes.

A Strategy turns a token into an Identity. JWKSStrategy verifies JWTs
against a jwt.KeySet and IntrospectionStrategy asks the authorization
server. Authenticate and RequireScope wrap them as net/http middleware:

	r.With(auth.Authenticate(strategy), auth.RequireScope("notes:read")).
		Get("/notes", listNotes)

Every failure is an *Error with a Kind that selects the HTTP status. Only
the error's Code and Msg are ever written to a client.
*/
package auth
