// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
users is a package for the accounts behind authenticated identities: local
username/password accounts, and accounts linked to an external provider
subject the first time that subject logs in.

Persistence is delegated to a Store; see store/sqlite for the sqlite
implementation.
*/
package users
