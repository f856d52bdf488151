// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package migrations embeds the sqlite schema migrations.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
