// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/capnotes/sdk/id"
)

// Prefixes for the ids generated for a Request.
const (
	StatePrefix = "st"
	NoncePrefix = "n"
)

// NewID generates an ID with an optional prefix. The ID generated is suitable
// for a Request's State or Nonce.
func NewID(optionalPrefix string) (string, error) {
	const op = "oidc.NewID"
	v, err := id.New(optionalPrefix)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIDGeneratorFailed, err)
	}
	return v, nil
}
