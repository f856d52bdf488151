// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	encodedLen := base64.RawURLEncoding.EncodedLen(DefaultLen)
	tests := []struct {
		name    string
		prefix  string
		wantLen int
	}{
		{name: "valid", prefix: "st", wantLen: encodedLen + len("st_")},
		{name: "no-prefix", wantLen: encodedLen},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.prefix)
			require.NoError(err)
			assert.Len(got, tt.wantLen)
			if tt.prefix != "" {
				assert.True(strings.HasPrefix(got, tt.prefix+"_"))
			}
			_, err = base64.RawURLEncoding.DecodeString(strings.TrimPrefix(got, tt.prefix+"_"))
			assert.NoError(err)
		})
	}
}

func TestNew_Unique(t *testing.T) {
	t.Parallel()
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		got, err := New("n")
		require.NoError(t, err)
		_, dup := seen[got]
		require.False(t, dup)
		seen[got] = struct{}{}
	}
}
