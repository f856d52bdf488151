// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capnotes/config"
)

func TestRootCmd_Flags(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	v := config.New()
	root := newRootCmd(v)

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(err)
	require.NoError(root.PersistentFlags().Parse([]string{"--log-level", "debug", "--log-format", "json"}))
	require.NoError(serve.Flags().Parse([]string{"--port", "8081", "--database", "notes.db"}))

	assert.Equal(8081, v.GetInt("port"))
	assert.Equal("notes.db", v.GetString("database_path"))
	assert.Equal("debug", v.GetString("log_level"))
	assert.Equal("json", v.GetString("log_format"))
	// unset flags keep the defaults
	assert.Equal("http://localhost:5173", v.GetString("frontend_url"))
}

func Test_newLogger(t *testing.T) {
	t.Parallel()
	l := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})
	assert.Equal(t, "capnotes", l.Name())
	assert.False(t, l.IsInfo())
	assert.True(t, l.IsWarn())
}
