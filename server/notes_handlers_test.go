// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/notes"
	"github.com/hashicorp/capnotes/oidc"
)

func TestServer_Notes(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := oidc.StartTestProvider(t)
	e := newTestEnv(t, tp, true)
	alice := tp.IssueAccessToken("alice", "notes:read notes:write")
	bob := tp.IssueAccessToken("bob", "notes:read notes:write")

	status, _, body := e.do(t, http.MethodGet, "/notes", alice, nil)
	require.Equal(http.StatusOK, status, string(body))
	assert.JSONEq(`[]`, string(body))

	status, _, body = e.do(t, http.MethodPost, "/notes", alice, map[string]string{"title": "first", "content": "hello"})
	require.Equal(http.StatusCreated, status, string(body))
	var created notes.Note
	decode(t, body, &created)
	assert.NotEmpty(created.ID)
	assert.Equal("alice", created.OwnerID)
	assert.Equal("first", created.Title)
	assert.Equal("hello", created.Content)

	status, _, body = e.do(t, http.MethodGet, "/notes/"+created.ID, alice, nil)
	require.Equal(http.StatusOK, status, string(body))
	var got notes.Note
	decode(t, body, &got)
	assert.Equal(created.ID, got.ID)

	status, _, body = e.do(t, http.MethodPatch, "/notes/"+created.ID, alice, map[string]string{"title": "renamed"})
	require.Equal(http.StatusOK, status, string(body))
	var updated notes.Note
	decode(t, body, &updated)
	assert.Equal("renamed", updated.Title)
	assert.Equal("hello", updated.Content)
	assert.False(updated.UpdatedAt.Before(created.UpdatedAt))

	status, _, body = e.do(t, http.MethodGet, "/notes", alice, nil)
	require.Equal(http.StatusOK, status)
	var list []notes.Note
	decode(t, body, &list)
	require.Len(list, 1)
	assert.Equal("renamed", list[0].Title)

	// notes are private to their owner
	status, _, body = e.do(t, http.MethodGet, "/notes/"+created.ID, bob, nil)
	assert.Equal(http.StatusNotFound, status)
	var er auth.ErrorResponse
	decode(t, body, &er)
	assert.Equal(auth.ErrorResponse{Error: "not_found", Message: "Note not found"}, er)

	status, _, _ = e.do(t, http.MethodPatch, "/notes/"+created.ID, bob, map[string]string{"title": "mine"})
	assert.Equal(http.StatusNotFound, status)

	status, _, body = e.do(t, http.MethodGet, "/notes", bob, nil)
	require.Equal(http.StatusOK, status)
	assert.JSONEq(`[]`, string(body))
}

func TestServer_Notes_Errors(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	e := newTestEnv(t, tp, true)
	writer := tp.IssueAccessToken("alice", "notes:write")
	reader := tp.IssueAccessToken("alice", "notes:read")
	unscoped := tp.IssueAccessToken("alice", "")
	emptyScope := tp.SignJWT(map[string]interface{}{
		"sub":   "alice",
		"iss":   tp.Addr(),
		"aud":   oidc.TestAccessAudience,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "",
	})

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       interface{}
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name: "no token", method: http.MethodGet, path: "/notes",
			wantStatus: http.StatusUnauthorized, wantCode: "invalid_token", wantMsg: auth.MsgNoAuthorizationHeader,
		},
		{
			name: "list without read scope", method: http.MethodGet, path: "/notes", token: writer,
			wantStatus: http.StatusForbidden, wantCode: "insufficient_scope", wantMsg: "Missing required scope: notes:read",
		},
		{
			name: "create without write scope", method: http.MethodPost, path: "/notes", token: reader,
			body:       map[string]string{"title": "t"},
			wantStatus: http.StatusForbidden, wantCode: "insufficient_scope", wantMsg: "Missing required scope: notes:write",
		},
		{
			name: "no scope claim", method: http.MethodGet, path: "/notes", token: unscoped,
			wantStatus: http.StatusForbidden, wantCode: "insufficient_scope", wantMsg: "Missing required scope: notes:read",
		},
		{
			name: "empty scope claim", method: http.MethodGet, path: "/notes", token: emptyScope,
			wantStatus: http.StatusForbidden, wantCode: "insufficient_scope", wantMsg: "Missing required scope: notes:read",
		},
		{
			name: "missing title", method: http.MethodPost, path: "/notes", token: writer,
			body:       map[string]string{"content": "no title"},
			wantStatus: http.StatusBadRequest, wantCode: "invalid_request", wantMsg: "Title is required",
		},
		{
			name: "not json", method: http.MethodPost, path: "/notes", token: writer,
			body:       "just a string",
			wantStatus: http.StatusBadRequest, wantCode: "invalid_request", wantMsg: "Request body must be a JSON object",
		},
		{
			name: "empty title on update", method: http.MethodPatch, path: "/notes/unknown", token: writer,
			body:       map[string]string{"title": " "},
			wantStatus: http.StatusBadRequest, wantCode: "invalid_request", wantMsg: "Title cannot be empty",
		},
		{
			name: "update unknown", method: http.MethodPatch, path: "/notes/unknown", token: writer,
			body:       map[string]string{"content": "x"},
			wantStatus: http.StatusNotFound, wantCode: "not_found", wantMsg: "Note not found",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			status, hdr, body := e.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(tt.wantStatus, status, string(body))
			var er auth.ErrorResponse
			decode(t, body, &er)
			assert.Equal(tt.wantCode, er.Error)
			assert.Equal(tt.wantMsg, er.Message)
			if tt.wantStatus == http.StatusForbidden {
				assert.Contains(hdr.Get("WWW-Authenticate"), `error="insufficient_scope"`)
			}
		})
	}
}
