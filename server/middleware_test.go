// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_clientKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{remoteAddr: "[::1]:8080", want: "::1"},
		{remoteAddr: "10.0.0.1", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.remoteAddr, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			assert.Equal(t, tt.want, clientKey(r))
		})
	}
}

func Test_clientLimiter(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var mu sync.Mutex
	now := time.Now()
	l := newClientLimiter(1, 2)
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
	h := l.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(http.StatusNoContent, call("10.0.0.1:1").Code)
	assert.Equal(http.StatusNoContent, call("10.0.0.1:2").Code)
	w := call("10.0.0.1:3")
	assert.Equal(http.StatusTooManyRequests, w.Code)
	assert.Equal("1", w.Header().Get("Retry-After"))
	assert.JSONEq(`{"error":"rate_limited","message":"Too many requests"}`, w.Body.String())

	// other clients have their own bucket
	assert.Equal(http.StatusNoContent, call("10.0.0.2:1").Code)

	advance(time.Second)
	assert.Equal(http.StatusNoContent, call("10.0.0.1:4").Code)

	// idle buckets are dropped on the next cleanup
	advance(limiterCleanupInterval)
	call("10.0.0.3:1")
	l.mu.Lock()
	_, kept := l.limiters["10.0.0.1"]
	n := len(l.limiters)
	l.mu.Unlock()
	assert.False(kept)
	assert.Equal(1, n)
}

func Test_noStore(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	noStore(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func Test_parseTrustedProxies(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	got, err := parseTrustedProxies([]string{"10.1.2.3/8", "192.168.1.1", "::1"})
	require.NoError(err)
	assert.Equal([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.1/32"),
		netip.MustParsePrefix("::1/128"),
	}, got)

	_, err = parseTrustedProxies([]string{"proxy.internal"})
	assert.ErrorIs(err, ErrInvalidParameter)
}

func Test_trustedRealIP(t *testing.T) {
	t.Parallel()
	trusted, err := parseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	tests := []struct {
		name       string
		trusted    []netip.Prefix
		remoteAddr string
		want       string
	}{
		{name: "no proxies configured", remoteAddr: "10.0.0.5:4000", want: "10.0.0.5"},
		{name: "untrusted peer", trusted: trusted, remoteAddr: "203.0.113.9:4000", want: "203.0.113.9"},
		{name: "trusted peer", trusted: trusted, remoteAddr: "10.0.0.5:4000", want: "198.51.100.7"},
		{name: "unparsable peer", trusted: trusted, remoteAddr: "pipe", want: "pipe"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got string
			h := trustedRealIP(tt.trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = clientKey(r)
			}))
			r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
			r.RemoteAddr = tt.remoteAddr
			r.Header.Set("X-Forwarded-For", "198.51.100.7")
			h.ServeHTTP(httptest.NewRecorder(), r)
			assert.Equal(t, tt.want, got)
		})
	}
}
