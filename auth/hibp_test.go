package auth

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashParts(pw string) (string, string) {
	sum := sha1.Sum([]byte(pw))
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	return h[:5], h[5:]
}

func TestHIBPLookup(t *testing.T) {
	const pw = "hunter2"
	prefix, suffix := hashParts(pw)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintf(w, "0000000000000000000000000000000000A:3\r\n")
		fmt.Fprintf(w, "%s:17\r\n", strings.ToLower(suffix))
	}))
	t.Cleanup(srv.Close)

	h := &HIBP{BaseURL: srv.URL, Client: srv.Client()}
	res, err := h.Lookup(context.Background(), pw)
	require.NoError(t, err)
	assert.Equal(t, "/"+prefix, gotPath)
	assert.True(t, res.Found)
	assert.Equal(t, 17, res.Count)

	count, err := h.Check(context.Background(), pw)
	require.NoError(t, err)
	assert.Equal(t, 17, count)
}

func TestHIBPNotFoundAndPadding(t *testing.T) {
	const pw = "Correct-Horse-Battery-9"
	_, suffix := hashParts(pw)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s:0\r\n", suffix)
		fmt.Fprintf(w, "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF:9\r\n")
	}))
	t.Cleanup(srv.Close)

	res, err := (&HIBP{BaseURL: srv.URL + "/", Client: srv.Client()}).Lookup(context.Background(), pw)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Zero(t, res.Count)
}

func TestHIBPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := (&HIBP{BaseURL: srv.URL, Client: srv.Client()}).Check(context.Background(), "x")
	assert.ErrorContains(t, err, "unexpected status")

	const pw = "abc"
	_, suffix := hashParts(pw)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s:many\r\n", suffix)
	}))
	t.Cleanup(bad.Close)

	_, err = (&HIBP{BaseURL: bad.URL, Client: bad.Client()}).Check(context.Background(), pw)
	assert.ErrorContains(t, err, "parse count")
}
