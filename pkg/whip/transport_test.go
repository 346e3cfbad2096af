package whip

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/whip-client/pkg/errors"
)

func TestTransportHeaders(t *testing.T) {
	var gotAuth, gotIfMatch, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIfMatch = r.Header.Get("If-Match")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := NewTransport(server.URL, "secret")
	tr.SetVersionToken(`"abc"`)

	res, err := tr.Do(context.Background(), http.MethodPost, server.URL, []byte("v=0\r\n"), "application/sdp")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, `"abc"`, gotIfMatch)
	require.Equal(t, "application/sdp", gotContentType)
}

func TestTransportNoIfMatchBeforeToken(t *testing.T) {
	var gotIfMatch string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIfMatch = r.Header.Get("If-Match")
	}))
	defer server.Close()

	tr := NewTransport(server.URL, "")
	_, err := tr.Do(context.Background(), http.MethodPost, server.URL, nil, "")
	require.NoError(t, err)
	require.Empty(t, gotIfMatch)
}

func TestTransportFollowsRedirects(t *testing.T) {
	var redirected atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/moved")
		w.WriteHeader(http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tr := NewTransport(server.URL+"/old", "")
	tr.OnRedirect = func() { redirected.Add(1) }

	res, err := tr.Do(context.Background(), http.MethodPost, server.URL+"/old", []byte("payload"), "application/sdp")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.Status)
	require.Equal(t, "done", string(res.Body))
	require.Equal(t, int32(1), redirected.Load())
}

func TestTransportRedirectLoop(t *testing.T) {
	hops := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		w.Header().Set("Location", fmt.Sprintf("/hop/%d", hops))
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	tr := NewTransport(server.URL, "")
	_, err := tr.Do(context.Background(), http.MethodPost, server.URL, nil, "")
	require.ErrorIs(t, err, errors.ErrTooManyRedirects)
}

func TestTransportRedirectWithoutLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer server.Close()

	tr := NewTransport(server.URL, "")
	_, err := tr.Do(context.Background(), http.MethodDelete, server.URL, nil, "")
	require.ErrorIs(t, err, errors.ErrMissingLocation)
}

func TestResolveLocation(t *testing.T) {
	for _, tc := range []struct {
		base     string
		location string
		expected string
	}{
		{"https://host.example/endpoint/abc", "/resource/123", "https://host.example/resource/123"},
		{"https://host.example/endpoint/abc", "xyz", "https://host.example/endpoint/xyz"},
		{"https://host.example/endpoint/abc", "https://other.example/r/1", "https://other.example/r/1"},
	} {
		resolved, err := ResolveLocation(tc.base, tc.location)
		require.NoError(t, err)
		require.Equal(t, tc.expected, resolved)
	}
}
