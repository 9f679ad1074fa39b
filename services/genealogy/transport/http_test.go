// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenStream verifies the request shape and that the body comes
// back unread.
func TestOpenStream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/genealogy/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "freedom", req.Query)
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Full)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"complete"}`+"\n\n")
	}))
	defer backend.Close()

	opener := NewHTTPOpener(backend.URL+"/genealogy", "default-model")
	body, err := opener.OpenStream(context.Background(), "freedom", "test-model")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"complete"`)
}

// TestOpenStream_DefaultModel verifies the opener's model fills an
// empty request model.
func TestOpenStream_DefaultModel(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "default-model", req.Model)
	}))
	defer backend.Close()

	opener := NewHTTPOpener(backend.URL, "default-model")
	body, err := opener.OpenStream(context.Background(), "freedom", "")
	require.NoError(t, err)
	body.Close()
}

// TestOpenStream_BadStatus verifies non-2xx answers wrap ErrBadStatus.
func TestOpenStream_BadStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusBadGateway)
	}))
	defer backend.Close()

	opener := NewHTTPOpener(backend.URL, "")
	_, err := opener.OpenStream(context.Background(), "freedom", "")
	assert.ErrorIs(t, err, ErrBadStatus)
}

// TestFetchGenealogy verifies the full-body fetch used by expansion.
func TestFetchGenealogy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/genealogy/full", r.URL.Path)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "The Enlightenment", req.Query)
		assert.True(t, req.Full)

		io.WriteString(w, "Reformation (1517) [] — Broke the monopoly on interpretation.\n")
	}))
	defer backend.Close()

	opener := NewHTTPOpener(backend.URL+"/genealogy", "")
	body, err := opener.FetchGenealogy(context.Background(), "The Enlightenment")
	require.NoError(t, err)
	assert.Contains(t, body, "Reformation (1517)")
}

// TestFetchGenealogy_BadStatus verifies the error path.
func TestFetchGenealogy_BadStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer backend.Close()

	opener := NewHTTPOpener(backend.URL, "")
	_, err := opener.FetchGenealogy(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrBadStatus)
}

// TestOpenStream_ContextCancel verifies cancelling the context aborts
// the connection attempt.
func TestOpenStream_ContextCancel(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opener := NewHTTPOpener(backend.URL, "")
	_, err := opener.OpenStream(ctx, "freedom", "")
	assert.Error(t, err)
}
