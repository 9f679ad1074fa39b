// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport connects the genealogy engine to the producers of
// its wire format: an HTTP backend emitting SSE frames, or an OpenAI
// chat model emitting line records directly.
//
// Both producers satisfy the engine's StreamOpener and Fetcher
// capabilities; the engine never knows which one it is talking to.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is the body sent to the genealogy backend.
type Request struct {
	Query string `json:"query"`
	Model string `json:"model,omitempty"`

	// Full requests ask for the complete genealogy as one plain-text
	// body instead of a stream; used by node expansion.
	Full bool `json:"full,omitempty"`
}

// ErrBadStatus indicates the backend answered with a non-2xx status.
var ErrBadStatus = errors.New("backend returned non-success status")

// DefaultFetchTimeout bounds expansion fetches, which read a whole
// response body rather than streaming.
const DefaultFetchTimeout = 45 * time.Second

// HTTPOpener talks to a genealogy backend over HTTP.
//
// OpenStream posts the query and returns the raw SSE body for the
// engine's decoder; FetchGenealogy posts a full request and returns
// the complete line-record body.
//
// Thread Safety: HTTPOpener is safe for concurrent use.
type HTTPOpener struct {
	baseURL string
	model   string
	client  *http.Client
}

// HTTPOption configures an HTTPOpener.
type HTTPOption func(*HTTPOpener)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *HTTPOpener) {
		o.client = client
	}
}

// NewHTTPOpener creates an opener for the backend at baseURL
// (e.g. "http://localhost:5000/genealogy").
func NewHTTPOpener(baseURL, model string, opts ...HTTPOption) *HTTPOpener {
	o := &HTTPOpener{
		baseURL: baseURL,
		model:   model,
		// Streaming responses stay open for the whole trace; the
		// session deadline governs their lifetime via the context.
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OpenStream opens an SSE stream for a top-level trace.
//
// Description:
//
//	Posts the query and hands back the response body unread. The body
//	honors ctx: cancelling the context aborts the connection and
//	unblocks any pending read.
//
// Outputs:
//
//	io.ReadCloser - The raw event stream. Caller must close it.
//	error - Wraps ErrBadStatus for non-2xx answers.
func (o *HTTPOpener) OpenStream(ctx context.Context, query, model string) (io.ReadCloser, error) {
	if model == "" {
		model = o.model
	}

	body, err := json.Marshal(Request{Query: query, Model: model})
	if err != nil {
		return nil, fmt.Errorf("encode trace request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build trace request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open genealogy stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("open genealogy stream: %s: %w", resp.Status, ErrBadStatus)
	}

	return resp.Body, nil
}

// FetchGenealogy fetches the complete genealogy for a title as one
// plain-text body of line records. Used by node expansion.
func (o *HTTPOpener) FetchGenealogy(ctx context.Context, title string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultFetchTimeout)
	defer cancel()

	body, err := json.Marshal(Request{Query: title, Model: o.model, Full: true})
	if err != nil {
		return "", fmt.Errorf("encode fetch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/full", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch genealogy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch genealogy: %s: %w", resp.Status, ErrBadStatus)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read genealogy body: %w", err)
	}

	return string(data), nil
}
