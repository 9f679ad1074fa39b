// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package genealogy

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/cache"
	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/events"
)

// openerFunc adapts a function to the StreamOpener interface.
type openerFunc func(ctx context.Context, query, model string) (io.ReadCloser, error)

func (f openerFunc) OpenStream(ctx context.Context, query, model string) (io.ReadCloser, error) {
	return f(ctx, query, model)
}

func staticOpener(body string) StreamOpener {
	return openerFunc(func(ctx context.Context, query, model string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	})
}

// chunkReader yields its data in fixed-size chunks so frame and rune
// boundaries land mid-chunk.
type chunkReader struct {
	data  []byte
	pos   int
	chunk int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

func waitSettled(t *testing.T, s *TraceSession) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session never settled")
	}
}

// TestTraceSession_LineStream verifies a plain line-record stream
// builds the chain and settles on EOF with a complete event.
func TestTraceSession_LineStream(t *testing.T) {
	store := NewGraphStore()
	opener := staticOpener(
		"Stoicism (300 BC) [] — Virtue as the only good.\n" +
			"Magna Carta (1215) [https://example.org/mc] — Constrained royal power.\n" +
			"The Enlightenment (1700s) [] — Reason over tradition.\n")

	session := NewTraceSession(store, opener, TraceOptions{Query: "Freedom"})
	require.NoError(t, session.Start(context.Background()))
	waitSettled(t, session)
	require.NoError(t, session.Err())

	items := session.Events().BufferByType(events.TypeItem)
	require.Len(t, items, 3)
	first := items[0].Data.(events.ItemData)
	assert.Equal(t, "Stoicism", first.Title)
	assert.True(t, first.WasNew)

	completes := session.Events().BufferByType(events.TypeComplete)
	require.Len(t, completes, 1)
	data := completes[0].Data.(events.CompleteData)
	assert.Equal(t, "freedom", data.ConceptKey)
	assert.Equal(t, 3, data.ItemCount)
	assert.False(t, data.FromCache)

	// Root plus three chained items, two temporal edges, root untouched.
	nodes, edges, concepts := store.Counts()
	assert.Equal(t, 4, nodes)
	assert.Equal(t, 2, edges)
	assert.Equal(t, 1, concepts)
}

// TestTraceSession_EventStream verifies the SSE wire style: typed
// frames drive the feed and the complete event ends the session before
// EOF handling.
func TestTraceSession_EventStream(t *testing.T) {
	store := NewGraphStore()
	opener := staticOpener(
		`data: {"type":"status","message":"tracing influences"}` + "\n\n" +
			`data: {"type":"section","section":"antiquity"}` + "\n\n" +
			`data: {"type":"genealogy_item","title":"Stoicism","year":"300 BC","claim":"Virtue as the only good."}` + "\n\n" +
			`data: {"type":"question","text":"What about non-western roots?"}` + "\n\n" +
			`data: {"type":"confidence","score":0.9}` + "\n\n" +
			`data: {"type":"complete"}` + "\n\n")

	session := NewTraceSession(store, opener, TraceOptions{Query: "freedom"})
	require.NoError(t, session.Start(context.Background()))
	waitSettled(t, session)
	require.NoError(t, session.Err())

	assert.Len(t, session.Events().BufferByType(events.TypeStatus), 1)
	assert.Len(t, session.Events().BufferByType(events.TypeSectionEntered), 1)
	assert.Len(t, session.Events().BufferByType(events.TypeItem), 1)
	assert.Len(t, session.Events().BufferByType(events.TypeComplete), 1)

	questions := session.Events().BufferByType(events.TypeQuestion)
	require.Len(t, questions, 1)
	qData := questions[0].Data.(events.QuestionData)
	assert.NotEmpty(t, qData.NodeID)

	// The question node hangs off the concept root.
	_, storeEdges := store.VisibleSubgraph()
	var questionEdges int
	for _, e := range storeEdges {
		if e.Kind == EdgeKindQuestion {
			questionEdges++
		}
	}
	assert.Equal(t, 1, questionEdges)
}

// TestTraceSession_ChunkedStream verifies reassembly when transport
// chunks split records and multi-byte runes arbitrarily.
func TestTraceSession_ChunkedStream(t *testing.T) {
	body := "Траектория (1957) [] — Запуск первого спутника.\n" +
		"The Printing Press (1440) [] — Enabled mass distribution.\n"

	store := NewGraphStore()
	opener := openerFunc(func(ctx context.Context, query, model string) (io.ReadCloser, error) {
		return &chunkReader{data: []byte(body), chunk: 3}, nil
	})

	session := NewTraceSession(store, opener, TraceOptions{Query: "printing"})
	require.NoError(t, session.Start(context.Background()))
	waitSettled(t, session)
	require.NoError(t, session.Err())

	items := session.Events().BufferByType(events.TypeItem)
	require.Len(t, items, 2)
	assert.Equal(t, "Траектория", items[0].Data.(events.ItemData).Title)
	assert.Equal(t, "The Printing Press", items[1].Data.(events.ItemData).Title)
}

// TestTraceSession_InterleavedProse verifies unparseable lines between
// records are dropped without aborting the stream.
func TestTraceSession_InterleavedProse(t *testing.T) {
	store := NewGraphStore()
	opener := staticOpener(
		"Here are the influences you asked about:\n" +
			"Stoicism (300 BC) [] — Virtue as the only good.\n" +
			"I hope this helps!\n")

	session := NewTraceSession(store, opener, TraceOptions{Query: "freedom"})
	require.NoError(t, session.Start(context.Background()))
	waitSettled(t, session)

	require.NoError(t, session.Err())
	assert.Len(t, session.Events().BufferByType(events.TypeItem), 1)
}

// TestTraceSession_BackendError verifies an error frame settles the
// session with a backend-kind error event.
func TestTraceSession_BackendError(t *testing.T) {
	store := NewGraphStore()
	opener := staticOpener(
		`data: {"type":"status","message":"starting"}` + "\n\n" +
			`data: {"type":"error","message":"model overloaded"}` + "\n\n")

	session := NewTraceSession(store, opener, TraceOptions{Query: "freedom"})
	require.NoError(t, session.Start(context.Background()))
	waitSettled(t, session)

	require.Error(t, session.Err())
	assert.ErrorIs(t, session.Err(), ErrBackendReported)
	assert.NotErrorIs(t, session.Err(), ErrNoBackend)
	assert.NotErrorIs(t, session.Err(), ErrTransport)

	errs := session.Events().BufferByType(events.TypeError)
	require.Len(t, errs, 1)
	data := errs[0].Data.(events.ErrorData)
	assert.Equal(t, events.ErrorKindBackend, data.Kind)
	assert.Contains(t, data.Message, "model overloaded")

	assert.Empty(t, session.Events().BufferByType(events.TypeComplete))
}

// TestTraceSession_Timeout verifies a stream that never completes is
// cut off at the session deadline with a timeout-kind error.
func TestTraceSession_Timeout(t *testing.T) {
	store := NewGraphStore()
	opener := openerFunc(func(ctx context.Context, query, model string) (io.ReadCloser, error) {
		pr, _ := io.Pipe()
		return pr, nil
	})

	session := NewTraceSession(store, opener, TraceOptions{
		Query:   "freedom",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, session.Start(context.Background()))
	waitSettled(t, session)

	assert.ErrorIs(t, session.Err(), ErrTraceTimeout)

	errs := session.Events().BufferByType(events.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, events.ErrorKindTimeout, errs[0].Data.(events.ErrorData).Kind)
}

// TestTraceSession_Cancel verifies cancellation settles the session
// without a complete event.
func TestTraceSession_Cancel(t *testing.T) {
	store := NewGraphStore()
	opener := openerFunc(func(ctx context.Context, query, model string) (io.ReadCloser, error) {
		pr, _ := io.Pipe()
		return pr, nil
	})

	session := NewTraceSession(store, opener, TraceOptions{Query: "freedom"})
	require.NoError(t, session.Start(context.Background()))

	session.Cancel()
	waitSettled(t, session)

	require.Error(t, session.Err())
	assert.NotErrorIs(t, session.Err(), ErrTraceTimeout)
	assert.Empty(t, session.Events().BufferByType(events.TypeComplete))
}

// TestTraceSession_StartTwice verifies sessions are single-shot.
func TestTraceSession_StartTwice(t *testing.T) {
	store := NewGraphStore()
	session := NewTraceSession(store, staticOpener(""), TraceOptions{Query: "freedom"})

	require.NoError(t, session.Start(context.Background()))
	assert.ErrorIs(t, session.Start(context.Background()), ErrSessionStarted)
	waitSettled(t, session)
}

// TestTraceSession_OpenFailure verifies Start surfaces transport
// failures directly and the session still settles.
func TestTraceSession_OpenFailure(t *testing.T) {
	store := NewGraphStore()
	opener := openerFunc(func(ctx context.Context, query, model string) (io.ReadCloser, error) {
		return nil, io.ErrUnexpectedEOF
	})

	session := NewTraceSession(store, opener, TraceOptions{Query: "freedom"})
	err := session.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	waitSettled(t, session)
	assert.ErrorIs(t, session.Err(), ErrTransport)
}

// TestTraceSession_CacheReplay verifies a completed trace replays from
// the cache without touching the backend.
func TestTraceSession_CacheReplay(t *testing.T) {
	traceCache, err := cache.OpenInMemory(time.Hour)
	require.NoError(t, err)
	defer traceCache.Close()

	store := NewGraphStore()
	live := NewTraceSession(store, staticOpener(
		"Stoicism (300 BC) [] — Virtue as the only good.\n"),
		TraceOptions{Query: "freedom", Cache: traceCache})
	require.NoError(t, live.Start(context.Background()))
	waitSettled(t, live)
	require.NoError(t, live.Err())

	// The replayed session must never open a stream.
	opener := openerFunc(func(ctx context.Context, query, model string) (io.ReadCloser, error) {
		t.Fatal("backend contacted on cache hit")
		return nil, nil
	})

	replayStore := NewGraphStore()
	replay := NewTraceSession(replayStore, opener, TraceOptions{Query: "Freedom", Cache: traceCache})
	require.NoError(t, replay.Start(context.Background()))
	waitSettled(t, replay)
	require.NoError(t, replay.Err())

	completes := replay.Events().BufferByType(events.TypeComplete)
	require.Len(t, completes, 1)
	data := completes[0].Data.(events.CompleteData)
	assert.True(t, data.FromCache)
	assert.Equal(t, 1, data.ItemCount)

	nodes, _, _ := replayStore.Counts()
	assert.Equal(t, 2, nodes) // root + replayed item
}

// TestTraceSession_SharedStoreDedup verifies two traces over one store
// cross-reference instead of duplicating.
func TestTraceSession_SharedStoreDedup(t *testing.T) {
	store := NewGraphStore()

	first := NewTraceSession(store, staticOpener(
		"The Enlightenment (1700s) [] — Reason over tradition.\n"),
		TraceOptions{Query: "freedom"})
	require.NoError(t, first.Start(context.Background()))
	waitSettled(t, first)

	second := NewTraceSession(store, staticOpener(
		"Code of Hammurabi (1754 BC) [] — Earliest written law.\n"+
			"The Enlightenment (1700s) [] — Rights argued from reason.\n"),
		TraceOptions{Query: "justice"})
	require.NoError(t, second.Start(context.Background()))
	waitSettled(t, second)

	items := second.Events().BufferByType(events.TypeItem)
	require.Len(t, items, 2)
	assert.True(t, items[0].Data.(events.ItemData).WasNew)
	assert.False(t, items[1].Data.(events.ItemData).WasNew, "deduplicated onto the freedom node")

	// One shared node, one cross_concept edge between the chains.
	_, edges := store.VisibleSubgraph()
	var cross int
	for _, e := range edges {
		if e.Kind == EdgeKindCrossConcept {
			cross++
		}
	}
	assert.Equal(t, 1, cross)
}
