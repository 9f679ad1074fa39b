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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/events"
)

// fetcherFunc adapts a function to the Fetcher interface.
type fetcherFunc func(ctx context.Context, title string) (string, error)

func (f fetcherFunc) FetchGenealogy(ctx context.Context, title string) (string, error) {
	return f(ctx, title)
}

func expandableNode(t *testing.T, s *GraphStore) Node {
	t.Helper()
	c := s.AddConcept("freedom")
	n, _, err := s.AddItem(item("The Enlightenment", "1700s"), c.NormalizedKey, "")
	require.NoError(t, err)
	return n
}

// TestExpand_Success verifies records merge under the synthetic
// concept with expansion edges from the parent.
func TestExpand_Success(t *testing.T) {
	s := NewGraphStore()
	parent := expandableNode(t, s)

	fetcher := fetcherFunc(func(ctx context.Context, title string) (string, error) {
		assert.Equal(t, "The Enlightenment", title)
		return "Scientific Revolution (1543) [] — Empiricism displaced scholastic authority.\n" +
			"Reformation (1517) [] — Broke the monopoly on interpretation.\n", nil
	})

	emitter := events.NewEmitter()
	ctrl := NewExpansionController(s, fetcher, WithControllerEmitter(emitter))

	result, err := ctrl.Expand(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, ExpandStatusExpanded, result.Status)
	assert.Len(t, result.NewNodeIDs, 2)

	got, _ := s.Node(parent.ID)
	assert.Equal(t, ExpansionExpanded, got.ExpansionState)

	// Children live under the synthetic concept, linked by expansion
	// edges from the parent.
	syntheticKey := ExpansionConceptKey(parent.ID)
	concept, ok := s.Concept(syntheticKey)
	require.True(t, ok)
	assert.Empty(t, concept.RootNodeID)
	assert.ElementsMatch(t, result.NewNodeIDs, concept.NodeIDs)

	_, edges := s.VisibleSubgraph()
	var expansionEdges int
	for _, e := range edges {
		if e.Kind == EdgeKindExpansion {
			expansionEdges++
			assert.Equal(t, parent.ID, e.SourceID)
		}
	}
	assert.Equal(t, 2, expansionEdges)

	// Lifecycle events bracket the expansion.
	started := emitter.BufferByType(events.TypeExpansionStarted)
	finished := emitter.BufferByType(events.TypeExpansionFinished)
	require.Len(t, started, 1)
	require.Len(t, finished, 1)
	data, ok := finished[0].Data.(events.ExpansionFinishedData)
	require.True(t, ok)
	assert.Equal(t, "expanded", data.Status)
}

// TestExpand_SkipsExactTitles verifies the strict duplicate check:
// records whose exact title already names a genealogy node are dropped.
func TestExpand_SkipsExactTitles(t *testing.T) {
	s := NewGraphStore()
	parent := expandableNode(t, s)

	fetcher := fetcherFunc(func(ctx context.Context, title string) (string, error) {
		return "The Enlightenment (1700s) [] — The node being expanded itself.\n" +
			"Reformation (1517) [] — Something genuinely new.\n", nil
	})

	ctrl := NewExpansionController(s, fetcher)
	result, err := ctrl.Expand(context.Background(), parent.ID)
	require.NoError(t, err)

	require.Len(t, result.NewNodeIDs, 1)
	node, ok := s.Node(result.NewNodeIDs[0])
	require.True(t, ok)
	assert.Equal(t, "Reformation", node.Title)
}

// TestExpand_EmptyResult verifies the nothing-found outcome: success,
// status empty, node retryable.
func TestExpand_EmptyResult(t *testing.T) {
	s := NewGraphStore()
	parent := expandableNode(t, s)

	fetcher := fetcherFunc(func(ctx context.Context, title string) (string, error) {
		return "No records here, just prose.\n", nil
	})

	ctrl := NewExpansionController(s, fetcher)
	result, err := ctrl.Expand(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, ExpandStatusEmpty, result.Status)
	assert.Empty(t, result.NewNodeIDs)

	got, _ := s.Node(parent.ID)
	assert.Equal(t, ExpansionUnexpanded, got.ExpansionState)

	// Retry succeeds when the source improves.
	better := NewExpansionController(s, fetcherFunc(func(ctx context.Context, title string) (string, error) {
		return "Reformation (1517) [] — New this time.\n", nil
	}))
	retried, err := better.Expand(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, ExpandStatusExpanded, retried.Status)
}

// TestExpand_FetchFailure verifies failures reset the node and emit a
// failed lifecycle event.
func TestExpand_FetchFailure(t *testing.T) {
	s := NewGraphStore()
	parent := expandableNode(t, s)

	boom := errors.New("backend unreachable")
	fetcher := fetcherFunc(func(ctx context.Context, title string) (string, error) {
		return "", boom
	})

	emitter := events.NewEmitter()
	ctrl := NewExpansionController(s, fetcher, WithControllerEmitter(emitter))

	_, err := ctrl.Expand(context.Background(), parent.ID)
	require.ErrorIs(t, err, boom)

	got, _ := s.Node(parent.ID)
	assert.Equal(t, ExpansionUnexpanded, got.ExpansionState, "failure stays retryable")

	finished := emitter.BufferByType(events.TypeExpansionFinished)
	require.Len(t, finished, 1)
	data := finished[0].Data.(events.ExpansionFinishedData)
	assert.Equal(t, "failed", data.Status)
	assert.Contains(t, data.Error, "backend unreachable")
}

// TestExpand_TypedErrors verifies lookups and state conflicts surface
// as sentinel errors.
func TestExpand_TypedErrors(t *testing.T) {
	s := NewGraphStore()
	c := s.AddConcept("freedom")
	ctrl := NewExpansionController(s, fetcherFunc(func(ctx context.Context, title string) (string, error) {
		return "", nil
	}))

	_, err := ctrl.Expand(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = ctrl.Expand(context.Background(), c.RootNodeID)
	assert.ErrorIs(t, err, ErrNotExpandable)
}

// TestExpand_ConcurrentConflict verifies a second expand of the same
// node while one is in flight observes ErrAlreadyExpanding.
func TestExpand_ConcurrentConflict(t *testing.T) {
	s := NewGraphStore()
	parent := expandableNode(t, s)

	fetchStarted := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetcherFunc(func(ctx context.Context, title string) (string, error) {
		close(fetchStarted)
		<-release
		return "Reformation (1517) [] — Claim.\n", nil
	})

	ctrl := NewExpansionController(s, fetcher)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := ctrl.Expand(context.Background(), parent.ID)
		assert.NoError(t, err)
		assert.Equal(t, ExpandStatusExpanded, result.Status)
	}()

	select {
	case <-fetchStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	_, err := ctrl.Expand(context.Background(), parent.ID)
	assert.ErrorIs(t, err, ErrAlreadyExpanding)

	close(release)
	wg.Wait()

	_, err = ctrl.Expand(context.Background(), parent.ID)
	assert.ErrorIs(t, err, ErrAlreadyExpanded)
}
