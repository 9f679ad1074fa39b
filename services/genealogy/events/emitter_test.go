// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEmitter_SubscribeAndEmit verifies handlers receive events in
// emission order with populated envelopes.
func TestEmitter_SubscribeAndEmit(t *testing.T) {
	e := NewEmitter(WithSessionID("session-1"))

	var received []*Event
	e.Subscribe(func(event *Event) {
		received = append(received, event)
	})

	e.Emit(TypeStatus, StatusData{Message: "tracing"})
	e.Emit(TypeItem, ItemData{Title: "Stoicism"})

	require.Len(t, received, 2)
	assert.Equal(t, TypeStatus, received[0].Type)
	assert.Equal(t, TypeItem, received[1].Type)
	assert.Equal(t, "session-1", received[0].SessionID)
	assert.NotEmpty(t, received[0].ID)
	assert.NotZero(t, received[0].Timestamp)
	assert.NotEqual(t, received[0].ID, received[1].ID)
}

// TestEmitter_TypeFiltering verifies typed subscriptions only see their
// types while untyped subscriptions see everything.
func TestEmitter_TypeFiltering(t *testing.T) {
	e := NewEmitter()

	var items, all int
	e.Subscribe(func(event *Event) { items++ }, TypeItem)
	e.Subscribe(func(event *Event) { all++ })

	e.Emit(TypeStatus, StatusData{Message: "x"})
	e.Emit(TypeItem, ItemData{Title: "a"})
	e.Emit(TypeItem, ItemData{Title: "b"})
	e.Emit(TypeComplete, CompleteData{})

	assert.Equal(t, 2, items)
	assert.Equal(t, 4, all)
}

// TestEmitter_Unsubscribe verifies removal stops delivery and reports
// whether the subscription existed.
func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter()

	var count int
	id := e.Subscribe(func(event *Event) { count++ })
	require.Equal(t, 1, e.SubscriptionCount())

	e.Emit(TypeStatus, StatusData{})
	assert.True(t, e.Unsubscribe(id))
	e.Emit(TypeStatus, StatusData{})

	assert.Equal(t, 1, count)
	assert.Zero(t, e.SubscriptionCount())
	assert.False(t, e.Unsubscribe(id))
	assert.False(t, e.Unsubscribe("never existed"))
}

// TestEmitter_BufferReplay verifies late joiners can read everything
// emitted before they subscribed.
func TestEmitter_BufferReplay(t *testing.T) {
	e := NewEmitter()

	e.Emit(TypeStatus, StatusData{Message: "early"})
	e.Emit(TypeItem, ItemData{Title: "Stoicism"})

	buffered := e.Buffer()
	require.Len(t, buffered, 2)
	assert.Equal(t, TypeStatus, buffered[0].Type)

	items := e.BufferByType(TypeItem)
	require.Len(t, items, 1)
	assert.Equal(t, "Stoicism", items[0].Data.(ItemData).Title)
}

// TestEmitter_BufferEviction verifies the oldest events fall out when
// the buffer fills.
func TestEmitter_BufferEviction(t *testing.T) {
	e := NewEmitter(WithBufferSize(3))

	e.Emit(TypeStatus, StatusData{Message: "1"})
	e.Emit(TypeStatus, StatusData{Message: "2"})
	e.Emit(TypeStatus, StatusData{Message: "3"})
	e.Emit(TypeStatus, StatusData{Message: "4"})

	buffered := e.Buffer()
	require.Len(t, buffered, 3)
	assert.Equal(t, "2", buffered[0].Data.(StatusData).Message)
	assert.Equal(t, "4", buffered[2].Data.(StatusData).Message)
}

// TestEmitter_HandlerPanicRecovered verifies one panicking subscriber
// does not stop delivery to the others.
func TestEmitter_HandlerPanicRecovered(t *testing.T) {
	e := NewEmitter()

	e.Subscribe(func(event *Event) { panic("subscriber bug") })

	var delivered int
	e.Subscribe(func(event *Event) { delivered++ })

	assert.NotPanics(t, func() {
		e.Emit(TypeStatus, StatusData{})
	})
	assert.Equal(t, 1, delivered)
}

// TestEmitter_ConcurrentEmit verifies concurrent emitters neither race
// nor drop events.
func TestEmitter_ConcurrentEmit(t *testing.T) {
	e := NewEmitter(WithBufferSize(2000))

	var mu sync.Mutex
	var received int
	e.Subscribe(func(event *Event) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Emit(TypeStatus, StatusData{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, received)
	assert.Len(t, e.Buffer(), 1000)
}
