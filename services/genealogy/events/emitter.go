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
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handler is a function that processes events.
type Handler func(event *Event)

// Subscription represents one registered handler.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// Handler processes matching events.
	Handler Handler

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts events to subscribers and buffers them for late
// joiners (an SSE handler may subscribe after the first status event).
//
// Thread Safety: Emitter is safe for concurrent use. Events emitted
// from a single goroutine are delivered to each handler in emission
// order.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
	sessionID     string
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the event buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// WithSessionID stamps all events with a session id.
func WithSessionID(id string) EmitterOption {
	return func(e *Emitter) {
		e.sessionID = id
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each event.
//	types - Event types to subscribe to (none = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Types:   types,
	}
	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription.
//
// Outputs:
//
//	bool - True if the subscription was found and removed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// Emit broadcasts an event to all matching subscribers.
//
// Description:
//
//	Creates the event, appends it to the replay buffer (evicting the
//	oldest entry when full), and invokes matching handlers. Handler
//	panics are recovered so one misbehaving subscriber cannot take
//	down the session.
//
// Thread Safety: This method is safe for concurrent use.
func (e *Emitter) Emit(eventType Type, data any) {
	e.mu.RLock()
	sessionID := e.sessionID
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.RUnlock()

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: now(),
		Data:      data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	e.mu.Unlock()

	for _, sub := range subs {
		if shouldHandle(sub, &event) {
			safeInvoke(sub.Handler, &event)
		}
	}
}

func safeInvoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

func shouldHandle(sub *Subscription, event *Event) bool {
	if len(sub.Types) == 0 {
		return true
	}
	for _, t := range sub.Types {
		if t == event.Type {
			return true
		}
	}
	return false
}

// Buffer returns a copy of the buffered events in emission order.
func (e *Emitter) Buffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Event, len(e.buffer))
	copy(out, e.buffer)
	return out
}

// BufferByType returns buffered events of a specific type.
func (e *Emitter) BufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, event := range e.buffer {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}
