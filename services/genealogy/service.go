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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/cache"
	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/events"
)

// Service is the facade the HTTP layer and CLI talk to: one shared
// graph, one expansion controller, and the live trace sessions.
//
// Thread Safety: Service is safe for concurrent use.
type Service struct {
	store      *GraphStore
	opener     StreamOpener
	fetcher    Fetcher
	cache      *cache.TraceCache
	controller *ExpansionController
	emitter    *events.Emitter
	logger     *slog.Logger
	timeout    time.Duration

	mu       sync.RWMutex
	sessions map[string]*TraceSession
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStreamOpener sets the producer for top-level traces.
func WithStreamOpener(opener StreamOpener) ServiceOption {
	return func(s *Service) { s.opener = opener }
}

// WithFetcher sets the producer for node expansions.
func WithFetcher(fetcher Fetcher) ServiceOption {
	return func(s *Service) { s.fetcher = fetcher }
}

// WithCache attaches a completed-trace cache. The service takes
// ownership and closes it on Close.
func WithCache(c *cache.TraceCache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithLogger overrides slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithTraceTimeout overrides the default session timeout.
func WithTraceTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithStore replaces the service's graph store.
func WithStore(store *GraphStore) ServiceOption {
	return func(s *Service) { s.store = store }
}

// NewService assembles a service around an empty graph.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		store:    NewGraphStore(),
		emitter:  events.NewEmitter(),
		logger:   slog.Default(),
		timeout:  DefaultTraceTimeout,
		sessions: make(map[string]*TraceSession),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.fetcher != nil {
		s.controller = NewExpansionController(s.store, s.fetcher,
			WithControllerEmitter(s.emitter),
			WithControllerLogger(s.logger),
		)
	}
	return s
}

// Store exposes the shared graph.
func (s *Service) Store() *GraphStore { return s.store }

// Events exposes the service-level feed carrying expansion lifecycle
// events. Trace events flow through each session's own feed.
func (s *Service) Events() *events.Emitter { return s.emitter }

// NewTrace creates and starts a session for a query.
//
// Description:
//
//	The returned session is already started; callers should have no
//	need to subscribe before the first event because the feed buffers
//	for late joiners.
//
// Outputs:
//
//	*TraceSession - The running session.
//	error - ErrNoBackend when no stream producer is configured, or the
//	session's start failure.
func (s *Service) NewTrace(ctx context.Context, query, model string) (*TraceSession, error) {
	if s.opener == nil {
		return nil, fmt.Errorf("trace %q: %w", query, ErrNoBackend)
	}

	session := NewTraceSession(s.store, s.opener, TraceOptions{
		Query:   query,
		Model:   model,
		Timeout: s.timeout,
		Cache:   s.cache,
		Logger:  s.logger,
	})

	if err := session.Start(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	// Sessions are kept for event replay; reap when settled so the map
	// does not grow without bound.
	go func() {
		<-session.Done()
		time.AfterFunc(time.Minute, func() {
			s.mu.Lock()
			delete(s.sessions, session.ID())
			s.mu.Unlock()
		})
	}()

	return session, nil
}

// Session returns a live session by id.
func (s *Service) Session(id string) (*TraceSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Expand runs a node expansion.
//
// Outputs:
//
//	*ExpandResult - See ExpansionController.Expand.
//	error - ErrNoBackend when no fetch producer is configured, else the
//	controller's error.
func (s *Service) Expand(ctx context.Context, nodeID string) (*ExpandResult, error) {
	if s.controller == nil {
		return nil, fmt.Errorf("expand %q: %w", nodeID, ErrNoBackend)
	}
	return s.controller.Expand(ctx, nodeID)
}

// SaveSnapshot writes the graph to a JSON file.
func (s *Service) SaveSnapshot(path string) error {
	snap := s.store.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// LoadSnapshot restores the graph from a JSON file. A missing file is
// not an error; the graph starts empty.
func (s *Service) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot %s: %w: %v", path, ErrBadSnapshot, err)
	}
	return s.store.Restore(&snap)
}

// Close cancels live sessions and releases owned resources.
func (s *Service) Close() error {
	s.mu.Lock()
	sessions := make([]*TraceSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Cancel()
	}

	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}
