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
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/cache"
	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/events"
)

// DefaultTraceTimeout bounds a whole trace session, covering both slow
// backends and streams that trickle forever without completing.
const DefaultTraceTimeout = 60 * time.Second

// readChunkSize is the buffer handed to stream reads. Small enough to
// exercise frame reassembly constantly, large enough to not matter.
const readChunkSize = 4096

// StreamOpener is the injected capability that opens the backend event
// stream for a top-level trace.
type StreamOpener interface {
	OpenStream(ctx context.Context, query, model string) (io.ReadCloser, error)
}

// TraceOptions configures one trace session.
type TraceOptions struct {
	// Query is the user-entered concept to trace. Required.
	Query string

	// Model forwarded to the backend. Empty uses the opener's default.
	Model string

	// Timeout bounds the whole session. Zero means DefaultTraceTimeout.
	Timeout time.Duration

	// Cache, when non-nil, is consulted before opening the stream and
	// written through on completion.
	Cache *cache.TraceCache

	// Logger overrides slog.Default().
	Logger *slog.Logger
}

// TraceSession drives one top-level trace: it opens the backend stream,
// reassembles frames, merges records into the shared graph, and emits
// the typed event feed.
//
// Sessions are single-shot. Subscribe before Start; Start returns once
// the pipeline is running and Done unblocks when it settles.
//
// Thread Safety: all exported methods are safe for concurrent use, but
// Start may be called only once.
type TraceSession struct {
	id         string
	query      string
	model      string
	conceptKey string
	timeout    time.Duration

	store   *GraphStore
	opener  StreamOpener
	cache   *cache.TraceCache
	emitter *events.Emitter
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	err     error
	done    chan struct{}

	// Pipeline state, touched only by the processing goroutine.
	prevNodeID string
	itemCount  int
	finished   bool
	items      []cache.CachedItem
	questions  []string
}

// NewTraceSession creates a session for the given query. The concept is
// not registered and no network activity happens until Start.
func NewTraceSession(store *GraphStore, opener StreamOpener, opts TraceOptions) *TraceSession {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTraceTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	return &TraceSession{
		id:         id,
		query:      opts.Query,
		model:      opts.Model,
		conceptKey: NormalizeConceptKey(opts.Query),
		timeout:    timeout,
		store:      store,
		opener:     opener,
		cache:      opts.Cache,
		emitter:    events.NewEmitter(events.WithSessionID(id)),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// ID returns the session's unique id.
func (s *TraceSession) ID() string { return s.id }

// ConceptKey returns the normalized key of the concept being traced.
func (s *TraceSession) ConceptKey() string { return s.conceptKey }

// Events exposes the session's event feed for subscription.
func (s *TraceSession) Events() *events.Emitter { return s.emitter }

// Done is closed when the session has settled, successfully or not.
func (s *TraceSession) Done() <-chan struct{} { return s.done }

// Err returns the session's terminal error, nil before settlement and
// on success.
func (s *TraceSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel aborts an in-flight session. Settled sessions are unaffected.
func (s *TraceSession) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Start begins the trace.
//
// Description:
//
//	Registers the concept (idempotently) and checks the cache. A hit
//	replays the cached trace through the normal merge path and settles
//	immediately; a miss opens the backend stream and starts the
//	pipeline. Start returns once the pipeline is launched; observe
//	completion through Done and the event feed.
//
// Outputs:
//
//	error - ErrSessionStarted on reuse, or a wrapped ErrTransport when
//	the stream cannot be opened. Mid-stream failures surface through
//	Err and the event feed instead.
func (s *TraceSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.started = true
	s.mu.Unlock()

	s.store.AddConcept(s.query)

	if s.cache != nil {
		cached, hit, err := s.cache.Get(ctx, s.query, s.model)
		if err != nil {
			s.logger.Warn("trace cache read failed",
				slog.String("query", s.query),
				slog.String("error", err.Error()),
			)
		}
		if hit {
			s.replay(cached)
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	body, err := s.opener.OpenStream(ctx, s.query, s.model)
	if err != nil {
		err = fmt.Errorf("open stream for %q: %w: %v", s.query, ErrTransport, err)
		s.settle(err)
		cancel()
		return err
	}

	go s.run(ctx, cancel, body)
	return nil
}

// run owns the pipeline: a reader goroutine feeds stream bytes through
// the decoder into apply, and a watcher closes the body on cancellation
// so a blocked read cannot outlive the deadline.
func (s *TraceSession) run(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser) {
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	readDone := make(chan struct{})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			body.Close()
			return nil
		case <-readDone:
			return nil
		}
	})

	g.Go(func() error {
		defer close(readDone)
		defer body.Close()

		// Line framing handles both producers: SSE frames are single
		// lines, and blank separator lines decode to empty frames the
		// decoder drops.
		var applyErr error
		decoder := NewStreamDecoder(LineDelimiter, func(frame string) {
			if applyErr != nil || s.finished {
				return
			}
			applyErr = s.apply(frame)
		})

		buf := make([]byte, readChunkSize)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				decoder.Write(buf[:n])
				if applyErr != nil {
					return applyErr
				}
				if s.finished {
					return nil
				}
			}
			if errors.Is(err, io.EOF) {
				decoder.Close()
				if applyErr != nil {
					return applyErr
				}
				if !s.finished {
					// Plain line producers end with EOF instead of a
					// complete event.
					s.complete()
				}
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return fmt.Errorf("read stream: %w: %v", ErrTransport, err)
			}
		}
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil && !s.finished {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("trace %q: %w", s.query, ErrTraceTimeout)
	}

	// A terminal event already settled the outcome; read errors racing
	// the body close afterwards are noise. Backend error frames carry
	// their error through.
	if s.finished && !errors.Is(err, ErrBackendReported) {
		err = nil
	}

	if err != nil {
		if !errors.Is(err, ErrBackendReported) {
			kind := events.ErrorKindTransport
			if errors.Is(err, ErrTraceTimeout) {
				kind = events.ErrorKindTimeout
			}
			s.emitter.Emit(events.TypeError, events.ErrorData{
				Kind:    kind,
				Message: err.Error(),
			})
		}
		s.logger.Warn("trace session failed",
			slog.String("query", s.query),
			slog.String("error", err.Error()),
		)
	}
	s.settle(err)
}

// apply merges one reassembled frame. A non-nil return or a set
// finished flag stops the pipeline.
func (s *TraceSession) apply(frame string) error {
	if event := ParseEventFrame(frame); event != nil {
		return s.applyEvent(event)
	}

	if item := ParseLine(frame); item != nil {
		s.ingest(item)
		return nil
	}

	// Prose the backend interleaves between records. Dropped.
	s.logger.Debug("unparseable frame dropped", slog.String("frame", frame))
	return nil
}

func (s *TraceSession) applyEvent(event *StreamEvent) error {
	switch event.Type {
	case EventStatus:
		s.emitter.Emit(events.TypeStatus, events.StatusData{Message: event.Message})

	case EventGenealogyItem:
		s.ingest(event.Item())

	case EventSection:
		s.emitter.Emit(events.TypeSectionEntered, events.SectionData{Name: event.Section})

	case EventQuestion:
		s.question(event.Text)

	case EventMorphology, EventUnknown:
		// No graph semantics; kept out of the feed.
		s.logger.Debug("frame ignored", slog.String("type", string(event.RawType)))

	case EventError:
		s.finished = true
		s.emitter.Emit(events.TypeError, events.ErrorData{
			Kind:    events.ErrorKindBackend,
			Message: event.Message,
		})
		return fmt.Errorf("trace %q: %w: %s", s.query, ErrBackendReported, event.Message)

	case EventComplete:
		s.complete()
	}
	return nil
}

// ingest merges one parsed record and emits the item event.
func (s *TraceSession) ingest(item *GenealogyItem) {
	node, wasNew, err := s.store.AddItem(item, s.conceptKey, s.prevNodeID)
	if err != nil {
		// Concept removed mid-trace. Drop the record.
		s.logger.Warn("item dropped",
			slog.String("query", s.query),
			slog.String("error", err.Error()),
		)
		return
	}

	s.prevNodeID = node.ID
	s.itemCount++
	s.items = append(s.items, cache.CachedItem{
		Title: item.Title,
		Year:  item.Year,
		URL:   item.URL,
		Claim: item.Claim,
	})

	s.emitter.Emit(events.TypeItem, events.ItemData{
		NodeID: node.ID,
		Title:  node.Title,
		Year:   node.Year,
		URL:    node.URL,
		Claim:  node.Claim,
		WasNew: wasNew,
	})
}

// question attaches an open question to the concept's root.
func (s *TraceSession) question(text string) {
	if text == "" {
		return
	}
	node, err := s.store.AddQuestion(text, s.conceptKey)
	if err != nil {
		s.logger.Warn("question dropped",
			slog.String("query", s.query),
			slog.String("error", err.Error()),
		)
		return
	}
	s.questions = append(s.questions, text)
	s.emitter.Emit(events.TypeQuestion, events.QuestionData{
		NodeID: node.ID,
		Text:   text,
	})
}

// complete settles the session successfully and writes the cache.
func (s *TraceSession) complete() {
	s.finished = true
	s.emitter.Emit(events.TypeComplete, events.CompleteData{
		ConceptKey: s.conceptKey,
		ItemCount:  s.itemCount,
	})

	if s.cache != nil && len(s.items) > 0 {
		err := s.cache.Put(context.Background(), &cache.CachedTrace{
			Query:     s.query,
			Model:     s.model,
			Items:     s.items,
			Questions: s.questions,
		})
		if err != nil {
			s.logger.Warn("trace cache write failed",
				slog.String("query", s.query),
				slog.String("error", err.Error()),
			)
		}
	}
}

// replay feeds a cached trace through the normal merge path, so dedup
// and cross-referencing behave exactly as they would live.
func (s *TraceSession) replay(cached *cache.CachedTrace) {
	for _, item := range cached.Items {
		s.ingest(&GenealogyItem{
			Title: item.Title,
			Year:  item.Year,
			URL:   item.URL,
			Claim: item.Claim,
		})
	}
	for _, q := range cached.Questions {
		s.question(q)
	}

	s.finished = true
	s.emitter.Emit(events.TypeComplete, events.CompleteData{
		ConceptKey: s.conceptKey,
		ItemCount:  s.itemCount,
		FromCache:  true,
	})
	s.settle(nil)
}

// settle records the terminal error and unblocks Done exactly once.
func (s *TraceSession) settle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}
