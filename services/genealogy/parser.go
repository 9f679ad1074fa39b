// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package genealogy

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Record parsing for the two wire formats a genealogy backend may emit.
//
// Line records look like:
//
//	TITLE (YEAR) [URL] — CLAIM
//	TITLE (YEAR) [[URL]] — CLAIM
//
// The bracket-doubling variant is a known drift in backend output; both
// must parse to identical field values. Event frames look like:
//
//	data: {"type":"genealogy_item","title":"...","year":"...","url":"...","claim":"..."}
//
// Parsing never raises: malformed input yields nil so one bad record
// cannot abort a stream.

// lineRecordPattern matches TITLE (YEAR) [URL] — CLAIM with either
// bracket style. The em-dash separator carries exactly one space on
// each side; title backtracks past any parenthesized phrases of its
// own until the bracket mark anchors the year group.
var lineRecordPattern = regexp.MustCompile(`^(.+?)\s*\(([^()]*)\)\s*\[\[?([^\[\]]*)\]\]? — (.*)$`)

// dataPrefix marks a well-formed event frame.
const dataPrefix = "data:"

// ParseLine parses one textual genealogy record.
//
// Description:
//
//	Matches the TITLE (YEAR) [URL] — CLAIM pattern, accepting both the
//	single and doubled bracket mark. Every captured group is trimmed.
//	Blank lines and lines that do not match return nil; callers must
//	treat nil as "not a record", not as a failure.
//
// Inputs:
//
//	line - One line of backend output, with or without surrounding
//	whitespace.
//
// Outputs:
//
//	*GenealogyItem - The parsed record, or nil.
//
// Thread Safety: This function is safe for concurrent use.
func ParseLine(line string) *GenealogyItem {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	matches := lineRecordPattern.FindStringSubmatch(line)
	if matches == nil {
		return nil
	}

	return &GenealogyItem{
		Title: strings.TrimSpace(matches[1]),
		Year:  strings.TrimSpace(matches[2]),
		URL:   strings.TrimSpace(matches[3]),
		Claim: strings.TrimSpace(matches[4]),
	}
}

// ParseEventFrame parses one decoded wire frame.
//
// Description:
//
//	A frame is well-formed only if it starts with the literal "data:"
//	prefix. The remainder is parsed as JSON carrying a "type"
//	discriminator. Recognized types map onto the EventType constants;
//	unrecognized types pass through as EventUnknown with the original
//	payload preserved. Invalid JSON yields nil (swallowed) so one
//	malformed event does not abort the stream.
//
// Inputs:
//
//	frame - One frame as emitted by StreamDecoder.
//
// Outputs:
//
//	*StreamEvent - The typed event, or nil for comments, non-data
//	frames, and malformed payloads.
//
// Thread Safety: This function is safe for concurrent use.
func ParseEventFrame(frame string) *StreamEvent {
	frame = strings.TrimSpace(frame)
	if !strings.HasPrefix(frame, dataPrefix) {
		return nil
	}

	payload := strings.TrimSpace(strings.TrimPrefix(frame, dataPrefix))
	if payload == "" {
		return nil
	}

	var raw struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Title   string `json:"title"`
		Year    string `json:"year"`
		URL     string `json:"url"`
		Claim   string `json:"claim"`
		Section string `json:"section"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil
	}
	if raw.Type == "" {
		return nil
	}

	event := &StreamEvent{
		Message: raw.Message,
		Title:   raw.Title,
		Year:    raw.Year,
		URL:     raw.URL,
		Claim:   raw.Claim,
		Section: raw.Section,
		Text:    raw.Text,
	}

	switch EventType(raw.Type) {
	case EventStatus, EventMorphology, EventGenealogyItem,
		EventSection, EventQuestion, EventError, EventComplete:
		event.Type = EventType(raw.Type)
	default:
		event.Type = EventUnknown
		event.RawType = raw.Type
	}

	if event.Type == EventUnknown || event.Type == EventMorphology {
		event.Raw = json.RawMessage(payload)
	}

	return event
}
