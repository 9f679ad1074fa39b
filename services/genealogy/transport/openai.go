// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// genealogyPrompt instructs the model to emit the line record format.
// The engine's parser tolerates the bracket-doubling drift some models
// produce, so the prompt does not belabor the mark syntax.
const genealogyPrompt = `You trace the genealogy of ideas. Given a concept, list the works,
events, and ideas that shaped it, oldest first, one per line, in exactly
this format:

TITLE (YEAR) [URL] — CLAIM

YEAR may be a 4-digit year, a century phrase, or Unknown. CLAIM is one
sentence explaining the influence. Output only the lines, no preamble.`

// OpenAIOpener produces the line-record wire format from an OpenAI
// chat model. Streaming traces pipe completion deltas straight through
// as bytes; the engine's decoder reassembles them into records.
//
// Thread Safety: OpenAIOpener is safe for concurrent use.
type OpenAIOpener struct {
	client *openai.Client
	model  string
}

// NewOpenAIOpener creates an opener using OPENAI_API_KEY.
//
// Outputs:
//
//	*OpenAIOpener - The opener.
//	error - Non-nil if no API key is available.
func NewOpenAIOpener(model string) (*OpenAIOpener, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = DefaultOpenAIModel
		slog.Warn("no OpenAI model configured, using default", "model", model)
	}
	return &OpenAIOpener{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// OpenStream starts a streaming completion for a top-level trace.
//
// Description:
//
//	Opens a chat completion stream and copies each content delta into
//	an io.Pipe as raw bytes. Deltas split records (and multi-byte
//	runes) at arbitrary boundaries; that is fine, the engine's decoder
//	owns reassembly. Stream errors surface through the pipe's reader.
func (o *OpenAIOpener) OpenStream(ctx context.Context, query, model string) (io.ReadCloser, error) {
	if model == "" {
		model = o.model
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: genealogyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				// A trailing newline terminates the final record in
				// case the model omitted it.
				pw.Write([]byte("\n"))
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(fmt.Errorf("completion stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if _, err := pw.Write([]byte(delta)); err != nil {
				// Reader gone; stop pulling deltas.
				return
			}
		}
	}()

	return pr, nil
}

// FetchGenealogy fetches a complete genealogy for a title in one
// non-streaming completion. Used by node expansion.
func (o *OpenAIOpener) FetchGenealogy(ctx context.Context, title string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultFetchTimeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: genealogyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: title},
		},
	})
	if err != nil {
		return "", fmt.Errorf("fetch genealogy completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
