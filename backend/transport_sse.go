// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// SSETransport streams from an external HTTPS endpoint speaking chunked
// server-sent events in the message/content_block event shape.
type SSETransport struct {
	client *http.Client
}

// NewSSETransport creates the adapter with a long streaming timeout; the
// per-request deadline comes from the caller's context.
func NewSSETransport() *SSETransport {
	return &SSETransport{
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

type sseRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Stream    bool         `json:"stream"`
	Messages  []sseMessage `json:"messages"`
}

type sseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sseEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Open starts the SSE stream. The HTTP request failing is returned
// directly; failures mid-stream arrive as an error chunk.
func (t *SSETransport) Open(ctx context.Context, prompt string, d Descriptor) (<-chan Chunk, error) {
	body, err := json.Marshal(sseRequest{
		Model:     d.Model,
		MaxTokens: 4096,
		Stream:    true,
		Messages:  []sseMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if d.APIKeyEnv != "" {
		req.Header.Set("x-api-key", os.Getenv(d.APIKeyEnv))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &ExecutionError{Backend: d.Name, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &ExecutionError{
			Backend: d.Name,
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		if !emit(ctx, ch, Chunk{Type: ChunkMarker, Text: d.Name}) {
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var event sseEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue // skip malformed events
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" {
					if !emit(ctx, ch, Chunk{Type: ChunkText, Text: event.Delta.Text}) {
						return
					}
				}
			case "message_stop":
				emit(ctx, ch, Chunk{Type: ChunkDone})
				return
			case "error":
				msg := "stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				emit(ctx, ch, Chunk{Type: ChunkError, Err: &ExecutionError{
					Backend: d.Name,
					Err:     fmt.Errorf("%s", msg),
				}})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Err: &ExecutionError{Backend: d.Name, Err: err}})
			return
		}
		// Stream ended without message_stop; treat as done.
		emit(ctx, ch, Chunk{Type: ChunkDone})
	}()
	return ch, nil
}
