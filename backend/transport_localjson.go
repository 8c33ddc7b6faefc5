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
	"strings"
	"time"
)

// LocalJSONTransport streams from a locally hosted model server that
// answers with newline-delimited JSON objects, one per chunk.
type LocalJSONTransport struct {
	client *http.Client
}

// NewLocalJSONTransport creates the adapter.
func NewLocalJSONTransport() *LocalJSONTransport {
	return &LocalJSONTransport{
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

type localJSONRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type localJSONChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Open starts the streaming generation request.
func (t *LocalJSONTransport) Open(ctx context.Context, prompt string, d Descriptor) (<-chan Chunk, error) {
	body, err := json.Marshal(localJSONRequest{
		Model:  d.Model,
		Prompt: prompt,
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
			if line == "" {
				continue
			}

			var chunk localJSONChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				emit(ctx, ch, Chunk{Type: ChunkError, Err: &ExecutionError{
					Backend: d.Name,
					Err:     fmt.Errorf("%s", chunk.Error),
				}})
				return
			}
			if chunk.Response != "" {
				if !emit(ctx, ch, Chunk{Type: ChunkText, Text: chunk.Response}) {
					return
				}
			}
			if chunk.Done {
				emit(ctx, ch, Chunk{Type: ChunkDone})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Err: &ExecutionError{Backend: d.Name, Err: err}})
			return
		}
		emit(ctx, ch, Chunk{Type: ChunkDone})
	}()
	return ch, nil
}
