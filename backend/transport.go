// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"context"
	"fmt"
)

// ChunkType tags one streamed element.
type ChunkType string

const (
	// ChunkMarker identifies the serving backend, emitted first.
	ChunkMarker ChunkType = "marker"

	// ChunkText is a piece of generated text.
	ChunkText ChunkType = "text"

	// ChunkDone ends a successful stream.
	ChunkDone ChunkType = "done"

	// ChunkError ends a failed stream.
	ChunkError ChunkType = "error"
)

// Chunk is one element of a backend's output stream.
type Chunk struct {
	Type ChunkType
	Text string
	Err  error
}

// Transport streams text from one wire-protocol family. Open returns
// immediately with a channel the adapter closes after a done or error
// chunk; adapters stop between chunks when ctx is cancelled.
type Transport interface {
	Open(ctx context.Context, prompt string, d Descriptor) (<-chan Chunk, error)
}

// ExecutionError wraps a transport failure with the backend it came from.
// Execution failures are terminal for the request; there is no retry
// against a different backend.
type ExecutionError struct {
	Backend string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("backend %s execution failed: %v", e.Backend, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TransportFor returns the adapter for a descriptor's transport kind.
func TransportFor(d Descriptor) (Transport, error) {
	switch d.Transport {
	case TransportSSE:
		return NewSSETransport(), nil
	case TransportLocalJSON:
		return NewLocalJSONTransport(), nil
	case TransportCLI:
		return NewCLITransport(), nil
	}
	return nil, fmt.Errorf("backend %s: unknown transport %q", d.Name, d.Transport)
}

// emit sends one chunk unless the context has been cancelled. Returns
// false when the stream should stop.
func emit(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
