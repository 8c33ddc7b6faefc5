// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLITransport runs a subprocess and streams its stdout line by line. The
// prompt is written to the subprocess's stdin.
type CLITransport struct{}

// NewCLITransport creates the adapter.
func NewCLITransport() *CLITransport {
	return &CLITransport{}
}

// Open starts the subprocess. Cancelling ctx kills it.
func (t *CLITransport) Open(ctx context.Context, prompt string, d Descriptor) (<-chan Chunk, error) {
	if len(d.Command) == 0 {
		return nil, fmt.Errorf("backend %s: empty command", d.Name)
	}

	cmd := exec.CommandContext(ctx, d.Command[0], d.Command[1:]...)
	cmd.Stdin = strings.NewReader(prompt)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ExecutionError{Backend: d.Name, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{Backend: d.Name, Err: err}
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)

		if !emit(ctx, ch, Chunk{Type: ChunkMarker, Text: d.Name}) {
			_ = cmd.Wait()
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if !emit(ctx, ch, Chunk{Type: ChunkText, Text: scanner.Text() + "\n"}) {
				_ = cmd.Wait()
				return
			}
		}

		if err := cmd.Wait(); err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Err: &ExecutionError{Backend: d.Name, Err: err}})
			return
		}
		emit(ctx, ch, Chunk{Type: ChunkDone})
	}()
	return ch, nil
}
