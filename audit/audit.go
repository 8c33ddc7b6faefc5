// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package audit defines the immutable audit record emitted for every
// gateway and routing decision, and the sinks that store them durably.
// The core only writes records; it never reads them back.
package audit

import (
	"context"
	"time"

	"github.com/wardenai/warden/gateway"
)

// Outcome is the terminal result of one request.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeBlockedSecret    Outcome = "blocked_secret"
	OutcomeBlockedInjection Outcome = "blocked_injection"
	OutcomeBudgetExceeded   Outcome = "budget_exceeded"
	OutcomeNoBackend        Outcome = "no_backend"
	OutcomeExecutionFailed  Outcome = "execution_failed"
	OutcomeDispatchRejected Outcome = "dispatch_rejected"
)

// Record is one append-only audit entry. Records are immutable after
// creation; ids are unique and monotonically distinguishable.
type Record struct {
	ID          string                   `json:"id"`
	RequestID   string                   `json:"request_id"`
	Timestamp   time.Time                `json:"timestamp"`
	Level       gateway.SensitivityLevel `json:"level"`
	Route       gateway.Route            `json:"route"`
	ThreatCount int                      `json:"threat_count"`
	Outcome     Outcome                  `json:"outcome"`
	Backend     string                   `json:"backend,omitempty"`
	TokensUsed  int                      `json:"tokens_used"`
	CostUnits   float64                  `json:"cost_units"`
	ElapsedMs   int64                    `json:"elapsed_ms"`
	Reason      string                   `json:"reason,omitempty"`
	Trail       []string                 `json:"trail,omitempty"`
}

// Sink accepts audit records for durable storage.
type Sink interface {
	// Write stores one record. Implementations must not mutate it.
	Write(ctx context.Context, rec Record) error

	// Close flushes buffered records and releases resources.
	Close() error
}
