// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"

	"github.com/wardenai/warden/shared/logger"
)

// LogSink writes audit records to the structured logger. It is the
// fallback sink when no database is configured, and the default in tests.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink {
	return &LogSink{log: logger.New("audit-log-sink")}
}

// Write logs one record as a structured entry.
func (s *LogSink) Write(ctx context.Context, rec Record) error {
	s.log.Info(rec.RequestID, "audit record", map[string]interface{}{
		"audit_id":     rec.ID,
		"level":        rec.Level.String(),
		"route":        string(rec.Route),
		"outcome":      string(rec.Outcome),
		"threat_count": rec.ThreatCount,
		"backend":      rec.Backend,
		"tokens_used":  rec.TokensUsed,
		"cost_units":   rec.CostUnits,
		"elapsed_ms":   rec.ElapsedMs,
	})
	return nil
}

// Close is a no-op for the log sink.
func (s *LogSink) Close() error { return nil }
