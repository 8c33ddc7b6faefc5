// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/wardenai/warden/shared/logger"
)

const (
	defaultBatchSize     = 100
	defaultQueueDepth    = 10000
	defaultFlushInterval = 5 * time.Second
)

// PostgresSink batches audit records into PostgreSQL. Records are queued
// and written asynchronously; a full queue falls back to a synchronous
// write so no record is ever dropped silently.
type PostgresSink struct {
	db       *sql.DB
	queue    chan Record
	log      *logger.Logger
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once

	mu      sync.Mutex
	pending []Record
}

// NewPostgresSink opens the database, ensures the audit table exists, and
// starts the background writer.
func NewPostgresSink(databaseURL string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := createAuditTable(db); err != nil {
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return newPostgresSinkWithDB(db), nil
}

// newPostgresSinkWithDB wires a sink around an existing handle. Split out
// so tests can inject a mock database.
func newPostgresSinkWithDB(db *sql.DB) *PostgresSink {
	s := &PostgresSink{
		db:       db,
		queue:    make(chan Record, defaultQueueDepth),
		log:      logger.New("audit-sink"),
		shutdown: make(chan struct{}),
		pending:  make([]Record, 0, defaultBatchSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Write enqueues one record. When the queue is full the record is written
// synchronously instead.
func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	select {
	case s.queue <- rec:
		return nil
	default:
		s.log.Warn(rec.RequestID, "audit queue full, writing directly", nil)
		return s.writeBatch([]Record{rec})
	}
}

// Close flushes all buffered records and stops the background writer.
func (s *PostgresSink) Close() error {
	s.once.Do(func() {
		close(s.shutdown)
		s.wg.Wait()
	})
	return s.db.Close()
}

func (s *PostgresSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-s.queue:
			s.add(rec)
		case <-ticker.C:
			s.flush()
		case <-s.shutdown:
			s.drain()
			s.flush()
			return
		}
	}
}

func (s *PostgresSink) add(rec Record) {
	s.mu.Lock()
	s.pending = append(s.pending, rec)
	full := len(s.pending) >= defaultBatchSize
	s.mu.Unlock()
	if full {
		s.flush()
	}
}

func (s *PostgresSink) drain() {
	for {
		select {
		case rec := <-s.queue:
			s.mu.Lock()
			s.pending = append(s.pending, rec)
			s.mu.Unlock()
		default:
			return
		}
	}
}

func (s *PostgresSink) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]Record, len(s.pending))
	copy(batch, s.pending)
	s.pending = s.pending[:0]
	s.mu.Unlock()

	if err := s.writeBatch(batch); err != nil {
		s.log.ErrorWithErr("", "failed to write audit batch", err, map[string]interface{}{
			"batch_size": len(batch),
		})
	}
}

func (s *PostgresSink) writeBatch(batch []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO audit_records (
			id, request_id, timestamp, level, route, threat_count,
			outcome, backend, tokens_used, cost_units, elapsed_ms,
			reason, trail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range batch {
		trailJSON, _ := json.Marshal(rec.Trail)
		_, err = stmt.Exec(
			rec.ID,
			rec.RequestID,
			rec.Timestamp,
			rec.Level.String(),
			string(rec.Route),
			rec.ThreatCount,
			string(rec.Outcome),
			rec.Backend,
			rec.TokensUsed,
			rec.CostUnits,
			rec.ElapsedMs,
			rec.Reason,
			trailJSON,
		)
		if err != nil {
			return fmt.Errorf("insert audit record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// IsHealthy pings the database with a short timeout.
func (s *PostgresSink) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

func createAuditTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id VARCHAR(64) PRIMARY KEY,
		request_id VARCHAR(64) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		level VARCHAR(16) NOT NULL,
		route VARCHAR(16) NOT NULL,
		threat_count INTEGER NOT NULL DEFAULT 0,
		outcome VARCHAR(32) NOT NULL,
		backend VARCHAR(64),
		tokens_used INTEGER NOT NULL DEFAULT 0,
		cost_units DECIMAL(12, 6) NOT NULL DEFAULT 0,
		elapsed_ms BIGINT NOT NULL DEFAULT 0,
		reason TEXT,
		trail JSONB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_records_request_id ON audit_records(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_records_outcome ON audit_records(outcome);
	`
	_, err := db.Exec(query)
	return err
}
