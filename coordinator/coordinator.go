// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package coordinator owns the per-request lifecycle: classify, budget
// check, gateway, route, stream-execute, validate output, audit. It is the
// single entry point for callers; every outcome comes back as the same
// result shape, and each request leaves exactly one audit line.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenai/warden/audit"
	"github.com/wardenai/warden/backend"
	"github.com/wardenai/warden/budget"
	"github.com/wardenai/warden/gateway"
	"github.com/wardenai/warden/shared/logger"
)

// State is one step of the request lifecycle.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateClassified      State = "CLASSIFIED"
	StateBlocked         State = "BLOCKED"
	StateBudgetOK        State = "BUDGET_OK"
	StateRouted          State = "ROUTED"
	StateExecuting       State = "EXECUTING"
	StateExecutionFailed State = "EXECUTION_FAILED"
	StateExecuted        State = "EXECUTED"
	StateValidated       State = "VALIDATED"
	StateComplete        State = "COMPLETE"
)

// Request is one caller submission.
type Request struct {
	Text string

	// Priority is a caller hint carried into logs and audit, not a
	// scheduling guarantee.
	Priority string

	// SensitivityHint optionally pins the floor of the classification.
	// A hint at CONFIDENTIAL or above forces local routing.
	SensitivityHint string

	// ForcedBackend names an exact backend; incompatibility is a hard
	// error, never a silent substitution.
	ForcedBackend string

	// TaskType shifts routing preference.
	TaskType backend.TaskType
}

// ExecutionResult is the uniform outcome shape for every request.
type ExecutionResult struct {
	RequestID   string   `json:"request_id"`
	Success     bool     `json:"success"`
	Text        string   `json:"text,omitempty"`
	BackendUsed string   `json:"backend_used,omitempty"`
	TokensUsed  int      `json:"tokens_used"`
	CostUnits   float64  `json:"cost_units"`
	ElapsedMs   int64    `json:"elapsed_ms"`
	State       State    `json:"state"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	AuditTrail  []string `json:"audit_trail,omitempty"`
}

// ContextProvider returns bounded prior-context snippets for a task. The
// coordinator prepends them to the prompt unmodified; it neither generates
// nor stores them.
type ContextProvider interface {
	RelevantContext(ctx context.Context, taskText string) ([]string, error)
}

// TransportFunc resolves the transport adapter for a descriptor.
// Injectable so tests execute without network or subprocesses.
type TransportFunc func(d backend.Descriptor) (backend.Transport, error)

const defaultRequestTimeout = 2 * time.Minute

// Config wires a Coordinator.
type Config struct {
	Gateway *gateway.Gateway
	Ledger  *budget.Ledger
	Router  *backend.Router
	Sink    audit.Sink

	// Provider is optional.
	Provider ContextProvider

	// RequestTimeout is the hard per-request execution deadline
	// (default 2m).
	RequestTimeout time.Duration

	// Transports defaults to backend.TransportFor.
	Transports TransportFunc
}

// Coordinator orchestrates the full pipeline.
type Coordinator struct {
	gw         *gateway.Gateway
	ledger     *budget.Ledger
	router     *backend.Router
	sink       audit.Sink
	provider   ContextProvider
	transports TransportFunc
	timeout    time.Duration
	validator  *outputValidator
	log        *logger.Logger
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Transports == nil {
		cfg.Transports = backend.TransportFor
	}
	return &Coordinator{
		gw:         cfg.Gateway,
		ledger:     cfg.Ledger,
		router:     cfg.Router,
		sink:       cfg.Sink,
		provider:   cfg.Provider,
		transports: cfg.Transports,
		timeout:    cfg.RequestTimeout,
		validator:  newOutputValidator(cfg.Gateway.Classifier()),
		log:        logger.New("coordinator"),
	}
}

// run carries the mutable state of one Submit call.
type run struct {
	id       string
	started  time.Time
	state    State
	trail    []string
	decision gateway.GatewayDecision
}

func (r *run) advance(s State, note string) {
	r.state = s
	r.trail = append(r.trail, fmt.Sprintf("%s: %s", s, note))
}

// Submit processes one request end to end. Every step short-circuits to a
// terminal failure on error; a blocked or failed request never spends
// budget and never dispatches.
func (c *Coordinator) Submit(ctx context.Context, req Request) ExecutionResult {
	r := &run{
		id:      uuid.NewString(),
		started: time.Now(),
		state:   StateReceived,
		trail:   []string{fmt.Sprintf("%s: priority=%s task=%s", StateReceived, req.Priority, req.TaskType)},
	}
	c.log.Info(r.id, "request received", map[string]interface{}{
		"bytes":    len(req.Text),
		"task":     string(req.TaskType),
		"priority": req.Priority,
	})

	forceLocal := hintForcesLocal(req.SensitivityHint)
	r.decision = c.gw.Process(req.Text, forceLocal)
	r.advance(StateClassified, fmt.Sprintf("level=%s route=%s", r.decision.Level, r.decision.Route))
	r.trail = append(r.trail, r.decision.Trail...)

	if !r.decision.Allowed {
		r.advance(StateBlocked, r.decision.Reason)
		outcome := audit.OutcomeBlockedInjection
		if r.decision.Level == gateway.LevelSecret {
			outcome = audit.OutcomeBlockedSecret
		}
		return c.fail(ctx, r, outcome, errors.New(r.decision.Reason))
	}

	prompt := c.buildPrompt(ctx, r, req.Text)
	estTokens := estimateTokens(prompt)
	remaining := c.ledger.Remaining()
	r.advance(StateBudgetOK, fmt.Sprintf("est_tokens=%d remaining=%.6f", estTokens, remaining))

	chosen, reason, err := c.router.Select(r.decision, req.TaskType, remaining, estTokens, req.ForcedBackend)
	if err != nil {
		return c.fail(ctx, r, outcomeForRoutingError(err), err)
	}
	r.advance(StateRouted, reason)

	reservedCost := chosen.EstimateCost(estTokens)
	if !c.ledger.TryReserve(reservedCost) {
		return c.fail(ctx, r, audit.OutcomeBudgetExceeded,
			fmt.Errorf("%w: reservation of %.6f rejected", budget.ErrBudgetExceeded, reservedCost))
	}

	if err := c.gw.ValidateBeforeDispatch(prompt, chosen.Name, chosen.MaxLevel, r.decision.Level); err != nil {
		c.ledger.Release(reservedCost)
		return c.fail(ctx, r, audit.OutcomeDispatchRejected, err)
	}
	r.trail = append(r.trail, "pre-dispatch check passed")

	r.advance(StateExecuting, chosen.Name)
	output, execErr := c.execute(ctx, prompt, chosen)
	if execErr != nil {
		c.ledger.Release(reservedCost)
		r.advance(StateExecutionFailed, execErr.Error())
		res := c.fail(ctx, r, audit.OutcomeExecutionFailed, execErr)
		res.BackendUsed = chosen.Name
		return res
	}
	r.advance(StateExecuted, fmt.Sprintf("%d bytes", len(output)))

	warnings := append([]string{}, r.decision.Warnings...)
	warnings = append(warnings, c.validator.Validate(output)...)
	r.advance(StateValidated, fmt.Sprintf("%d warnings", len(warnings)))

	tokensUsed := estTokens + estimateTokens(output)
	actualCost := chosen.EstimateCost(tokensUsed)
	c.ledger.Commit(reservedCost, actualCost)
	r.advance(StateComplete, "spend committed")

	elapsed := time.Since(r.started)
	c.emitAudit(ctx, r, audit.Record{
		Outcome:    audit.OutcomeCompleted,
		Backend:    chosen.Name,
		TokensUsed: tokensUsed,
		CostUnits:  actualCost,
	})
	c.log.InfoWithDuration(r.id, "request complete", float64(elapsed.Milliseconds()), map[string]interface{}{
		"backend": chosen.Name,
		"tokens":  tokensUsed,
		"cost":    actualCost,
	})

	return ExecutionResult{
		RequestID:   r.id,
		Success:     true,
		Text:        output,
		BackendUsed: chosen.Name,
		TokensUsed:  tokensUsed,
		CostUnits:   actualCost,
		ElapsedMs:   elapsed.Milliseconds(),
		State:       r.state,
		Warnings:    warnings,
		AuditTrail:  r.trail,
	}
}

// buildPrompt prepends provider snippets to the gateway-approved text.
func (c *Coordinator) buildPrompt(ctx context.Context, r *run, original string) string {
	text := r.decision.SanitizedText
	if text == "" {
		text = original
	}
	if c.provider == nil {
		return text
	}
	snippets, err := c.provider.RelevantContext(ctx, text)
	if err != nil {
		c.log.Warn(r.id, "context provider failed, continuing without context", map[string]interface{}{
			"error": err.Error(),
		})
		return text
	}
	if len(snippets) == 0 {
		return text
	}
	r.trail = append(r.trail, fmt.Sprintf("context: %d snippets prepended", len(snippets)))
	return strings.Join(snippets, "\n\n") + "\n\n" + text
}

// execute streams the prompt through the chosen backend under the hard
// per-request timeout. Partial output already yielded is kept on failure
// for the error message but never returned as success. There is no retry
// against a different backend.
func (c *Coordinator) execute(ctx context.Context, prompt string, d backend.Descriptor) (string, error) {
	transport, err := c.transports(d)
	if err != nil {
		return "", &backend.ExecutionError{Backend: d.Name, Err: err}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch, err := transport.Open(execCtx, prompt, d)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	done := false
	for chunk := range ch {
		switch chunk.Type {
		case backend.ChunkText:
			b.WriteString(chunk.Text)
		case backend.ChunkError:
			return "", chunk.Err
		case backend.ChunkDone:
			done = true
		}
	}
	if !done {
		if err := execCtx.Err(); err != nil {
			return "", &backend.ExecutionError{Backend: d.Name, Err: fmt.Errorf("stream cancelled: %w", err)}
		}
		return "", &backend.ExecutionError{Backend: d.Name, Err: errors.New("stream ended without completion")}
	}
	return b.String(), nil
}

// fail builds the terminal failure result and emits its audit record.
// Failures carry zero tokens and zero cost.
func (c *Coordinator) fail(ctx context.Context, r *run, outcome audit.Outcome, err error) ExecutionResult {
	elapsed := time.Since(r.started)
	if r.state != StateBlocked && r.state != StateExecutionFailed {
		r.advance(StateBlocked, err.Error())
	}
	c.emitAudit(ctx, r, audit.Record{Outcome: outcome, Reason: err.Error()})
	c.log.Warn(r.id, "request failed", map[string]interface{}{
		"outcome": string(outcome),
		"error":   err.Error(),
	})
	return ExecutionResult{
		RequestID:  r.id,
		Success:    false,
		ElapsedMs:  elapsed.Milliseconds(),
		State:      r.state,
		Error:      err.Error(),
		Warnings:   r.decision.Warnings,
		AuditTrail: r.trail,
	}
}

func (c *Coordinator) emitAudit(ctx context.Context, r *run, rec audit.Record) {
	rec.ID = r.decision.AuditID
	if rec.ID == "" {
		rec.ID = "co-" + r.id[:8]
	}
	rec.RequestID = r.id
	rec.Timestamp = time.Now().UTC()
	rec.Level = r.decision.Level
	rec.Route = r.decision.Route
	rec.ThreatCount = len(r.decision.Threats)
	rec.ElapsedMs = time.Since(r.started).Milliseconds()
	if rec.Reason == "" {
		rec.Reason = r.decision.Reason
	}
	rec.Trail = r.trail

	if err := c.sink.Write(ctx, rec); err != nil {
		c.log.ErrorWithErr(r.id, "audit sink write failed", err, nil)
	}
}

// hintForcesLocal treats a caller hint at CONFIDENTIAL or above as a
// request to keep the text on local infrastructure.
func hintForcesLocal(hint string) bool {
	if hint == "" {
		return false
	}
	level, err := gateway.ParseLevel(strings.ToUpper(hint))
	if err != nil {
		return false
	}
	return level >= gateway.LevelConfidential
}

// estimateTokens approximates token count as one per four bytes.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 && len(text) > 0 {
		return 1
	}
	return n
}

// outcomeForRoutingError maps router errors onto audit outcomes.
func outcomeForRoutingError(err error) audit.Outcome {
	var fbe *backend.ForcedBackendError
	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		return audit.OutcomeBudgetExceeded
	case errors.As(err, &fbe):
		return audit.OutcomeDispatchRejected
	default:
		return audit.OutcomeNoBackend
	}
}
