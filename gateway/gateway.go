// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wardenai/warden/shared/logger"
)

// Blocking errors surfaced by the gateway. Both are fatal for the request
// and not retryable without editing the input.
var (
	// ErrClassificationBlocked means SECRET content was detected.
	ErrClassificationBlocked = errors.New("classification blocked: secret content detected")

	// ErrInjectionBlocked means the injection policy rejected the text.
	ErrInjectionBlocked = errors.New("injection blocked: policy violation")
)

// PreDispatchError is the hard failure returned by ValidateBeforeDispatch.
type PreDispatchError struct {
	Backend string
	Reason  string
}

func (e *PreDispatchError) Error() string {
	return fmt.Sprintf("pre-dispatch check failed for backend %s: %s", e.Backend, e.Reason)
}

// Gateway composes the classifier, sanitizer, and injection scanner into
// one allow/block/route decision. Once any layer blocks, no later layer
// executes; every outcome emits a unique audit id and a structured trail.
type Gateway struct {
	classifier *Classifier
	sanitizer  *Sanitizer
	scanner    *InjectionScanner
	log        *logger.Logger
	seq        atomic.Uint64
}

// Config configures the Gateway.
type Config struct {
	// ScannerMode selects the injection blocking policy (default strict).
	ScannerMode ScannerMode

	// AnonymizeTerms are product/organization names redacted in all text.
	AnonymizeTerms []string
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		classifier: NewClassifier(),
		sanitizer:  NewSanitizer(cfg.AnonymizeTerms),
		scanner:    NewInjectionScanner(cfg.ScannerMode),
		log:        logger.New("gateway"),
	}
}

// Classifier exposes the gateway's classifier for budget previews and the
// output validator.
func (g *Gateway) Classifier() *Classifier { return g.classifier }

// Sanitizer exposes the gateway's sanitizer.
func (g *Gateway) Sanitizer() *Sanitizer { return g.sanitizer }

// Process runs the full safety pipeline over text and decides whether and
// how it may reach a backend. forceLocal pins the route to LOCAL regardless
// of classification.
//
// Sequence: classify; SECRET blocks immediately. Pick the candidate route.
// Scan for injection; a policy violation blocks. Sanitize when the route is
// external or the classification requires it, then re-classify the
// sanitized text once as defense-in-depth: if its level still exceeds what
// the route allows, fail over to LOCAL. The route never escalates toward a
// more permissive choice.
func (g *Gateway) Process(text string, forceLocal bool) GatewayDecision {
	auditID := g.nextAuditID()
	trail := []string{fmt.Sprintf("received: %d bytes", len(text))}

	classification := g.classifier.Classify(text)
	trail = append(trail, fmt.Sprintf("classified: %s", classification.Level))

	decision := GatewayDecision{
		AuditID:        auditID,
		Level:          classification.Level,
		Classification: classification,
	}

	if classification.Level == LevelSecret {
		decision.Allowed = false
		decision.Route = RouteBlocked
		decision.Reason = ErrClassificationBlocked.Error()
		decision.Trail = append(trail, "blocked: secret content")
		g.logDecision(decision)
		return decision
	}

	route := RouteExternal
	if forceLocal || classification.Level == LevelConfidential {
		route = RouteLocal
	}
	trail = append(trail, fmt.Sprintf("candidate route: %s", route))

	threats, blocked := g.scanner.Analyze(text)
	decision.Threats = threats
	if blocked {
		decision.Allowed = false
		decision.Route = RouteBlocked
		decision.Reason = ErrInjectionBlocked.Error()
		decision.Trail = append(trail, fmt.Sprintf("blocked: %d injection threats (%s mode)", len(threats), g.scanner.Mode()))
		g.logDecision(decision)
		return decision
	}

	working := text
	if len(threats) > 0 {
		working = g.scanner.Neutralize(working)
		decision.Warnings = append(decision.Warnings,
			fmt.Sprintf("neutralized %d low-severity injection matches", len(threats)))
		trail = append(trail, "neutralized injection matches")
	}

	if route == RouteExternal || classification.RequiresSanitization {
		san := g.sanitizer.Sanitize(working)
		decision.Sanitization = &san
		working = san.Text
		trail = append(trail, fmt.Sprintf("sanitized: %d categories replaced", len(san.Replacements)))

		// Defense-in-depth: re-check the sanitized text once. Never loop,
		// never escalate; a level the route cannot carry fails over to LOCAL.
		recheck := g.classifier.Classify(working)
		trail = append(trail, fmt.Sprintf("reclassified sanitized text: %s", recheck.Level))
		if route == RouteExternal && recheck.Level > LevelInternal {
			route = RouteLocal
			decision.Warnings = append(decision.Warnings,
				"sanitized text still above external threshold; failed over to local route")
			trail = append(trail, "route failover: EXTERNAL -> LOCAL")
		}
	}

	decision.Allowed = true
	decision.Route = route
	decision.SanitizedText = working
	decision.Reason = fmt.Sprintf("allowed at level %s via %s route", classification.Level, route)
	decision.Trail = append(trail, fmt.Sprintf("decision: allowed route=%s", route))
	g.logDecision(decision)
	return decision
}

// ValidateBeforeDispatch is the final idempotent check immediately before
// network dispatch. It re-runs the narrow secret-pattern scan over the text
// actually being sent and confirms the backend's maximum level still covers
// the decided level. Any violation is a hard failure for the whole
// operation, not a soft warning.
func (g *Gateway) ValidateBeforeDispatch(text, backendName string, backendMaxLevel, decidedLevel SensitivityLevel) error {
	if found, reasons := g.classifier.HasSecrets(text); found {
		return &PreDispatchError{
			Backend: backendName,
			Reason:  fmt.Sprintf("secret pattern present at dispatch: %v", reasons),
		}
	}
	if decidedLevel > backendMaxLevel {
		return &PreDispatchError{
			Backend: backendName,
			Reason: fmt.Sprintf("backend max level %s does not cover decided level %s",
				backendMaxLevel, decidedLevel),
		}
	}
	return nil
}

// nextAuditID returns a unique, monotonically distinguishable audit id.
func (g *Gateway) nextAuditID() string {
	seq := g.seq.Add(1)
	return fmt.Sprintf("gw-%d-%06d-%s", time.Now().UTC().Unix(), seq, uuid.NewString()[:8])
}

func (g *Gateway) logDecision(d GatewayDecision) {
	fields := map[string]interface{}{
		"allowed": d.Allowed,
		"route":   string(d.Route),
		"level":   d.Level.String(),
		"threats": len(d.Threats),
	}
	if d.Allowed {
		g.log.Info(d.AuditID, "gateway decision", fields)
		return
	}
	fields["reason"] = d.Reason
	g.log.Warn(d.AuditID, "gateway blocked request", fields)
}
