// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"errors"
	"fmt"

	"github.com/wardenai/warden/budget"
	"github.com/wardenai/warden/gateway"
	"github.com/wardenai/warden/shared/logger"
)

// TaskType hints at what the request is for, which shifts routing
// preference but never overrides policy.
type TaskType string

const (
	TaskGeneral      TaskType = "general"
	TaskBackground   TaskType = "background"
	TaskCoding       TaskType = "coding"
	TaskArchitecture TaskType = "architecture"
	TaskReasoning    TaskType = "reasoning"
)

// Complex reports whether the task benefits from a premium backend.
func (t TaskType) Complex() bool {
	switch t {
	case TaskCoding, TaskArchitecture, TaskReasoning:
		return true
	}
	return false
}

// ErrNoBackendAvailable means no available backend satisfies the decision.
var ErrNoBackendAvailable = errors.New("no backend available for this request")

// ForcedBackendError is the hard failure for an explicitly requested
// backend that cannot legally serve the request. Forced backends are never
// silently substituted.
type ForcedBackendError struct {
	Backend string
	Reason  string
}

func (e *ForcedBackendError) Error() string {
	return fmt.Sprintf("forced backend %s rejected: %s", e.Backend, e.Reason)
}

// Router picks one legal backend per request from the catalog. Selection
// is pure policy over catalog state; it never dispatches.
type Router struct {
	catalog *Catalog
	log     *logger.Logger
}

// NewRouter creates a router over the given catalog.
func NewRouter(catalog *Catalog) *Router {
	return &Router{catalog: catalog, log: logger.New("router")}
}

// Select returns the backend to dispatch to and a human-readable
// justification for the audit trail. Precedence: forced backend (hard
// error when it cannot serve), local-only routing, background tasks prefer
// zero-cost, budget substitution toward zero-cost, complex tasks prefer
// premium, then the fixed global tier order.
func (r *Router) Select(decision gateway.GatewayDecision, task TaskType, remainingBudget float64, estimatedTokens int, forced string) (Descriptor, string, error) {
	localOnly := decision.Route == gateway.RouteLocal

	if forced != "" {
		return r.selectForced(decision, localOnly, forced)
	}

	eligible := r.catalog.Eligible(decision.Level, localOnly)
	if len(eligible) == 0 {
		return Descriptor{}, "", ErrNoBackendAvailable
	}

	if localOnly {
		d := eligible[0]
		return d, fmt.Sprintf("local-only routing at level %s: first available local backend %s", decision.Level, d.Name), nil
	}

	affordable := func(d Descriptor) bool {
		return d.ZeroCost() || d.EstimateCost(estimatedTokens) <= remainingBudget
	}

	if task == TaskBackground {
		for _, d := range eligible {
			if d.ZeroCost() {
				return d, fmt.Sprintf("background task routed to zero-cost backend %s", d.Name), nil
			}
		}
	}

	if task.Complex() {
		for _, d := range eligible {
			if d.Tier == TierPremium && affordable(d) {
				return d, fmt.Sprintf("complex task (%s) routed to premium backend %s", task, d.Name), nil
			}
		}
	}

	skippedOverBudget := false
	for _, tier := range tierOrder {
		for _, d := range eligible {
			if d.Tier != tier {
				continue
			}
			if !affordable(d) {
				skippedOverBudget = true
				continue
			}
			if skippedOverBudget && d.ZeroCost() {
				return d, fmt.Sprintf("substituted zero-cost backend %s: preferred backend exceeds remaining budget %.6f", d.Name, remainingBudget), nil
			}
			return d, fmt.Sprintf("global preference order selected %s backend %s", tier, d.Name), nil
		}
	}

	if skippedOverBudget {
		return Descriptor{}, "", budget.ErrBudgetExceeded
	}
	return Descriptor{}, "", ErrNoBackendAvailable
}

func (r *Router) selectForced(decision gateway.GatewayDecision, localOnly bool, forced string) (Descriptor, string, error) {
	d, ok := r.catalog.Get(forced)
	if !ok {
		return Descriptor{}, "", &ForcedBackendError{Backend: forced, Reason: "not in catalog"}
	}
	if !d.Available {
		return Descriptor{}, "", &ForcedBackendError{Backend: forced, Reason: "not available"}
	}
	if !d.Accepts(decision.Level) {
		return Descriptor{}, "", &ForcedBackendError{
			Backend: forced,
			Reason:  fmt.Sprintf("max level %s below decided level %s", d.MaxLevel, decision.Level),
		}
	}
	if localOnly && !d.Local {
		return Descriptor{}, "", &ForcedBackendError{Backend: forced, Reason: "decision requires a local backend"}
	}
	return d, fmt.Sprintf("forced backend %s accepted at level %s", d.Name, decision.Level), nil
}
