// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package backend holds the backend catalog, the routing policy that picks
// one legal backend per request, and the transport adapters that stream
// text from it. Adding a backend means adding a catalog entry and, at
// most, a transport adapter; routing logic never changes.
package backend

import (
	"fmt"

	"github.com/wardenai/warden/gateway"
)

// Tier buckets backends for the global preference walk. Order of
// preference is free, then premium, then budget, then local.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierBudget  Tier = "budget"
	TierLocal   Tier = "local"
)

// tierOrder is the fixed global preference order.
var tierOrder = []Tier{TierFree, TierPremium, TierBudget, TierLocal}

// TransportKind names the wire-protocol family a backend speaks.
type TransportKind string

const (
	// TransportSSE is chunked server-sent events over HTTPS.
	TransportSSE TransportKind = "sse"

	// TransportLocalJSON is newline-delimited streaming JSON from a
	// locally hosted model server.
	TransportLocalJSON TransportKind = "local_json"

	// TransportCLI shells out to a subprocess and streams its stdout.
	TransportCLI TransportKind = "cli"
)

// Descriptor describes one backend: where it runs, what it may see, what
// it costs, and how to reach it. Descriptors load at startup and are
// immutable; only availability changes, via the catalog's probes.
type Descriptor struct {
	Name         string
	Local        bool
	MaxLevel     gateway.SensitivityLevel
	CostPer1K    float64
	Capabilities []string
	Model        string
	Tier         Tier

	Transport TransportKind
	Endpoint  string
	APIKeyEnv string
	Command   []string

	// Available reflects the last probe result. Zero value is
	// unavailable: a backend is never assumed reachable from config.
	Available bool
}

// ZeroCost reports whether dispatching to this backend spends budget.
func (d Descriptor) ZeroCost() bool { return d.CostPer1K == 0 }

// Accepts reports whether the backend may see content at the given level.
func (d Descriptor) Accepts(level gateway.SensitivityLevel) bool {
	return level <= d.MaxLevel
}

// EstimateCost prices a token count at this backend's rate.
func (d Descriptor) EstimateCost(tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000.0 * d.CostPer1K
}

// validate rejects descriptors the transports cannot serve.
func (d Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("backend descriptor missing name")
	}
	switch d.Transport {
	case TransportSSE, TransportLocalJSON:
		if d.Endpoint == "" {
			return fmt.Errorf("backend %s: transport %s requires an endpoint", d.Name, d.Transport)
		}
	case TransportCLI:
		if len(d.Command) == 0 {
			return fmt.Errorf("backend %s: transport cli requires a command", d.Name)
		}
	default:
		return fmt.Errorf("backend %s: unknown transport %q", d.Name, d.Transport)
	}
	switch d.Tier {
	case TierFree, TierPremium, TierBudget, TierLocal:
	default:
		return fmt.Errorf("backend %s: unknown tier %q", d.Name, d.Tier)
	}
	return nil
}
