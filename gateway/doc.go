// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package gateway implements the policy layer between callers and backend
// text-generation services: sensitivity classification, redaction,
// prompt-injection scanning, and the composite allow/block/route decision.
//
// The pipeline fails closed: once any layer blocks, no later layer runs,
// and ambiguous checks resolve to the most restrictive safe outcome. All
// layers are pattern matchers, not semantic analyzers; paraphrased attacks
// are an accepted limitation.
package gateway
