// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package gateway

import "fmt"

// SensitivityLevel is the ordinal classification of how exposed a piece of
// text may be. Levels are strictly ordered: a higher level is always more
// restrictive than a lower one.
type SensitivityLevel int

const (
	// LevelPublic is content safe for any backend.
	LevelPublic SensitivityLevel = iota

	// LevelInternal is content referencing internal systems or codenames.
	LevelInternal

	// LevelConfidential is content containing PII or business figures.
	LevelConfidential

	// LevelSecret is content containing credentials or equivalent secrets.
	// Secret content never leaves the process toward any backend.
	LevelSecret
)

// String returns the canonical name of the level.
func (l SensitivityLevel) String() string {
	switch l {
	case LevelPublic:
		return "PUBLIC"
	case LevelInternal:
		return "INTERNAL"
	case LevelConfidential:
		return "CONFIDENTIAL"
	case LevelSecret:
		return "SECRET"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel converts a level name to a SensitivityLevel.
func ParseLevel(s string) (SensitivityLevel, error) {
	switch s {
	case "PUBLIC":
		return LevelPublic, nil
	case "INTERNAL":
		return LevelInternal, nil
	case "CONFIDENTIAL":
		return LevelConfidential, nil
	case "SECRET":
		return LevelSecret, nil
	}
	return LevelSecret, fmt.Errorf("unknown sensitivity level %q", s)
}

// BackendClass identifies which kind of backend a classification permits.
type BackendClass string

const (
	// BackendClassLocal permits backends running on local infrastructure.
	BackendClassLocal BackendClass = "local"

	// BackendClassExternalSanitized permits external backends, but only
	// after the sanitizer has run over the text.
	BackendClassExternalSanitized BackendClass = "external_sanitized"

	// BackendClassExternal permits external backends with the raw text.
	BackendClassExternal BackendClass = "external"
)

// ClassificationResult is the outcome of one classifier pass.
type ClassificationResult struct {
	Level                SensitivityLevel `json:"level"`
	Reasons              []string         `json:"reasons,omitempty"`
	RequiresSanitization bool             `json:"requires_sanitization"`
	AllowedBackends      []BackendClass   `json:"allowed_backends"`
}

// Allows reports whether the classification permits the given backend class.
func (r ClassificationResult) Allows(class BackendClass) bool {
	for _, c := range r.AllowedBackends {
		if c == class {
			return true
		}
	}
	return false
}

// Route is the dispatch route decided by the gateway.
type Route string

const (
	RouteExternal Route = "EXTERNAL"
	RouteLocal    Route = "LOCAL"
	RouteBlocked  Route = "BLOCKED"
)

// GatewayDecision is the composite allow/block/route decision for one request.
type GatewayDecision struct {
	Allowed        bool                 `json:"allowed"`
	Route          Route                `json:"route"`
	Level          SensitivityLevel     `json:"level"`
	SanitizedText  string               `json:"sanitized_text"`
	AuditID        string               `json:"audit_id"`
	Reason         string               `json:"reason"`
	Warnings       []string             `json:"warnings,omitempty"`
	Threats        []ThreatDetection    `json:"threats,omitempty"`
	Trail          []string             `json:"trail,omitempty"`
	Sanitization   *SanitizationResult  `json:"sanitization,omitempty"`
	Classification ClassificationResult `json:"classification"`
}
