// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"regexp"
)

// ThreatSeverity ranks a detected injection threat.
type ThreatSeverity int

const (
	SeverityNone ThreatSeverity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the canonical name of the severity.
func (s ThreatSeverity) String() string {
	switch s {
	case SeverityNone:
		return "NONE"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ThreatCategory identifies the class of attack a pattern detects.
type ThreatCategory string

const (
	ThreatInstructionOverride ThreatCategory = "instruction_override"
	ThreatSystemPrompt        ThreatCategory = "system_prompt_manipulation"
	ThreatDestructiveExec     ThreatCategory = "destructive_execution"
	ThreatDataExfiltration    ThreatCategory = "data_exfiltration"
	ThreatJailbreak           ThreatCategory = "jailbreak"
	ThreatHiddenInstruction   ThreatCategory = "hidden_instruction"
)

// ThreatDetection is one matched injection pattern.
type ThreatDetection struct {
	PatternID      string         `json:"pattern_id"`
	Excerpt        string         `json:"excerpt"`
	Severity       ThreatSeverity `json:"severity"`
	Category       ThreatCategory `json:"category"`
	Recommendation string         `json:"recommendation"`
}

// ScannerMode controls the blocking policy of the scanner.
type ScannerMode string

const (
	// ModeStrict blocks on MEDIUM severity and above.
	ModeStrict ScannerMode = "strict"

	// ModeLenient blocks only on CRITICAL severity.
	ModeLenient ScannerMode = "lenient"
)

// threatPattern is one compiled injection rule with a fixed severity.
type threatPattern struct {
	ID             string
	Pattern        *regexp.Regexp
	Severity       ThreatSeverity
	Category       ThreatCategory
	Recommendation string
}

// InjectionScanner is the pattern-based prompt-injection detector.
//
// Limitation: detection is lexical, not semantic. Paraphrased attacks that
// avoid the known phrasings are not caught.
type InjectionScanner struct {
	mode     ScannerMode
	patterns []*threatPattern
}

// neutralMarker replaces matched spans when detections exist but the text
// is not blocked. The replacement is best-effort and lossy.
const neutralMarker = "[FILTERED]"

// NewInjectionScanner creates a scanner in the given mode.
func NewInjectionScanner(mode ScannerMode) *InjectionScanner {
	if mode != ModeLenient {
		mode = ModeStrict
	}
	return &InjectionScanner{mode: mode, patterns: threatPatterns()}
}

// Mode returns the scanner's blocking mode.
func (s *InjectionScanner) Mode() ScannerMode { return s.mode }

// Analyze scans text and returns all detections plus the blocking verdict.
func (s *InjectionScanner) Analyze(text string) ([]ThreatDetection, bool) {
	var threats []ThreatDetection
	blocked := false

	for _, p := range s.patterns {
		loc := p.Pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		threats = append(threats, ThreatDetection{
			PatternID:      p.ID,
			Excerpt:        excerpt(text, loc[0], loc[1]),
			Severity:       p.Severity,
			Category:       p.Category,
			Recommendation: p.Recommendation,
		})
		if s.blocksAt(p.Severity) {
			blocked = true
		}
	}

	return threats, blocked
}

// Neutralize replaces all matched spans with a neutral marker. It is only
// meaningful for text that Analyze did not block.
func (s *InjectionScanner) Neutralize(text string) string {
	out := text
	for _, p := range s.patterns {
		out = p.Pattern.ReplaceAllString(out, neutralMarker)
	}
	return out
}

func (s *InjectionScanner) blocksAt(sev ThreatSeverity) bool {
	if s.mode == ModeLenient {
		return sev >= SeverityCritical
	}
	return sev >= SeverityMedium
}

func excerpt(text string, start, end int) string {
	const maxExcerpt = 80
	if end-start > maxExcerpt {
		end = start + maxExcerpt
	}
	return text[start:end]
}

// threatPatterns returns the fixed detection set. Categories and severities
// are fixed by policy, not configuration.
func threatPatterns() []*threatPattern {
	return []*threatPattern{
		{
			ID:             "inj.override.ignore_instructions",
			Pattern:        regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|prior|above|earlier)\s+instructions`),
			Severity:       SeverityCritical,
			Category:       ThreatInstructionOverride,
			Recommendation: "reject the request; instruct the caller to rephrase without meta-instructions",
		},
		{
			ID:             "inj.override.disregard",
			Pattern:        regexp.MustCompile(`(?i)disregard\s+(?:all\s+)?(?:previous|prior|your)\s+(?:instructions|rules|guidelines)`),
			Severity:       SeverityCritical,
			Category:       ThreatInstructionOverride,
			Recommendation: "reject the request; instruct the caller to rephrase without meta-instructions",
		},
		{
			ID:             "inj.system.reveal_prompt",
			Pattern:        regexp.MustCompile(`(?i)(?:reveal|show|print|repeat|output)\s+(?:me\s+)?(?:the\s+|your\s+)?system\s+prompt`),
			Severity:       SeverityCritical,
			Category:       ThreatSystemPrompt,
			Recommendation: "reject the request; system prompt contents are never disclosed",
		},
		{
			ID:             "inj.system.role_reset",
			Pattern:        regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a|an|the)\s`),
			Severity:       SeverityCritical,
			Category:       ThreatSystemPrompt,
			Recommendation: "reject the request; role reassignment is not permitted",
		},
		{
			ID:             "inj.exec.destructive",
			Pattern:        regexp.MustCompile(`(?i)(?:\brm\s+-rf\s+/|\bdrop\s+table\b|\btruncate\s+table\b|\bformat\s+c:|\bdel\s+/f\s+/s)`),
			Severity:       SeverityCritical,
			Category:       ThreatDestructiveExec,
			Recommendation: "reject the request; destructive commands are never forwarded",
		},
		{
			ID:             "inj.exec.privileged",
			Pattern:        regexp.MustCompile(`(?i)\b(?:sudo\s+\w+|chmod\s+777|as\s+root\s+user)\b`),
			Severity:       SeverityCritical,
			Category:       ThreatDestructiveExec,
			Recommendation: "reject the request; privileged execution is never forwarded",
		},
		{
			ID:             "inj.exfil.credentials",
			Pattern:        regexp.MustCompile(`(?i)(?:send|post|upload|forward|exfiltrate|email)\b[^.\n]{0,48}\b(?:api\s+keys?|passwords?|secrets?|credentials|tokens?)`),
			Severity:       SeverityCritical,
			Category:       ThreatDataExfiltration,
			Recommendation: "reject the request; credential egress phrasing detected",
		},
		{
			ID:             "inj.jailbreak.named",
			Pattern:        regexp.MustCompile(`(?i)\b(?:do\s+anything\s+now|dan\s+mode|developer\s+mode|jailbreak)\b`),
			Severity:       SeverityCritical,
			Category:       ThreatJailbreak,
			Recommendation: "reject the request; known jailbreak phrasing",
		},
		{
			ID:             "inj.jailbreak.pretend",
			Pattern:        regexp.MustCompile(`(?i)\bpretend\s+(?:you\s+are|to\s+be)\s+(?:an?\s+)?(?:unrestricted|unfiltered|uncensored)`),
			Severity:       SeverityHigh,
			Category:       ThreatJailbreak,
			Recommendation: "review the request; persona escape phrasing",
		},
		{
			ID:             "inj.hidden.html_comment",
			Pattern:        regexp.MustCompile(`<!--[\s\S]*?-->`),
			Severity:       SeverityMedium,
			Category:       ThreatHiddenInstruction,
			Recommendation: "strip hidden markup before dispatch",
		},
		{
			ID:             "inj.hidden.role_tag",
			Pattern:        regexp.MustCompile(`(?i)\[\s*(?:system|assistant)\s*\]`),
			Severity:       SeverityMedium,
			Category:       ThreatHiddenInstruction,
			Recommendation: "strip role tags before dispatch",
		},
		{
			ID:             "inj.hidden.zero_width",
			Pattern:        regexp.MustCompile("[​‌‍⁠\uFEFF]"),
			Severity:       SeverityMedium,
			Category:       ThreatHiddenInstruction,
			Recommendation: "strip zero-width characters before dispatch",
		},
	}
}
