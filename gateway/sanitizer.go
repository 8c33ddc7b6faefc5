// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"regexp"
	"strings"
)

// SanitizationResult describes one sanitizer pass.
type SanitizationResult struct {
	Text            string         `json:"text"`
	OriginalLength  int            `json:"original_length"`
	SanitizedLength int            `json:"sanitized_length"`
	Replacements    map[string]int `json:"replacements,omitempty"`
}

// Changed reports whether the pass replaced anything.
func (r SanitizationResult) Changed() bool {
	return len(r.Replacements) > 0
}

// redactionRule replaces every match of one category with a single fixed
// placeholder. Placeholders are chosen so no rule matches another rule's
// placeholder, which makes the transform idempotent.
type redactionRule struct {
	Category    string
	Pattern     *regexp.Regexp
	Placeholder string
}

// Sanitizer is the redaction/anonymization engine. It is independent of
// classification and always safe to call; sanitizing already-sanitized
// text is a no-op.
type Sanitizer struct {
	rules     []redactionRule
	anonymize []anonymizeTerm
}

type anonymizeTerm struct {
	term    string
	pattern *regexp.Regexp
}

// NewSanitizer creates a sanitizer with the built-in redaction rules.
// anonymizeTerms lists product or organization names replaced in any text,
// including PUBLIC text; matching is case-insensitive on word boundaries.
func NewSanitizer(anonymizeTerms []string) *Sanitizer {
	s := &Sanitizer{rules: redactionRules()}
	for _, term := range anonymizeTerms {
		trimmed := strings.TrimSpace(term)
		if trimmed == "" {
			continue
		}
		s.anonymize = append(s.anonymize, anonymizeTerm{
			term:    trimmed,
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(trimmed) + `\b`),
		})
	}
	return s
}

// Sanitize redacts secrets and PII from text and anonymizes configured
// names. Counts are tracked per category for observability.
func (s *Sanitizer) Sanitize(text string) SanitizationResult {
	result := SanitizationResult{
		OriginalLength: len(text),
		Replacements:   make(map[string]int),
	}

	sanitized := text
	for _, rule := range s.rules {
		matches := rule.Pattern.FindAllString(sanitized, -1)
		if len(matches) == 0 {
			continue
		}
		count := 0
		for _, m := range matches {
			// Placeholders from a previous pass are left untouched.
			if m == rule.Placeholder {
				continue
			}
			count++
		}
		if count == 0 {
			continue
		}
		sanitized = rule.Pattern.ReplaceAllString(sanitized, rule.Placeholder)
		result.Replacements[rule.Category] = count
	}

	for _, a := range s.anonymize {
		matches := a.pattern.FindAllString(sanitized, -1)
		if len(matches) == 0 {
			continue
		}
		sanitized = a.pattern.ReplaceAllString(sanitized, anonymizedPlaceholder)
		result.Replacements[categoryAnonymized] += len(matches)
	}

	result.Text = sanitized
	result.SanitizedLength = len(sanitized)
	if len(result.Replacements) == 0 {
		result.Replacements = nil
	}
	return result
}

// Redaction categories.
const (
	categoryAPIKey     = "api_key"
	categoryPrivateKey = "private_key"
	categoryPassword   = "password"
	categoryToken      = "token"
	categoryCard       = "card_number"
	categoryNationalID = "national_id"
	categoryEmail      = "email"
	categoryPhone      = "phone"
	categoryIPAddress  = "ip_address"
	categoryAnonymized = "anonymized_name"
)

const anonymizedPlaceholder = "[ORG]"

// redactionRules returns the fixed category rules. One placeholder per
// category, not per occurrence.
func redactionRules() []redactionRule {
	return []redactionRule{
		{
			Category:    categoryPrivateKey,
			Pattern:     regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----|-----BEGIN [A-Z ]*PRIVATE KEY-----`),
			Placeholder: "[PRIVATE_KEY]",
		},
		{
			Category:    categoryAPIKey,
			Pattern:     regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{24,}|\bsk-[A-Za-z0-9]{32,}\b|\bAKIA[0-9A-Z]{16}\b|\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
			Placeholder: "[API_KEY]",
		},
		{
			Category:    categoryPassword,
			Pattern:     regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*\S+`),
			Placeholder: "password=[PASSWORD]",
		},
		{
			Category:    categoryToken,
			Pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}`),
			Placeholder: "bearer [TOKEN]",
		},
		{
			Category:    categoryCard,
			Pattern:     regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,4}\b`),
			Placeholder: "[CARD_NUMBER]",
		},
		{
			Category:    categoryNationalID,
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Placeholder: "[NATIONAL_ID]",
		},
		{
			Category:    categoryEmail,
			Pattern:     regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			Placeholder: "[EMAIL]",
		},
		{
			Category:    categoryPhone,
			Pattern:     regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s][0-9]{3}[-.\s]?[0-9]{4}\b`),
			Placeholder: "[PHONE]",
		},
		{
			Category:    categoryIPAddress,
			Pattern:     regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			Placeholder: "[IP_ADDRESS]",
		},
	}
}
