// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// classifierPattern is one compiled rule for a sensitivity tier.
type classifierPattern struct {
	ID        string
	Pattern   *regexp.Regexp
	Reason    string
	Validator func(match string) bool
}

// Classifier is the rule-based sensitivity scanner. Checks run
// most-restrictive first and short-circuit, so text matching both SECRET
// and CONFIDENTIAL patterns always resolves SECRET. Classification is
// deterministic: identical input always yields an identical level.
type Classifier struct {
	secret       []*classifierPattern
	confidential []*classifierPattern
	internal     []*classifierPattern
}

// NewClassifier creates a classifier with the built-in pattern set.
func NewClassifier() *Classifier {
	return &Classifier{
		secret:       secretPatterns(),
		confidential: confidentialPatterns(),
		internal:     internalPatterns(),
	}
}

// Classify scans text and returns its sensitivity classification.
func (c *Classifier) Classify(text string) ClassificationResult {
	if reasons := matchAll(c.secret, text); len(reasons) > 0 {
		return ClassificationResult{
			Level:                LevelSecret,
			Reasons:              reasons,
			RequiresSanitization: true,
			AllowedBackends:      nil,
		}
	}

	if reasons := matchAll(c.confidential, text); len(reasons) > 0 {
		return ClassificationResult{
			Level:                LevelConfidential,
			Reasons:              reasons,
			RequiresSanitization: true,
			AllowedBackends:      []BackendClass{BackendClassLocal},
		}
	}

	if reasons := matchAll(c.internal, text); len(reasons) > 0 {
		return ClassificationResult{
			Level:                LevelInternal,
			Reasons:              reasons,
			RequiresSanitization: true,
			AllowedBackends:      []BackendClass{BackendClassLocal, BackendClassExternalSanitized},
		}
	}

	return ClassificationResult{
		Level:           LevelPublic,
		AllowedBackends: []BackendClass{BackendClassLocal, BackendClassExternalSanitized, BackendClassExternal},
	}
}

// HasSecrets is the narrow secret-only scan used by the pre-dispatch check
// and the output validator. It runs only the SECRET tier.
func (c *Classifier) HasSecrets(text string) (bool, []string) {
	reasons := matchAll(c.secret, text)
	return len(reasons) > 0, reasons
}

func matchAll(patterns []*classifierPattern, text string) []string {
	var reasons []string
	for _, p := range patterns {
		matches := p.Pattern.FindAllString(text, -1)
		for _, m := range matches {
			if p.Validator != nil && !p.Validator(m) {
				continue
			}
			reasons = append(reasons, fmt.Sprintf("%s: %s", p.ID, p.Reason))
			break
		}
	}
	return reasons
}

// secretPatterns covers credentials and identifiers that must never reach
// any backend: API keys, tokens, passwords, card numbers, national ids.
func secretPatterns() []*classifierPattern {
	return []*classifierPattern{
		{
			ID:      "secret.api_key.anthropic",
			Pattern: regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{24,}`),
			Reason:  "Anthropic-style API key",
		},
		{
			ID:      "secret.api_key.generic",
			Pattern: regexp.MustCompile(`\bsk-[A-Za-z0-9]{32,}\b`),
			Reason:  "generic secret key",
		},
		{
			ID:      "secret.api_key.aws",
			Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Reason:  "AWS access key id",
		},
		{
			ID:      "secret.api_key.github",
			Pattern: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
			Reason:  "GitHub token",
		},
		{
			ID:      "secret.private_key",
			Pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
			Reason:  "PEM private key block",
		},
		{
			ID:      "secret.password",
			Pattern: regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*\S+`),
			Reason:  "password assignment",
		},
		{
			ID:      "secret.bearer_token",
			Pattern: regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}`),
			Reason:  "bearer token",
		},
		{
			ID:        "secret.card_number",
			Pattern:   regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
			Reason:    "payment card number",
			Validator: isLuhnValid,
		},
		{
			ID:      "secret.national_id",
			Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Reason:  "national id (SSN format)",
		},
	}
}

// confidentialPatterns covers PII and business figures that may only be
// handled by local backends.
func confidentialPatterns() []*classifierPattern {
	return []*classifierPattern{
		{
			ID:      "confidential.email",
			Pattern: regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			Reason:  "email address",
		},
		{
			ID:      "confidential.phone",
			Pattern: regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s][0-9]{3}[-.\s]?[0-9]{4}\b`),
			Reason:  "phone number",
		},
		{
			ID:      "confidential.finance",
			Pattern: regexp.MustCompile(`(?i)\b(?:revenue|runway|burn\s+rate|arr|mrr)\b[^.\n]{0,24}\$?\d`),
			Reason:  "revenue or runway figure",
		},
		{
			ID:      "confidential.internal_id",
			Pattern: regexp.MustCompile(`\b(?:EMP|CUST|INV|TKT)-\d{3,}\b`),
			Reason:  "internal record id",
		},
	}
}

// internalPatterns covers internal markers that permit external dispatch
// only after sanitization.
func internalPatterns() []*classifierPattern {
	return []*classifierPattern{
		{
			ID:      "internal.marker",
			Pattern: regexp.MustCompile(`(?i)\b(?:internal\s+use\s+only|do\s+not\s+distribute)\b`),
			Reason:  "internal distribution marker",
		},
		{
			ID:      "internal.todo",
			Pattern: regexp.MustCompile(`\b(?:TODO|FIXME|XXX)\b[:(]`),
			Reason:  "work-in-progress marker",
		},
		{
			ID:      "internal.localhost",
			Pattern: regexp.MustCompile(`\b(?:localhost|127\.0\.0\.1|0\.0\.0\.0|[a-z0-9\-]+\.internal)\b`),
			Reason:  "local or internal host reference",
		},
	}
}

// isLuhnValid strips separators and runs the Luhn check. Rejects sequences
// whose digit count falls outside card-number bounds.
func isLuhnValid(match string) bool {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, match)

	if len(clean) < 13 || len(clean) > 19 {
		return false
	}

	sum := 0
	alternate := false
	for i := len(clean) - 1; i >= 0; i-- {
		digit, _ := strconv.Atoi(string(clean[i]))
		if alternate {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		alternate = !alternate
	}

	return sum%10 == 0
}
