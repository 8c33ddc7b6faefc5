// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package coordinator

import (
	"fmt"
	"regexp"

	"github.com/wardenai/warden/gateway"
)

// outputValidator scans completed backend output for residual secret
// patterns and bias markers. Findings are warnings attached to the result;
// they never fail the request.
type outputValidator struct {
	classifier *gateway.Classifier
	bias       []*biasMarker
}

type biasMarker struct {
	name string
	re   *regexp.Regexp
}

func newOutputValidator(classifier *gateway.Classifier) *outputValidator {
	return &outputValidator{
		classifier: classifier,
		bias: []*biasMarker{
			{name: "absolute claim", re: regexp.MustCompile(`(?i)\b(?:always|never) (?:true|works|fails|correct|safe)\b`)},
			{name: "unverified certainty", re: regexp.MustCompile(`(?i)\b(?:guaranteed to|definitely will|cannot possibly fail)\b`)},
			{name: "demographic generalization", re: regexp.MustCompile(`(?i)\ball (?:women|men|people from)\b`)},
		},
	}
}

// Validate returns zero or more warning strings for the output text.
func (v *outputValidator) Validate(output string) []string {
	var warnings []string
	if found, reasons := v.classifier.HasSecrets(output); found {
		warnings = append(warnings, fmt.Sprintf("output contains residual secret patterns: %v", reasons))
	}
	for _, m := range v.bias {
		if m.re.MatchString(output) {
			warnings = append(warnings, fmt.Sprintf("output contains bias marker: %s", m.name))
		}
	}
	return warnings
}
