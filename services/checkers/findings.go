// Package checkers holds the evidence conventions shared by the
// provider-specific checker packages.
package checkers

import (
	"fmt"

	"github.com/upb/auditron/models"
)

// Record is one per-resource evidence entry
type Record map[string]any

// Findings accumulates per-resource outcomes and renders them in the
// standard evidence shape:
//
//	no resources      SUCCESS, []
//	all compliant     SUCCESS, [compliant records...]
//	any non-compliant FAILURE, {"compliant_count": n, "non_compliant_<key>": [...]}
type Findings struct {
	noun         string
	key          string
	emptySummary string
	compliant    []Record
	nonCompliant []Record
}

// NewFindings creates an accumulator. noun is the plural used in summaries
// ("S3 buckets"); key names the evidence list ("buckets").
func NewFindings(noun, key string) *Findings {
	return &Findings{
		noun:         noun,
		key:          key,
		emptySummary: fmt.Sprintf("No %s found.", noun),
	}
}

// WithEmptySummary overrides the summary used when nothing was inspected
func (f *Findings) WithEmptySummary(summary string) *Findings {
	f.emptySummary = summary
	return f
}

// Compliant records a compliant resource
func (f *Findings) Compliant(r Record) {
	f.compliant = append(f.compliant, r)
}

// NonCompliant records a non-compliant resource with the reason it failed
func (f *Findings) NonCompliant(id, reason string) {
	f.nonCompliant = append(f.nonCompliant, Record{"id": id, "reason": reason})
}

// Total is the number of resources recorded
func (f *Findings) Total() int {
	return len(f.compliant) + len(f.nonCompliant)
}

// Result renders the accumulated findings
func (f *Findings) Result() models.CheckResult {
	switch {
	case f.Total() == 0:
		return models.CheckResult{
			Status:   models.StatusSuccess,
			Summary:  f.emptySummary,
			Evidence: []Record{},
		}
	case len(f.nonCompliant) == 0:
		return models.CheckResult{
			Status:   models.StatusSuccess,
			Summary:  fmt.Sprintf("Checked %d %s. All are compliant.", len(f.compliant), f.noun),
			Evidence: f.compliant,
		}
	}
	return models.CheckResult{
		Status:  models.StatusFailure,
		Summary: fmt.Sprintf("Found %d non-compliant %s out of %d.", len(f.nonCompliant), f.noun, f.Total()),
		Evidence: map[string]any{
			"compliant_count":        len(f.compliant),
			"non_compliant_" + f.key: f.nonCompliant,
		},
	}
}

// Pass builds a SUCCESS result for an account-level check
func Pass(summary string, evidence any) models.CheckResult {
	return models.CheckResult{Status: models.StatusSuccess, Summary: summary, Evidence: evidence}
}

// Fail builds a FAILURE result for an account-level check
func Fail(summary string, evidence any) models.CheckResult {
	return models.CheckResult{Status: models.StatusFailure, Summary: summary, Evidence: evidence}
}

// WrongCredentials reports a bundle of another provider handed to a checker
func WrongCredentials(want models.Provider, got models.Credentials) error {
	return fmt.Errorf("expected %s credentials, got %s", want, got.Provider())
}
