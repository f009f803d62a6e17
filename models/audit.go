package models

// Status is the outcome of a single control check
type Status string

const (
	// StatusSuccess means the audited resources were determined to be compliant
	StatusSuccess Status = "SUCCESS"
	// StatusFailure means at least one resource was determined to be non-compliant
	StatusFailure Status = "FAILURE"
	// StatusError means compliance could not be determined
	StatusError Status = "ERROR"
)

// Valid returns true for the three known statuses
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusError
}

// CheckResult is the raw record a checker returns. Any field may be left
// zero; the normalizer fills the gaps.
type CheckResult struct {
	Status   Status
	Summary  string
	Evidence any
}

// AuditRequest is the body of POST /audit/{provider}
type AuditRequest struct {
	Controls []string `json:"controls" validate:"required"`
	UserID   string   `json:"user_id,omitempty"`
}

// AuditResult is the normalized outcome for one requested control
type AuditResult struct {
	ControlID string `json:"control_id" yaml:"control_id"`
	Status    Status `json:"status" yaml:"status"`
	Summary   string `json:"summary" yaml:"summary"`
	Evidence  any    `json:"evidence" yaml:"evidence"`
}

// AuditResponse holds one result per requested control, in request order
type AuditResponse struct {
	Provider Provider      `json:"provider" yaml:"provider"`
	Results  []AuditResult `json:"results" yaml:"results"`
}

// AllSucceeded returns true when every result is SUCCESS
func (r *AuditResponse) AllSucceeded() bool {
	for _, res := range r.Results {
		if res.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// ToolInfo describes a control on the discovery surface
type ToolInfo struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
}

// ToolsResponse is the discovery payload served by GET /tools
type ToolsResponse struct {
	ToolCount int                     `json:"tool_count" yaml:"tool_count"`
	Providers map[Provider][]ToolInfo `json:"providers" yaml:"providers"`
}
