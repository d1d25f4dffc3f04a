package model

import "time"

// DocumentKind identifies the five generated document variants.
type DocumentKind string

const (
	DocPolicyDraft    DocumentKind = "policy_draft"
	DocDigest         DocumentKind = "digest"
	DocReportExample  DocumentKind = "report_example"
	DocDebateAnalysis DocumentKind = "debate_analysis"
	DocVisualReport   DocumentKind = "visual_report"
)

// Valid reports whether k is one of the five document kinds.
func (k DocumentKind) Valid() bool {
	switch k {
	case DocPolicyDraft, DocDigest, DocReportExample, DocDebateAnalysis, DocVisualReport:
		return true
	}
	return false
}

// DebateAxis is one axis of disagreement in a debate analysis.
type DebateAxis struct {
	Title   string       `json:"title"`
	Options []AxisOption `json:"options"`
}

// AxisOption is one side of a debate axis.
type AxisOption struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// ReportIssue is one issue entry in a report example.
type ReportIssue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Document is one version of a generated artifact tied to a question.
//
// Versions start at 1 and are append-only: regeneration writes a new row at
// max(version)+1 and never edits prior rows. Readers fetch the highest
// version. Which content fields are populated depends on Kind:
//
//	policy_draft, digest  → Title, Content (digest also PolicyDraftID)
//	report_example        → Introduction, Issues
//	debate_analysis       → Axes, AgreementPoints, DisagreementPoints
//	visual_report         → Content (raw HTML)
type Document struct {
	ID         string       `json:"id"`
	QuestionID string       `json:"question_id"`
	Kind       DocumentKind `json:"kind"`
	Version    int          `json:"version"`

	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`

	PolicyDraftID string `json:"policy_draft_id,omitempty"`

	Introduction string        `json:"introduction,omitempty"`
	Issues       []ReportIssue `json:"issues,omitempty"`

	Axes               []DebateAxis `json:"axes,omitempty"`
	AgreementPoints    []string     `json:"agreement_points,omitempty"`
	DisagreementPoints []string     `json:"disagreement_points,omitempty"`

	SourceProblemIDs  []string `json:"source_problem_ids,omitempty"`
	SourceSolutionIDs []string `json:"source_solution_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
