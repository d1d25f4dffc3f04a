package model

import "time"

// StatementKind discriminates the two statement shapes. They share one type;
// only the link direction they participate in differs.
type StatementKind string

const (
	KindProblem  StatementKind = "problem"
	KindSolution StatementKind = "solution"
)

// Valid reports whether k is one of the two known kinds.
func (k StatementKind) Valid() bool {
	return k == KindProblem || k == KindSolution
}

// LinkType returns the link type a statement of this kind produces when judged
// relevant to a question: problems prompt questions, solutions answer them.
func (k StatementKind) LinkType() LinkType {
	if k == KindSolution {
		return LinkAnswersQuestion
	}
	return LinkPromptsQuestion
}

// SourceKindChat marks statements extracted from a chat thread. Imported
// statements carry the import's free-form source string instead.
const SourceKindChat = "chat"

// Statement is one extracted problem or solution claim.
//
// Version starts at 1 and increases by exactly 1 per accepted update. Updates
// are applied with an optimistic compare-and-swap on the version column; a
// stale update is dropped, never merged.
type Statement struct {
	ID             string            `json:"id"`
	ThemeID        string            `json:"theme_id"`
	Kind           StatementKind     `json:"kind"`
	Statement      string            `json:"statement"`
	SourceKind     string            `json:"source_kind"`
	SourceOriginID string            `json:"source_origin_id"`
	SourceMetadata map[string]string `json:"source_metadata,omitempty"`
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
