package model

import "time"

// LinkType describes the direction of relevance between a question and a
// statement.
type LinkType string

const (
	// LinkPromptsQuestion: the problem statement exemplifies the issue the
	// question addresses.
	LinkPromptsQuestion LinkType = "prompts_question"
	// LinkAnswersQuestion: the solution statement offers a way to address the
	// challenge the question poses.
	LinkAnswersQuestion LinkType = "answers_question"
)

// Link is a scored relevance edge between a question and a statement.
//
// Unique per (QuestionID, LinkedItemID); re-evaluation overwrites in place.
// Absence of a row means "not linked", not "linked with score 0" — the linking
// engine writes a row only when the LLM judges the pair relevant.
type Link struct {
	ID             string        `json:"id"`
	QuestionID     string        `json:"question_id"`
	LinkedItemID   string        `json:"linked_item_id"`
	LinkedItemKind StatementKind `json:"linked_item_kind"`
	LinkType       LinkType      `json:"link_type"`
	RelevanceScore float64       `json:"relevance_score"`
	Rationale      string        `json:"rationale,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
