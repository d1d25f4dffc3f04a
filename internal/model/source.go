package model

import "time"

// ChatMessage is one turn in a chat thread.
type ChatMessage struct {
	Role      string    `json:"role"` // "user" | "assistant" | "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatThread is the raw-input provider for chat-sourced extraction: an
// append-only ordered message list plus two id-sets recording which statements
// have already been extracted from this thread (set semantics, add-if-absent).
type ChatThread struct {
	ID                   string        `json:"id"`
	ThemeID              string        `json:"theme_id"`
	SessionID            string        `json:"session_id"`
	UserID               string        `json:"user_id,omitempty"`
	Messages             []ChatMessage `json:"messages"`
	ExtractedProblemIDs  []string      `json:"extracted_problem_ids"`
	ExtractedSolutionIDs []string      `json:"extracted_solution_ids"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// LatestUserMessage returns the most recent user-role message, or nil if the
// thread has none. Only this turn may yield new statements during extraction;
// earlier turns are context.
func (t *ChatThread) LatestUserMessage() *ChatMessage {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == "user" {
			return &t.Messages[i]
		}
	}
	return nil
}

// ImportStatus is the lifecycle of an imported item.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

// ImportedItem is one imported document awaiting or past extraction. The
// extraction engine moves it pending→processing at job start, then →completed
// with extracted ids and processedAt, or →failed with an error message. A late
// failure never overwrites a record that already left "processing".
type ImportedItem struct {
	ID                   string            `json:"id"`
	ThemeID              string            `json:"theme_id"`
	SourceKind           string            `json:"source_kind"` // e.g. "tweet", "other_import"
	Content              string            `json:"content"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	Status               ImportStatus      `json:"status"`
	ExtractedProblemIDs  []string          `json:"extracted_problem_ids,omitempty"`
	ExtractedSolutionIDs []string          `json:"extracted_solution_ids,omitempty"`
	ErrorMessage         string            `json:"error_message,omitempty"`
	ProcessedAt          *time.Time        `json:"processed_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}
