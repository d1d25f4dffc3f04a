package model

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Question is a synthesized "How might we" framing question. Immutable after
// creation; generated documents attach to it by id and carry their own
// versions.
//
// (ThemeID, NormalizeQuestionText(Text)) is unique — synthesis upserts on
// insert only and never duplicates question text within a theme.
type Question struct {
	ID        string    `json:"id"`
	ThemeID   string    `json:"theme_id"`
	Text      string    `json:"text"`
	TagLine   string    `json:"tag_line,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Order     *int      `json:"order,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeQuestionText produces the dedup key for question text: trimmed and
// NFKC-folded so full-width and half-width variants of the same Japanese text
// collapse to one key.
func NormalizeQuestionText(text string) string {
	return norm.NFKC.String(strings.TrimSpace(text))
}
