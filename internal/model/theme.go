package model

import "time"

// Theme is the top-level topic scope. Every statement, question, chat thread,
// and imported item belongs to exactly one theme.
type Theme struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Slug               string    `json:"slug"`
	Active             bool      `json:"active"`
	CustomPrompt       string    `json:"custom_prompt,omitempty"`
	DisableNewComments bool      `json:"disable_new_comments"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
