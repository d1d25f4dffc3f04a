package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatementKind_Valid(t *testing.T) {
	assert.True(t, KindProblem.Valid())
	assert.True(t, KindSolution.Valid())
	assert.False(t, StatementKind("question").Valid())
	assert.False(t, StatementKind("").Valid())
}

func TestStatementKind_LinkType(t *testing.T) {
	assert.Equal(t, LinkPromptsQuestion, KindProblem.LinkType())
	assert.Equal(t, LinkAnswersQuestion, KindSolution.LinkType())
}

func TestNormalizeQuestionText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims whitespace", "  どうすれば良いか  ", "どうすれば良いか"},
		{"folds fullwidth ascii", "ＨＭＷ質問？", "HMW質問?"},
		{"plain text unchanged", "駐輪場の課題", "駐輪場の課題"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeQuestionText(tt.in))
		})
	}
}

func TestChatThread_LatestUserMessage(t *testing.T) {
	now := time.Now()
	thread := &ChatThread{
		Messages: []ChatMessage{
			{Role: "system", Content: "prompt", Timestamp: now},
			{Role: "user", Content: "first", Timestamp: now},
			{Role: "assistant", Content: "reply", Timestamp: now},
			{Role: "user", Content: "second", Timestamp: now},
			{Role: "assistant", Content: "reply2", Timestamp: now},
		},
	}

	msg := thread.LatestUserMessage()
	if assert.NotNil(t, msg) {
		assert.Equal(t, "second", msg.Content)
	}
}

func TestChatThread_LatestUserMessage_NoUserTurns(t *testing.T) {
	thread := &ChatThread{
		Messages: []ChatMessage{
			{Role: "system", Content: "prompt"},
			{Role: "assistant", Content: "greeting"},
		},
	}
	assert.Nil(t, thread.LatestUserMessage())
}
