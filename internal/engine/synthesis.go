package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/model"
	"github.com/civicforge/deliberate/internal/notify"
)

type synthesizedQuestion struct {
	Question string   `json:"question"`
	TagLine  string   `json:"tagLine"`
	Tags     []string `json:"tags"`
}

type synthesisResult struct {
	Questions []synthesizedQuestion `json:"questions"`
}

// SynthesizeQuestions turns the theme's problem statements into "How might
// we" questions. Questions are upserted by normalized text, so rerunning
// never duplicates; every upserted question, new or pre-existing, is queued
// for linking against all statements. Returns the number of questions
// inserted.
func (e *Engine) SynthesizeQuestions(ctx context.Context, themeID string) (int, error) {
	kind := model.KindProblem
	problems, err := e.store.ListStatementsByTheme(ctx, themeID, &kind)
	if err != nil {
		return 0, err
	}
	if len(problems) == 0 {
		zap.L().Info("engine: no problems in theme, skipping synthesis",
			zap.String("theme_id", themeID))
		return 0, nil
	}

	statements := make([]string, len(problems))
	for i, p := range problems {
		statements[i] = p.Statement
	}

	system, err := renderPrompt("synthesis_system", map[string]any{
		"Language": e.cfg.Language,
		"Count":    e.cfg.QuestionBatchSize,
	})
	if err != nil {
		return 0, err
	}
	user, err := renderPrompt("synthesis_user", map[string]string{
		"Problems": bulletList(statements),
	})
	if err != nil {
		return 0, err
	}

	var result synthesisResult
	if err := e.llm.CompleteJSON(ctx, e.request("synthesis", system, user), &result); err != nil {
		return 0, err
	}
	zap.L().Info("engine: synthesis returned questions",
		zap.String("theme_id", themeID),
		zap.Int("count", len(result.Questions)),
	)

	inserted := 0
	for _, sq := range result.Questions {
		if strings.TrimSpace(sq.Question) == "" {
			zap.L().Warn("engine: skipping question with empty text",
				zap.String("theme_id", themeID))
			continue
		}
		stored, isNew, err := e.store.UpsertQuestion(ctx, model.Question{
			ThemeID: themeID,
			Text:    strings.TrimSpace(sq.Question),
			TagLine: sq.TagLine,
			Tags:    sq.Tags,
		})
		if err != nil {
			zap.L().Error("engine: question upsert failed",
				zap.String("theme_id", themeID), zap.Error(err))
			continue
		}
		if isNew {
			inserted++
			e.notify.Publish(notify.Event{
				Kind:    notify.EventNew,
				Topic:   "question",
				ThemeID: themeID,
				Payload: stored,
			})
		} else {
			zap.L().Debug("engine: question already exists",
				zap.String("question_id", stored.ID))
		}

		// Pre-existing questions are queued again: statements extracted since
		// the question was first created still need judging against it.
		questionID := stored.ID
		e.spawn("link-question", func(ctx context.Context) error {
			return e.LinkQuestionToAllItems(ctx, questionID)
		})
	}
	return inserted, nil
}
