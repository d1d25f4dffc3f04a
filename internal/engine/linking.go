package engine

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicforge/deliberate/internal/model"
	"github.com/civicforge/deliberate/internal/notify"
)

// linkJudgment is the LLM's verdict on one (question, statement) pair.
// RelevanceScore and Rationale are pointers so an omitted field can be told
// apart from an explicit zero.
type linkJudgment struct {
	IsRelevant     bool     `json:"is_relevant"`
	LinkType       string   `json:"link_type"`
	Rationale      *string  `json:"rationale"`
	RelevanceScore *float64 `json:"relevanceScore"`
}

// judgeLink asks the model whether the statement prompts or answers the
// question.
func (e *Engine) judgeLink(ctx context.Context, questionText string, st *model.Statement) (*linkJudgment, error) {
	system, err := renderPrompt("linking_system", nil)
	if err != nil {
		return nil, err
	}
	user, err := renderPrompt("linking_user", map[string]string{
		"Question":  questionText,
		"Kind":      string(st.Kind),
		"Statement": st.Statement,
	})
	if err != nil {
		return nil, err
	}

	var judgment linkJudgment
	err = e.llm.CompleteJSON(ctx, e.request("linking", system, user), &judgment)
	if err != nil {
		return nil, err
	}
	return &judgment, nil
}

// saveLink upserts the link for a relevant judgment. Missing score defaults
// to 0.8 and missing rationale to "N/A", preserved as-is in the stored link.
func (e *Engine) saveLink(ctx context.Context, questionID string, st *model.Statement, judgment *linkJudgment) error {
	score := 0.8
	if judgment.RelevanceScore != nil {
		score = *judgment.RelevanceScore
	}
	rationale := "N/A"
	if judgment.Rationale != nil && *judgment.Rationale != "" {
		rationale = *judgment.Rationale
	}

	linkType := model.LinkType(judgment.LinkType)
	if linkType != model.LinkPromptsQuestion && linkType != model.LinkAnswersQuestion {
		linkType = st.Kind.LinkType()
	}

	_, err := e.store.UpsertLink(ctx, model.Link{
		QuestionID:     questionID,
		LinkedItemID:   st.ID,
		LinkedItemKind: st.Kind,
		LinkType:       linkType,
		RelevanceScore: score,
		Rationale:      rationale,
	})
	return err
}

// linkPair judges one pair and persists the link when relevant. Not-relevant
// is a normal outcome, not an error.
func (e *Engine) linkPair(ctx context.Context, question *model.Question, st *model.Statement) error {
	judgment, err := e.judgeLink(ctx, question.Text, st)
	if err != nil {
		return err
	}
	if !judgment.IsRelevant {
		return nil
	}
	zap.L().Info("engine: relevant link found",
		zap.String("question_id", question.ID),
		zap.String("item_id", st.ID),
		zap.String("kind", string(st.Kind)),
	)
	return e.saveLink(ctx, question.ID, st, judgment)
}

// LinkStatementToQuestions judges the statement against every question in
// its theme, one pair at a time. A failed pair is logged and skipped; the
// remaining questions are still judged.
func (e *Engine) LinkStatementToQuestions(ctx context.Context, statementID string) error {
	st, err := e.store.GetStatement(ctx, statementID)
	if err != nil {
		return err
	}
	if st == nil {
		return eris.Errorf("engine: statement %s not found", statementID)
	}
	if st.Statement == "" {
		zap.L().Warn("engine: statement text empty, skipping linking",
			zap.String("statement_id", statementID))
		return nil
	}
	if st.ThemeID == "" {
		return eris.Errorf("engine: statement %s has no theme, cannot link", statementID)
	}

	questions, err := e.store.ListQuestionsByTheme(ctx, st.ThemeID)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		zap.L().Debug("engine: no questions in theme to link against",
			zap.String("theme_id", st.ThemeID))
		return nil
	}

	for _, question := range questions {
		if err := e.linkPair(ctx, &question, st); err != nil {
			zap.L().Error("engine: link judgment failed",
				zap.String("question_id", question.ID),
				zap.String("statement_id", statementID),
				zap.Error(err),
			)
		}
	}

	e.notify.Publish(notify.Event{
		Kind:    notify.EventUpdate,
		Topic:   string(st.Kind),
		ThemeID: st.ThemeID,
		Payload: st,
	})
	return nil
}

// LinkQuestionToItem judges a single (question, statement) pair.
func (e *Engine) LinkQuestionToItem(ctx context.Context, questionID, statementID string) error {
	question, err := e.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if question == nil {
		return eris.Errorf("engine: question %s not found", questionID)
	}
	st, err := e.store.GetStatement(ctx, statementID)
	if err != nil {
		return err
	}
	if st == nil {
		return eris.Errorf("engine: statement %s not found", statementID)
	}
	if st.Statement == "" {
		return nil
	}
	return e.linkPair(ctx, question, st)
}

// LinkQuestionToAllItems judges the question against every statement in its
// theme with bounded concurrency. Per-pair failures are logged, not fatal.
func (e *Engine) LinkQuestionToAllItems(ctx context.Context, questionID string) error {
	question, err := e.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if question == nil {
		return eris.Errorf("engine: question %s not found", questionID)
	}
	if question.ThemeID == "" {
		return eris.Errorf("engine: question %s has no theme, cannot link", questionID)
	}

	statements, err := e.store.ListStatementsByTheme(ctx, question.ThemeID, nil)
	if err != nil {
		return err
	}
	total := len(statements)
	zap.L().Info("engine: linking question to theme items",
		zap.String("question_id", questionID),
		zap.Int("items", total),
		zap.Int("concurrency", e.cfg.LinkConcurrency),
	)

	var completed atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.LinkConcurrency)
	for _, st := range statements {
		g.Go(func() error {
			if err := e.linkPair(gCtx, question, &st); err != nil {
				zap.L().Error("engine: link judgment failed",
					zap.String("question_id", questionID),
					zap.String("statement_id", st.ID),
					zap.Error(err),
				)
			}
			done := completed.Add(1)
			zap.L().Debug("engine: linking progress",
				zap.String("question_id", questionID),
				zap.Int64("completed", done),
				zap.Int("total", total),
			)
			return nil
		})
	}
	return g.Wait()
}
