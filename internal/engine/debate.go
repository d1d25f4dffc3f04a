package engine

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/model"
	"github.com/civicforge/deliberate/internal/notify"
)

type debateResult struct {
	Axes               []model.DebateAxis `json:"axes"`
	AgreementPoints    []string           `json:"agreementPoints"`
	DisagreementPoints []string           `json:"disagreementPoints"`
}

// evidenceMarkdown renders the question and its evidence as the markdown
// block the debate and visual prompts analyze.
func evidenceMarkdown(ev *evidence) string {
	return fmt.Sprintf("\n# %s\n\n## 課題点\n%s\n\n## 解決策\n%s\n",
		ev.Question.Text,
		numberedList(ev.Problems),
		numberedList(ev.Solutions),
	)
}

// GenerateDebateAnalysis extracts the axes of disagreement and the points of
// agreement and contention from the question's linked evidence.
func (e *Engine) GenerateDebateAnalysis(ctx context.Context, questionID string) (*model.Document, error) {
	ev, err := e.gatherEvidence(ctx, questionID)
	if err != nil {
		return nil, err
	}

	user, err := renderPrompt("debate_user", map[string]string{
		"Content": evidenceMarkdown(ev),
	})
	if err != nil {
		return nil, err
	}

	var analysis debateResult
	if err := e.llm.CompleteJSON(ctx, e.request("debate_analysis", "", user), &analysis); err != nil {
		return nil, err
	}
	if len(analysis.Axes) == 0 && len(analysis.AgreementPoints) == 0 && len(analysis.DisagreementPoints) == 0 {
		return nil, eris.Errorf("engine: debate analysis for question %s came back empty", questionID)
	}

	version, err := e.nextDocVersion(ctx, questionID, model.DocDebateAnalysis)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.InsertDocument(ctx, model.Document{
		QuestionID:         questionID,
		Kind:               model.DocDebateAnalysis,
		Version:            version,
		Title:              ev.Question.Text,
		Axes:               analysis.Axes,
		AgreementPoints:    analysis.AgreementPoints,
		DisagreementPoints: analysis.DisagreementPoints,
		SourceProblemIDs:   ev.ProblemIDs,
		SourceSolutionIDs:  ev.SolutionIDs,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("engine: debate analysis saved",
		zap.String("question_id", questionID),
		zap.Int("axes", len(analysis.Axes)),
		zap.Int("version", doc.Version),
	)
	e.notify.Publish(notify.Event{
		Kind:    notify.EventNew,
		Topic:   string(model.DocDebateAnalysis),
		ThemeID: ev.Question.ThemeID,
		Payload: doc,
	})
	return doc, nil
}
