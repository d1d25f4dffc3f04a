package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/llm"
	"github.com/civicforge/deliberate/internal/model"
	"github.com/civicforge/deliberate/internal/notify"
)

// GenerateVisualReport renders the question's evidence as a self-contained
// HTML infographic. The raw HTML (code fences stripped) is stored as the
// document content.
func (e *Engine) GenerateVisualReport(ctx context.Context, questionID string) (*model.Document, error) {
	ev, err := e.gatherEvidence(ctx, questionID)
	if err != nil {
		return nil, err
	}

	user, err := renderPrompt("visual_user", map[string]string{
		"Content": evidenceMarkdown(ev),
	})
	if err != nil {
		return nil, err
	}

	raw, err := e.llm.Complete(ctx, e.request("visual_report", "", user))
	if err != nil {
		return nil, err
	}
	html := llm.StripHTMLFences(raw)
	if html == "" {
		return nil, eris.Errorf("engine: visual report for question %s came back empty", questionID)
	}

	version, err := e.nextDocVersion(ctx, questionID, model.DocVisualReport)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.InsertDocument(ctx, model.Document{
		QuestionID:        questionID,
		Kind:              model.DocVisualReport,
		Version:           version,
		Title:             ev.Question.Text,
		Content:           html,
		SourceProblemIDs:  ev.ProblemIDs,
		SourceSolutionIDs: ev.SolutionIDs,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("engine: visual report saved",
		zap.String("question_id", questionID),
		zap.Int("html_bytes", len(html)),
		zap.Int("version", doc.Version),
	)
	e.notify.Publish(notify.Event{
		Kind:    notify.EventNew,
		Topic:   string(model.DocVisualReport),
		ThemeID: ev.Question.ThemeID,
		Payload: doc,
	})
	return doc, nil
}
