package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/model"
	"github.com/civicforge/deliberate/internal/notify"
)

type titledDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// GeneratePolicyDraft writes a two-part policy document (vision report plus
// solution report) from the question's linked evidence and appends it as the
// next policy draft version.
func (e *Engine) GeneratePolicyDraft(ctx context.Context, questionID string) (*model.Document, error) {
	ev, err := e.gatherEvidence(ctx, questionID)
	if err != nil {
		return nil, err
	}

	system, err := renderPrompt("policy_system", nil)
	if err != nil {
		return nil, err
	}
	user, err := renderPrompt("policy_user", map[string]string{
		"Question":  ev.Question.Text,
		"Problems":  bulletList(ev.Problems),
		"Solutions": bulletList(ev.Solutions),
	})
	if err != nil {
		return nil, err
	}

	var draft titledDocument
	if err := e.llm.CompleteJSON(ctx, e.request("policy_draft", system, user), &draft); err != nil {
		return nil, err
	}
	if draft.Title == "" || draft.Content == "" {
		return nil, eris.Errorf("engine: policy draft for question %s missing title or content", questionID)
	}

	version, err := e.nextDocVersion(ctx, questionID, model.DocPolicyDraft)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.InsertDocument(ctx, model.Document{
		QuestionID:        questionID,
		Kind:              model.DocPolicyDraft,
		Version:           version,
		Title:             draft.Title,
		Content:           draft.Content,
		SourceProblemIDs:  ev.ProblemIDs,
		SourceSolutionIDs: ev.SolutionIDs,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("engine: policy draft saved",
		zap.String("question_id", questionID),
		zap.String("document_id", doc.ID),
		zap.Int("version", doc.Version),
	)
	e.notify.Publish(notify.Event{
		Kind:    notify.EventNew,
		Topic:   string(model.DocPolicyDraft),
		ThemeID: ev.Question.ThemeID,
		Payload: doc,
	})
	return doc, nil
}
