package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/model"
	"github.com/civicforge/deliberate/internal/notify"
)

// GenerateDigest rewrites the latest policy draft into a citizen-readable
// digest. It requires a policy draft to exist; the digest records which
// draft it condensed.
func (e *Engine) GenerateDigest(ctx context.Context, questionID string) (*model.Document, error) {
	ev, err := e.gatherEvidence(ctx, questionID)
	if err != nil {
		return nil, err
	}

	policyDraft, err := e.store.LatestDocument(ctx, questionID, model.DocPolicyDraft)
	if err != nil {
		return nil, err
	}
	if policyDraft == nil {
		return nil, eris.Errorf("engine: no policy draft for question %s, generate one first", questionID)
	}

	system, err := renderPrompt("digest_system", nil)
	if err != nil {
		return nil, err
	}
	user, err := renderPrompt("digest_user", map[string]string{
		"Question":      ev.Question.Text,
		"Problems":      bulletList(ev.Problems),
		"Solutions":     bulletList(ev.Solutions),
		"PolicyTitle":   policyDraft.Title,
		"PolicyContent": policyDraft.Content,
	})
	if err != nil {
		return nil, err
	}

	var digest titledDocument
	if err := e.llm.CompleteJSON(ctx, e.request("digest", system, user), &digest); err != nil {
		return nil, err
	}
	if digest.Title == "" || digest.Content == "" {
		return nil, eris.Errorf("engine: digest for question %s missing title or content", questionID)
	}

	version, err := e.nextDocVersion(ctx, questionID, model.DocDigest)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.InsertDocument(ctx, model.Document{
		QuestionID:        questionID,
		Kind:              model.DocDigest,
		Version:           version,
		Title:             digest.Title,
		Content:           digest.Content,
		PolicyDraftID:     policyDraft.ID,
		SourceProblemIDs:  ev.ProblemIDs,
		SourceSolutionIDs: ev.SolutionIDs,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("engine: digest saved",
		zap.String("question_id", questionID),
		zap.String("policy_draft_id", policyDraft.ID),
		zap.Int("version", doc.Version),
	)
	e.notify.Publish(notify.Event{
		Kind:    notify.EventNew,
		Topic:   string(model.DocDigest),
		ThemeID: ev.Question.ThemeID,
		Payload: doc,
	})
	return doc, nil
}
