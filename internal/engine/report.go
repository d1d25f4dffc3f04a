package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/model"
	"github.com/civicforge/deliberate/internal/notify"
)

type reportResult struct {
	Introduction string              `json:"introduction"`
	Issues       []model.ReportIssue `json:"issues"`
}

// GenerateReportExample produces an introduction plus an issue list
// summarizing the question's linked evidence, appended as the next report
// version.
func (e *Engine) GenerateReportExample(ctx context.Context, questionID string) (*model.Document, error) {
	ev, err := e.gatherEvidence(ctx, questionID)
	if err != nil {
		return nil, err
	}

	system, err := renderPrompt("report_system", map[string]string{
		"Question": ev.Question.Text,
	})
	if err != nil {
		return nil, err
	}
	user, err := renderPrompt("report_user", map[string]string{
		"Question":  ev.Question.Text,
		"Problems":  bulletList(ev.Problems),
		"Solutions": bulletList(ev.Solutions),
	})
	if err != nil {
		return nil, err
	}

	var report reportResult
	if err := e.llm.CompleteJSON(ctx, e.request("report_example", system, user), &report); err != nil {
		return nil, err
	}
	if report.Introduction == "" || len(report.Issues) == 0 {
		return nil, eris.Errorf("engine: report for question %s missing introduction or issues", questionID)
	}

	version, err := e.nextDocVersion(ctx, questionID, model.DocReportExample)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.InsertDocument(ctx, model.Document{
		QuestionID:        questionID,
		Kind:              model.DocReportExample,
		Version:           version,
		Introduction:      report.Introduction,
		Issues:            report.Issues,
		SourceProblemIDs:  ev.ProblemIDs,
		SourceSolutionIDs: ev.SolutionIDs,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("engine: report example saved",
		zap.String("question_id", questionID),
		zap.Int("issues", len(report.Issues)),
		zap.Int("version", doc.Version),
	)
	e.notify.Publish(notify.Event{
		Kind:    notify.EventNew,
		Topic:   string(model.DocReportExample),
		ThemeID: ev.Question.ThemeID,
		Payload: doc,
	})
	return doc, nil
}
