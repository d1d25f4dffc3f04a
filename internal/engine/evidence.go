package engine

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/model"
)

// evidence is the linked-statement context every document generator starts
// from: problem and solution statements ordered by descending relevance.
type evidence struct {
	Question    *model.Question
	ProblemIDs  []string
	Problems    []string
	SolutionIDs []string
	Solutions   []string
}

// gatherEvidence loads the question and its links, splits them by kind, and
// orders each side by relevance score, highest first. Statements whose link
// points at a missing row are skipped.
func (e *Engine) gatherEvidence(ctx context.Context, questionID string) (*evidence, error) {
	question, err := e.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question == nil {
		return nil, eris.Errorf("engine: question %s not found", questionID)
	}

	links, err := e.store.ListLinksByQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	var problemLinks, solutionLinks []model.Link
	for _, link := range links {
		switch link.LinkedItemKind {
		case model.KindProblem:
			problemLinks = append(problemLinks, link)
		case model.KindSolution:
			solutionLinks = append(solutionLinks, link)
		}
	}
	sort.SliceStable(problemLinks, func(i, j int) bool {
		return problemLinks[i].RelevanceScore > problemLinks[j].RelevanceScore
	})
	sort.SliceStable(solutionLinks, func(i, j int) bool {
		return solutionLinks[i].RelevanceScore > solutionLinks[j].RelevanceScore
	})

	ev := &evidence{Question: question}
	ev.ProblemIDs, ev.Problems, err = e.resolveStatements(ctx, problemLinks)
	if err != nil {
		return nil, err
	}
	ev.SolutionIDs, ev.Solutions, err = e.resolveStatements(ctx, solutionLinks)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("engine: gathered evidence",
		zap.String("question_id", questionID),
		zap.Int("problems", len(ev.Problems)),
		zap.Int("solutions", len(ev.Solutions)),
	)
	return ev, nil
}

// nextDocVersion returns the version an InsertDocument for this question and
// kind should carry: one past the latest stored version, or 1 for the first.
func (e *Engine) nextDocVersion(ctx context.Context, questionID string, kind model.DocumentKind) (int, error) {
	latest, err := e.store.LatestDocument(ctx, questionID, kind)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 1, nil
	}
	return latest.Version + 1, nil
}

// resolveStatements fetches the statements behind the given links, keeping
// the links' relevance order and dropping links to deleted statements.
func (e *Engine) resolveStatements(ctx context.Context, links []model.Link) ([]string, []string, error) {
	if len(links) == 0 {
		return nil, nil, nil
	}
	ids := make([]string, len(links))
	for i, link := range links {
		ids[i] = link.LinkedItemID
	}

	statements, err := e.store.GetStatementsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]string, len(statements))
	for _, st := range statements {
		byID[st.ID] = st.Statement
	}

	var keptIDs, texts []string
	for _, id := range ids {
		if text, ok := byID[id]; ok {
			keptIDs = append(keptIDs, id)
			texts = append(texts, text)
		}
	}
	return keptIDs, texts, nil
}
