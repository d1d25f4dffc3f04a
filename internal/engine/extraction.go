package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/model"
	"github.com/civicforge/deliberate/internal/notify"
)

// extractedItem is one statement the model proposes to add.
type extractedItem struct {
	Type      string `json:"type"`
	Statement string `json:"statement"`
}

// extractedUpdate is a refinement of an already extracted statement.
type extractedUpdate struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Statement string `json:"statement"`
}

type extractionResult struct {
	Additions []extractedItem   `json:"additions"`
	Updates   []extractedUpdate `json:"updates"`
}

// formatChatHistory renders the thread for the extraction prompt, marking the
// most recent user turn.
func formatChatHistory(messages []model.ChatMessage) string {
	latest := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			latest = i
			break
		}
	}
	lines := make([]string, len(messages))
	for i, msg := range messages {
		marker := ""
		if i == latest {
			marker = " [LATEST USER MESSAGE]"
		}
		lines[i] = fmt.Sprintf("%s%s: %s", msg.Role, marker, msg.Content)
	}
	return strings.Join(lines, "\n")
}

// summarizeStatements renders existing statements as "- ID: ..., Statement:
// ..." lines so the model can reference them in updates. Returns "None" when
// empty.
func summarizeStatements(statements []model.Statement) string {
	if len(statements) == 0 {
		return "None"
	}
	lines := make([]string, len(statements))
	for i, st := range statements {
		lines[i] = fmt.Sprintf("- ID: %s, Statement: %s", st.ID, st.Statement)
	}
	return strings.Join(lines, "\n")
}

// ExtractFromChat analyzes the latest user turn of a chat thread, creating
// new statements and applying versioned updates to existing ones. Every new
// or updated statement is queued for linking against the theme's questions.
func (e *Engine) ExtractFromChat(ctx context.Context, threadID string) error {
	thread, err := e.store.GetChatThread(ctx, threadID)
	if err != nil {
		return err
	}
	if thread == nil {
		return eris.Errorf("engine: chat thread %s not found", threadID)
	}
	if thread.LatestUserMessage() == nil {
		zap.L().Debug("engine: thread has no user message, skipping extraction",
			zap.String("thread_id", threadID))
		return nil
	}

	existingProblems, err := e.store.GetStatementsByIDs(ctx, thread.ExtractedProblemIDs)
	if err != nil {
		return err
	}
	existingSolutions, err := e.store.GetStatementsByIDs(ctx, thread.ExtractedSolutionIDs)
	if err != nil {
		return err
	}

	user, err := renderPrompt("extraction_chat", map[string]string{
		"History":           formatChatHistory(thread.Messages),
		"ExistingProblems":  summarizeStatements(existingProblems),
		"ExistingSolutions": summarizeStatements(existingSolutions),
		"LatestUserMessage": thread.LatestUserMessage().Content,
	})
	if err != nil {
		return err
	}

	req := e.request("extraction", e.themeCustomPrompt(ctx, thread.ThemeID), user)
	var result extractionResult
	if err := e.llm.CompleteJSON(ctx, req, &result); err != nil {
		return eris.Wrapf(err, "engine: extraction for thread %s", threadID)
	}

	zap.L().Info("engine: chat extraction parsed",
		zap.String("thread_id", threadID),
		zap.Int("additions", len(result.Additions)),
		zap.Int("updates", len(result.Updates)),
	)

	var problemIDs, solutionIDs []string
	for _, item := range result.Additions {
		st, err := e.saveExtracted(ctx, item, thread.ThemeID, model.SourceKindChat, threadID, nil)
		if err != nil {
			zap.L().Warn("engine: skipping extracted item",
				zap.String("thread_id", threadID), zap.Error(err))
			continue
		}
		if st.Kind == model.KindProblem {
			problemIDs = append(problemIDs, st.ID)
		} else {
			solutionIDs = append(solutionIDs, st.ID)
		}
		e.notify.Publish(notify.Event{
			Kind:     notify.EventNew,
			Topic:    string(st.Kind),
			ThemeID:  thread.ThemeID,
			ThreadID: threadID,
			Payload:  st,
		})
	}

	for _, update := range result.Updates {
		e.applyUpdate(ctx, threadID, update)
	}

	if len(problemIDs) > 0 || len(solutionIDs) > 0 {
		if err := e.store.AddExtractedIDs(ctx, threadID, problemIDs, solutionIDs); err != nil {
			return err
		}
	}
	return nil
}

// saveExtracted validates and persists one addition, then queues it for
// linking.
func (e *Engine) saveExtracted(ctx context.Context, item extractedItem, themeID, sourceKind, sourceOriginID string, metadata map[string]string) (*model.Statement, error) {
	kind := model.StatementKind(item.Type)
	if !kind.Valid() {
		return nil, eris.Errorf("engine: unknown statement type %q", item.Type)
	}
	if strings.TrimSpace(item.Statement) == "" {
		return nil, eris.New("engine: extracted statement is empty")
	}

	st, err := e.store.CreateStatement(ctx, model.Statement{
		ThemeID:        themeID,
		Kind:           kind,
		Statement:      item.Statement,
		SourceKind:     sourceKind,
		SourceOriginID: sourceOriginID,
		SourceMetadata: metadata,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("engine: statement extracted",
		zap.String("statement_id", st.ID),
		zap.String("kind", string(kind)),
		zap.String("source", sourceKind),
	)

	e.spawn("link-statement", func(ctx context.Context) error {
		return e.LinkStatementToQuestions(ctx, st.ID)
	})
	return st, nil
}

// applyUpdate applies one refinement with a compare-and-swap on the
// statement's current version. A losing update is dropped.
func (e *Engine) applyUpdate(ctx context.Context, threadID string, update extractedUpdate) {
	if update.ID == "" || !model.StatementKind(update.Type).Valid() {
		zap.L().Warn("engine: invalid update from extraction",
			zap.String("thread_id", threadID),
			zap.String("id", update.ID),
			zap.String("type", update.Type),
		)
		return
	}
	current, err := e.store.GetStatement(ctx, update.ID)
	if err != nil || current == nil {
		zap.L().Warn("engine: statement not found for update",
			zap.String("statement_id", update.ID), zap.Error(err))
		return
	}

	applied, err := e.store.UpdateStatementVersioned(ctx, update.ID, current.Version, update.Statement)
	if err != nil {
		zap.L().Error("engine: statement update failed",
			zap.String("statement_id", update.ID), zap.Error(err))
		return
	}
	if !applied {
		zap.L().Warn("engine: statement update dropped, version changed underneath",
			zap.String("statement_id", update.ID),
			zap.Int("expected_version", current.Version),
		)
		return
	}
	zap.L().Info("engine: statement updated",
		zap.String("statement_id", update.ID),
		zap.Int("new_version", current.Version+1),
	)

	e.spawn("link-statement", func(ctx context.Context) error {
		return e.LinkStatementToQuestions(ctx, update.ID)
	})
}

// ExtractFromImport claims a pending imported item and extracts statements
// from its content. The claim is a status CAS, so two concurrent runs cannot
// both process the same item.
func (e *Engine) ExtractFromImport(ctx context.Context, itemID string) error {
	item, err := e.store.GetImportedItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return eris.Errorf("engine: imported item %s not found", itemID)
	}

	claimed, err := e.store.MarkImportProcessing(ctx, itemID)
	if err != nil {
		return err
	}
	if !claimed {
		zap.L().Warn("engine: imported item not pending, skipping",
			zap.String("item_id", itemID),
			zap.String("status", string(item.Status)),
		)
		return nil
	}

	user, err := renderPrompt("extraction_import", map[string]string{
		"Content": item.Content,
	})
	if err != nil {
		return e.failImport(ctx, itemID, err)
	}

	req := e.request("extraction", e.themeCustomPrompt(ctx, item.ThemeID), user)
	var result extractionResult
	if err := e.llm.CompleteJSON(ctx, req, &result); err != nil {
		return e.failImport(ctx, itemID, err)
	}

	var problemIDs, solutionIDs []string
	for _, addition := range result.Additions {
		st, err := e.saveExtracted(ctx, addition, item.ThemeID, item.SourceKind, itemID, item.Metadata)
		if err != nil {
			zap.L().Warn("engine: skipping extracted item",
				zap.String("item_id", itemID), zap.Error(err))
			continue
		}
		if st.Kind == model.KindProblem {
			problemIDs = append(problemIDs, st.ID)
		} else {
			solutionIDs = append(solutionIDs, st.ID)
		}
		e.notify.Publish(notify.Event{
			Kind:    notify.EventNew,
			Topic:   string(st.Kind),
			ThemeID: item.ThemeID,
			Payload: st,
		})
	}

	if err := e.store.CompleteImport(ctx, itemID, problemIDs, solutionIDs); err != nil {
		return err
	}
	zap.L().Info("engine: import extraction completed",
		zap.String("item_id", itemID),
		zap.Int("problems", len(problemIDs)),
		zap.Int("solutions", len(solutionIDs)),
	)
	return nil
}

// failImport records the failure and returns the original error. The store
// guard keeps a completed item untouched.
func (e *Engine) failImport(ctx context.Context, itemID string, cause error) error {
	if err := e.store.FailImport(ctx, itemID, cause.Error()); err != nil {
		zap.L().Error("engine: could not mark import failed",
			zap.String("item_id", itemID), zap.Error(err))
	}
	return eris.Wrapf(cause, "engine: extraction for import %s", itemID)
}

// ProcessPendingImports runs extraction over every pending import in the
// theme, sequentially. Item failures do not stop the sweep.
func (e *Engine) ProcessPendingImports(ctx context.Context, themeID string) (int, error) {
	pending, err := e.store.ListPendingImports(ctx, themeID)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, item := range pending {
		if err := e.ExtractFromImport(ctx, item.ID); err != nil {
			zap.L().Error("engine: pending import failed",
				zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

// themeCustomPrompt returns the theme's custom system prompt, or "" when the
// theme is missing or has none.
func (e *Engine) themeCustomPrompt(ctx context.Context, themeID string) string {
	theme, err := e.store.GetTheme(ctx, themeID)
	if err != nil || theme == nil {
		return ""
	}
	return theme.CustomPrompt
}
