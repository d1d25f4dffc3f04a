// Package store persists themes, statements, questions, links, generated
// documents, chat threads, and imported items. All mutation happens through
// upsert-by-natural-key or optimistic-version-checked updates — no locks, no
// multi-row transactions beyond single read-modify-write scopes.
package store

import (
	"context"

	"github.com/civicforge/deliberate/internal/model"
)

// Store defines the persistence interface shared by every engine.
type Store interface {
	// Themes
	CreateTheme(ctx context.Context, theme model.Theme) (*model.Theme, error)
	GetTheme(ctx context.Context, id string) (*model.Theme, error)
	ListThemes(ctx context.Context, activeOnly bool) ([]model.Theme, error)

	// Statements
	CreateStatement(ctx context.Context, st model.Statement) (*model.Statement, error)
	GetStatement(ctx context.Context, id string) (*model.Statement, error)
	GetStatementsByIDs(ctx context.Context, ids []string) ([]model.Statement, error)
	ListStatementsByTheme(ctx context.Context, themeID string, kind *model.StatementKind) ([]model.Statement, error)
	// UpdateStatementVersioned applies a compare-and-swap update: the new text
	// is written and the version incremented by 1 only if the stored version
	// still equals expectedVersion. Returns false (no error) on a stale
	// version.
	UpdateStatementVersioned(ctx context.Context, id string, expectedVersion int, statement string) (bool, error)

	// Questions
	// UpsertQuestion inserts q unless a question with the same
	// (themeID, normalized text) already exists; existing rows are never
	// overwritten. Returns the stored row and whether it was newly inserted.
	UpsertQuestion(ctx context.Context, q model.Question) (*model.Question, bool, error)
	GetQuestion(ctx context.Context, id string) (*model.Question, error)
	ListQuestionsByTheme(ctx context.Context, themeID string) ([]model.Question, error)

	// Links
	// UpsertLink writes the link keyed by (questionID, linkedItemID),
	// overwriting type/score/rationale in place on re-evaluation.
	UpsertLink(ctx context.Context, link model.Link) (*model.Link, error)
	ListLinksByQuestion(ctx context.Context, questionID string) ([]model.Link, error)

	// Generated documents (append-only versions)
	InsertDocument(ctx context.Context, doc model.Document) (*model.Document, error)
	LatestDocument(ctx context.Context, questionID string, kind model.DocumentKind) (*model.Document, error)
	ListDocumentVersions(ctx context.Context, questionID string, kind model.DocumentKind) ([]model.Document, error)

	// Chat threads
	CreateChatThread(ctx context.Context, thread model.ChatThread) (*model.ChatThread, error)
	GetChatThread(ctx context.Context, id string) (*model.ChatThread, error)
	AppendChatMessage(ctx context.Context, threadID string, msg model.ChatMessage) error
	// AddExtractedIDs appends statement ids to the thread's extracted-id sets
	// with set semantics: ids already present are not duplicated.
	AddExtractedIDs(ctx context.Context, threadID string, problemIDs, solutionIDs []string) error

	// Imported items
	CreateImportedItem(ctx context.Context, item model.ImportedItem) (*model.ImportedItem, error)
	GetImportedItem(ctx context.Context, id string) (*model.ImportedItem, error)
	ListPendingImports(ctx context.Context, themeID string) ([]model.ImportedItem, error)
	// MarkImportProcessing transitions pending→processing. Returns false if
	// the item was not in pending state.
	MarkImportProcessing(ctx context.Context, id string) (bool, error)
	CompleteImport(ctx context.Context, id string, problemIDs, solutionIDs []string) error
	// FailImport records a failure message, but only while the item is still
	// processing — a late failure never overwrites a completed record.
	FailImport(ctx context.Context, id string, errorMessage string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
