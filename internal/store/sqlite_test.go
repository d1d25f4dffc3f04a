package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/civicforge/deliberate/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedTheme(t *testing.T, st *SQLiteStore) *model.Theme {
	t.Helper()
	theme, err := st.CreateTheme(context.Background(), model.Theme{
		Title:  "地域交通",
		Slug:   "local-transit",
		Active: true,
	})
	require.NoError(t, err)
	return theme
}

func seedStatement(t *testing.T, st *SQLiteStore, themeID string, kind model.StatementKind, text string) *model.Statement {
	t.Helper()
	stmt, err := st.CreateStatement(context.Background(), model.Statement{
		ThemeID:        themeID,
		Kind:           kind,
		Statement:      text,
		SourceKind:     model.SourceKindChat,
		SourceOriginID: "thread-1",
	})
	require.NoError(t, err)
	return stmt
}

// --- Themes ---

func TestSQLite_Theme_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	theme := seedTheme(t, st)
	assert.NotEmpty(t, theme.ID)

	got, err := st.GetTheme(ctx, theme.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "地域交通", got.Title)
	assert.True(t, got.Active)
}

func TestSQLite_Theme_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetTheme(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_Theme_ListActiveOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateTheme(ctx, model.Theme{Title: "a", Slug: "a", Active: true})
	require.NoError(t, err)
	_, err = st.CreateTheme(ctx, model.Theme{Title: "b", Slug: "b", Active: false})
	require.NoError(t, err)

	all, err := st.ListThemes(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := st.ListThemes(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].Slug)
}

// --- Statements ---

func TestSQLite_Statement_CreateStartsAtVersionOne(t *testing.T) {
	st := newTestSQLiteStore(t)
	theme := seedTheme(t, st)

	stmt := seedStatement(t, st, theme.ID, model.KindProblem, "バスの本数が少ない")
	assert.Equal(t, 1, stmt.Version)

	got, err := st.GetStatement(context.Background(), stmt.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.KindProblem, got.Kind)
	assert.Equal(t, 1, got.Version)
}

func TestSQLite_Statement_RejectsInvalidKind(t *testing.T) {
	st := newTestSQLiteStore(t)
	theme := seedTheme(t, st)

	_, err := st.CreateStatement(context.Background(), model.Statement{
		ThemeID:   theme.ID,
		Kind:      "opinion",
		Statement: "whatever",
	})
	assert.Error(t, err)
}

func TestSQLite_Statement_VersionedUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)
	stmt := seedStatement(t, st, theme.ID, model.KindProblem, "original")

	ok, err := st.UpdateStatementVersioned(ctx, stmt.ID, 1, "refined")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, "refined", got.Statement)
	assert.Equal(t, 2, got.Version)
}

func TestSQLite_Statement_StaleUpdateDropped(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)
	stmt := seedStatement(t, st, theme.ID, model.KindProblem, "original")

	// First writer wins.
	ok, err := st.UpdateStatementVersioned(ctx, stmt.ID, 1, "first")
	require.NoError(t, err)
	require.True(t, ok)

	// Second writer holds the stale version and is rejected.
	ok, err = st.UpdateStatementVersioned(ctx, stmt.ID, 1, "second")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Statement)
	assert.Equal(t, 2, got.Version)
}

func TestSQLite_Statement_GetByIDsPreservesOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)

	s1 := seedStatement(t, st, theme.ID, model.KindProblem, "one")
	s2 := seedStatement(t, st, theme.ID, model.KindSolution, "two")
	s3 := seedStatement(t, st, theme.ID, model.KindProblem, "three")

	got, err := st.GetStatementsByIDs(ctx, []string{s3.ID, s1.ID, "missing", s2.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, s3.ID, got[0].ID)
	assert.Equal(t, s1.ID, got[1].ID)
	assert.Equal(t, s2.ID, got[2].ID)
}

func TestSQLite_Statement_ListByThemeFiltersKind(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)

	seedStatement(t, st, theme.ID, model.KindProblem, "p1")
	seedStatement(t, st, theme.ID, model.KindSolution, "s1")
	seedStatement(t, st, theme.ID, model.KindProblem, "p2")

	kind := model.KindProblem
	problems, err := st.ListStatementsByTheme(ctx, theme.ID, &kind)
	require.NoError(t, err)
	assert.Len(t, problems, 2)

	all, err := st.ListStatementsByTheme(ctx, theme.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// --- Questions ---

func TestSQLite_Question_UpsertInsertsOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)

	q1, inserted, err := st.UpsertQuestion(ctx, model.Question{
		ThemeID: theme.ID,
		Text:    "どうすればバスの利便性を高められるか？",
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same text again is a no-op that returns the existing row.
	q2, inserted, err := st.UpsertQuestion(ctx, model.Question{
		ThemeID: theme.ID,
		Text:    "どうすればバスの利便性を高められるか？",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, q1.ID, q2.ID)

	qs, err := st.ListQuestionsByTheme(ctx, theme.ID)
	require.NoError(t, err)
	assert.Len(t, qs, 1)
}

func TestSQLite_Question_DedupIsNFKCNormalized(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)

	q1, inserted, err := st.UpsertQuestion(ctx, model.Question{
		ThemeID: theme.ID,
		Text:    "どうすればＡＩを活用できるか?",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	// Half-width variant of the same text collapses to the same key.
	q2, inserted, err := st.UpsertQuestion(ctx, model.Question{
		ThemeID: theme.ID,
		Text:    "  どうすればAIを活用できるか?  ",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, q1.ID, q2.ID)
}

func TestSQLite_Question_SameTextDifferentThemes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	t1, err := st.CreateTheme(ctx, model.Theme{Title: "t1", Slug: "t1", Active: true})
	require.NoError(t, err)
	t2, err := st.CreateTheme(ctx, model.Theme{Title: "t2", Slug: "t2", Active: true})
	require.NoError(t, err)

	_, inserted, err := st.UpsertQuestion(ctx, model.Question{ThemeID: t1.ID, Text: "shared?"})
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = st.UpsertQuestion(ctx, model.Question{ThemeID: t2.ID, Text: "shared?"})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestSQLite_Question_EmptyTextRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	theme := seedTheme(t, st)

	_, _, err := st.UpsertQuestion(context.Background(), model.Question{
		ThemeID: theme.ID,
		Text:    "   ",
	})
	assert.Error(t, err)
}

// --- Links ---

func TestSQLite_Link_UpsertIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)
	stmt := seedStatement(t, st, theme.ID, model.KindProblem, "p")
	q, _, err := st.UpsertQuestion(ctx, model.Question{ThemeID: theme.ID, Text: "q?"})
	require.NoError(t, err)

	first, err := st.UpsertLink(ctx, model.Link{
		QuestionID:     q.ID,
		LinkedItemID:   stmt.ID,
		LinkedItemKind: model.KindProblem,
		LinkType:       model.LinkPromptsQuestion,
		RelevanceScore: 0.6,
		Rationale:      "initial judgment",
	})
	require.NoError(t, err)

	// Re-linking the same pair updates in place rather than duplicating.
	second, err := st.UpsertLink(ctx, model.Link{
		QuestionID:     q.ID,
		LinkedItemID:   stmt.ID,
		LinkedItemKind: model.KindProblem,
		LinkType:       model.LinkPromptsQuestion,
		RelevanceScore: 0.9,
		Rationale:      "re-judged",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.9, second.RelevanceScore, 1e-9)

	links, err := st.ListLinksByQuestion(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "re-judged", links[0].Rationale)
}

func TestSQLite_Link_MultipleItemsPerQuestion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)
	q, _, err := st.UpsertQuestion(ctx, model.Question{ThemeID: theme.ID, Text: "q?"})
	require.NoError(t, err)

	p := seedStatement(t, st, theme.ID, model.KindProblem, "p")
	s := seedStatement(t, st, theme.ID, model.KindSolution, "s")

	_, err = st.UpsertLink(ctx, model.Link{
		QuestionID: q.ID, LinkedItemID: p.ID,
		LinkedItemKind: model.KindProblem, LinkType: model.LinkPromptsQuestion,
		RelevanceScore: 0.7,
	})
	require.NoError(t, err)
	_, err = st.UpsertLink(ctx, model.Link{
		QuestionID: q.ID, LinkedItemID: s.ID,
		LinkedItemKind: model.KindSolution, LinkType: model.LinkAnswersQuestion,
		RelevanceScore: 0.8,
	})
	require.NoError(t, err)

	links, err := st.ListLinksByQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

// --- Documents ---

func TestSQLite_Document_VersionsAppend(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		_, err := st.InsertDocument(ctx, model.Document{
			QuestionID: "q1",
			Kind:       model.DocPolicyDraft,
			Version:    v,
			Title:      "draft",
			Content:    "body",
		})
		require.NoError(t, err)
	}

	latest, err := st.LatestDocument(ctx, "q1", model.DocPolicyDraft)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Version)

	versions, err := st.ListDocumentVersions(ctx, "q1", model.DocPolicyDraft)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 3, versions[2].Version)
}

func TestSQLite_Document_KindsVersionIndependently(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertDocument(ctx, model.Document{
		QuestionID: "q1", Kind: model.DocPolicyDraft, Version: 1,
	})
	require.NoError(t, err)
	_, err = st.InsertDocument(ctx, model.Document{
		QuestionID: "q1", Kind: model.DocDigest, Version: 1, PolicyDraftID: "pd1",
	})
	require.NoError(t, err)

	digest, err := st.LatestDocument(ctx, "q1", model.DocDigest)
	require.NoError(t, err)
	require.NotNil(t, digest)
	assert.Equal(t, "pd1", digest.PolicyDraftID)
}

func TestSQLite_Document_StructuredFieldsRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertDocument(ctx, model.Document{
		QuestionID: "q1",
		Kind:       model.DocDebateAnalysis,
		Version:    1,
		Axes: []model.DebateAxis{{
			Title: "費用負担",
			Options: []model.AxisOption{
				{Label: "行政負担", Description: "税で賄う"},
				{Label: "受益者負担", Description: "利用者が払う"},
			},
		}},
		AgreementPoints:    []string{"現状に課題がある"},
		DisagreementPoints: []string{"財源"},
		SourceProblemIDs:   []string{"p1", "p2"},
	})
	require.NoError(t, err)

	got, err := st.LatestDocument(ctx, "q1", model.DocDebateAnalysis)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Axes, 1)
	assert.Equal(t, "費用負担", got.Axes[0].Title)
	assert.Len(t, got.Axes[0].Options, 2)
	assert.Equal(t, []string{"p1", "p2"}, got.SourceProblemIDs)
}

func TestSQLite_Document_MissingLatestIsNil(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.LatestDocument(context.Background(), "q-none", model.DocPolicyDraft)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Chat threads ---

func TestSQLite_ChatThread_AppendAndExtractedIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)

	thread, err := st.CreateChatThread(ctx, model.ChatThread{
		ThemeID:   theme.ID,
		SessionID: "sess-1",
	})
	require.NoError(t, err)

	require.NoError(t, st.AppendChatMessage(ctx, thread.ID, model.ChatMessage{Role: "user", Content: "道が混む"}))
	require.NoError(t, st.AppendChatMessage(ctx, thread.ID, model.ChatMessage{Role: "assistant", Content: "詳しく教えてください"}))

	require.NoError(t, st.AddExtractedIDs(ctx, thread.ID, []string{"p1"}, nil))
	// Re-adding p1 must not duplicate it.
	require.NoError(t, st.AddExtractedIDs(ctx, thread.ID, []string{"p1", "p2"}, []string{"s1"}))

	got, err := st.GetChatThread(ctx, thread.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, []string{"p1", "p2"}, got.ExtractedProblemIDs)
	assert.Equal(t, []string{"s1"}, got.ExtractedSolutionIDs)
}

func TestSQLite_ChatThread_AppendToMissingThread(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.AppendChatMessage(context.Background(), "nope", model.ChatMessage{Role: "user", Content: "x"})
	assert.Error(t, err)
}

// --- Imported items ---

func TestSQLite_Import_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)

	item, err := st.CreateImportedItem(ctx, model.ImportedItem{
		ThemeID:    theme.ID,
		SourceKind: "tweet",
		Content:    "渋滞がひどい",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ImportPending, item.Status)

	pending, err := st.ListPendingImports(ctx, theme.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	ok, err := st.MarkImportProcessing(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second claim loses.
	ok, err = st.MarkImportProcessing(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.CompleteImport(ctx, item.ID, []string{"p1"}, nil))

	got, err := st.GetImportedItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportCompleted, got.Status)
	assert.Equal(t, []string{"p1"}, got.ExtractedProblemIDs)
	assert.NotNil(t, got.ProcessedAt)
}

func TestSQLite_Import_LateFailureDoesNotOverwriteCompleted(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)

	item, err := st.CreateImportedItem(ctx, model.ImportedItem{
		ThemeID: theme.ID, SourceKind: "other", Content: "c",
	})
	require.NoError(t, err)

	ok, err := st.MarkImportProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.CompleteImport(ctx, item.ID, nil, nil))

	// A straggling failure report arrives after completion and is ignored.
	require.NoError(t, st.FailImport(ctx, item.ID, "boom"))

	got, err := st.GetImportedItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestSQLite_Import_Failure(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	theme := seedTheme(t, st)

	item, err := st.CreateImportedItem(ctx, model.ImportedItem{
		ThemeID: theme.ID, SourceKind: "other", Content: "c",
	})
	require.NoError(t, err)

	ok, err := st.MarkImportProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.FailImport(ctx, item.ID, "llm unreachable"))

	got, err := st.GetImportedItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportFailed, got.Status)
	assert.Equal(t, "llm unreachable", got.ErrorMessage)
}

func TestSQLite_CorruptStoredValuesLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	// Corrupted rows degrade to zero values, but loudly.
	assert.True(t, parseTime("not-a-timestamp").IsZero())
	assert.Nil(t, fromJSON[[]model.ChatMessage]("{corrupt"))
	assert.Len(t, logs.FilterMessage("sqlite: unparseable stored timestamp").All(), 1)
	assert.Len(t, logs.FilterMessage("sqlite: corrupt stored json").All(), 1)

	// Empty stored values are not corruption.
	assert.True(t, parseTime("").IsZero())
	assert.Nil(t, fromJSON[[]model.ChatMessage](""))
	assert.Equal(t, 2, logs.Len())
}
