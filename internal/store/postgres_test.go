package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/deliberate/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgresFromPool(mock)
	return s, mock
}

func TestPostgresStore_GetTheme_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM themes WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "title", "description", "slug", "active",
			"custom_prompt", "disable_new_comments", "created_at", "updated_at",
		}))

	theme, err := s.GetTheme(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, theme)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatementVersioned_Stale(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE statements SET statement = \$1, version = version \+ 1`).
		WithArgs("revised", "stmt-1", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.UpdateStatementVersioned(context.Background(), "stmt-1", 3, "revised")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatementVersioned_Applied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE statements SET statement = \$1, version = version \+ 1`).
		WithArgs("revised", "stmt-1", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.UpdateStatementVersioned(context.Background(), "stmt-1", 1, "revised")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertQuestion_ConflictReturnsExisting(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Insert is a no-op on conflict; the follow-up select returns the
	// previously stored row.
	mock.ExpectExec(`INSERT INTO questions .+ ON CONFLICT \(theme_id, text_key\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "theme-1", "q?", "q?", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT .+ FROM questions WHERE theme_id = \$1 AND text_key = \$2`).
		WithArgs("theme-1", "q?").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "theme_id", "text", "tag_line", "tags", "ord", "created_at",
		}).AddRow("q-existing", "theme-1", "q?", "", []byte(`[]`), nil, time.Now()))

	q, inserted, err := s.UpsertQuestion(context.Background(), model.Question{
		ThemeID: "theme-1",
		Text:    "q?",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "q-existing", q.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkImportProcessing_AlreadyClaimed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE imported_items SET status = 'processing' WHERE id = \$1 AND status = 'pending'`).
		WithArgs("imp-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.MarkImportProcessing(context.Background(), "imp-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailImport_GuardedByStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE imported_items SET status = 'failed', error_message = \$1 WHERE id = \$2 AND status = 'processing'`).
		WithArgs("boom", "imp-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FailImport(context.Background(), "imp-1", "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
