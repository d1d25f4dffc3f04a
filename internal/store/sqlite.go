package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/civicforge/deliberate/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS themes (
	id                   TEXT PRIMARY KEY,
	title                TEXT NOT NULL UNIQUE,
	description          TEXT NOT NULL DEFAULT '',
	slug                 TEXT NOT NULL UNIQUE,
	active               INTEGER NOT NULL DEFAULT 1,
	custom_prompt        TEXT NOT NULL DEFAULT '',
	disable_new_comments INTEGER NOT NULL DEFAULT 0,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS statements (
	id               TEXT PRIMARY KEY,
	theme_id         TEXT NOT NULL,
	kind             TEXT NOT NULL CHECK (kind IN ('problem', 'solution')),
	statement        TEXT NOT NULL,
	source_kind      TEXT NOT NULL,
	source_origin_id TEXT NOT NULL,
	source_metadata  TEXT NOT NULL DEFAULT '{}',
	version          INTEGER NOT NULL DEFAULT 1,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statements_theme_kind ON statements(theme_id, kind);

CREATE TABLE IF NOT EXISTS questions (
	id         TEXT PRIMARY KEY,
	theme_id   TEXT NOT NULL,
	text       TEXT NOT NULL,
	text_key   TEXT NOT NULL,
	tag_line   TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	ord        INTEGER,
	created_at TEXT NOT NULL,
	UNIQUE (theme_id, text_key)
);

CREATE TABLE IF NOT EXISTS links (
	id               TEXT PRIMARY KEY,
	question_id      TEXT NOT NULL,
	linked_item_id   TEXT NOT NULL,
	linked_item_kind TEXT NOT NULL CHECK (linked_item_kind IN ('problem', 'solution')),
	link_type        TEXT NOT NULL CHECK (link_type IN ('prompts_question', 'answers_question')),
	relevance_score  REAL NOT NULL DEFAULT 0,
	rationale        TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	UNIQUE (question_id, linked_item_id)
);
CREATE INDEX IF NOT EXISTS idx_links_question ON links(question_id);

CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	question_id     TEXT NOT NULL,
	kind            TEXT NOT NULL,
	version         INTEGER NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	policy_draft_id TEXT NOT NULL DEFAULT '',
	data            TEXT NOT NULL DEFAULT '{}',
	created_at      TEXT NOT NULL,
	UNIQUE (question_id, kind, version)
);

CREATE TABLE IF NOT EXISTS chat_threads (
	id                     TEXT PRIMARY KEY,
	theme_id               TEXT NOT NULL,
	session_id             TEXT NOT NULL,
	user_id                TEXT NOT NULL DEFAULT '',
	messages               TEXT NOT NULL DEFAULT '[]',
	extracted_problem_ids  TEXT NOT NULL DEFAULT '[]',
	extracted_solution_ids TEXT NOT NULL DEFAULT '[]',
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS imported_items (
	id                     TEXT PRIMARY KEY,
	theme_id               TEXT NOT NULL,
	source_kind            TEXT NOT NULL,
	content                TEXT NOT NULL,
	metadata               TEXT NOT NULL DEFAULT '{}',
	status                 TEXT NOT NULL DEFAULT 'pending'
	                       CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	extracted_problem_ids  TEXT NOT NULL DEFAULT '[]',
	extracted_solution_ids TEXT NOT NULL DEFAULT '[]',
	error_message          TEXT NOT NULL DEFAULT '',
	processed_at           TEXT,
	created_at             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_imports_theme_status ON imported_items(theme_id, status);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteTimeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// parseTime is forgiving: a corrupted stored timestamp degrades to the zero
// time instead of failing the read, but the corruption is logged.
func parseTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		if s != "" {
			zap.L().Warn("sqlite: unparseable stored timestamp",
				zap.String("value", s), zap.Error(err))
		}
		return time.Time{}
	}
	return t
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// fromJSON is forgiving like parseTime: a corrupted stored document yields
// the zero value, with the corruption logged.
func fromJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil && s != "" {
		zap.L().Warn("sqlite: corrupt stored json", zap.Error(err))
	}
	return v
}

// --- Themes ---

func (s *SQLiteStore) CreateTheme(ctx context.Context, theme model.Theme) (*model.Theme, error) {
	if theme.ID == "" {
		theme.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	theme.CreatedAt = now
	theme.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO themes (id, title, description, slug, active, custom_prompt, disable_new_comments, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		theme.ID, theme.Title, theme.Description, theme.Slug, theme.Active,
		theme.CustomPrompt, theme.DisableNewComments, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create theme %s", theme.Slug)
	}
	return &theme, nil
}

func (s *SQLiteStore) GetTheme(ctx context.Context, id string) (*model.Theme, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, slug, active, custom_prompt, disable_new_comments, created_at, updated_at
		 FROM themes WHERE id = ?`, id)
	return scanTheme(row)
}

func (s *SQLiteStore) ListThemes(ctx context.Context, activeOnly bool) ([]model.Theme, error) {
	query := `SELECT id, title, description, slug, active, custom_prompt, disable_new_comments, created_at, updated_at
	          FROM themes`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list themes")
	}
	defer rows.Close()

	var themes []model.Theme
	for rows.Next() {
		th, err := scanTheme(rows)
		if err != nil {
			return nil, err
		}
		themes = append(themes, *th)
	}
	return themes, eris.Wrap(rows.Err(), "sqlite: list themes")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTheme(row rowScanner) (*model.Theme, error) {
	var th model.Theme
	var createdAt, updatedAt string
	err := row.Scan(&th.ID, &th.Title, &th.Description, &th.Slug, &th.Active,
		&th.CustomPrompt, &th.DisableNewComments, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan theme")
	}
	th.CreatedAt = parseTime(createdAt)
	th.UpdatedAt = parseTime(updatedAt)
	return &th, nil
}

// --- Statements ---

func (s *SQLiteStore) CreateStatement(ctx context.Context, st model.Statement) (*model.Statement, error) {
	if !st.Kind.Valid() {
		return nil, eris.Errorf("sqlite: invalid statement kind %q", st.Kind)
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.Version = 1
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statements (id, theme_id, kind, statement, source_kind, source_origin_id, source_metadata, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		st.ID, st.ThemeID, st.Kind, st.Statement, st.SourceKind, st.SourceOriginID,
		toJSON(st.SourceMetadata), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create %s statement", st.Kind)
	}
	return &st, nil
}

const statementCols = `id, theme_id, kind, statement, source_kind, source_origin_id, source_metadata, version, created_at, updated_at`

func scanStatement(row rowScanner) (*model.Statement, error) {
	var st model.Statement
	var metadata, createdAt, updatedAt string
	err := row.Scan(&st.ID, &st.ThemeID, &st.Kind, &st.Statement, &st.SourceKind,
		&st.SourceOriginID, &metadata, &st.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan statement")
	}
	st.SourceMetadata = fromJSON[map[string]string](metadata)
	st.CreatedAt = parseTime(createdAt)
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

func (s *SQLiteStore) GetStatement(ctx context.Context, id string) (*model.Statement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+statementCols+` FROM statements WHERE id = ?`, id)
	return scanStatement(row)
}

func (s *SQLiteStore) GetStatementsByIDs(ctx context.Context, ids []string) ([]model.Statement, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	// Fetch one by one: id sets here are small (a thread's extractions or a
	// question's links) and it keeps ordering concerns with the caller.
	var out []model.Statement
	for _, id := range ids {
		st, err := s.GetStatement(ctx, id)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (s *SQLiteStore) ListStatementsByTheme(ctx context.Context, themeID string, kind *model.StatementKind) ([]model.Statement, error) {
	query := `SELECT ` + statementCols + ` FROM statements WHERE theme_id = ?`
	args := []any{themeID}
	if kind != nil {
		query += ` AND kind = ?`
		args = append(args, *kind)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list statements")
	}
	defer rows.Close()

	var out []model.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list statements")
}

func (s *SQLiteStore) UpdateStatementVersioned(ctx context.Context, id string, expectedVersion int, statement string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE statements SET statement = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		statement, fmtTime(time.Now().UTC()), id, expectedVersion,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update statement %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: update statement rows affected")
	}
	return n == 1, nil
}

// --- Questions ---

func (s *SQLiteStore) UpsertQuestion(ctx context.Context, q model.Question) (*model.Question, bool, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	key := model.NormalizeQuestionText(q.Text)
	if key == "" {
		return nil, false, eris.New("sqlite: question text is empty")
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (id, theme_id, text, text_key, tag_line, tags, ord, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (theme_id, text_key) DO NOTHING`,
		q.ID, q.ThemeID, q.Text, key, q.TagLine, toJSON(q.Tags), q.Order, fmtTime(now),
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: upsert question")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: upsert question rows affected")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE theme_id = ? AND text_key = ?`,
		q.ThemeID, key)
	stored, err := scanQuestion(row)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, eris.New("sqlite: upserted question not found")
	}
	return stored, n == 1, nil
}

const questionCols = `id, theme_id, text, tag_line, tags, ord, created_at`

func scanQuestion(row rowScanner) (*model.Question, error) {
	var q model.Question
	var tags, createdAt string
	var ord sql.NullInt64
	err := row.Scan(&q.ID, &q.ThemeID, &q.Text, &q.TagLine, &tags, &ord, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan question")
	}
	q.Tags = fromJSON[[]string](tags)
	if ord.Valid {
		o := int(ord.Int64)
		q.Order = &o
	}
	q.CreatedAt = parseTime(createdAt)
	return &q, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE id = ?`, id)
	return scanQuestion(row)
}

func (s *SQLiteStore) ListQuestionsByTheme(ctx context.Context, themeID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE theme_id = ?
		 ORDER BY COALESCE(ord, 1000000), created_at`, themeID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list questions")
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list questions")
}

// --- Links ---

func (s *SQLiteStore) UpsertLink(ctx context.Context, link model.Link) (*model.Link, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO links (id, question_id, linked_item_id, linked_item_kind, link_type, relevance_score, rationale, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (question_id, linked_item_id) DO UPDATE SET
		   linked_item_kind = excluded.linked_item_kind,
		   link_type        = excluded.link_type,
		   relevance_score  = excluded.relevance_score,
		   rationale        = excluded.rationale,
		   updated_at       = excluded.updated_at`,
		link.ID, link.QuestionID, link.LinkedItemID, link.LinkedItemKind,
		link.LinkType, link.RelevanceScore, link.Rationale, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert link")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkCols+` FROM links WHERE question_id = ? AND linked_item_id = ?`,
		link.QuestionID, link.LinkedItemID)
	return scanLink(row)
}

const linkCols = `id, question_id, linked_item_id, linked_item_kind, link_type, relevance_score, rationale, created_at, updated_at`

func scanLink(row rowScanner) (*model.Link, error) {
	var l model.Link
	var createdAt, updatedAt string
	err := row.Scan(&l.ID, &l.QuestionID, &l.LinkedItemID, &l.LinkedItemKind,
		&l.LinkType, &l.RelevanceScore, &l.Rationale, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan link")
	}
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}

func (s *SQLiteStore) ListLinksByQuestion(ctx context.Context, questionID string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkCols+` FROM links WHERE question_id = ?`, questionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list links")
	}
	defer rows.Close()

	var out []model.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list links")
}

// --- Documents ---

// docData holds the structured remainder of a document row, serialized as
// JSON in the data column.
type docData struct {
	Introduction       string              `json:"introduction,omitempty"`
	Issues             []model.ReportIssue `json:"issues,omitempty"`
	Axes               []model.DebateAxis  `json:"axes,omitempty"`
	AgreementPoints    []string            `json:"agreement_points,omitempty"`
	DisagreementPoints []string            `json:"disagreement_points,omitempty"`
	SourceProblemIDs   []string            `json:"source_problem_ids,omitempty"`
	SourceSolutionIDs  []string            `json:"source_solution_ids,omitempty"`
}

func (s *SQLiteStore) InsertDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Version < 1 {
		return nil, eris.Errorf("sqlite: document version must be >= 1, got %d", doc.Version)
	}
	now := time.Now().UTC()
	doc.CreatedAt = now

	data := docData{
		Introduction:       doc.Introduction,
		Issues:             doc.Issues,
		Axes:               doc.Axes,
		AgreementPoints:    doc.AgreementPoints,
		DisagreementPoints: doc.DisagreementPoints,
		SourceProblemIDs:   doc.SourceProblemIDs,
		SourceSolutionIDs:  doc.SourceSolutionIDs,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, question_id, kind, version, title, content, policy_draft_id, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.QuestionID, doc.Kind, doc.Version, doc.Title, doc.Content,
		doc.PolicyDraftID, toJSON(data), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert %s v%d", doc.Kind, doc.Version)
	}
	return &doc, nil
}

const documentCols = `id, question_id, kind, version, title, content, policy_draft_id, data, created_at`

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var data, createdAt string
	err := row.Scan(&doc.ID, &doc.QuestionID, &doc.Kind, &doc.Version, &doc.Title,
		&doc.Content, &doc.PolicyDraftID, &data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}
	d := fromJSON[docData](data)
	doc.Introduction = d.Introduction
	doc.Issues = d.Issues
	doc.Axes = d.Axes
	doc.AgreementPoints = d.AgreementPoints
	doc.DisagreementPoints = d.DisagreementPoints
	doc.SourceProblemIDs = d.SourceProblemIDs
	doc.SourceSolutionIDs = d.SourceSolutionIDs
	doc.CreatedAt = parseTime(createdAt)
	return &doc, nil
}

func (s *SQLiteStore) LatestDocument(ctx context.Context, questionID string, kind model.DocumentKind) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentCols+` FROM documents
		 WHERE question_id = ? AND kind = ?
		 ORDER BY version DESC LIMIT 1`, questionID, kind)
	return scanDocument(row)
}

func (s *SQLiteStore) ListDocumentVersions(ctx context.Context, questionID string, kind model.DocumentKind) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentCols+` FROM documents
		 WHERE question_id = ? AND kind = ?
		 ORDER BY version`, questionID, kind)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list document versions")
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list document versions")
}

// --- Chat threads ---

func (s *SQLiteStore) CreateChatThread(ctx context.Context, thread model.ChatThread) (*model.ChatThread, error) {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	thread.CreatedAt = now
	thread.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_threads (id, theme_id, session_id, user_id, messages, extracted_problem_ids, extracted_solution_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		thread.ID, thread.ThemeID, thread.SessionID, thread.UserID,
		toJSON(thread.Messages), toJSON(thread.ExtractedProblemIDs),
		toJSON(thread.ExtractedSolutionIDs), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create chat thread")
	}
	return &thread, nil
}

func (s *SQLiteStore) GetChatThread(ctx context.Context, id string) (*model.ChatThread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, theme_id, session_id, user_id, messages, extracted_problem_ids, extracted_solution_ids, created_at, updated_at
		 FROM chat_threads WHERE id = ?`, id)

	var t model.ChatThread
	var messages, problemIDs, solutionIDs, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.ThemeID, &t.SessionID, &t.UserID, &messages,
		&problemIDs, &solutionIDs, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get chat thread")
	}
	t.Messages = fromJSON[[]model.ChatMessage](messages)
	t.ExtractedProblemIDs = fromJSON[[]string](problemIDs)
	t.ExtractedSolutionIDs = fromJSON[[]string](solutionIDs)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (s *SQLiteStore) AppendChatMessage(ctx context.Context, threadID string, msg model.ChatMessage) error {
	return s.withThread(ctx, threadID, func(t *model.ChatThread) {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		t.Messages = append(t.Messages, msg)
	})
}

func (s *SQLiteStore) AddExtractedIDs(ctx context.Context, threadID string, problemIDs, solutionIDs []string) error {
	return s.withThread(ctx, threadID, func(t *model.ChatThread) {
		t.ExtractedProblemIDs = addToSet(t.ExtractedProblemIDs, problemIDs)
		t.ExtractedSolutionIDs = addToSet(t.ExtractedSolutionIDs, solutionIDs)
	})
}

// withThread runs a read-modify-write on a chat thread inside one transaction.
func (s *SQLiteStore) withThread(ctx context.Context, threadID string, mutate func(*model.ChatThread)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin thread tx")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT messages, extracted_problem_ids, extracted_solution_ids FROM chat_threads WHERE id = ?`,
		threadID)
	var messages, problemIDs, solutionIDs string
	if err := row.Scan(&messages, &problemIDs, &solutionIDs); err != nil {
		if err == sql.ErrNoRows {
			return eris.Errorf("sqlite: chat thread %s not found", threadID)
		}
		return eris.Wrap(err, "sqlite: read chat thread")
	}

	t := model.ChatThread{
		Messages:             fromJSON[[]model.ChatMessage](messages),
		ExtractedProblemIDs:  fromJSON[[]string](problemIDs),
		ExtractedSolutionIDs: fromJSON[[]string](solutionIDs),
	}
	mutate(&t)

	_, err = tx.ExecContext(ctx,
		`UPDATE chat_threads SET messages = ?, extracted_problem_ids = ?, extracted_solution_ids = ?, updated_at = ?
		 WHERE id = ?`,
		toJSON(t.Messages), toJSON(t.ExtractedProblemIDs), toJSON(t.ExtractedSolutionIDs),
		fmtTime(time.Now().UTC()), threadID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: write chat thread")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit thread tx")
}

func addToSet(set []string, ids []string) []string {
	seen := make(map[string]bool, len(set))
	for _, id := range set {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			set = append(set, id)
			seen[id] = true
		}
	}
	return set
}

// --- Imported items ---

func (s *SQLiteStore) CreateImportedItem(ctx context.Context, item model.ImportedItem) (*model.ImportedItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = model.ImportPending
	}
	now := time.Now().UTC()
	item.CreatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_items (id, theme_id, source_kind, content, metadata, status, extracted_problem_ids, extracted_solution_ids, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ThemeID, item.SourceKind, item.Content, toJSON(item.Metadata),
		item.Status, toJSON(item.ExtractedProblemIDs), toJSON(item.ExtractedSolutionIDs),
		item.ErrorMessage, fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create imported item")
	}
	return &item, nil
}

const importCols = `id, theme_id, source_kind, content, metadata, status, extracted_problem_ids, extracted_solution_ids, error_message, processed_at, created_at`

func scanImportedItem(row rowScanner) (*model.ImportedItem, error) {
	var item model.ImportedItem
	var metadata, problemIDs, solutionIDs, createdAt string
	var processedAt sql.NullString
	err := row.Scan(&item.ID, &item.ThemeID, &item.SourceKind, &item.Content,
		&metadata, &item.Status, &problemIDs, &solutionIDs, &item.ErrorMessage,
		&processedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan imported item")
	}
	item.Metadata = fromJSON[map[string]string](metadata)
	item.ExtractedProblemIDs = fromJSON[[]string](problemIDs)
	item.ExtractedSolutionIDs = fromJSON[[]string](solutionIDs)
	if processedAt.Valid {
		t := parseTime(processedAt.String)
		item.ProcessedAt = &t
	}
	item.CreatedAt = parseTime(createdAt)
	return &item, nil
}

func (s *SQLiteStore) GetImportedItem(ctx context.Context, id string) (*model.ImportedItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+importCols+` FROM imported_items WHERE id = ?`, id)
	return scanImportedItem(row)
}

func (s *SQLiteStore) ListPendingImports(ctx context.Context, themeID string) ([]model.ImportedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+importCols+` FROM imported_items
		 WHERE theme_id = ? AND status = 'pending' ORDER BY created_at`, themeID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending imports")
	}
	defer rows.Close()

	var out []model.ImportedItem
	for rows.Next() {
		item, err := scanImportedItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pending imports")
}

func (s *SQLiteStore) MarkImportProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE imported_items SET status = 'processing' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark import %s processing", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: mark import rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CompleteImport(ctx context.Context, id string, problemIDs, solutionIDs []string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE imported_items
		 SET status = 'completed', extracted_problem_ids = ?, extracted_solution_ids = ?,
		     error_message = '', processed_at = ?
		 WHERE id = ?`,
		toJSON(problemIDs), toJSON(solutionIDs), fmtTime(time.Now().UTC()), id,
	)
	return eris.Wrapf(err, "sqlite: complete import %s", id)
}

func (s *SQLiteStore) FailImport(ctx context.Context, id string, errorMessage string) error {
	// Guarded: a job that already left "processing" keeps its state.
	_, err := s.db.ExecContext(ctx,
		`UPDATE imported_items SET status = 'failed', error_message = ?
		 WHERE id = ? AND status = 'processing'`,
		errorMessage, id,
	)
	return eris.Wrapf(err, "sqlite: fail import %s", id)
}
