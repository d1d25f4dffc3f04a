package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/civicforge/deliberate/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock implements it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS themes (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	title                TEXT NOT NULL UNIQUE,
	description          TEXT NOT NULL DEFAULT '',
	slug                 TEXT NOT NULL UNIQUE,
	active               BOOLEAN NOT NULL DEFAULT true,
	custom_prompt        TEXT NOT NULL DEFAULT '',
	disable_new_comments BOOLEAN NOT NULL DEFAULT false,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS statements (
	id               TEXT PRIMARY KEY,
	theme_id         TEXT NOT NULL,
	kind             TEXT NOT NULL CHECK (kind IN ('problem', 'solution')),
	statement        TEXT NOT NULL,
	source_kind      TEXT NOT NULL,
	source_origin_id TEXT NOT NULL,
	source_metadata  JSONB NOT NULL DEFAULT '{}',
	version          INTEGER NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_statements_theme_kind ON statements(theme_id, kind);

CREATE TABLE IF NOT EXISTS questions (
	id         TEXT PRIMARY KEY,
	theme_id   TEXT NOT NULL,
	text       TEXT NOT NULL,
	text_key   TEXT NOT NULL,
	tag_line   TEXT NOT NULL DEFAULT '',
	tags       JSONB NOT NULL DEFAULT '[]',
	ord        INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (theme_id, text_key)
);

CREATE TABLE IF NOT EXISTS links (
	id               TEXT PRIMARY KEY,
	question_id      TEXT NOT NULL,
	linked_item_id   TEXT NOT NULL,
	linked_item_kind TEXT NOT NULL CHECK (linked_item_kind IN ('problem', 'solution')),
	link_type        TEXT NOT NULL CHECK (link_type IN ('prompts_question', 'answers_question')),
	relevance_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	rationale        TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	data            JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (question_id, kind, version)
);

CREATE TABLE IF NOT EXISTS chat_threads (
	id                     TEXT PRIMARY KEY,
	theme_id               TEXT NOT NULL,
	session_id             TEXT NOT NULL,
	user_id                TEXT NOT NULL DEFAULT '',
	messages               JSONB NOT NULL DEFAULT '[]',
	extracted_problem_ids  JSONB NOT NULL DEFAULT '[]',
	extracted_solution_ids JSONB NOT NULL DEFAULT '[]',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS imported_items (
	id                     TEXT PRIMARY KEY,
	theme_id               TEXT NOT NULL,
	source_kind            TEXT NOT NULL,
	content                TEXT NOT NULL,
	metadata               JSONB NOT NULL DEFAULT '{}',
	status                 TEXT NOT NULL DEFAULT 'pending'
	                       CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	extracted_problem_ids  JSONB NOT NULL DEFAULT '[]',
	extracted_solution_ids JSONB NOT NULL DEFAULT '[]',
	error_message          TEXT NOT NULL DEFAULT '',
	processed_at           TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_imports_theme_status ON imported_items(theme_id, status);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Themes ---

func (s *PostgresStore) CreateTheme(ctx context.Context, theme model.Theme) (*model.Theme, error) {
	if theme.ID == "" {
		theme.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	theme.CreatedAt = now
	theme.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO themes (id, title, description, slug, active, custom_prompt, disable_new_comments, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		theme.ID, theme.Title, theme.Description, theme.Slug, theme.Active,
		theme.CustomPrompt, theme.DisableNewComments, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create theme %s", theme.Slug)
	}
	return &theme, nil
}

func (s *PostgresStore) GetTheme(ctx context.Context, id string) (*model.Theme, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, description, slug, active, custom_prompt, disable_new_comments, created_at, updated_at
		 FROM themes WHERE id = $1`, id)

	var th model.Theme
	err := row.Scan(&th.ID, &th.Title, &th.Description, &th.Slug, &th.Active,
		&th.CustomPrompt, &th.DisableNewComments, &th.CreatedAt, &th.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get theme")
	}
	return &th, nil
}

func (s *PostgresStore) ListThemes(ctx context.Context, activeOnly bool) ([]model.Theme, error) {
	query := `SELECT id, title, description, slug, active, custom_prompt, disable_new_comments, created_at, updated_at
	          FROM themes`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list themes")
	}
	defer rows.Close()

	var themes []model.Theme
	for rows.Next() {
		var th model.Theme
		if err := rows.Scan(&th.ID, &th.Title, &th.Description, &th.Slug, &th.Active,
			&th.CustomPrompt, &th.DisableNewComments, &th.CreatedAt, &th.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan theme")
		}
		themes = append(themes, th)
	}
	return themes, eris.Wrap(rows.Err(), "postgres: list themes")
}

// --- Statements ---

const pgStatementCols = `id, theme_id, kind, statement, source_kind, source_origin_id, source_metadata, version, created_at, updated_at`

func (s *PostgresStore) CreateStatement(ctx context.Context, st model.Statement) (*model.Statement, error) {
	if !st.Kind.Valid() {
		return nil, eris.Errorf("postgres: invalid statement kind %q", st.Kind)
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.Version = 1
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	meta, err := json.Marshal(st.SourceMetadata)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal source metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO statements (id, theme_id, kind, statement, source_kind, source_origin_id, source_metadata, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)`,
		st.ID, st.ThemeID, st.Kind, st.Statement, st.SourceKind, st.SourceOriginID,
		meta, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create %s statement", st.Kind)
	}
	return &st, nil
}

func (s *PostgresStore) scanStatementRow(row pgx.Row) (*model.Statement, error) {
	var st model.Statement
	var meta []byte
	err := row.Scan(&st.ID, &st.ThemeID, &st.Kind, &st.Statement, &st.SourceKind,
		&st.SourceOriginID, &meta, &st.Version, &st.CreatedAt, &st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan statement")
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &st.SourceMetadata)
	}
	return &st, nil
}

func (s *PostgresStore) GetStatement(ctx context.Context, id string) (*model.Statement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgStatementCols+` FROM statements WHERE id = $1`, id)
	return s.scanStatementRow(row)
}

func (s *PostgresStore) GetStatementsByIDs(ctx context.Context, ids []string) ([]model.Statement, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgStatementCols+` FROM statements WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get statements by ids")
	}
	defer rows.Close()

	byID := make(map[string]model.Statement, len(ids))
	for rows.Next() {
		st, err := s.scanStatementRow(rows)
		if err != nil {
			return nil, err
		}
		byID[st.ID] = *st
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: get statements by ids")
	}

	// Preserve the caller's id order.
	out := make([]model.Statement, 0, len(byID))
	for _, id := range ids {
		if st, ok := byID[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *PostgresStore) ListStatementsByTheme(ctx context.Context, themeID string, kind *model.StatementKind) ([]model.Statement, error) {
	query := `SELECT ` + pgStatementCols + ` FROM statements WHERE theme_id = $1`
	args := []any{themeID}
	if kind != nil {
		query += ` AND kind = $2`
		args = append(args, *kind)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list statements")
	}
	defer rows.Close()

	var out []model.Statement
	for rows.Next() {
		st, err := s.scanStatementRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list statements")
}

func (s *PostgresStore) UpdateStatementVersioned(ctx context.Context, id string, expectedVersion int, statement string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE statements SET statement = $1, version = version + 1, updated_at = now()
		 WHERE id = $2 AND version = $3`,
		statement, id, expectedVersion,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update statement %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Questions ---

const pgQuestionCols = `id, theme_id, text, tag_line, tags, ord, created_at`

func (s *PostgresStore) UpsertQuestion(ctx context.Context, q model.Question) (*model.Question, bool, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	key := model.NormalizeQuestionText(q.Text)
	if key == "" {
		return nil, false, eris.New("postgres: question text is empty")
	}

	tags, err := json.Marshal(q.Tags)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal tags")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, theme_id, text, text_key, tag_line, tags, ord, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (theme_id, text_key) DO NOTHING`,
		q.ID, q.ThemeID, q.Text, key, q.TagLine, tags, q.Order,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: upsert question")
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgQuestionCols+` FROM questions WHERE theme_id = $1 AND text_key = $2`,
		q.ThemeID, key)
	stored, err := s.scanQuestionRow(row)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, eris.New("postgres: upserted question not found")
	}
	return stored, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) scanQuestionRow(row pgx.Row) (*model.Question, error) {
	var q model.Question
	var tags []byte
	err := row.Scan(&q.ID, &q.ThemeID, &q.Text, &q.TagLine, &tags, &q.Order, &q.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan question")
	}
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &q.Tags)
	}
	return &q, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgQuestionCols+` FROM questions WHERE id = $1`, id)
	return s.scanQuestionRow(row)
}

func (s *PostgresStore) ListQuestionsByTheme(ctx context.Context, themeID string) ([]model.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgQuestionCols+` FROM questions WHERE theme_id = $1
		 ORDER BY COALESCE(ord, 1000000), created_at`, themeID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list questions")
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		q, err := s.scanQuestionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list questions")
}

// --- Links ---

const pgLinkCols = `id, question_id, linked_item_id, linked_item_kind, link_type, relevance_score, rationale, created_at, updated_at`

func (s *PostgresStore) UpsertLink(ctx context.Context, link model.Link) (*model.Link, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO links (id, question_id, linked_item_id, linked_item_kind, link_type, relevance_score, rationale, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		 ON CONFLICT (question_id, linked_item_id) DO UPDATE SET
		   linked_item_kind = EXCLUDED.linked_item_kind,
		   link_type        = EXCLUDED.link_type,
		   relevance_score  = EXCLUDED.relevance_score,
		   rationale        = EXCLUDED.rationale,
		   updated_at       = now()`,
		link.ID, link.QuestionID, link.LinkedItemID, link.LinkedItemKind,
		link.LinkType, link.RelevanceScore, link.Rationale,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert link")
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLinkCols+` FROM links WHERE question_id = $1 AND linked_item_id = $2`,
		link.QuestionID, link.LinkedItemID)
	return scanLinkRow(row)
}

func scanLinkRow(row pgx.Row) (*model.Link, error) {
	var l model.Link
	err := row.Scan(&l.ID, &l.QuestionID, &l.LinkedItemID, &l.LinkedItemKind,
		&l.LinkType, &l.RelevanceScore, &l.Rationale, &l.CreatedAt, &l.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan link")
	}
	return &l, nil
}

func (s *PostgresStore) ListLinksByQuestion(ctx context.Context, questionID string) ([]model.Link, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLinkCols+` FROM links WHERE question_id = $1`, questionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list links")
	}
	defer rows.Close()

	var out []model.Link
	for rows.Next() {
		l, err := scanLinkRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list links")
}

// --- Documents ---

const pgDocumentCols = `id, question_id, kind, version, title, content, policy_draft_id, data, created_at`

func (s *PostgresStore) InsertDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Version < 1 {
		return nil, eris.Errorf("postgres: document version must be >= 1, got %d", doc.Version)
	}
	doc.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(docData{
		Introduction:       doc.Introduction,
		Issues:             doc.Issues,
		Axes:               doc.Axes,
		AgreementPoints:    doc.AgreementPoints,
		DisagreementPoints: doc.DisagreementPoints,
		SourceProblemIDs:   doc.SourceProblemIDs,
		SourceSolutionIDs:  doc.SourceSolutionIDs,
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal document data")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, question_id, kind, version, title, content, policy_draft_id, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.QuestionID, doc.Kind, doc.Version, doc.Title, doc.Content,
		doc.PolicyDraftID, data, doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert %s v%d", doc.Kind, doc.Version)
	}
	return &doc, nil
}

func scanDocumentRow(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	var data []byte
	err := row.Scan(&doc.ID, &doc.QuestionID, &doc.Kind, &doc.Version, &doc.Title,
		&doc.Content, &doc.PolicyDraftID, &data, &doc.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}
	var d docData
	if len(data) > 0 {
		_ = json.Unmarshal(data, &d)
	}
	doc.Introduction = d.Introduction
	doc.Issues = d.Issues
	doc.Axes = d.Axes
	doc.AgreementPoints = d.AgreementPoints
	doc.DisagreementPoints = d.DisagreementPoints
	doc.SourceProblemIDs = d.SourceProblemIDs
	doc.SourceSolutionIDs = d.SourceSolutionIDs
	return &doc, nil
}

func (s *PostgresStore) LatestDocument(ctx context.Context, questionID string, kind model.DocumentKind) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgDocumentCols+` FROM documents
		 WHERE question_id = $1 AND kind = $2
		 ORDER BY version DESC LIMIT 1`, questionID, kind)
	return scanDocumentRow(row)
}

func (s *PostgresStore) ListDocumentVersions(ctx context.Context, questionID string, kind model.DocumentKind) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgDocumentCols+` FROM documents
		 WHERE question_id = $1 AND kind = $2
		 ORDER BY version`, questionID, kind)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list document versions")
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list document versions")
}

// --- Chat threads ---

func (s *PostgresStore) CreateChatThread(ctx context.Context, thread model.ChatThread) (*model.ChatThread, error) {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	thread.CreatedAt = now
	thread.UpdatedAt = now

	messages, err := json.Marshal(thread.Messages)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal messages")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_threads (id, theme_id, session_id, user_id, messages, extracted_problem_ids, extracted_solution_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		thread.ID, thread.ThemeID, thread.SessionID, thread.UserID, messages,
		mustJSON(thread.ExtractedProblemIDs), mustJSON(thread.ExtractedSolutionIDs),
		now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create chat thread")
	}
	return &thread, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func (s *PostgresStore) GetChatThread(ctx context.Context, id string) (*model.ChatThread, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, theme_id, session_id, user_id, messages, extracted_problem_ids, extracted_solution_ids, created_at, updated_at
		 FROM chat_threads WHERE id = $1`, id)

	var t model.ChatThread
	var messages, problemIDs, solutionIDs []byte
	err := row.Scan(&t.ID, &t.ThemeID, &t.SessionID, &t.UserID, &messages,
		&problemIDs, &solutionIDs, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get chat thread")
	}
	_ = json.Unmarshal(messages, &t.Messages)
	_ = json.Unmarshal(problemIDs, &t.ExtractedProblemIDs)
	_ = json.Unmarshal(solutionIDs, &t.ExtractedSolutionIDs)
	return &t, nil
}

func (s *PostgresStore) AppendChatMessage(ctx context.Context, threadID string, msg model.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_threads
		 SET messages = messages || $1::jsonb, updated_at = now()
		 WHERE id = $2`,
		mustJSON([]model.ChatMessage{msg}), threadID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: append chat message")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: chat thread %s not found", threadID)
	}
	return nil
}

func (s *PostgresStore) AddExtractedIDs(ctx context.Context, threadID string, problemIDs, solutionIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin thread tx")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT extracted_problem_ids, extracted_solution_ids FROM chat_threads WHERE id = $1 FOR UPDATE`,
		threadID)
	var curProblems, curSolutions []byte
	if err := row.Scan(&curProblems, &curSolutions); err != nil {
		if err == pgx.ErrNoRows {
			return eris.Errorf("postgres: chat thread %s not found", threadID)
		}
		return eris.Wrap(err, "postgres: read chat thread")
	}

	var problems, solutions []string
	_ = json.Unmarshal(curProblems, &problems)
	_ = json.Unmarshal(curSolutions, &solutions)
	problems = addToSet(problems, problemIDs)
	solutions = addToSet(solutions, solutionIDs)

	_, err = tx.Exec(ctx,
		`UPDATE chat_threads SET extracted_problem_ids = $1, extracted_solution_ids = $2, updated_at = now()
		 WHERE id = $3`,
		mustJSON(problems), mustJSON(solutions), threadID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: write chat thread")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit thread tx")
}

// --- Imported items ---

const pgImportCols = `id, theme_id, source_kind, content, metadata, status, extracted_problem_ids, extracted_solution_ids, error_message, processed_at, created_at`

func (s *PostgresStore) CreateImportedItem(ctx context.Context, item model.ImportedItem) (*model.ImportedItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = model.ImportPending
	}
	item.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO imported_items (id, theme_id, source_kind, content, metadata, status, extracted_problem_ids, extracted_solution_ids, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.ThemeID, item.SourceKind, item.Content, mustJSON(item.Metadata),
		item.Status, mustJSON(item.ExtractedProblemIDs), mustJSON(item.ExtractedSolutionIDs),
		item.ErrorMessage, item.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create imported item")
	}
	return &item, nil
}

func scanImportRow(row pgx.Row) (*model.ImportedItem, error) {
	var item model.ImportedItem
	var metadata, problemIDs, solutionIDs []byte
	err := row.Scan(&item.ID, &item.ThemeID, &item.SourceKind, &item.Content,
		&metadata, &item.Status, &problemIDs, &solutionIDs, &item.ErrorMessage,
		&item.ProcessedAt, &item.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan imported item")
	}
	_ = json.Unmarshal(metadata, &item.Metadata)
	_ = json.Unmarshal(problemIDs, &item.ExtractedProblemIDs)
	_ = json.Unmarshal(solutionIDs, &item.ExtractedSolutionIDs)
	return &item, nil
}

func (s *PostgresStore) GetImportedItem(ctx context.Context, id string) (*model.ImportedItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgImportCols+` FROM imported_items WHERE id = $1`, id)
	return scanImportRow(row)
}

func (s *PostgresStore) ListPendingImports(ctx context.Context, themeID string) ([]model.ImportedItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgImportCols+` FROM imported_items
		 WHERE theme_id = $1 AND status = 'pending' ORDER BY created_at`, themeID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending imports")
	}
	defer rows.Close()

	var out []model.ImportedItem
	for rows.Next() {
		item, err := scanImportRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending imports")
}

func (s *PostgresStore) MarkImportProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE imported_items SET status = 'processing' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark import %s processing", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteImport(ctx context.Context, id string, problemIDs, solutionIDs []string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE imported_items
		 SET status = 'completed', extracted_problem_ids = $1, extracted_solution_ids = $2,
		     error_message = '', processed_at = now()
		 WHERE id = $3`,
		mustJSON(problemIDs), mustJSON(solutionIDs), id,
	)
	return eris.Wrapf(err, "postgres: complete import %s", id)
}

func (s *PostgresStore) FailImport(ctx context.Context, id string, errorMessage string) error {
	// Guarded: a job that already left "processing" keeps its state.
	_, err := s.pool.Exec(ctx,
		`UPDATE imported_items SET status = 'failed', error_message = $1
		 WHERE id = $2 AND status = 'processing'`,
		errorMessage, id,
	)
	return eris.Wrapf(err, "postgres: fail import %s", id)
}
