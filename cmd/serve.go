package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deliberation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(context.Background())
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if cfg != nil && len(cfg.Server.AllowedOrigins) > 0 {
		origins = cfg.Server.AllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/themes", env.listThemes)
		r.Post("/themes", env.createTheme)
		r.Get("/themes/{themeID}", env.getTheme)
		r.Get("/themes/{themeID}/statements", env.listStatements)
		r.Get("/themes/{themeID}/questions", env.listQuestions)
		r.Post("/themes/{themeID}/questions/generate", env.generateQuestions)
		r.Post("/themes/{themeID}/chat/messages", env.postChatMessage)
		r.Get("/themes/{themeID}/chat/threads/{threadID}", env.getChatThread)
		r.Post("/themes/{themeID}/imports", env.createImport)
		r.Post("/themes/{themeID}/imports/process", env.processImports)
		r.Get("/themes/{themeID}/events", env.streamEvents)

		r.Get("/questions/{questionID}", env.getQuestion)
		r.Get("/questions/{questionID}/links", env.listLinks)
		r.Post("/questions/{questionID}/documents/{kind}", env.generateDocument)
		r.Get("/questions/{questionID}/documents/{kind}", env.latestDocument)
		r.Get("/questions/{questionID}/documents/{kind}/versions", env.listDocumentVersions)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Theme handlers ---

func (env *appEnv) listThemes(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	themes, err := env.Store.ListThemes(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list themes failed")
		return
	}
	writeJSON(w, http.StatusOK, themes)
}

func (env *appEnv) createTheme(w http.ResponseWriter, r *http.Request) {
	var req model.Theme
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Slug == "" {
		writeError(w, http.StatusBadRequest, "title and slug are required")
		return
	}
	theme, err := env.Store.CreateTheme(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create theme failed")
		return
	}
	writeJSON(w, http.StatusCreated, theme)
}

func (env *appEnv) getTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := env.Store.GetTheme(r.Context(), chi.URLParam(r, "themeID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get theme failed")
		return
	}
	if theme == nil {
		writeError(w, http.StatusNotFound, "theme not found")
		return
	}
	writeJSON(w, http.StatusOK, theme)
}

// --- Statement and question handlers ---

func (env *appEnv) listStatements(w http.ResponseWriter, r *http.Request) {
	var kind *model.StatementKind
	if k := r.URL.Query().Get("kind"); k != "" {
		sk := model.StatementKind(k)
		if !sk.Valid() {
			writeError(w, http.StatusBadRequest, "kind must be problem or solution")
			return
		}
		kind = &sk
	}
	statements, err := env.Store.ListStatementsByTheme(r.Context(), chi.URLParam(r, "themeID"), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list statements failed")
		return
	}
	writeJSON(w, http.StatusOK, statements)
}

func (env *appEnv) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := env.Store.ListQuestionsByTheme(r.Context(), chi.URLParam(r, "themeID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list questions failed")
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (env *appEnv) getQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := env.Store.GetQuestion(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get question failed")
		return
	}
	if q == nil {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (env *appEnv) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := env.Store.ListLinksByQuestion(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list links failed")
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (env *appEnv) generateQuestions(w http.ResponseWriter, r *http.Request) {
	themeID := chi.URLParam(r, "themeID")
	theme, err := env.Store.GetTheme(r.Context(), themeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get theme failed")
		return
	}
	if theme == nil {
		writeError(w, http.StatusNotFound, "theme not found")
		return
	}
	env.Runner.Go("synthesize-questions", func(ctx context.Context) error {
		_, err := env.Engine.SynthesizeQuestions(ctx, themeID)
		return err
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "theme_id": themeID})
}

// --- Chat handlers ---

type chatMessageRequest struct {
	ThreadID  string `json:"thread_id,omitempty"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
}

// postChatMessage appends a user message to a thread (creating the thread on
// first contact) and queues extraction over the updated history.
func (env *appEnv) postChatMessage(w http.ResponseWriter, r *http.Request) {
	themeID := chi.URLParam(r, "themeID")
	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	theme, err := env.Store.GetTheme(r.Context(), themeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get theme failed")
		return
	}
	if theme == nil {
		writeError(w, http.StatusNotFound, "theme not found")
		return
	}
	if theme.DisableNewComments {
		writeError(w, http.StatusForbidden, "theme is closed for new comments")
		return
	}

	msg := model.ChatMessage{Role: "user", Content: req.Message, Timestamp: time.Now().UTC()}

	threadID := req.ThreadID
	if threadID == "" {
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id is required for a new thread")
			return
		}
		thread, err := env.Store.CreateChatThread(r.Context(), model.ChatThread{
			ThemeID:   themeID,
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Messages:  []model.ChatMessage{msg},
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "create thread failed")
			return
		}
		threadID = thread.ID
	} else {
		thread, err := env.Store.GetChatThread(r.Context(), threadID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "get thread failed")
			return
		}
		if thread == nil || thread.ThemeID != themeID {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		if err := env.Store.AppendChatMessage(r.Context(), threadID, msg); err != nil {
			writeError(w, http.StatusInternalServerError, "append message failed")
			return
		}
	}

	id := threadID
	env.Runner.Go("extract-chat", func(ctx context.Context) error {
		return env.Engine.ExtractFromChat(ctx, id)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "thread_id": threadID})
}

func (env *appEnv) getChatThread(w http.ResponseWriter, r *http.Request) {
	thread, err := env.Store.GetChatThread(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get thread failed")
		return
	}
	if thread == nil || thread.ThemeID != chi.URLParam(r, "themeID") {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// --- Import handlers ---

type importRequest struct {
	SourceKind string            `json:"source_kind"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (env *appEnv) createImport(w http.ResponseWriter, r *http.Request) {
	themeID := chi.URLParam(r, "themeID")
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.SourceKind == "" {
		req.SourceKind = "other_import"
	}

	theme, err := env.Store.GetTheme(r.Context(), themeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get theme failed")
		return
	}
	if theme == nil {
		writeError(w, http.StatusNotFound, "theme not found")
		return
	}

	item, err := env.Store.CreateImportedItem(r.Context(), model.ImportedItem{
		ThemeID:    themeID,
		SourceKind: req.SourceKind,
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create import failed")
		return
	}

	itemID := item.ID
	env.Runner.Go("extract-import", func(ctx context.Context) error {
		return env.Engine.ExtractFromImport(ctx, itemID)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "item_id": itemID})
}

func (env *appEnv) processImports(w http.ResponseWriter, r *http.Request) {
	themeID := chi.URLParam(r, "themeID")
	env.Runner.Go("process-pending-imports", func(ctx context.Context) error {
		_, err := env.Engine.ProcessPendingImports(ctx, themeID)
		return err
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "theme_id": themeID})
}

// --- Document handlers ---

// documentGenerators maps URL kinds to engine entry points.
func (env *appEnv) documentGenerator(kind string) (func(ctx context.Context, questionID string) (*model.Document, error), bool) {
	switch model.DocumentKind(kind) {
	case model.DocPolicyDraft:
		return env.Engine.GeneratePolicyDraft, true
	case model.DocDigest:
		return env.Engine.GenerateDigest, true
	case model.DocReportExample:
		return env.Engine.GenerateReportExample, true
	case model.DocDebateAnalysis:
		return env.Engine.GenerateDebateAnalysis, true
	case model.DocVisualReport:
		return env.Engine.GenerateVisualReport, true
	default:
		return nil, false
	}
}

func (env *appEnv) generateDocument(w http.ResponseWriter, r *http.Request) {
	questionID := chi.URLParam(r, "questionID")
	kind := chi.URLParam(r, "kind")
	generate, ok := env.documentGenerator(kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown document kind")
		return
	}

	q, err := env.Store.GetQuestion(r.Context(), questionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get question failed")
		return
	}
	if q == nil {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}

	env.Runner.Go("generate-"+kind, func(ctx context.Context) error {
		_, err := generate(ctx, questionID)
		return err
	})
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"question_id": questionID,
		"kind":        kind,
	})
}

func (env *appEnv) latestDocument(w http.ResponseWriter, r *http.Request) {
	kind := model.DocumentKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown document kind")
		return
	}
	doc, err := env.Store.LatestDocument(r.Context(), chi.URLParam(r, "questionID"), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get document failed")
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "no document of this kind yet")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (env *appEnv) listDocumentVersions(w http.ResponseWriter, r *http.Request) {
	kind := model.DocumentKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown document kind")
		return
	}
	docs, err := env.Store.ListDocumentVersions(r.Context(), chi.URLParam(r, "questionID"), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list documents failed")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// --- Event stream ---

// streamEvents pushes pipeline events (new statements, questions, documents)
// to the client as server-sent events. An empty themeID subscription is not
// offered over HTTP; each stream is scoped to its theme.
func (env *appEnv) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	themeID := chi.URLParam(r, "themeID")

	events, cancel := env.Hub.Subscribe(themeID, 16)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, payload)
			flusher.Flush()
		}
	}
}
