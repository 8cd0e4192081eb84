// Package server exposes the orchestrator over HTTP: one run endpoint
// per mode, query routing, share create/resolve, and conversation
// history. It maps the contract sentinels to status codes and leaves
// all business rules to the packages behind it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/recmonkey/scout/agent/conversation"
)

const maxBodyBytes = 1 << 20

// RunService runs one orchestration turn loop to a terminal answer.
type RunService interface {
	Run(ctx context.Context, req contractx.RunRequest) (*contractx.TerminalAnswer, error)
}

// RouteService classifies fresh queries and prepares their
// questionnaires.
type RouteService interface {
	Route(ctx context.Context, query string) (contractx.Mode, error)
	DiscoveryQuestionnaire(ctx context.Context, query string) (*contractx.MCQ, []contractx.MCQ, error)
	QuickPrep(ctx context.Context, query string) ([]contractx.MCQ, bool, error)
}

// ShareService mints and resolves share references.
type ShareService interface {
	Encode(ctx context.Context, conversationID string, answer *contractx.TerminalAnswer) (string, error)
	Decode(ctx context.Context, shareID string) (*contractx.TerminalAnswer, error)
}

// Server is the HTTP surface. It implements http.Handler.
type Server struct {
	runs    RunService
	router  RouteService
	shares  ShareService
	history conversation.Store
	auth    *AuthService
	mux     *http.ServeMux
}

func New(runs RunService, router RouteService, shares ShareService, history conversation.Store, auth *AuthService) (*Server, error) {
	if runs == nil {
		return nil, errors.New("run service is required")
	}
	if router == nil {
		return nil, errors.New("route service is required")
	}
	if shares == nil {
		return nil, errors.New("share service is required")
	}
	if history == nil {
		return nil, errors.New("history store is required")
	}
	if auth == nil {
		return nil, errors.New("auth service is required")
	}

	s := &Server{runs: runs, router: router, shares: shares, history: history, auth: auth}
	s.mux = http.NewServeMux()
	s.register()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("elapsed", time.Since(start)).
		Msg("http request")
}

func (s *Server) register() {
	runModes := map[string]contractx.Mode{
		"quick-decisions":   contractx.ModeQuickDecision,
		"recommendations":   contractx.ModeRecommendation,
		"product-discovery": contractx.ModeProductDiscovery,
		"research":          contractx.ModeResearch,
	}
	for slug, mode := range runModes {
		s.mux.Handle("POST /api/"+slug+"/run", s.authed(s.handleRun(mode)))
	}

	s.mux.Handle("POST /api/routes/start", s.authed(http.HandlerFunc(s.handleRouteStart)))

	s.mux.Handle("POST /api/share", s.authed(http.HandlerFunc(s.handleShareCreate)))
	// Share resolution is the one public route: a share link must work
	// without a session.
	s.mux.Handle("GET /api/share/{shareID}", http.HandlerFunc(s.handleShareResolve))

	s.mux.Handle("GET /api/history", s.authed(http.HandlerFunc(s.handleHistoryList)))
	s.mux.Handle("GET /api/history/{conversationID}", s.authed(http.HandlerFunc(s.handleHistoryGet)))
	s.mux.Handle("PATCH /api/history/{conversationID}/title", s.authed(http.HandlerFunc(s.handleHistoryRename)))
	s.mux.Handle("DELETE /api/history/{conversationID}", s.authed(http.HandlerFunc(s.handleHistoryDelete)))
}

// authed resolves the caller identity before the handler runs; a
// failed resolution stops the request with 401.
func (s *Server) authed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := s.auth.Identify(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized: " + err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
	})
}

type runRequest struct {
	ConversationID string                 `json:"conversationId,omitempty"`
	Query          string                 `json:"query"`
	Answers        []contractx.UserAnswer `json:"answers,omitempty"`
	LocalTime      string                 `json:"localTime,omitempty"`
}

type runResponse struct {
	ConversationID string                    `json:"conversationId"`
	Answer         *contractx.TerminalAnswer `json:"answer"`
}

func (s *Server) handleRun(mode contractx.Mode) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body runRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, err)
			return
		}

		conversationID := strings.TrimSpace(body.ConversationID)
		if conversationID == "" {
			conversationID = uuid.NewString()
		}

		answer, err := s.runs.Run(r.Context(), contractx.RunRequest{
			ConversationID: conversationID,
			UserID:         identityFrom(r).UserID,
			Query:          composeQuery(body.Query, body.Answers),
			Mode:           mode,
			ClientIP:       clientIP(r),
			LocalTime:      body.LocalTime,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runResponse{ConversationID: conversationID, Answer: answer})
	})
}

type routeStartRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleRouteStart(w http.ResponseWriter, r *http.Request) {
	var body routeStartRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	query := strings.TrimSpace(body.Query)
	if query == "" {
		writeError(w, fmt.Errorf("%w: query is required", contractx.ErrValidation))
		return
	}

	mode, err := s.router.Route(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}

	plan := contractx.RoutePlan{Route: mode, ConversationID: uuid.NewString()}
	switch mode {
	case contractx.ModeProductDiscovery:
		budget, diagnostics, err := s.router.DiscoveryQuestionnaire(r.Context(), query)
		if err != nil {
			writeError(w, err)
			return
		}
		plan.BudgetQuestion = budget
		plan.DiagnosticQuestions = diagnostics
	case contractx.ModeQuickDecision:
		questions, needLocation, err := s.router.QuickPrep(r.Context(), query)
		if err != nil {
			writeError(w, err)
			return
		}
		plan.QuickQuestions = questions
		plan.NeedLocation = needLocation
	}
	writeJSON(w, http.StatusOK, plan)
}

type shareCreateRequest struct {
	ConversationID string                    `json:"conversationId,omitempty"`
	Answer         *contractx.TerminalAnswer `json:"answer"`
}

type shareCreateResponse struct {
	ShareID string `json:"shareId"`
}

func (s *Server) handleShareCreate(w http.ResponseWriter, r *http.Request) {
	var body shareCreateRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	shareID, err := s.shares.Encode(r.Context(), body.ConversationID, body.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shareCreateResponse{ShareID: shareID})
}

type shareResolveResponse struct {
	ShareID string                    `json:"shareId"`
	Answer  *contractx.TerminalAnswer `json:"answer"`
}

func (s *Server) handleShareResolve(w http.ResponseWriter, r *http.Request) {
	shareID := r.PathValue("shareID")
	answer, err := s.shares.Decode(r.Context(), shareID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shareResolveResponse{ShareID: shareID, Answer: answer})
}

type historyListResponse struct {
	Items      []conversation.Summary `json:"items"`
	NextCursor string                 `json:"nextCursor,omitempty"`
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: limit must be an integer", contractx.ErrValidation))
			return
		}
		limit = parsed
	}

	items, next, err := s.history.List(r.Context(), identityFrom(r).UserID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, historyListResponse{Items: items, NextCursor: next})
}

type snapshotResponse struct {
	ConversationID string              `json:"conversationId"`
	Title          string              `json:"title,omitempty"`
	Mode           contractx.Mode      `json:"mode"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	Messages       []contractx.Message `json:"messages,omitempty"`
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.history.Load(r.Context(), r.PathValue("conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if st.UserID != identityFrom(r).UserID {
		writeError(w, contractx.ErrNotOwner)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		ConversationID: st.ID,
		Title:          st.Title,
		Mode:           st.Mode,
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      st.UpdatedAt,
		Messages:       st.Messages,
	})
}

type renameRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleHistoryRename(w http.ResponseWriter, r *http.Request) {
	var body renameRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		writeError(w, fmt.Errorf("%w: title is required", contractx.ErrValidation))
		return
	}
	if err := s.history.Rename(r.Context(), identityFrom(r).UserID, r.PathValue("conversationID"), title); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Delete(r.Context(), identityFrom(r).UserID, r.PathValue("conversationID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// composeQuery folds questionnaire answers into the query text the
// orchestrator sees, so the model gets the user's constraints without
// a separate message shape.
func composeQuery(query string, answers []contractx.UserAnswer) string {
	query = strings.TrimSpace(query)
	rendered := make([]string, 0, len(answers))
	for _, a := range answers {
		if line := renderAnswer(a); line != "" {
			rendered = append(rendered, "- "+line)
		}
	}
	if len(rendered) == 0 {
		return query
	}
	return query + "\n\nQuestionnaire answers:\n" + strings.Join(rendered, "\n")
}

func renderAnswer(a contractx.UserAnswer) string {
	question := strings.TrimSpace(a.Question)
	if question == "" {
		return ""
	}
	if a.Type == contractx.QuestionPrice && a.Price != nil {
		return question + ": " + renderPrice(*a.Price)
	}
	if len(a.Answers) == 0 {
		return ""
	}
	return question + ": " + strings.Join(a.Answers, ", ")
}

func renderPrice(p contractx.PriceRange) string {
	switch {
	case p.Min > 0 && p.Max > 0:
		return fmt.Sprintf("$%.0f to $%.0f", p.Min, p.Max)
	case p.Max > 0:
		return fmt.Sprintf("up to $%.0f", p.Max)
	case p.Min > 0:
		return fmt.Sprintf("at least $%.0f", p.Min)
	}
	return "no budget limit"
}

// clientIP prefers the forwarding header set by the edge proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode request body: %v", contractx.ErrValidation, err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps contract sentinels to transport status codes.
// Exhaustion that produced a degraded partial never reaches here; the
// orchestrator returns it as a normal answer.
func statusFor(err error) int {
	switch {
	case errors.Is(err, contractx.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, contractx.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, contractx.ErrConversationNotFound), errors.Is(err, contractx.ErrShareNotFound):
		return http.StatusNotFound
	case errors.Is(err, contractx.ErrConversationLocked):
		return http.StatusConflict
	case errors.Is(err, contractx.ErrQueryRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contractx.ErrMalformedTerminalAnswer),
		errors.Is(err, contractx.ErrUnresolvedReference),
		errors.Is(err, contractx.ErrOrchestrationExhausted):
		return http.StatusBadGateway
	case errors.Is(err, contractx.ErrOrchestrationTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
