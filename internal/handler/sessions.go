package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codewatch/control-room/internal/model/session"
	"github.com/codewatch/control-room/internal/service/upstream"
	"github.com/codewatch/control-room/pkg/utils"
)

// SessionAPI is the slice of the upstream client the HTTP surface needs.
type SessionAPI interface {
	FetchSnapshot(ctx context.Context) (session.Snapshot, error)
	GetSession(ctx context.Context, id string) (session.Session, error)
	CreateSession(ctx context.Context, req upstream.CreateRequest) (session.Session, error)
	ApproveSession(ctx context.Context, id string, approve bool) (session.Session, error)
	SendMessage(ctx context.Context, id, content string) error
	History(ctx context.Context, id string) ([]upstream.Message, error)
	Ping(ctx context.Context) error
}

// SessionWriter is the write-through slice of the persistence layer. CRUD
// routes record immediate state changes so reads stay consistent until the
// next poll tick confirms them.
type SessionWriter interface {
	UpsertSession(ctx context.Context, sess session.Session) error
}

// Sessions forwards single-session operations to the upstream API.
type Sessions struct {
	api    SessionAPI
	writer SessionWriter // nil when persistence is unavailable
}

// NewSessions builds the CRUD handler. writer may be nil.
func NewSessions(api SessionAPI, writer SessionWriter) *Sessions {
	return &Sessions{api: api, writer: writer}
}

// RegisterRoutes mounts the session CRUD surface.
func (h *Sessions) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.list)
	r.Post("/sessions", h.create)
	r.Get("/sessions/{sessionID}", h.get)
	r.Post("/sessions/{sessionID}/approve", h.approve)
	r.Post("/sessions/{sessionID}/messages", h.sendMessage)
	r.Get("/sessions/{sessionID}/history", h.history)
}

func (h *Sessions) list(w http.ResponseWriter, r *http.Request) {
	snap, err := h.api.FetchSnapshot(r.Context())
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	sessions := make([]session.Session, 0, len(snap))
	for _, s := range snap {
		sessions = append(sessions, s)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Sessions) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s, err := h.api.GetSession(r.Context(), id)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, s)
}

func (h *Sessions) create(w http.ResponseWriter, r *http.Request) {
	var req upstream.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repo == "" || req.Prompt == "" {
		utils.RespondError(w, http.StatusBadRequest, "repo and prompt are required")
		return
	}

	s, err := h.api.CreateSession(r.Context(), req)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	h.writeThrough(r.Context(), s)
	utils.RespondJSON(w, http.StatusCreated, s)
}

type approveRequest struct {
	Approve *bool `json:"approve"`
}

func (h *Sessions) approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approve == nil {
		utils.RespondError(w, http.StatusBadRequest, "approve field is required")
		return
	}

	s, err := h.api.ApproveSession(r.Context(), id, *req.Approve)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	h.writeThrough(r.Context(), s)
	utils.RespondJSON(w, http.StatusOK, s)
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *Sessions) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := h.api.SendMessage(r.Context(), id, req.Content); err != nil {
		respondUpstreamError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *Sessions) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	msgs, err := h.api.History(r.Context(), id)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Sessions) writeThrough(ctx context.Context, s session.Session) {
	if h.writer == nil {
		return
	}
	if err := h.writer.UpsertSession(ctx, s); err != nil {
		log.Printf("[sessions] write-through failed for %s: %s", s.ID, utils.TruncateError(err))
	}
}

// respondUpstreamError maps the upstream error taxonomy onto response codes.
// Raw internal detail never reaches the client.
func respondUpstreamError(w http.ResponseWriter, err error) {
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		log.Printf("[sessions] upstream call failed: %s", utils.TruncateError(err))
		utils.RespondError(w, http.StatusBadGateway, "upstream request failed")
		return
	}

	switch ue.Kind {
	case upstream.KindTimeout:
		utils.RespondError(w, http.StatusGatewayTimeout, "upstream timed out")
	case upstream.KindRateLimited:
		utils.RespondError(w, http.StatusTooManyRequests, "upstream rate limited")
	case upstream.KindClient:
		if ue.Status == http.StatusNotFound {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, ue.Status, "upstream rejected request")
	default:
		utils.RespondError(w, http.StatusBadGateway, "upstream request failed")
	}
}
