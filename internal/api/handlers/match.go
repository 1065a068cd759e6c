package handlers

import (
	"context"
	"net/http"

	"github.com/dom/pickup-match/internal/api/middleware"
	"github.com/dom/pickup-match/internal/api/respond"
	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type MatchHandler struct {
	matches *service.MatchService
}

func NewMatchHandler(matches *service.MatchService) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// ParticipantResponse is the public view of a host or opponent.
type ParticipantResponse struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

// MatchResponse replaces the preloaded users with their public view.
type MatchResponse struct {
	*domain.Match
	Host     *ParticipantResponse `json:"host,omitempty"`
	Opponent *ParticipantResponse `json:"opponent,omitempty"`
}

type MatchPageResponse struct {
	Items      []MatchResponse `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"totalPages"`
}

func newParticipant(u *domain.User) *ParticipantResponse {
	if u == nil {
		return nil
	}
	return &ParticipantResponse{
		ID:          u.ID.String(),
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

func newMatchResponse(m *domain.Match) MatchResponse {
	return MatchResponse{
		Match:    m,
		Host:     newParticipant(m.Host),
		Opponent: newParticipant(m.Opponent),
	}
}

func newMatchPageResponse(p *domain.MatchPage) MatchPageResponse {
	items := make([]MatchResponse, 0, len(p.Items))
	for _, m := range p.Items {
		items = append(items, newMatchResponse(m))
	}
	return MatchPageResponse{
		Items:      items,
		Total:      p.Total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: p.TotalPages,
	}
}

func (h *MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMatchFilter(r.URL.Query())
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	page, err := h.matches.List(r.Context(), filter)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newMatchPageResponse(page))
}

func (h *MatchHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	filter, err := parseMatchFilter(r.URL.Query())
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	page, err := h.matches.ListMine(r.Context(), caller, filter)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newMatchPageResponse(page))
}

func (h *MatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req service.CreateMatchInput
	if !decodeJSON(w, r, &req) {
		return
	}

	match, err := h.matches.Create(r.Context(), caller, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, newMatchResponse(match))
}

func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := matchID(w, r)
	if !ok {
		return
	}

	match, err := h.matches.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newMatchResponse(match))
}

func (h *MatchHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := callerAndMatch(w, r)
	if !ok {
		return
	}
	var req service.UpdateMatchInput
	if !decodeJSON(w, r, &req) {
		return
	}

	match, err := h.matches.Update(r.Context(), caller, id, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newMatchResponse(match))
}

func (h *MatchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := callerAndMatch(w, r)
	if !ok {
		return
	}

	if err := h.matches.Delete(r.Context(), caller, id); err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.NoContent(w)
}

func (h *MatchHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.matches.Accept)
}

func (h *MatchHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.matches.Reject)
}

func (h *MatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.matches.Cancel)
}

func (h *MatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := callerAndMatch(w, r)
	if !ok {
		return
	}

	match, err := h.matches.Start(r.Context(), caller, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newMatchResponse(match))
}

func (h *MatchHandler) Complete(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := callerAndMatch(w, r)
	if !ok {
		return
	}
	var req service.CompleteMatchInput
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	match, err := h.matches.Complete(r.Context(), caller, id, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newMatchResponse(match))
}

func (h *MatchHandler) History(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := callerAndMatch(w, r)
	if !ok {
		return
	}

	entries, err := h.matches.History(r.Context(), caller, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *MatchHandler) PresignMedia(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := callerAndMatch(w, r)
	if !ok {
		return
	}
	var req service.MediaUploadInput
	if !decodeJSON(w, r, &req) {
		return
	}

	upload, err := h.matches.PresignMediaUpload(r.Context(), caller, id, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, upload)
}

func (h *MatchHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, caller domain.Caller, id uuid.UUID, in service.TransitionInput) (*domain.Match, error),
) {
	caller, id, ok := callerAndMatch(w, r)
	if !ok {
		return
	}
	var req service.TransitionInput
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	match, err := apply(r.Context(), caller, id, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newMatchResponse(match))
}

func callerFrom(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		respond.Error(w, r, domain.ErrInvalidAccessToken)
	}
	return caller, ok
}

func matchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.BadRequest(w, r, "invalid match id", domain.FieldError{Field: "id", Message: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func callerAndMatch(w http.ResponseWriter, r *http.Request) (domain.Caller, uuid.UUID, bool) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return domain.Caller{}, uuid.Nil, false
	}
	id, ok := matchID(w, r)
	return caller, id, ok
}
