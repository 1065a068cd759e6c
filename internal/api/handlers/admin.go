package handlers

import (
	"net/http"

	"github.com/dom/pickup-match/internal/api/respond"
	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AdminHandler struct {
	sessions *service.SessionService
}

func NewAdminHandler(sessions *service.SessionService) *AdminHandler {
	return &AdminHandler{sessions: sessions}
}

func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.BadRequest(w, r, "invalid user id", domain.FieldError{Field: "id", Message: "must be a UUID"})
		return
	}

	user, err := h.sessions.DeactivateUser(r.Context(), caller, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newUserResponse(user))
}
