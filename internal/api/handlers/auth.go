package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dom/pickup-match/internal/api/middleware"
	"github.com/dom/pickup-match/internal/api/respond"
	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/oauth"
	"github.com/dom/pickup-match/internal/service"
	"github.com/go-chi/chi/v5"
)

const deviceTagHeader = "X-Device-Tag"

type AuthHandler struct {
	sessions  *service.SessionService
	providers *oauth.Registry
}

func NewAuthHandler(sessions *service.SessionService, providers *oauth.Registry) *AuthHandler {
	return &AuthHandler{sessions: sessions, providers: providers}
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type OAuthRequest struct {
	Token string `json:"token"`
}

type AuthResponse struct {
	User                  UserResponse `json:"user"`
	AccessToken           string       `json:"accessToken"`
	AccessTokenExpiresAt  time.Time    `json:"accessTokenExpiresAt"`
	RefreshToken          string       `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time    `json:"refreshTokenExpiresAt"`
	TokenType             string       `json:"tokenType"`
}

type UserResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"displayName"`
	Phone         *string    `json:"phone,omitempty"`
	AvatarURL     *string    `json:"avatarUrl,omitempty"`
	Role          string     `json:"role"`
	IsActive      bool       `json:"isActive"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// MeResponse is the caller's own profile with their live session count.
type MeResponse struct {
	UserResponse
	ActiveSessions int64 `json:"activeSessions"`
}

func newUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		Username:      u.Username,
		DisplayName:   u.DisplayName,
		Phone:         u.Phone,
		AvatarURL:     u.AvatarURL,
		Role:          string(u.Role),
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

func newAuthResponse(result *service.AuthResult) AuthResponse {
	return AuthResponse{
		User:                  newUserResponse(result.User),
		AccessToken:           result.AccessToken,
		AccessTokenExpiresAt:  result.AccessTokenExpiresAt,
		RefreshToken:          result.RefreshToken,
		RefreshTokenExpiresAt: result.RefreshTokenExpiresAt,
		TokenType:             "Bearer",
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}
	req.DeviceTag = deviceTag(r)

	result, err := h.sessions.Register(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, newAuthResponse(result))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if !decodeJSON(w, r, &req) {
		return
	}
	req.DeviceTag = deviceTag(r)

	result, err := h.sessions.Login(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newAuthResponse(result))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.sessions.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newAuthResponse(result))
}

// Logout does not require an access token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.NoContent(w)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		respond.Error(w, r, domain.ErrInvalidAccessToken)
		return
	}

	revoked, err := h.sessions.LogoutAllDevices(r.Context(), caller.ID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]int64{"revoked": revoked})
}

func (h *AuthHandler) OAuth(w http.ResponseWriter, r *http.Request) {
	var req OAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims, err := h.providers.Verify(r.Context(), chi.URLParam(r, "provider"), req.Token)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	result, err := h.sessions.LinkOrCreateFromExternalIdentity(r.Context(), claims, deviceTag(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, newAuthResponse(result))
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		respond.Error(w, r, domain.ErrInvalidAccessToken)
		return
	}

	user, err := h.sessions.GetUser(r.Context(), caller.ID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	sessions, err := h.sessions.ActiveSessions(r.Context(), caller.ID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, MeResponse{
		UserResponse:   newUserResponse(user),
		ActiveSessions: sessions,
	})
}

func deviceTag(r *http.Request) string {
	if tag := r.Header.Get(deviceTagHeader); tag != "" {
		return tag
	}
	return r.UserAgent()
}

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into v, writing a 400 on malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respond.BadRequest(w, r, "invalid request body")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(w, r, "invalid request body")
		return false
	}
	return true
}
