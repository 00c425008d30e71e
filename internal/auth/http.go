// Package auth serves registration, login and token introspection. Password
// hashing and uniqueness live in the store; this layer validates input,
// shapes responses and issues access tokens.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"PixelVault/internal/store"
	"PixelVault/pkg/kit"
)

const (
	maxBodyBytes = 1 << 20
	tokenTTL     = 15 * time.Minute
)

const (
	loginLimitPerMin    = 5
	registerLimitPerMin = 3
)

type Server struct {
	Users store.UserStore
	JWT   *TokenMaker
	Log   *zap.Logger
}

func (s *Server) Routes() http.Handler {
	loginLimiter := kit.NewIPRateLimiter(loginLimitPerMin, time.Minute)
	registerLimiter := kit.NewIPRateLimiter(registerLimitPerMin, time.Minute)

	r := chi.NewRouter()
	r.With(registerLimiter.Middleware).Post("/register", s.HandleRegister)
	r.With(loginLimiter.Middleware).Post("/login", s.HandleLogin)
	r.Get("/whoami", s.HandleWhoAmI)
	return r
}

// userResponse is a User minus all password material.
type userResponse struct {
	ID        string           `json:"id"`
	Username  string           `json:"username"`
	Email     string           `json:"email"`
	CreatedAt time.Time        `json:"createdAt"`
	Cart      []store.CartLine `json:"cart"`
	Wishlist  []string         `json:"wishlist"`
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		Cart:      u.Cart,
		Wishlist:  u.Wishlist,
	}
}

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := decodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Username == "" || req.Email == "" || req.Password == "" {
		kit.WriteError(w, r, http.StatusBadRequest, "username, email and password required", nil)
		return
	}

	u, err := s.Users.CreateUser(r.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, store.ErrEmailExists) {
		kit.WriteError(w, r, http.StatusBadRequest, "email already registered", nil)
		return
	}
	if err != nil {
		s.Log.Error("register failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	kit.WriteJSON(w, http.StatusCreated, toUserResponse(u))
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the user the client keeps as its session artifact plus a
// signed access token.
type loginResponse struct {
	userResponse
	AccessToken string `json:"accessToken"`
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := decodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		kit.WriteError(w, r, http.StatusBadRequest, "email and password required", nil)
		return
	}

	u, err := s.Users.VerifyUser(r.Context(), req.Email, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		kit.WriteError(w, r, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	if err != nil {
		s.Log.Error("login failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	tok, err := s.JWT.New(u.ID, u.Username, u.Email, tokenTTL)
	if err != nil {
		s.Log.Error("token issue failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	kit.WriteJSON(w, http.StatusOK, loginResponse{
		userResponse: toUserResponse(u),
		AccessToken:  tok,
	})
}

func (s *Server) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		kit.WriteError(w, r, http.StatusUnauthorized, "missing token", nil)
		return
	}

	claims, err := s.JWT.Parse(strings.TrimPrefix(authz, "Bearer "))
	if err != nil {
		kit.WriteError(w, r, http.StatusUnauthorized, "invalid token", nil)
		return
	}

	kit.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":  claims.UserID,
		"username": claims.Username,
		"email":    claims.Email,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
