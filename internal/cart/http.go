// Package cart serves the per-user cart endpoints. A cart line's productId
// is deliberately not checked against the catalog; removing an absent line
// is a silent no-op.
package cart

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"PixelVault/internal/store"
	"PixelVault/pkg/kit"
)

const maxBodyBytes = 1 << 20

type Server struct {
	Carts store.CartStore
	Log   *zap.Logger
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/{userId}", s.get)
	r.Post("/{userId}/add", s.add)
	r.Delete("/{userId}/remove/{productId}", s.remove)

	return r
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	cart, ok, err := s.Carts.Cart(r.Context(), userID)
	if err != nil {
		s.Log.Error("get cart failed", zap.Error(err), zap.String("user_id", userID))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "user not found", map[string]any{"id": userID})
		return
	}
	kit.WriteJSON(w, http.StatusOK, cart)
}

type addReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req addReq
	if err := dec.Decode(&req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}
	if req.ProductID == "" || req.Quantity <= 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "productId and positive quantity required", nil)
		return
	}

	cart, ok, err := s.Carts.AddCartLine(r.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		s.Log.Error("add cart line failed", zap.Error(err), zap.String("user_id", userID))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "user not found", map[string]any{"id": userID})
		return
	}
	kit.WriteJSON(w, http.StatusOK, cart)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	productID := chi.URLParam(r, "productId")

	cart, ok, err := s.Carts.RemoveCartLine(r.Context(), userID, productID)
	if err != nil {
		s.Log.Error("remove cart line failed", zap.Error(err), zap.String("user_id", userID))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "user not found", map[string]any{"id": userID})
		return
	}
	kit.WriteJSON(w, http.StatusOK, cart)
}
