// Package catalog serves the product CRUD and per-product review endpoints.
package catalog

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
	Products store.ProductStore
	Reviews  store.ReviewStore
	Log      *zap.Logger
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.list)
	r.Post("/", s.create)

	r.Route("/{id}", func(rr chi.Router) {
		rr.Get("/", s.get)
		rr.Put("/", s.update)
		rr.Delete("/", s.delete)

		rr.Post("/reviews", s.addReview)
		rr.Get("/reviews", s.listReviews)
	})

	return r
}

// productInput is the caller-writable slice of a product. Reviews and rating
// are derived state owned by the store, so the decoder rejects them as
// unknown fields.
type productInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	Category    string  `json:"category"`
	Image       string  `json:"image"`
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	products, err := s.Products.ListProducts(r.Context())
	if err != nil {
		s.Log.Error("list products failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, products)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, ok, err := s.Products.GetProduct(r.Context(), id)
	if err != nil {
		s.Log.Error("get product failed", zap.Error(err), zap.String("id", id))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "product not found", map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if err := decodeJSON(w, r, &in); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}
	if in.Price < 0 || in.Quantity < 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "price and quantity must be non-negative", nil)
		return
	}

	p, err := s.Products.CreateProduct(r.Context(), store.Product{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Quantity:    in.Quantity,
		Category:    in.Category,
		Image:       in.Image,
	})
	if err != nil {
		s.Log.Error("create product failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	kit.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch store.ProductPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}
	if patch.Price != nil && *patch.Price < 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "price must be non-negative", nil)
		return
	}
	if patch.Quantity != nil && *patch.Quantity < 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "quantity must be non-negative", nil)
		return
	}

	p, ok, err := s.Products.UpdateProduct(r.Context(), id, patch)
	if err != nil {
		s.Log.Error("update product failed", zap.Error(err), zap.String("id", id))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "product not found", map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.Products.DeleteProduct(r.Context(), id)
	if err != nil {
		s.Log.Error("delete product failed", zap.Error(err), zap.String("id", id))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "product not found", map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

type reviewInput struct {
	UserID  string  `json:"userId"`
	Rating  float64 `json:"rating"`
	Comment string  `json:"comment"`
}

func (s *Server) addReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in reviewInput
	if err := decodeJSON(w, r, &in); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}
	if in.Rating < 1 || in.Rating > 5 {
		kit.WriteError(w, r, http.StatusBadRequest, "rating must be between 1 and 5", nil)
		return
	}

	rv, ok, err := s.Reviews.AddReview(r.Context(), id, store.Review{
		UserID:  in.UserID,
		Rating:  in.Rating,
		Comment: in.Comment,
	})
	if err != nil {
		s.Log.Error("add review failed", zap.Error(err), zap.String("product_id", id))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "product not found", map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusCreated, rv)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reviews, ok, err := s.Reviews.ListReviews(r.Context(), id)
	if err != nil {
		s.Log.Error("list reviews failed", zap.Error(err), zap.String("product_id", id))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "product not found", map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, reviews)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
