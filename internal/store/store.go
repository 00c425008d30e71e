// Package store owns all persisted Pixel Vault state. Handlers talk to the
// narrow per-concern interfaces below and never see the backing document,
// so the file, memory and postgres backends are interchangeable.
package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// fallbackReviewer is the denormalized display name used when a review's
// userId does not resolve to a registered user.
const fallbackReviewer = "Usuario"

type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Quantity    int      `json:"quantity"`
	Category    string   `json:"category"`
	Image       string   `json:"image"`
	Reviews     []Review `json:"reviews"`
	Rating      float64  `json:"rating"`
}

// ProductPatch is a partial product update. Nil fields keep their current
// value; reviews and rating are derived state and not patchable.
type ProductPatch struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Quantity    *int     `json:"quantity"`
	Category    *string  `json:"category"`
	Image       *string  `json:"image"`
}

type Review struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Rating   float64   `json:"rating"`
	Comment  string    `json:"comment"`
	Date     time.Time `json:"date"`
}

type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// User's PasswordHash never crosses the API boundary; handlers build
// explicit response types instead of marshaling User directly.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"createdAt"`
	Cart      []CartLine `json:"cart"`
	Wishlist  []string   `json:"wishlist"`

	PasswordHash []byte `json:"-"`
}

type ProductStore interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id string) (Product, bool, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, bool, error)
	DeleteProduct(ctx context.Context, id string) (bool, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, username, email, password string) (User, error)
	VerifyUser(ctx context.Context, email, password string) (User, error)
	GetUser(ctx context.Context, id string) (User, bool, error)
}

type CartStore interface {
	Cart(ctx context.Context, userID string) ([]CartLine, bool, error)
	AddCartLine(ctx context.Context, userID, productID string, quantity int) ([]CartLine, bool, error)
	RemoveCartLine(ctx context.Context, userID, productID string) ([]CartLine, bool, error)
}

type ReviewStore interface {
	AddReview(ctx context.Context, productID string, rv Review) (Review, bool, error)
	ListReviews(ctx context.Context, productID string) ([]Review, bool, error)
}

type Store interface {
	ProductStore
	UserStore
	CartStore
	ReviewStore

	Ping(ctx context.Context) error
}

// IDFunc issues entity ids. The store owns id generation so ids stay
// collision-resistant regardless of deletions; tests inject deterministic
// sequences.
type IDFunc func(kind string) string

func NewID(kind string) string {
	return kind + "_" + uuid.NewString()
}

// averageRating is the product rating derived from its reviews: the mean
// rounded to one decimal place, 0 with no reviews.
func averageRating(reviews []Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	var sum float64
	for _, rv := range reviews {
		sum += rv.Rating
	}
	return math.Round(sum/float64(len(reviews))*10) / 10
}
