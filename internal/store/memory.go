package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MemStore is the file store's semantics without the file. It backs tests
// and the dev STORE_BACKEND=memory configuration.
type MemStore struct {
	newID IDFunc

	mu  sync.Mutex
	doc document
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		newID: NewID,
		doc:   document{Products: []Product{}, Users: []User{}},
	}
}

func (s *MemStore) SetIDFunc(fn IDFunc) { s.newID = fn }

func (s *MemStore) Ping(ctx context.Context) error { return nil }

func (s *MemStore) ListProducts(ctx context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Product, len(s.doc.Products))
	for i, p := range s.doc.Products {
		out[i] = cloneProduct(p)
	}
	return out, nil
}

func (s *MemStore) GetProduct(ctx context.Context, id string) (Product, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.doc.Products {
		if p.ID == id {
			return cloneProduct(p), true, nil
		}
	}
	return Product{}, false, nil
}

func (s *MemStore) CreateProduct(ctx context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.newID("p")
	p.Reviews = []Review{}
	p.Rating = 0
	s.doc.Products = append(s.doc.Products, p)
	return cloneProduct(p), nil
}

func (s *MemStore) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Products {
		if s.doc.Products[i].ID == id {
			applyPatch(&s.doc.Products[i], patch)
			return cloneProduct(s.doc.Products[i]), true, nil
		}
	}
	return Product{}, false, nil
}

func (s *MemStore) DeleteProduct(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Products {
		if s.doc.Products[i].ID == id {
			s.doc.Products = append(s.doc.Products[:i:i], s.doc.Products[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) CreateUser(ctx context.Context, username, email, password string) (User, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.doc.Users {
		if u.Email == email {
			return User{}, ErrEmailExists
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           s.newID("u"),
		Username:     username,
		Email:        email,
		CreatedAt:    time.Now().UTC(),
		Cart:         []CartLine{},
		Wishlist:     []string{},
		PasswordHash: hash,
	}
	s.doc.Users = append(s.doc.Users, u)
	return cloneUser(u), nil
}

func (s *MemStore) VerifyUser(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.doc.Users {
		if u.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
			return User{}, ErrInvalidCredentials
		}
		return cloneUser(u), nil
	}
	return User{}, ErrInvalidCredentials
}

func (s *MemStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.doc.Users {
		if u.ID == id {
			return cloneUser(u), true, nil
		}
	}
	return User{}, false, nil
}

func (s *MemStore) Cart(ctx context.Context, userID string) ([]CartLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.doc.Users {
		if u.ID == userID {
			return append([]CartLine{}, u.Cart...), true, nil
		}
	}
	return nil, false, nil
}

func (s *MemStore) AddCartLine(ctx context.Context, userID, productID string, quantity int) ([]CartLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Users {
		if s.doc.Users[i].ID == userID {
			s.doc.Users[i].Cart = mergeCartLine(s.doc.Users[i].Cart, productID, quantity)
			return append([]CartLine{}, s.doc.Users[i].Cart...), true, nil
		}
	}
	return nil, false, nil
}

func (s *MemStore) RemoveCartLine(ctx context.Context, userID, productID string) ([]CartLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Users {
		if s.doc.Users[i].ID == userID {
			s.doc.Users[i].Cart = dropCartLine(s.doc.Users[i].Cart, productID)
			return append([]CartLine{}, s.doc.Users[i].Cart...), true, nil
		}
	}
	return nil, false, nil
}

func (s *MemStore) AddReview(ctx context.Context, productID string, rv Review) (Review, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Products {
		if s.doc.Products[i].ID != productID {
			continue
		}

		rv.ID = s.newID("r")
		rv.Username = fallbackReviewer
		for _, u := range s.doc.Users {
			if u.ID == rv.UserID {
				rv.Username = u.Username
				break
			}
		}
		rv.Date = time.Now().UTC()

		s.doc.Products[i].Reviews = append(s.doc.Products[i].Reviews, rv)
		s.doc.Products[i].Rating = averageRating(s.doc.Products[i].Reviews)
		return rv, true, nil
	}
	return Review{}, false, nil
}

func (s *MemStore) ListReviews(ctx context.Context, productID string) ([]Review, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.doc.Products {
		if p.ID == productID {
			return append([]Review{}, p.Reviews...), true, nil
		}
	}
	return nil, false, nil
}
