package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// document is the on-disk shape: one JSON object holding every entity.
type document struct {
	Products []Product `json:"products"`
	Users    []User    `json:"users"`
}

// userFile carries the fields of User plus the password hash, which is
// persisted but never serialized on the API side.
type userFile struct {
	User
	PasswordHash []byte `json:"passwordHash"`
}

type fileDocument struct {
	Products []Product  `json:"products"`
	Users    []userFile `json:"users"`
}

// FileStore keeps the whole document in memory behind one mutex and
// rewrites the backing file after every mutation via temp-file + rename, so
// concurrent requests cannot interleave a load-modify-save cycle and a
// crash mid-write cannot leave a torn file.
type FileStore struct {
	path  string
	newID IDFunc

	mu  sync.Mutex
	doc document
}

var _ Store = (*FileStore)(nil)

// OpenFile loads the document at path. A missing file starts an empty
// document and creates it; a malformed file is an error.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, newID: NewID}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.doc = document{Products: []Product{}, Users: []User{}}
		if err := s.persistLocked(); err != nil {
			return nil, fmt.Errorf("init %s: %w", path, err)
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var fd fileDocument
	if err := json.Unmarshal(raw, &fd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	s.doc = document{Products: fd.Products, Users: make([]User, 0, len(fd.Users))}
	if s.doc.Products == nil {
		s.doc.Products = []Product{}
	}
	for _, uf := range fd.Users {
		u := uf.User
		u.PasswordHash = uf.PasswordHash
		s.doc.Users = append(s.doc.Users, normalizeUser(u))
	}
	for i := range s.doc.Products {
		if s.doc.Products[i].Reviews == nil {
			s.doc.Products[i].Reviews = []Review{}
		}
	}

	return s, nil
}

// SetIDFunc replaces the id generator; tests use it for deterministic ids.
func (s *FileStore) SetIDFunc(fn IDFunc) { s.newID = fn }

func (s *FileStore) Ping(ctx context.Context) error { return nil }

func (s *FileStore) persistLocked() error {
	fd := fileDocument{Products: s.doc.Products, Users: make([]userFile, 0, len(s.doc.Users))}
	for _, u := range s.doc.Users {
		fd.Users = append(fd.Users, userFile{User: u, PasswordHash: u.PasswordHash})
	}

	raw, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".pixelvault-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) ListProducts(ctx context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Product, len(s.doc.Products))
	for i, p := range s.doc.Products {
		out[i] = cloneProduct(p)
	}
	return out, nil
}

func (s *FileStore) GetProduct(ctx context.Context, id string) (Product, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.productIndexLocked(id)
	if i < 0 {
		return Product{}, false, nil
	}
	return cloneProduct(s.doc.Products[i]), true, nil
}

func (s *FileStore) CreateProduct(ctx context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.newID("p")
	p.Reviews = []Review{}
	p.Rating = 0

	s.doc.Products = append(s.doc.Products, p)
	if err := s.persistLocked(); err != nil {
		s.doc.Products = s.doc.Products[:len(s.doc.Products)-1]
		return Product{}, err
	}
	return cloneProduct(p), nil
}

func (s *FileStore) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.productIndexLocked(id)
	if i < 0 {
		return Product{}, false, nil
	}

	prev := s.doc.Products[i]
	applyPatch(&s.doc.Products[i], patch)
	if err := s.persistLocked(); err != nil {
		s.doc.Products[i] = prev
		return Product{}, false, err
	}
	return cloneProduct(s.doc.Products[i]), true, nil
}

func (s *FileStore) DeleteProduct(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.productIndexLocked(id)
	if i < 0 {
		return false, nil
	}

	prev := s.doc.Products
	s.doc.Products = append(s.doc.Products[:i:i], s.doc.Products[i+1:]...)
	if err := s.persistLocked(); err != nil {
		s.doc.Products = prev
		return false, err
	}
	return true, nil
}

func (s *FileStore) CreateUser(ctx context.Context, username, email, password string) (User, error) {
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
	if err := s.persistLocked(); err != nil {
		s.doc.Users = s.doc.Users[:len(s.doc.Users)-1]
		return User{}, err
	}
	return cloneUser(u), nil
}

func (s *FileStore) VerifyUser(ctx context.Context, email, password string) (User, error) {
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

func (s *FileStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.userIndexLocked(id)
	if i < 0 {
		return User{}, false, nil
	}
	return cloneUser(s.doc.Users[i]), true, nil
}

func (s *FileStore) Cart(ctx context.Context, userID string) ([]CartLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.userIndexLocked(userID)
	if i < 0 {
		return nil, false, nil
	}
	return append([]CartLine{}, s.doc.Users[i].Cart...), true, nil
}

func (s *FileStore) AddCartLine(ctx context.Context, userID, productID string, quantity int) ([]CartLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.userIndexLocked(userID)
	if i < 0 {
		return nil, false, nil
	}

	prev := append([]CartLine{}, s.doc.Users[i].Cart...)
	s.doc.Users[i].Cart = mergeCartLine(s.doc.Users[i].Cart, productID, quantity)

	if err := s.persistLocked(); err != nil {
		s.doc.Users[i].Cart = prev
		return nil, false, err
	}
	return append([]CartLine{}, s.doc.Users[i].Cart...), true, nil
}

func (s *FileStore) RemoveCartLine(ctx context.Context, userID, productID string) ([]CartLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.userIndexLocked(userID)
	if i < 0 {
		return nil, false, nil
	}

	prev := s.doc.Users[i].Cart
	s.doc.Users[i].Cart = dropCartLine(prev, productID)

	if err := s.persistLocked(); err != nil {
		s.doc.Users[i].Cart = prev
		return nil, false, err
	}
	return append([]CartLine{}, s.doc.Users[i].Cart...), true, nil
}

func (s *FileStore) AddReview(ctx context.Context, productID string, rv Review) (Review, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.productIndexLocked(productID)
	if i < 0 {
		return Review{}, false, nil
	}

	rv.ID = s.newID("r")
	rv.Username = s.reviewerNameLocked(rv.UserID)
	rv.Date = time.Now().UTC()

	p := &s.doc.Products[i]
	prevRating := p.Rating
	p.Reviews = append(p.Reviews, rv)
	p.Rating = averageRating(p.Reviews)

	if err := s.persistLocked(); err != nil {
		p.Reviews = p.Reviews[:len(p.Reviews)-1]
		p.Rating = prevRating
		return Review{}, false, err
	}
	return rv, true, nil
}

func (s *FileStore) ListReviews(ctx context.Context, productID string) ([]Review, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.productIndexLocked(productID)
	if i < 0 {
		return nil, false, nil
	}
	return append([]Review{}, s.doc.Products[i].Reviews...), true, nil
}

func (s *FileStore) productIndexLocked(id string) int {
	for i, p := range s.doc.Products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *FileStore) userIndexLocked(id string) int {
	for i, u := range s.doc.Users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func (s *FileStore) reviewerNameLocked(userID string) string {
	for _, u := range s.doc.Users {
		if u.ID == userID {
			return u.Username
		}
	}
	return fallbackReviewer
}

func applyPatch(p *Product, patch ProductPatch) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Quantity != nil {
		p.Quantity = *patch.Quantity
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Image != nil {
		p.Image = *patch.Image
	}
}

func mergeCartLine(cart []CartLine, productID string, quantity int) []CartLine {
	for i := range cart {
		if cart[i].ProductID == productID {
			cart[i].Quantity += quantity
			return cart
		}
	}
	return append(cart, CartLine{ProductID: productID, Quantity: quantity})
}

func dropCartLine(cart []CartLine, productID string) []CartLine {
	out := make([]CartLine, 0, len(cart))
	for _, l := range cart {
		if l.ProductID != productID {
			out = append(out, l)
		}
	}
	return out
}

func cloneProduct(p Product) Product {
	p.Reviews = append([]Review{}, p.Reviews...)
	return p
}

func cloneUser(u User) User {
	u.Cart = append([]CartLine{}, u.Cart...)
	u.Wishlist = append([]string{}, u.Wishlist...)
	return u
}

func normalizeUser(u User) User {
	if u.Cart == nil {
		u.Cart = []CartLine{}
	}
	if u.Wishlist == nil {
		u.Wishlist = []string{}
	}
	return u
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
