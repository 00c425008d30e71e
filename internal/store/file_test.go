package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()

	s, err := OpenFile(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	return s
}

func TestFileStore_MissingFileInitializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")

	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	products, err := s.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("want empty catalog, got %d products", len(products))
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("document file not created: %v", err)
	}
}

func TestFileStore_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := OpenFile(path); err == nil {
		t.Fatal("want error for malformed document")
	}
}

func TestFileStore_ProductRoundTrip(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, Product{
		Name:     "Super Nintendo",
		Price:    149.99,
		Quantity: 3,
		Category: "consoles",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if created.ID == "" {
		t.Fatal("empty product id")
	}
	if created.Rating != 0 || len(created.Reviews) != 0 {
		t.Fatalf("new product must start unrated: rating=%v reviews=%d", created.Rating, len(created.Reviews))
	}

	got, ok, err := s.GetProduct(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("GetProduct: ok=%v err=%v", ok, err)
	}
	if got.Name != "Super Nintendo" || got.Price != 149.99 || got.Quantity != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestFileStore_UpdateIsPartial(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	p, err := s.CreateProduct(ctx, Product{Name: "Game Boy", Price: 59.99, Quantity: 10})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	newPrice := 49.99
	upd, ok, err := s.UpdateProduct(ctx, p.ID, ProductPatch{Price: &newPrice})
	if err != nil || !ok {
		t.Fatalf("UpdateProduct: ok=%v err=%v", ok, err)
	}
	if upd.Price != 49.99 {
		t.Fatalf("price=%v", upd.Price)
	}
	if upd.Name != "Game Boy" || upd.Quantity != 10 {
		t.Fatalf("untouched fields changed: %+v", upd)
	}
	if upd.ID != p.ID {
		t.Fatalf("id changed: %s", upd.ID)
	}
}

func TestFileStore_DeleteProduct(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	p, err := s.CreateProduct(ctx, Product{Name: "NES"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	ok, err := s.DeleteProduct(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteProduct: ok=%v err=%v", ok, err)
	}

	if _, ok, _ := s.GetProduct(ctx, p.ID); ok {
		t.Fatal("product still present after delete")
	}

	ok, err = s.DeleteProduct(ctx, "nope")
	if err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if ok {
		t.Fatal("deleting unknown id must report not found")
	}
}

func TestFileStore_DuplicateEmail(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "a", "a@x.com", "p"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	_, err := s.CreateUser(ctx, "b", "a@x.com", "q")
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("want ErrEmailExists, got %v", err)
	}

	// Same address, different case.
	_, err = s.CreateUser(ctx, "c", "A@X.com", "r")
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("want ErrEmailExists for case-folded email, got %v", err)
	}
}

func TestFileStore_VerifyUser(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "ana", "ana@x.com", "secret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.VerifyUser(ctx, "ana@x.com", "secret")
	if err != nil {
		t.Fatalf("VerifyUser: %v", err)
	}
	if u.ID != created.ID {
		t.Fatalf("id=%s want=%s", u.ID, created.ID)
	}

	if _, err := s.VerifyUser(ctx, "ana@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.VerifyUser(ctx, "ghost@x.com", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestFileStore_CartFindOrIncrement(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "ana", "ana@x.com", "secret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// productId "5" does not exist in the catalog; cart lines are not
	// checked against it.
	cart, ok, err := s.AddCartLine(ctx, u.ID, "5", 2)
	if err != nil || !ok {
		t.Fatalf("AddCartLine: ok=%v err=%v", ok, err)
	}
	cart, ok, err = s.AddCartLine(ctx, u.ID, "5", 3)
	if err != nil || !ok {
		t.Fatalf("AddCartLine: ok=%v err=%v", ok, err)
	}

	if len(cart) != 1 || cart[0].ProductID != "5" || cart[0].Quantity != 5 {
		t.Fatalf("cart=%+v, want one line {5 5}", cart)
	}

	cart, ok, err = s.RemoveCartLine(ctx, u.ID, "5")
	if err != nil || !ok {
		t.Fatalf("RemoveCartLine: ok=%v err=%v", ok, err)
	}
	if len(cart) != 0 {
		t.Fatalf("cart=%+v, want empty", cart)
	}

	// Removing an absent line is a silent no-op.
	if _, ok, err := s.RemoveCartLine(ctx, u.ID, "5"); err != nil || !ok {
		t.Fatalf("RemoveCartLine no-op: ok=%v err=%v", ok, err)
	}

	if _, ok, _ := s.Cart(ctx, "ghost"); ok {
		t.Fatal("cart of unknown user must report not found")
	}
}

func TestFileStore_ConcurrentCartAdds(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "ana", "ana@x.com", "secret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := s.AddCartLine(ctx, u.ID, "p9", 1); err != nil {
				t.Errorf("AddCartLine: %v", err)
			}
		}()
	}
	wg.Wait()

	cart, _, err := s.Cart(ctx, u.ID)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if len(cart) != 1 || cart[0].Quantity != n {
		t.Fatalf("cart=%+v, want one line with quantity %d", cart, n)
	}
}

func TestFileStore_ReviewRatingRecompute(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "ana", "ana@x.com", "secret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	p, err := s.CreateProduct(ctx, Product{Name: "Mega Drive"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	rv, ok, err := s.AddReview(ctx, p.ID, Review{UserID: u.ID, Rating: 3, Comment: "ok"})
	if err != nil || !ok {
		t.Fatalf("AddReview: ok=%v err=%v", ok, err)
	}
	if rv.Username != "ana" {
		t.Fatalf("username=%q, want denormalized reviewer name", rv.Username)
	}

	// Unknown reviewer falls back to the placeholder name.
	rv, _, err = s.AddReview(ctx, p.ID, Review{UserID: "ghost", Rating: 4})
	if err != nil {
		t.Fatalf("AddReview: %v", err)
	}
	if rv.Username != "Usuario" {
		t.Fatalf("username=%q, want fallback", rv.Username)
	}

	if _, _, err := s.AddReview(ctx, p.ID, Review{UserID: u.ID, Rating: 4}); err != nil {
		t.Fatalf("AddReview: %v", err)
	}

	got, _, err := s.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	// mean(3, 4, 4) = 3.666..., rounded to one decimal.
	if got.Rating != 3.7 {
		t.Fatalf("rating=%v, want 3.7", got.Rating)
	}
	if len(got.Reviews) != 3 {
		t.Fatalf("reviews=%d, want 3", len(got.Reviews))
	}

	if _, ok, _ := s.AddReview(ctx, "nope", Review{Rating: 5}); ok {
		t.Fatal("review on unknown product must report not found")
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	ctx := context.Background()

	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	p, err := s.CreateProduct(ctx, Product{Name: "Saturn", Price: 199})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	u, err := s.CreateUser(ctx, "ana", "ana@x.com", "secret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, _, err := s.AddCartLine(ctx, u.ID, p.ID, 2); err != nil {
		t.Fatalf("AddCartLine: %v", err)
	}
	if _, _, err := s.AddReview(ctx, p.ID, Review{UserID: u.ID, Rating: 5}); err != nil {
		t.Fatalf("AddReview: %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	got, ok, err := reopened.GetProduct(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("GetProduct after reopen: ok=%v err=%v", ok, err)
	}
	if got.Rating != 5 || len(got.Reviews) != 1 {
		t.Fatalf("derived review state lost: %+v", got)
	}

	cart, ok, err := reopened.Cart(ctx, u.ID)
	if err != nil || !ok {
		t.Fatalf("Cart after reopen: ok=%v err=%v", ok, err)
	}
	if len(cart) != 1 || cart[0].Quantity != 2 {
		t.Fatalf("cart lost: %+v", cart)
	}

	// Password hash must survive the round trip too.
	if _, err := reopened.VerifyUser(ctx, "ana@x.com", "secret"); err != nil {
		t.Fatalf("VerifyUser after reopen: %v", err)
	}
}
