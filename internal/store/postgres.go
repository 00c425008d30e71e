package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
	pgUniqueCode = "23505"
)

// PostgresStore maps the document model onto relational tables:
// products, reviews, users, cart_items and wishlist_items. Multi-row writes
// run in a transaction so per-entity operations stay atomic.
type PostgresStore struct {
	db    *sql.DB
	newID IDFunc
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, newID: NewID}
}

func (s *PostgresStore) SetIDFunc(fn IDFunc) { s.newID = fn }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, name, description, price, quantity, category, image, rating
			FROM products
			ORDER BY created_at ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]Product, 0, 16)
		for rows.Next() {
			var p Product
			if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price,
				&p.Quantity, &p.Category, &p.Image, &p.Rating); err != nil {
				return err
			}
			out = append(out, p)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range out {
			reviews, err := s.reviewsFor(ctx, out[i].ID)
			if err != nil {
				return err
			}
			out[i].Reviews = reviews
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (Product, bool, error) {
	var p Product
	found := false

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, `
			SELECT id, name, description, price, quantity, category, image, rating
			FROM products
			WHERE id = $1
		`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Price,
			&p.Quantity, &p.Category, &p.Image, &p.Rating)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		found = true
		p.Reviews, err = s.reviewsFor(ctx, id)
		return err
	})

	if err != nil || !found {
		return Product{}, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.ID = s.newID("p")
	p.Reviews = []Review{}
	p.Rating = 0

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO products (id, name, description, price, quantity, category, image, rating, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW())
		`, p.ID, p.Name, p.Description, p.Price, p.Quantity, p.Category, p.Image)
		return err
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, bool, error) {
	var (
		p     Product
		found bool
	)

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		err = tx.QueryRowContext(ctx, `
			SELECT id, name, description, price, quantity, category, image, rating
			FROM products
			WHERE id = $1
			FOR UPDATE
		`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Price,
			&p.Quantity, &p.Category, &p.Image, &p.Rating)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		applyPatch(&p, patch)

		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET name = $2, description = $3, price = $4, quantity = $5, category = $6, image = $7
			WHERE id = $1
		`, id, p.Name, p.Description, p.Price, p.Quantity, p.Category, p.Image); err != nil {
			return err
		}

		found = true
		return tx.Commit()
	})

	if err != nil || !found {
		return Product{}, false, err
	}

	reviews, err := s.reviewsFor(ctx, id)
	if err != nil {
		return Product{}, false, err
	}
	p.Reviews = reviews
	return p, true, nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) (bool, error) {
	deleted := false

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})

	return deleted, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, email, password string) (User, error) {
	email = normalizeEmail(email)

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

	err = withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (id, username, email, pass_hash, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt)

		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) VerifyUser(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)

	var u User
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, username, email, pass_hash, created_at
			FROM users
			WHERE email = $1
		`, email).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	})
	if err == sql.ErrNoRows {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}

	if err := s.fillUserLists(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	var u User

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, username, email, pass_hash, created_at
			FROM users
			WHERE id = $1
		`, id).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	})
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}

	if err := s.fillUserLists(ctx, &u); err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *PostgresStore) Cart(ctx context.Context, userID string) ([]CartLine, bool, error) {
	ok, err := s.userExists(ctx, userID)
	if err != nil || !ok {
		return nil, false, err
	}

	cart, err := s.cartFor(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return cart, true, nil
}

func (s *PostgresStore) AddCartLine(ctx context.Context, userID, productID string, quantity int) ([]CartLine, bool, error) {
	ok, err := s.userExists(ctx, userID)
	if err != nil || !ok {
		return nil, false, err
	}

	err = withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cart_items (user_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, product_id)
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		`, userID, productID, quantity)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	cart, err := s.cartFor(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return cart, true, nil
}

func (s *PostgresStore) RemoveCartLine(ctx context.Context, userID, productID string) ([]CartLine, bool, error) {
	ok, err := s.userExists(ctx, userID)
	if err != nil || !ok {
		return nil, false, err
	}

	err = withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2
		`, userID, productID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	cart, err := s.cartFor(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return cart, true, nil
}

func (s *PostgresStore) AddReview(ctx context.Context, productID string, rv Review) (Review, bool, error) {
	rv.ID = s.newID("r")
	rv.Date = time.Now().UTC()

	found := false
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)
		`, productID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}

		rv.Username = fallbackReviewer
		err = tx.QueryRowContext(ctx, `
			SELECT username FROM users WHERE id = $1
		`, rv.UserID).Scan(&rv.Username)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (id, product_id, user_id, username, rating, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rv.ID, productID, rv.UserID, rv.Username, rv.Rating, rv.Comment, rv.Date); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET rating = (
				SELECT ROUND(AVG(rating)::numeric, 1) FROM reviews WHERE product_id = $1
			)
			WHERE id = $1
		`, productID); err != nil {
			return err
		}

		found = true
		return tx.Commit()
	})

	if err != nil || !found {
		return Review{}, false, err
	}
	return rv, true, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, productID string) ([]Review, bool, error) {
	ok := false

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)
		`, productID).Scan(&ok)
	})
	if err != nil || !ok {
		return nil, false, err
	}

	reviews, err := s.reviewsFor(ctx, productID)
	if err != nil {
		return nil, false, err
	}
	return reviews, true, nil
}

func (s *PostgresStore) reviewsFor(ctx context.Context, productID string) ([]Review, error) {
	var out []Review

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, username, rating, comment, created_at
			FROM reviews
			WHERE product_id = $1
			ORDER BY created_at ASC
		`, productID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]Review, 0, 8)
		for rows.Next() {
			var rv Review
			if err := rows.Scan(&rv.ID, &rv.UserID, &rv.Username, &rv.Rating, &rv.Comment, &rv.Date); err != nil {
				return err
			}
			out = append(out, rv)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) cartFor(ctx context.Context, userID string) ([]CartLine, error) {
	var out []CartLine

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT product_id, quantity
			FROM cart_items
			WHERE user_id = $1
			ORDER BY product_id ASC
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]CartLine, 0, 8)
		for rows.Next() {
			var l CartLine
			if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
				return err
			}
			out = append(out, l)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) fillUserLists(ctx context.Context, u *User) error {
	cart, err := s.cartFor(ctx, u.ID)
	if err != nil {
		return err
	}
	u.Cart = cart

	u.Wishlist = []string{}
	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT product_id
			FROM wishlist_items
			WHERE user_id = $1
			ORDER BY product_id ASC
		`, u.ID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var pid string
			if err := rows.Scan(&pid); err != nil {
				return err
			}
			u.Wishlist = append(u.Wishlist, pid)
		}
		return rows.Err()
	})
}

func (s *PostgresStore) userExists(ctx context.Context, id string) (bool, error) {
	ok := false
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)
		`, id).Scan(&ok)
	})
	return ok, err
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueCode
}
