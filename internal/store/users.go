package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// CreateUser inserts a new account. Duplicate username or mobile maps to
// ErrConflict.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, mobile, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query,
		user.Username, user.Mobile, user.Email, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", user.Username, models.ErrConflict)
	}
	return err
}

// GetUserByID retrieves a user by id
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByAccount retrieves a user by username or mobile
func (s *Store) GetUserByAccount(ctx context.Context, account string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT * FROM users WHERE username = $1 OR mobile = $1", account)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", account, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CountUsername reports how many accounts use the username
func (s *Store) CountUsername(ctx context.Context, username string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM users WHERE username = $1", username)
	return count, err
}

// CountMobile reports how many accounts use the mobile number
func (s *Store) CountMobile(ctx context.Context, mobile string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM users WHERE mobile = $1", mobile)
	return count, err
}

// UpdatePassword replaces the stored password hash
func (s *Store) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1 WHERE id = $2", passwordHash, userID)
	return err
}

// SetEmail stores an unverified email address
func (s *Store) SetEmail(ctx context.Context, userID int64, email string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET email = $1, email_active = FALSE WHERE id = $2", email, userID)
	return err
}

// MarkEmailActive flags the email verified, matching on both user id and
// the address carried in the token.
func (s *Store) MarkEmailActive(ctx context.Context, userID int64, email string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET email_active = TRUE WHERE id = $1 AND email = $2", userID, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CreateAddress inserts a delivery address
func (s *Store) CreateAddress(ctx context.Context, addr *models.Address) error {
	query := `
		INSERT INTO addresses (user_id, title, receiver, province, city, district, place, mobile, tel, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	return s.db.GetContext(ctx, &addr.ID, query,
		addr.UserID, addr.Title, addr.Receiver, addr.Province, addr.City,
		addr.District, addr.Place, addr.Mobile, addr.Tel, addr.Email)
}

// GetAddress retrieves a live address scoped to its owner
func (s *Store) GetAddress(ctx context.Context, addressID, userID int64) (*models.Address, error) {
	var addr models.Address
	err := s.db.GetContext(ctx, &addr,
		"SELECT * FROM addresses WHERE id = $1 AND user_id = $2 AND NOT is_deleted",
		addressID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("address %d: %w", addressID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// ListAddresses retrieves a user's live addresses
func (s *Store) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	var addrs []models.Address
	err := s.db.SelectContext(ctx, &addrs,
		"SELECT * FROM addresses WHERE user_id = $1 AND NOT is_deleted ORDER BY id", userID)
	return addrs, err
}

// CountAddresses counts a user's live addresses
func (s *Store) CountAddresses(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM addresses WHERE user_id = $1 AND NOT is_deleted", userID)
	return count, err
}

// UpdateAddress overwrites the mutable fields of an address
func (s *Store) UpdateAddress(ctx context.Context, addr *models.Address) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE addresses
		 SET title = $1, receiver = $2, province = $3, city = $4, district = $5,
		     place = $6, mobile = $7, tel = $8, email = $9
		 WHERE id = $10 AND user_id = $11 AND NOT is_deleted`,
		addr.Title, addr.Receiver, addr.Province, addr.City, addr.District,
		addr.Place, addr.Mobile, addr.Tel, addr.Email, addr.ID, addr.UserID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("address %d: %w", addr.ID, models.ErrNotFound)
	}
	return nil
}

// UpdateAddressTitle renames an address
func (s *Store) UpdateAddressTitle(ctx context.Context, addressID, userID int64, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE addresses SET title = $1 WHERE id = $2 AND user_id = $3 AND NOT is_deleted",
		title, addressID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("address %d: %w", addressID, models.ErrNotFound)
	}
	return nil
}

// SoftDeleteAddress hides an address without dropping the row
func (s *Store) SoftDeleteAddress(ctx context.Context, addressID, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE addresses SET is_deleted = TRUE WHERE id = $1 AND user_id = $2 AND NOT is_deleted",
		addressID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("address %d: %w", addressID, models.ErrNotFound)
	}
	return nil
}

// SetDefaultAddress points the user at one of their addresses
func (s *Store) SetDefaultAddress(ctx context.Context, userID, addressID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET default_address_id = $1
		 WHERE id = $2
		   AND EXISTS (SELECT 1 FROM addresses WHERE id = $1 AND user_id = $2 AND NOT is_deleted)`,
		addressID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("address %d: %w", addressID, models.ErrNotFound)
	}
	return nil
}

// GetBindingByOpenID looks up an oauth binding
func (s *Store) GetBindingByOpenID(ctx context.Context, openID string) (*models.OAuthBinding, error) {
	var binding models.OAuthBinding
	err := s.db.GetContext(ctx, &binding,
		"SELECT * FROM oauth_bindings WHERE openid = $1", openID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("openid: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// CreateBinding links an openid to a user
func (s *Store) CreateBinding(ctx context.Context, binding *models.OAuthBinding) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO oauth_bindings (openid, user_id) VALUES ($1, $2)
		 RETURNING id, created_at`,
		binding.OpenID, binding.UserID).
		Scan(&binding.ID, &binding.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("openid already bound: %w", models.ErrConflict)
	}
	return err
}
