package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/moxun/seatpool/internal/model"
)

// AdminRepo provides data access to the admin_users table used by the
// authenticated operator surface.
type AdminRepo struct {
	db *sql.DB
}

// NewAdminRepo returns a new AdminRepo bound to the provided database.
func NewAdminRepo(db *sql.DB) *AdminRepo { return &AdminRepo{db: db} }

// GetByEmail fetches an admin user by login email.  Returns
// ErrAdminNotFound when the email is unknown.
func (r *AdminRepo) GetByEmail(ctx context.Context, email string) (*model.AdminUser, error) {
	var u model.AdminUser
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at
		 FROM admin_users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
