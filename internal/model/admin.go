package model

import "time"

// AdminUser is an operator account for the authenticated admin surface
// (force-sync, refund, listings).  Passwords are stored as bcrypt hashes.
//
// Fields:
//  ID           – primary key identifier.
//  Email        – login email, unique.
//  PasswordHash – bcrypt hashed password.
//  Role         – role claim embedded in issued tokens (ADMIN).
//  CreatedAt    – creation timestamp.
type AdminUser struct {
	ID           uint64    // admin_users.id
	Email        string    // admin_users.email
	PasswordHash string    // admin_users.password_hash
	Role         string    // admin_users.role
	CreatedAt    time.Time // admin_users.created_at
}
