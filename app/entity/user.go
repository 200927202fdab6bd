package entity

import "database/sql"

type User struct {
	ID           uint64
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	ResetToken   sql.NullString
}

// HasPendingReset reports whether a password reset was requested and not yet consumed.
func (u *User) HasPendingReset() bool {
	return u.ResetToken.Valid && u.ResetToken.String != ""
}
