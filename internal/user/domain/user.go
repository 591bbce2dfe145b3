package domain

import (
	"errors"
	"time"
)

// UserStatus is the account lifecycle state.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is a directory entry. Password hashes are produced by the security
// package; plaintext never reaches this type.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks required fields before persistence.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user: id is required")
	}
	if u.Email == "" {
		return errors.New("user: email is required")
	}
	if u.Status != UserStatusActive && u.Status != UserStatusDisabled {
		return errors.New("user: invalid status")
	}
	return nil
}
