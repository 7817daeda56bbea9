package models

import (
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// User is a row of the users table. Phone is the decrypted number and is
// never persisted in clear.
type User struct {
	UserBucket        int        `db:"user_bucket" json:"-"`
	UserID            string     `db:"user_id" json:"id"`
	PhoneHash         string     `db:"phone_hash" json:"-"`
	PhoneEncrypted    []byte     `db:"phone_encrypted" json:"-"`
	PhoneKeyID        string     `db:"phone_key_id" json:"-"`
	DeviceFingerprint string     `db:"device_fingerprint" json:"-"`
	IsBlocked         bool       `db:"is_blocked" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	LastLogin         *time.Time `db:"last_login" json:"lastLoginAt,omitempty"`
	UpdatedAt         *time.Time `db:"updated_at" json:"updatedAt,omitempty"`

	Phone string `db:"-" json:"phone"`
}

// ProfileHints carries request context recorded on first sign-in.
type ProfileHints struct {
	DeviceFingerprint string
}
