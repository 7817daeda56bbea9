package models

import (
	"errors"
	"time"
)

const ProviderPhone = "phone"

// ErrCredentialConflict means the phone is already bound to another user.
var ErrCredentialConflict = errors.New("phone credential belongs to another user")

// PhoneCredential maps a phone (by hash) to its owning user. The phone hash is
// the partition key so at most one credential exists per number.
type PhoneCredential struct {
	PhoneHash  string    `db:"phone_hash"`
	UserBucket int       `db:"user_bucket"`
	UserID     string    `db:"user_id"`
	Provider   string    `db:"provider"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}
