// Package hashing derives the keyed digests stored in place of one-time codes
// and the lookup digests used to index phone numbers at rest.
package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Hasher computes HMAC-SHA256 digests of one-time codes bound to the phone
// number they were issued for. It holds no mutable state after construction.
type Hasher struct {
	secret []byte
}

func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// HashOTP returns hex(HMAC-SHA256(secret, phone + ":" + code)).
func (h *Hasher) HashOTP(phone, code string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(phone + ":" + code))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyOTP recomputes the digest for code and compares it with expected in
// constant time. A length mismatch returns false before comparing.
func (h *Hasher) VerifyOTP(phone, code, expected string) bool {
	computed := h.HashOTP(phone, code)
	if len(computed) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}

// PhoneHash is the stable index key for a normalized phone number.
func PhoneHash(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}
