// Package audit records security-relevant authentication events and fans
// them out to the analytics and search backends.
package audit

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOTPRequested          EventType = "otp_requested"
	EventOTPVerified           EventType = "otp_verified"
	EventOTPFailed             EventType = "otp_failed"
	EventOTPLockout            EventType = "otp_lockout"
	EventRateLimited           EventType = "rate_limited"
	EventChallengeFailed       EventType = "challenge_failed"
	EventSuspiciousFingerprint EventType = "suspicious_fingerprint"
	EventLoginSucceeded        EventType = "login_succeeded"
)

// Event never carries a raw phone number or code. PhoneHash is the SHA-256
// of the canonical phone.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	PhoneHash   string    `json:"phone_hash,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Time        time.Time `json:"time"`
}

func NewEvent(typ EventType, phoneHash, ip, fingerprint, reason string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		PhoneHash:   phoneHash,
		IP:          ip,
		Fingerprint: fingerprint,
		Reason:      reason,
		Time:        time.Now().UTC(),
	}
}
