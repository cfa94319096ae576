package events

import (
	"time"

	"github.com/spec-kit/estate-auth/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTokenPairIssued  EventType = "token_pair_issued"
	EventTokenPairRotated EventType = "token_pair_rotated"
	EventTokenPairRevoked EventType = "token_pair_revoked"
	EventUserRegistered   EventType = "user_registered"
	EventPasswordChanged  EventType = "password_changed"
)

// Event represents a token lifecycle event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TokenPairIssuedPayload payload.
type TokenPairIssuedPayload struct {
	AccessJTI  string      `json:"access_jti"`
	RefreshJTI string      `json:"refresh_jti"`
	Role       domain.Role `json:"role"`
}

// TokenPairRotatedPayload payload.
type TokenPairRotatedPayload struct {
	OldAccessJTI  string `json:"old_access_jti"`
	OldRefreshJTI string `json:"old_refresh_jti"`
	NewAccessJTI  string `json:"new_access_jti"`
	NewRefreshJTI string `json:"new_refresh_jti"`
}

// TokenPairRevokedPayload payload.
type TokenPairRevokedPayload struct {
	JTIs   []string `json:"jtis"`
	Reason string   `json:"reason"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// PasswordChangedPayload payload.
type PasswordChangedPayload struct {
	Fingerprint string `json:"fingerprint"`
}
