package domain

import "time"

// TokenKind differentiates access vs refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Token is a checklist row: one durable record per issued token.
// Rows are never updated; revocation is a separate blacklist entry.
type Token struct {
	ID        string
	JTI       string
	SubjectID string
	Kind      TokenKind
	Signed    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	CreatedAt time.Time
}
