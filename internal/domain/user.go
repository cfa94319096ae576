package domain

import "time"

// Role tags the account type a user registered as.
type Role string

const (
	RoleSearcher         Role = "searcher"
	RoleRealEstateEntity Role = "real_estate_entity"
)

// Valid reports whether the role is one of the registrable account types.
func (r Role) Valid() bool {
	return r == RoleSearcher || r == RoleRealEstateEntity
}

// User is the authenticated principal tokens are issued for.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
