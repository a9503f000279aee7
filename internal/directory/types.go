package directory

import (
	"errors"
	"strings"
	"time"
)

// User is a patron or staff member. Financial history hangs off users by
// id, so accounts are never hard-deleted.
type User struct {
	ID         string    `json:"id"`
	GivenName  string    `json:"given_name"`
	MiddleName string    `json:"middle_name,omitempty"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email,omitempty"`
	Role       string    `json:"role,omitempty"`
	Program    string    `json:"program,omitempty"`
	Year       int       `json:"year,omitempty"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// PasswordHash is opaque to this package; verification is delegated
	// to the auth capability. Empty means no credential is set.
	PasswordHash string `json:"-"`
}

// FullName joins the non-empty name parts with single spaces, omitting
// the middle segment when absent.
func (u User) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{u.GivenName, u.MiddleName, u.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Patch carries optional profile updates; nil fields are left untouched.
// The user id is immutable and has no patch field.
type Patch struct {
	GivenName  *string
	MiddleName *string
	LastName   *string
	Email      *string
	Role       *string
	Program    *string
	Year       *int
	Department *string
}

var (
	ErrInvalidArgument = errors.New("directory: invalid argument")
	ErrNotFound        = errors.New("directory: not found")
	ErrConflict        = errors.New("directory: already exists")
	ErrStorage         = errors.New("directory: storage failure")
)
