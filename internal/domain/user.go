package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the local identity record created on first successful external
// login. Email is the correlation key to the provider-asserted identity and
// is unique across the users table.
type User struct {
	UserID    uuid.UUID
	Nickname  string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NicknameForEmail picks the display name for a new user: the asserted
// nickname when present, otherwise the email local part before the first '@'.
func NicknameForEmail(asserted, email string) string {
	if nick := strings.TrimSpace(asserted); nick != "" {
		return nick
	}
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
