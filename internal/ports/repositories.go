package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gatekit/portal/internal/domain"
)

type CreateUserParams struct {
	Nickname     string
	Email        string
	CreatedAtUTC time.Time
}

// UserRepository is the persistence contract for local user records.
// Create must be durable on return and must surface storage-level
// uniqueness violations on email as domain.ErrConflict.
type UserRepository interface {
	Create(ctx context.Context, params CreateUserParams) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (domain.User, error)
}
