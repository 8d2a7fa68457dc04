package session

import (
	"context"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
)

// ActivityUpdate carries the fields a Touch may change. An empty IPAddress
// means the address is unchanged and Location is ignored.
type ActivityUpdate struct {
	LastActivityAt time.Time
	IPAddress      string
	Location       models.Location
}

// Store persists sessions. Implementations enforce TTL at the store level;
// callers still re-check the explicit ExpiresAt on every read.
//
// RotateRefreshToken is a compare-and-swap on the session's current
// RefreshTokenID: it succeeds for exactly one caller per token, which is how
// refresh rotation stays atomic and reuse is detected. A CAS miss returns
// models.ErrTokenInvalid; a missing session returns models.ErrSessionNotFound.
//
// UpdateActivity and SetElevation write only the fields they name. Full
// read-modify-write saves would let a concurrent rotation be reverted by a
// stale record, so RefreshTokenID is only ever written by Create and
// RotateRefreshToken.
type Store interface {
	Create(ctx context.Context, sess *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]*models.Session, error)
	DeleteAllExcept(ctx context.Context, userID, keepID string) (int, error)
	RotateRefreshToken(ctx context.Context, id, currentJTI, nextJTI string) error
	UpdateActivity(ctx context.Context, id string, upd ActivityUpdate) error
	SetElevation(ctx context.Context, id string, until time.Time) error
}
