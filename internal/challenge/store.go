// Package challenge provides short-lived, single-use cryptographic
// challenges keyed by (subject, purpose). A challenge is consumed at most
// once; expired entries are reclaimed by store TTL or the background sweep.
package challenge

import (
	"context"
	"time"
)

// Purposes for which ceremonies issue challenges.
const (
	PurposeRegister     = "register"
	PurposeAuthenticate = "authenticate"
)

// Store holds pending challenges. Put replaces any existing challenge for
// the same (subject, purpose); Consume removes and returns it exactly once.
type Store interface {
	Put(ctx context.Context, subjectID, purpose string, data []byte, ttl time.Duration) error
	Consume(ctx context.Context, subjectID, purpose string) ([]byte, error)
}
