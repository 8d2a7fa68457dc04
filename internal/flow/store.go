// Package flow implements the authentication flow state machine. A flow is
// created when a login starts and advances through method-specific steps
// until it completes with a session or fails.
package flow

import (
	"context"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
)

// terminalGrace is how long a completed or failed flow remains readable so
// that status polls observe the terminal step before the record disappears.
const terminalGrace = 30 * time.Second

// Store persists in-progress flows. Advance is a compare-and-swap on Step:
// of two racing requests holding the same flow, exactly one advances and
// the other receives models.ErrInvalidFlowState.
type Store interface {
	Create(ctx context.Context, flow *models.FlowState) error
	Get(ctx context.Context, id string) (*models.FlowState, error)

	// Advance persists next if the stored record's Step still equals from.
	Advance(ctx context.Context, next *models.FlowState, from models.FlowStep) error

	Delete(ctx context.Context, id string) error
}
