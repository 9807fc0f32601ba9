package dedup

import (
	"context"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

// DefaultReservationTTL bounds how long a pending reservation suppresses
// other deliveries of the same key when its owner never confirms or releases.
const DefaultReservationTTL = 10 * time.Minute

type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	StateResolved  State = "resolved"
)

// Entry is the dedup record of one alertable condition.
type Entry struct {
	Key       models.DedupKey `json:"key"`
	State     State           `json:"state"`
	AlertID   int64           `json:"alert_id"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store guarantees at most one delivered alert per dedup key.
//
// Reserve is an atomic check-and-set: it succeeds iff the key is unknown,
// resolved, or holds a pending reservation older than the TTL. A successful
// reservation must be followed by Confirm after delivery or Release when
// delivery fails. Confirm never overwrites a delivered entry: when an expired
// reservation was taken over, the first confirmation keeps its alert id.
type Store interface {
	Reserve(ctx context.Context, key models.DedupKey) (bool, error)
	Confirm(ctx context.Context, key models.DedupKey, alertID int64) error
	Release(ctx context.Context, key models.DedupKey) error
	Resolve(ctx context.Context, key models.DedupKey) error
	Unresolved(ctx context.Context) ([]Entry, error)
}
