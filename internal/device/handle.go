package device

import (
	"time"

	"github.com/kursadbilgin/callscreen/internal/automation"
	"github.com/kursadbilgin/callscreen/internal/domain"
)

// Handle is one pooled device slot. Fields are guarded by the owning pool's
// mutex and the session is used only by the current lease holder. lease is
// bumped whenever a lease starts or ends so stale releases are rejected.
type Handle struct {
	id                string
	slot              int
	status            domain.DeviceStatus
	lastUsedAt        time.Time
	consecutiveErrors int
	session           automation.Session
	lease             uint64
}

// Lease is what Acquire hands to a caller. It pins the lease generation so
// the pool can reject a double release.
type Lease struct {
	handle     *Handle
	generation uint64
}

func (l *Lease) DeviceID() string { return l.handle.id }

func (l *Lease) Slot() int { return l.handle.slot }

func (l *Lease) Session() automation.Session { return l.handle.session }

// HandleInfo is a point-in-time copy of a handle's bookkeeping.
type HandleInfo struct {
	DeviceID          string              `json:"device_id"`
	Slot              int                 `json:"slot"`
	Status            domain.DeviceStatus `json:"status"`
	LastUsedAt        *time.Time          `json:"last_used_at,omitempty"`
	ConsecutiveErrors int                 `json:"consecutive_errors"`
	HasSession        bool                `json:"has_session"`
}

func (h *Handle) info() HandleInfo {
	out := HandleInfo{
		DeviceID:          h.id,
		Slot:              h.slot,
		Status:            h.status,
		ConsecutiveErrors: h.consecutiveErrors,
		HasSession:        h.session != nil,
	}
	if !h.lastUsedAt.IsZero() {
		t := h.lastUsedAt
		out.LastUsedAt = &t
	}
	return out
}
