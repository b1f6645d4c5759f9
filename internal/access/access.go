// Package access centralises the role and ownership checks applied by every
// mutating booking endpoint.
package access

import (
	"strings"

	"github.com/sparkclean/sparkclean-platform/internal/tenancy"
)

// Decision is the closed result of a capability check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Action names an operation a caller wants to perform on a booking.
type Action string

const (
	ActionViewBooking   Action = "booking.view"
	ActionCancelBooking Action = "booking.cancel"
	ActionSetStatus     Action = "booking.set_status"
	ActionEditNotes     Action = "booking.edit_notes"
	ActionEditBooking   Action = "booking.edit"
)

// Resource describes the booking being acted on.
type Resource struct {
	TenantID   string
	OwnerID    string
	AssigneeID string
}

// Request is a single capability question.
type Request struct {
	Action Action
	// TargetStatus is consulted for ActionSetStatus.
	TargetStatus string
	Resource     Resource
}

var adminRoles = map[string]struct{}{
	"admin":        {},
	"super_admin":  {},
	"tenant_admin": {},
}

// IsAdmin reports whether role grants tenant-wide administrative rights.
func IsAdmin(role string) bool {
	_, ok := adminRoles[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Decide answers whether p may perform req.
func Decide(p tenancy.Principal, req Request) Decision {
	if p.ID == "" {
		return Deny
	}
	if req.Resource.TenantID != "" && p.TenantID != "" && req.Resource.TenantID != p.TenantID {
		return Deny
	}
	if IsAdmin(p.Role) {
		return Allow
	}

	owner := p.ID == req.Resource.OwnerID
	assignee := req.Resource.AssigneeID != "" && p.ID == req.Resource.AssigneeID

	switch req.Action {
	case ActionViewBooking:
		return allowIf(owner || assignee)
	case ActionCancelBooking:
		return allowIf(owner)
	case ActionSetStatus:
		switch req.TargetStatus {
		case "cancelled":
			return allowIf(owner)
		case "in-progress", "completed":
			return allowIf(assignee)
		}
		return Deny
	case ActionEditNotes:
		return allowIf(owner || assignee)
	case ActionEditBooking:
		// Scheduling, assignment and pricing are admin-only.
		return Deny
	}
	return Deny
}

func allowIf(ok bool) Decision {
	if ok {
		return Allow
	}
	return Deny
}
