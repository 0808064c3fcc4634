// Package access resolves a caller's role and enforces the capability table.
package access

import (
	"github.com/bloodlink/bloodlink-backend/internal/auth"
	"github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

type Capability string

const (
	ViewOwn               Capability = "view_own"
	CreateRequest         Capability = "create_request"
	ManageOwnRequest      Capability = "manage_own_request"
	EditAnyRequest        Capability = "edit_any_request"
	DeleteAnyRequest      Capability = "delete_any_request"
	TransitionAnyRequest  Capability = "transition_any_request"
	ViewAllRequests       Capability = "view_all_requests"
	ViewAllDonors         Capability = "view_all_donors"
	ManageDonors          Capability = "manage_donors"
	ViewStats             Capability = "view_stats"
	SearchIncludesBlocked Capability = "search_includes_blocked"
)

var policy = map[domain.Role]map[Capability]bool{
	domain.RoleDonor: {
		ViewOwn:          true,
		CreateRequest:    true,
		ManageOwnRequest: true,
	},
	domain.RoleVolunteer: {
		ViewOwn:              true,
		CreateRequest:        true,
		ManageOwnRequest:     true,
		EditAnyRequest:       true,
		TransitionAnyRequest: true,
		ViewAllRequests:      true,
		ViewStats:            true,
	},
	domain.RoleAdmin: {
		ViewOwn:               true,
		CreateRequest:         true,
		ManageOwnRequest:      true,
		EditAnyRequest:        true,
		DeleteAnyRequest:      true,
		TransitionAnyRequest:  true,
		ViewAllRequests:       true,
		ViewAllDonors:         true,
		ManageDonors:          true,
		ViewStats:             true,
		SearchIncludesBlocked: true,
	},
}

// Allowed reports whether role holds capability. Unknown roles hold nothing.
func Allowed(role domain.Role, c Capability) bool {
	return policy[role][c]
}

// Session is the per-request caller context handed to services.
type Session struct {
	Identity   auth.Identity
	Role       domain.Role
	Status     domain.Status
	Registered bool
}

func (s Session) Email() string { return s.Identity.Email }

func (s Session) Can(c Capability) bool { return Allowed(s.Role, c) }

// Require returns a forbidden error unless the session holds c.
func (s Session) Require(c Capability) error {
	if s.Can(c) {
		return nil
	}
	return errs.Forbidden("role %s may not %s", s.Role, c)
}

// Owns reports whether email belongs to the caller.
func (s Session) Owns(email string) bool {
	return s.Identity.Email != "" && auth.NormalizeEmail(email) == s.Identity.Email
}

func (s Session) Blocked() bool { return s.Status == domain.StatusBlocked }
