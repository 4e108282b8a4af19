package auth

import (
	"fmt"

	"leadline/internal/domain"
)

// UnauthorizedActionError indicates the acting user lacks the capability for
// an action. Surfaced as a permission denial; retrying does not help.
type UnauthorizedActionError struct {
	Action string
	Role   domain.Role
}

func (e UnauthorizedActionError) Error() string {
	return fmt.Sprintf("role %s cannot perform %s", e.Role, e.Action)
}

// Action names an operation checked against an actor's capability.
type Action string

const (
	ActionRead        Action = "lead.read"
	ActionCreate      Action = "lead.create"
	ActionTransition  Action = "lead.transition"
	ActionClaim       Action = "lead.claim"
	ActionReassign    Action = "lead.reassign"
	ActionManageUsers Action = "user.manage"
)

// Capability is the effective level an actor operates at after the admin
// sub-role narrowing is applied.
type Capability int

const (
	// CapNone is the zero value; unknown roles resolve to it.
	CapNone Capability = iota
	// CapReadOnly covers bare admins and team-scoped viewer roles.
	CapReadOnly
	// CapHRStage covers hr: leads it owns or created, HR-stage transitions.
	CapHRStage
	// CapAccountsStage covers accounts, session coordinators and
	// session_organizer admins: accounts-stage leads plus claiming.
	CapAccountsStage
	// CapAll covers managers and admin_organizer admins.
	CapAll
)

// Resolve computes the effective capability for a user. The sub-role only
// ever narrows: a sub-role on a non-admin role is ignored.
func Resolve(u domain.User) Capability {
	switch u.Role {
	case domain.RoleManager:
		return CapAll
	case domain.RoleAdmin:
		switch u.SubRole {
		case domain.SubRoleAdminOrganizer:
			return CapAll
		case domain.SubRoleSessionOrganizer:
			return CapAccountsStage
		default:
			return CapReadOnly
		}
	case domain.RoleAccounts, domain.RoleSessionCoordinator:
		return CapAccountsStage
	case domain.RoleHR:
		return CapHRStage
	case domain.RoleTeamLead, domain.RoleTechSupport:
		return CapReadOnly
	}
	return CapNone
}

// Authorizer answers yes/no capability questions for an acting user against
// a lead. It must be fed the server-held user row, never request input.
type Authorizer struct{}

// CanPerform reports whether actor may perform action on lead. For actions
// that are not lead-scoped (create, user management) lead is ignored.
func (Authorizer) CanPerform(actor domain.User, action Action, lead domain.Lead) bool {
	cap := Resolve(actor)
	switch action {
	case ActionRead:
		return cap >= CapReadOnly
	case ActionCreate:
		return cap == CapAll || cap == CapHRStage
	case ActionManageUsers, ActionReassign:
		return cap == CapAll
	case ActionTransition:
		switch cap {
		case CapAll:
			return true
		case CapAccountsStage:
			return domain.AccountsStage(lead.Status)
		case CapHRStage:
			return ownsOrCreated(actor, lead) && !domain.AccountsStage(lead.Status)
		}
		return false
	case ActionClaim:
		return cap == CapAll || cap == CapAccountsStage
	}
	return false
}

// Check is CanPerform returning the typed error on denial.
func (a Authorizer) Check(actor domain.User, action Action, lead domain.Lead) error {
	if a.CanPerform(actor, action, lead) {
		return nil
	}
	return UnauthorizedActionError{Action: string(action), Role: actor.Role}
}

// EffectiveRole maps a user to the role row used in the transition table.
// Sub-roles collapse admins onto the level they narrow to.
func EffectiveRole(u domain.User) domain.Role {
	if u.Role == domain.RoleAdmin {
		switch u.SubRole {
		case domain.SubRoleAdminOrganizer:
			return domain.RoleManager
		case domain.SubRoleSessionOrganizer:
			return domain.RoleAccounts
		}
	}
	return u.Role
}

func ownsOrCreated(actor domain.User, lead domain.Lead) bool {
	if lead.CreatedByID == actor.ID {
		return true
	}
	return lead.CurrentOwnerID != nil && *lead.CurrentOwnerID == actor.ID
}
