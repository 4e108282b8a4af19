package engine

import (
	"sort"

	"leadline/internal/domain"
)

// transitionTable maps (currentStatus, actorRole) to the allowed next
// statuses. The whole rule set lives here; the engine never compares status
// strings ad hoc. session-coordinator mirrors accounts, managers (and
// admin_organizer admins, collapsed onto manager by auth.EffectiveRole) get
// the union of every role's edges.
var transitionTable = map[domain.Status]map[domain.Role][]domain.Status{
	domain.StatusNew: {
		domain.RoleHR: {domain.StatusScheduled, domain.StatusNotInterested, domain.StatusPending},
	},
	domain.StatusPending: {
		domain.RoleHR: {domain.StatusScheduled, domain.StatusNotInterested, domain.StatusCallBack},
	},
	domain.StatusCallBack: {
		domain.RoleHR: {domain.StatusScheduled, domain.StatusPending, domain.StatusNotInterested},
	},
	domain.StatusScheduled: {
		domain.RoleHR: {domain.StatusCompleted, domain.StatusNoShow, domain.StatusReschedule, domain.StatusNotAvailable},
	},
	domain.StatusNoShow: {
		domain.RoleHR: {domain.StatusReschedule, domain.StatusCallBack, domain.StatusNotInterested},
	},
	domain.StatusReschedule: {
		domain.RoleHR: {domain.StatusScheduled, domain.StatusNotInterested},
	},
	domain.StatusNotAvailable: {
		domain.RoleHR: {domain.StatusReschedule, domain.StatusCallBack, domain.StatusNotInterested},
	},
	domain.StatusCompleted: {
		domain.RoleHR: {domain.StatusAccountsPending},
	},
	domain.StatusAccountsPending: {
		domain.RoleAccounts:           {domain.StatusReadyForClass, domain.StatusPendingButReady},
		domain.RoleSessionCoordinator: {domain.StatusReadyForClass, domain.StatusPendingButReady},
	},
	domain.StatusPendingButReady: {
		domain.RoleAccounts:           {domain.StatusReadyForClass, domain.StatusAccountsPending},
		domain.RoleSessionCoordinator: {domain.StatusReadyForClass, domain.StatusAccountsPending},
	},
	domain.StatusReadyForClass: {
		domain.RoleAccounts:           {domain.StatusRegister},
		domain.RoleSessionCoordinator: {domain.StatusRegister},
	},
}

// ownerOnlyTargets may be reached from any status, but only by the lead's
// current owner.
var ownerOnlyTargets = []domain.Status{domain.StatusCallBack, domain.StatusWrongNumber}

func tableAllows(current, requested domain.Status, role domain.Role) bool {
	for _, next := range allowedFromTable(current, role) {
		if next == requested {
			return true
		}
	}
	return false
}

func allowedFromTable(current domain.Status, role domain.Role) []domain.Status {
	byRole, ok := transitionTable[current]
	if !ok {
		return nil
	}
	if role == domain.RoleManager {
		seen := map[domain.Status]bool{}
		var union []domain.Status
		for _, targets := range byRole {
			for _, t := range targets {
				if !seen[t] {
					seen[t] = true
					union = append(union, t)
				}
			}
		}
		sort.Slice(union, func(i, j int) bool { return union[i] < union[j] })
		return union
	}
	return byRole[role]
}

func ownerOnly(requested domain.Status) bool {
	for _, t := range ownerOnlyTargets {
		if t == requested {
			return true
		}
	}
	return false
}

// AllowedNext returns the statuses a lead may move to for the given actor,
// including owner-only targets when the actor is the current owner. The set
// is attached to InvalidTransitionError responses.
func AllowedNext(lead domain.Lead, actor domain.User, role domain.Role) []domain.Status {
	allowed := append([]domain.Status(nil), allowedFromTable(lead.Status, role)...)
	if lead.CurrentOwnerID != nil && *lead.CurrentOwnerID == actor.ID {
		for _, t := range ownerOnlyTargets {
			if !containsStatus(allowed, t) && t != lead.Status {
				allowed = append(allowed, t)
			}
		}
	}
	return allowed
}

func containsStatus(set []domain.Status, s domain.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
