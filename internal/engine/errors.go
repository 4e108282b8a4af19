package engine

import (
	"fmt"
	"strings"

	"leadline/internal/domain"
)

// InvalidTransitionError means the requested status is not reachable from
// the current one for the actor's role. Recoverable; Allowed tells the
// caller what would have been accepted.
type InvalidTransitionError struct {
	From      domain.Status
	Requested domain.Status
	Allowed   []domain.Status
}

func (e InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: no transitions allowed for this role", e.From, e.Requested)
	}
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("invalid transition %s -> %s: allowed next statuses are %s", e.From, e.Requested, strings.Join(names, ", "))
}

// ConflictError means a concurrent writer won the race: the guarded update
// found the lead no longer in the expected state. The caller should refresh
// and may retry against a different lead.
type ConflictError struct {
	LeadID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("lead %s was modified concurrently", e.LeadID)
}
