package engine

import (
	"leadline/internal/domain"
	"leadline/internal/engine/auth"
)

// OwnershipResolver computes the next owning user for a transition.
type OwnershipResolver struct{}

// Resolve returns the owner id after a previousStatus -> newStatus move by
// actor, and whether the move is a claim. Claims must be written with an
// unowned guard so that concurrent claimants get at most one winner.
func (OwnershipResolver) Resolve(lead domain.Lead, previousStatus, newStatus domain.Status, actor domain.User) (ownerID *string, claim bool) {
	// An accounts-stage actor moving an unowned accounts_pending lead takes
	// ownership; this is the claim operation.
	if previousStatus == domain.StatusAccountsPending && lead.CurrentOwnerID == nil {
		if cap := auth.Resolve(actor); cap == auth.CapAccountsStage || cap == auth.CapAll {
			id := actor.ID
			return &id, true
		}
	}
	// Crossing from the HR stage into the accounts stage clears the owner so
	// the lead becomes claimable.
	if domain.AccountsStage(newStatus) && !domain.AccountsStage(previousStatus) {
		return nil, false
	}
	return lead.CurrentOwnerID, false
}
