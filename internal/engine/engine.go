package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadline/internal/config"
	"leadline/internal/domain"
	"leadline/internal/engine/auth"
	"leadline/internal/history"
	"leadline/internal/repo"
)

// Engine validates and commits lead status transitions. Every mutation is a
// single transaction: guarded lead update plus audit append, so no observer
// ever sees a status change without its history entry.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	History   history.Recorder
	Auth      auth.Authorizer
	Ownership OwnershipResolver
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		History: history.Recorder{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// LeadCreateOptions are parameters for sourcing a new lead.
type LeadCreateOptions struct {
	ID     string
	Name   string
	Phone  string
	Email  string
	Course string
	Source string
	Actor  domain.User
}

// CreateLead sources a lead owned by its creator with status new and writes
// the opening audit entry.
func (e Engine) CreateLead(ctx context.Context, opts LeadCreateOptions) (domain.Lead, error) {
	if opts.Name == "" {
		return domain.Lead{}, errors.New("name is required")
	}
	if err := e.Auth.Check(opts.Actor, auth.ActionCreate, domain.Lead{}); err != nil {
		return domain.Lead{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	ownerID := opts.Actor.ID
	l := domain.Lead{
		ID:             id,
		Name:           opts.Name,
		Phone:          opts.Phone,
		Email:          opts.Email,
		Course:         opts.Course,
		Source:         opts.Source,
		Status:         domain.StatusNew,
		CurrentOwnerID: &ownerID,
		CreatedByID:    opts.Actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertLead(ctx, tx, l); err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	// Opening entry keeps the chain invariant: the first real transition's
	// previous_status matches this entry's new_status.
	if _, err := e.History.Append(ctx, tx, domain.HistoryEntry{
		LeadID:          l.ID,
		PreviousStatus:  domain.StatusNew,
		NewStatus:       domain.StatusNew,
		ChangedByUserID: opts.Actor.ID,
		Reason:          "lead created",
		ChangedAt:       now,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// TransitionOptions parameterize one status change attempt.
type TransitionOptions struct {
	LeadID    string
	Requested domain.Status
	Actor     domain.User
	Reason    string
	// RegistrationAmount, when set, is written with the transition. Only
	// honored on moves into register or ready_for_class.
	RegistrationAmount *int64
	// Claim marks the request as a claim attempt: the actor needs claim
	// capability and the lead must still be an unowned accounts_pending
	// lead, otherwise the attempt fails with ConflictError.
	Claim bool
}

// Transition runs the full validation pipeline and commits the status
// change, ownership change and audit entry atomically. A rejected request
// has no observable side effect.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Lead, domain.HistoryEntry, error) {
	if !domain.ValidStatus(opts.Requested) {
		return domain.Lead{}, domain.HistoryEntry{}, fmt.Errorf("unknown status %q", opts.Requested)
	}
	lead, err := e.Repo.GetLead(ctx, opts.LeadID)
	if err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}

	if opts.Claim {
		if err := e.Auth.Check(opts.Actor, auth.ActionClaim, lead); err != nil {
			return domain.Lead{}, domain.HistoryEntry{}, err
		}
		// A claimant that reads after the winner's commit sees the lead
		// already moved or owned. That is a lost race, not a bad request.
		if lead.Status != domain.StatusAccountsPending || lead.CurrentOwnerID != nil {
			return domain.Lead{}, domain.HistoryEntry{}, ConflictError{LeadID: lead.ID}
		}
	}

	owner, claim := e.Ownership.Resolve(lead, lead.Status, opts.Requested, opts.Actor)
	action := auth.ActionTransition
	if claim {
		action = auth.ActionClaim
	}
	if err := e.Auth.Check(opts.Actor, action, lead); err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}

	role := auth.EffectiveRole(opts.Actor)
	if !tableAllows(lead.Status, opts.Requested, role) {
		isOwner := lead.CurrentOwnerID != nil && *lead.CurrentOwnerID == opts.Actor.ID
		if !(ownerOnly(opts.Requested) && isOwner) {
			return domain.Lead{}, domain.HistoryEntry{}, InvalidTransitionError{
				From:      lead.Status,
				Requested: opts.Requested,
				Allowed:   AllowedNext(lead, opts.Actor, role),
			}
		}
	}
	// An owned accounts_pending lead moves only through its owner, unless
	// the actor has full capability.
	if !claim && lead.Status == domain.StatusAccountsPending && lead.CurrentOwnerID != nil &&
		*lead.CurrentOwnerID != opts.Actor.ID && auth.Resolve(opts.Actor) != auth.CapAll {
		return domain.Lead{}, domain.HistoryEntry{}, auth.UnauthorizedActionError{
			Action: string(auth.ActionTransition),
			Role:   opts.Actor.Role,
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	var amount *int64
	if opts.RegistrationAmount != nil &&
		(opts.Requested == domain.StatusRegister || opts.Requested == domain.StatusReadyForClass) {
		amount = opts.RegistrationAmount
	}
	updated, entry, err := e.applyStep(ctx, tx, lead, stepUpdate{
		NewStatus:          opts.Requested,
		NewOwnerID:         owner,
		RequireUnowned:     claim,
		RegistrationAmount: amount,
		Actor:              opts.Actor,
		Reason:             opts.Reason,
		Now:                now,
	})
	if err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}

	// The completed status hands the lead to accounts automatically: same
	// transaction, owner cleared, its own audit entry.
	if opts.Requested == domain.StatusCompleted && e.Config != nil && e.Config.Pipeline.AutoHandoff {
		updated, entry, err = e.applyStep(ctx, tx, updated, stepUpdate{
			NewStatus:  domain.StatusAccountsPending,
			NewOwnerID: nil,
			Actor:      opts.Actor,
			Reason:     "automatic handoff to accounts",
			Now:        now,
		})
		if err != nil {
			return domain.Lead{}, domain.HistoryEntry{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}
	return updated, entry, nil
}

type stepUpdate struct {
	NewStatus          domain.Status
	NewOwnerID         *string
	RequireUnowned     bool
	RegistrationAmount *int64
	Actor              domain.User
	Reason             string
	Now                string
}

// applyStep performs one guarded lead update plus its audit append inside
// tx. Zero rows affected means a concurrent writer won; the whole
// transaction rolls back with ConflictError.
func (e Engine) applyStep(ctx context.Context, tx *sql.Tx, lead domain.Lead, step stepUpdate) (domain.Lead, domain.HistoryEntry, error) {
	ok, err := e.Repo.UpdateLeadGuarded(ctx, tx, repo.GuardedLeadUpdate{
		ID:                 lead.ID,
		ExpectStatus:       lead.Status,
		RequireUnowned:     step.RequireUnowned,
		NewStatus:          step.NewStatus,
		NewOwnerID:         step.NewOwnerID,
		RegistrationAmount: step.RegistrationAmount,
		UpdatedAt:          step.Now,
	})
	if err != nil {
		return lead, domain.HistoryEntry{}, err
	}
	if !ok {
		return lead, domain.HistoryEntry{}, ConflictError{LeadID: lead.ID}
	}
	entry, err := e.History.Append(ctx, tx, domain.HistoryEntry{
		LeadID:          lead.ID,
		PreviousStatus:  lead.Status,
		NewStatus:       step.NewStatus,
		ChangedByUserID: step.Actor.ID,
		FromUserID:      lead.CurrentOwnerID,
		Reason:          step.Reason,
		ChangedAt:       step.Now,
	})
	if err != nil {
		return lead, domain.HistoryEntry{}, err
	}
	lead.Status = step.NewStatus
	lead.CurrentOwnerID = step.NewOwnerID
	if step.RegistrationAmount != nil {
		lead.RegistrationAmount = *step.RegistrationAmount
	}
	lead.UpdatedAt = step.Now
	return lead, entry, nil
}

// Claim moves an unowned accounts_pending lead to the requested (or
// configured default) accounts-stage status, assigning ownership to the
// actor. Losers of the race get ConflictError.
func (e Engine) Claim(ctx context.Context, leadID string, requested domain.Status, actor domain.User, reason string) (domain.Lead, domain.HistoryEntry, error) {
	if requested == "" {
		requested = domain.StatusReadyForClass
		if e.Config != nil && e.Config.Pipeline.DefaultClaimStatus != "" {
			requested = domain.Status(e.Config.Pipeline.DefaultClaimStatus)
		}
	}
	return e.Transition(ctx, TransitionOptions{
		LeadID:    leadID,
		Requested: requested,
		Actor:     actor,
		Reason:    reason,
		Claim:     true,
	})
}

// Reassign is the manager-level ownership override. It bypasses the
// transition table (status does not change) but is still audited and still
// guarded against concurrent writes.
func (e Engine) Reassign(ctx context.Context, leadID, newOwnerID string, actor domain.User, reason string) (domain.Lead, domain.HistoryEntry, error) {
	lead, err := e.Repo.GetLead(ctx, leadID)
	if err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}
	if err := e.Auth.Check(actor, auth.ActionReassign, lead); err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}
	var owner *string
	if newOwnerID != "" {
		if _, err := e.Repo.GetUser(ctx, newOwnerID); err != nil {
			return domain.Lead{}, domain.HistoryEntry{}, err
		}
		owner = &newOwnerID
	}
	if reason == "" {
		reason = "manager reassignment"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	updated, entry, err := e.applyStep(ctx, tx, lead, stepUpdate{
		NewStatus:  lead.Status,
		NewOwnerID: owner,
		Actor:      actor,
		Reason:     reason,
		Now:        now,
	})
	if err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, domain.HistoryEntry{}, err
	}
	return updated, entry, nil
}

// ClaimableLeads lists unowned accounts-stage leads for claim pickers.
func (e Engine) ClaimableLeads(ctx context.Context, actor domain.User) ([]domain.Lead, error) {
	if err := e.Auth.Check(actor, auth.ActionClaim, domain.Lead{Status: domain.StatusAccountsPending}); err != nil {
		return nil, err
	}
	return e.Repo.ListLeads(ctx, repo.LeadFilters{Claimable: true})
}
