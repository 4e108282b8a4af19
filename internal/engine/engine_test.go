package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/engine/auth"
	"leadline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	env := testEnv{Engine: eng, Ctx: ctx}
	env.seedUser(t, "manager-1", domain.RoleManager, "")
	env.seedUser(t, "hr-1", domain.RoleHR, "")
	env.seedUser(t, "hr-2", domain.RoleHR, "")
	env.seedUser(t, "acc-1", domain.RoleAccounts, "")
	env.seedUser(t, "acc-2", domain.RoleAccounts, "")
	env.seedUser(t, "admin-plain", domain.RoleAdmin, "")
	env.seedUser(t, "admin-org", domain.RoleAdmin, domain.SubRoleAdminOrganizer)
	env.seedUser(t, "admin-session", domain.RoleAdmin, domain.SubRoleSessionOrganizer)
	return env
}

func (env testEnv) seedUser(t *testing.T, id string, role domain.Role, subRole domain.SubRole) {
	t.Helper()
	err := env.Engine.Repo.InsertUser(env.Ctx, domain.User{
		ID:        id,
		Name:      id,
		Email:     id + "@example.com",
		Role:      role,
		SubRole:   subRole,
		CreatedAt: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func (env testEnv) user(t *testing.T, id string) domain.User {
	t.Helper()
	u, err := env.Engine.Repo.GetUser(env.Ctx, id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return u
}

func (env testEnv) createLead(t *testing.T, actor string) domain.Lead {
	t.Helper()
	l, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		Name:  "Test Prospect",
		Phone: "555-0100",
		Actor: env.user(t, actor),
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return l
}

func (env testEnv) transition(t *testing.T, leadID string, to domain.Status, actor string) (domain.Lead, error) {
	t.Helper()
	l, _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID:    leadID,
		Requested: to,
		Actor:     env.user(t, actor),
	})
	return l, err
}

func (env testEnv) historyLen(t *testing.T, leadID string) int {
	t.Helper()
	entries, err := env.Engine.History.HistoryFor(env.Ctx, leadID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return len(entries)
}

func TestLeadLifecycleWithHandoff(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")
	if lead.Status != domain.StatusNew {
		t.Fatalf("expected new, got %s", lead.Status)
	}
	if lead.CurrentOwnerID == nil || *lead.CurrentOwnerID != "hr-1" {
		t.Fatalf("creator should own the lead")
	}

	lead, err := env.transition(t, lead.ID, domain.StatusScheduled, "hr-1")
	if err != nil {
		t.Fatalf("to scheduled: %v", err)
	}
	// completed triggers the automatic handoff to accounts in one call
	lead, err = env.transition(t, lead.ID, domain.StatusCompleted, "hr-1")
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if lead.Status != domain.StatusAccountsPending {
		t.Fatalf("expected accounts_pending after handoff, got %s", lead.Status)
	}
	if lead.CurrentOwnerID != nil {
		t.Fatalf("handoff should clear owner, got %v", *lead.CurrentOwnerID)
	}

	// accounts claims by moving the unowned lead
	lead, err = env.transition(t, lead.ID, domain.StatusReadyForClass, "acc-1")
	if err != nil {
		t.Fatalf("claim to ready_for_class: %v", err)
	}
	if lead.CurrentOwnerID == nil || *lead.CurrentOwnerID != "acc-1" {
		t.Fatalf("claimant should own the lead")
	}

	amount := int64(50000)
	lead, _, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID:             lead.ID,
		Requested:          domain.StatusRegister,
		Actor:              env.user(t, "acc-1"),
		RegistrationAmount: &amount,
	})
	if err != nil {
		t.Fatalf("to register: %v", err)
	}
	if lead.RegistrationAmount != amount {
		t.Fatalf("expected registration amount %d, got %d", amount, lead.RegistrationAmount)
	}

	// creation + scheduled + completed + handoff + claim + register
	entries, err := env.Engine.History.HistoryFor(env.Ctx, lead.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 history entries, got %d", len(entries))
	}
	// each entry's previous_status matches its predecessor's new_status
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousStatus != entries[i-1].NewStatus {
			t.Fatalf("broken chain at %d: %s -> %s", i, entries[i-1].NewStatus, entries[i].PreviousStatus)
		}
	}
	if entries[len(entries)-1].NewStatus != domain.StatusRegister {
		t.Fatalf("final entry should be register")
	}
}

func TestInvalidTransitionHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")
	before := env.historyLen(t, lead.ID)

	_, err := env.transition(t, lead.ID, domain.StatusCompleted, "hr-1")
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if len(ite.Allowed) == 0 {
		t.Fatalf("error should carry allowed statuses")
	}

	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if got.Status != domain.StatusNew {
		t.Fatalf("status changed on rejected transition: %s", got.Status)
	}
	if got.CurrentOwnerID == nil || *got.CurrentOwnerID != "hr-1" {
		t.Fatalf("owner changed on rejected transition")
	}
	if env.historyLen(t, lead.ID) != before {
		t.Fatalf("rejected transition wrote a history entry")
	}
}

func TestHRCannotTouchAccountsStage(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")
	if _, err := env.transition(t, lead.ID, domain.StatusScheduled, "hr-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.transition(t, lead.ID, domain.StatusCompleted, "hr-1"); err != nil {
		t.Fatal(err)
	}

	// unowned accounts_pending: hr is refused as unauthorized, not as invalid
	_, err := env.transition(t, lead.ID, domain.StatusReadyForClass, "hr-1")
	var ue auth.UnauthorizedActionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedActionError, got %v", err)
	}

	// owned accounts_pending: still refused
	if _, err := env.transition(t, lead.ID, domain.StatusReadyForClass, "acc-1"); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if _, err := env.transition(t, got.ID, domain.StatusRegister, "hr-1"); !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedActionError on owned lead, got %v", err)
	}
}

func TestAccountsCannotTouchHRStage(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")
	_, err := env.transition(t, lead.ID, domain.StatusScheduled, "acc-1")
	var ue auth.UnauthorizedActionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedActionError, got %v", err)
	}
}

func TestClaimRaceHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")
	if _, err := env.transition(t, lead.ID, domain.StatusScheduled, "hr-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.transition(t, lead.ID, domain.StatusCompleted, "hr-1"); err != nil {
		t.Fatal(err)
	}

	claimants := []domain.User{
		env.user(t, "acc-1"), env.user(t, "acc-2"),
		env.user(t, "admin-session"), env.user(t, "manager-1"),
	}
	var wg sync.WaitGroup
	errs := make([]error, len(claimants))
	for i, u := range claimants {
		wg.Add(1)
		go func(i int, u domain.User) {
			defer wg.Done()
			_, _, err := env.Engine.Claim(env.Ctx, lead.ID, domain.StatusReadyForClass, u, "")
			errs[i] = err
		}(i, u)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var ce engine.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("loser got unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentOwnerID == nil {
		t.Fatalf("winner should own the lead")
	}
	if got.Status != domain.StatusReadyForClass {
		t.Fatalf("expected ready_for_class, got %s", got.Status)
	}
}

func TestClaimAfterWinnerCommitsIsConflict(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")
	if _, err := env.transition(t, lead.ID, domain.StatusScheduled, "hr-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.transition(t, lead.ID, domain.StatusCompleted, "hr-1"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.Claim(env.Ctx, lead.ID, domain.StatusReadyForClass, env.user(t, "acc-1"), ""); err != nil {
		t.Fatal(err)
	}

	// The late claimant reads the lead after the winner committed and must
	// lose the race, not get a transition rejection.
	_, _, err := env.Engine.Claim(env.Ctx, lead.ID, domain.StatusPendingButReady, env.user(t, "acc-2"), "")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentOwnerID == nil || *got.CurrentOwnerID != "acc-1" {
		t.Fatalf("winner's ownership must stand: %+v", got.CurrentOwnerID)
	}
}

func TestClaimRequiresClaimCapability(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")
	_, _, err := env.Engine.Claim(env.Ctx, lead.ID, "", env.user(t, "hr-1"), "")
	var ue auth.UnauthorizedActionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedActionError, got %v", err)
	}
	if env.historyLen(t, lead.ID) != 1 {
		t.Fatalf("rejected claim must not be audited")
	}
}

func TestOwnerOnlyTargets(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")
	if _, err := env.transition(t, lead.ID, domain.StatusScheduled, "hr-1"); err != nil {
		t.Fatal(err)
	}

	// wrong_number is not a scheduled edge in any role's table; the owner may
	// still use it
	got, err := env.transition(t, lead.ID, domain.StatusWrongNumber, "hr-1")
	if err != nil {
		t.Fatalf("owner to wrong_number: %v", err)
	}
	if got.Status != domain.StatusWrongNumber {
		t.Fatalf("expected wrong_number, got %s", got.Status)
	}

	// a non-owner manager does not get the owner-only edge
	lead2 := env.createLead(t, "hr-1")
	if _, err := env.transition(t, lead2.ID, domain.StatusScheduled, "hr-1"); err != nil {
		t.Fatal(err)
	}
	_, err = env.transition(t, lead2.ID, domain.StatusWrongNumber, "manager-1")
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestAdminSubRoles(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")

	// bare admin is read-only
	_, err := env.transition(t, lead.ID, domain.StatusScheduled, "admin-plain")
	var ue auth.UnauthorizedActionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedActionError for bare admin, got %v", err)
	}

	// admin_organizer acts at manager level
	if _, err := env.transition(t, lead.ID, domain.StatusScheduled, "admin-org"); err != nil {
		t.Fatalf("admin_organizer to scheduled: %v", err)
	}
	if _, err := env.transition(t, lead.ID, domain.StatusCompleted, "admin-org"); err != nil {
		t.Fatalf("admin_organizer to completed: %v", err)
	}

	// session_organizer acts at accounts level and can claim
	got, _, err := env.Engine.Claim(env.Ctx, lead.ID, "", env.user(t, "admin-session"), "")
	if err != nil {
		t.Fatalf("session_organizer claim: %v", err)
	}
	if got.CurrentOwnerID == nil || *got.CurrentOwnerID != "admin-session" {
		t.Fatalf("session_organizer should own after claim")
	}
	// but cannot work the hr stage
	lead2 := env.createLead(t, "hr-1")
	if _, err := env.transition(t, lead2.ID, domain.StatusScheduled, "admin-session"); !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedActionError for session_organizer on hr stage, got %v", err)
	}
}

func TestReassign(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")

	// only managers reassign
	_, _, err := env.Engine.Reassign(env.Ctx, lead.ID, "hr-2", env.user(t, "hr-1"), "")
	var ue auth.UnauthorizedActionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedActionError, got %v", err)
	}

	got, entry, err := env.Engine.Reassign(env.Ctx, lead.ID, "hr-2", env.user(t, "manager-1"), "coverage change")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.CurrentOwnerID == nil || *got.CurrentOwnerID != "hr-2" {
		t.Fatalf("expected hr-2 as owner")
	}
	if got.Status != domain.StatusNew {
		t.Fatalf("reassign must not change status")
	}
	if entry.FromUserID == nil || *entry.FromUserID != "hr-1" {
		t.Fatalf("entry should record the previous owner")
	}

	// unknown target user is rejected
	if _, _, err := env.Engine.Reassign(env.Ctx, lead.ID, "ghost", env.user(t, "manager-1"), ""); err == nil {
		t.Fatalf("expected error for unknown owner")
	}
}

func TestCreateLeadAuthorization(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		Name:  "nope",
		Actor: env.user(t, "acc-1"),
	})
	var ue auth.UnauthorizedActionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedActionError for accounts create, got %v", err)
	}
	if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		Name:  "ok",
		Actor: env.user(t, "manager-1"),
	}); err != nil {
		t.Fatalf("manager create: %v", err)
	}
}

func TestAllowedNext(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "hr-1")

	hr := env.user(t, "hr-1")
	allowed := engine.AllowedNext(lead, hr, auth.EffectiveRole(hr))
	want := map[domain.Status]bool{
		domain.StatusScheduled:     true,
		domain.StatusNotInterested: true,
		domain.StatusPending:       true,
		domain.StatusCallBack:      true,
		domain.StatusWrongNumber:   true,
	}
	if len(allowed) != len(want) {
		t.Fatalf("unexpected allowed set: %v", allowed)
	}
	for _, s := range allowed {
		if !want[s] {
			t.Fatalf("unexpected status %s in allowed set", s)
		}
	}

	// non-owner hr-2 does not get the owner-only edges
	hr2 := env.user(t, "hr-2")
	allowed = engine.AllowedNext(lead, hr2, auth.EffectiveRole(hr2))
	for _, s := range allowed {
		if s == domain.StatusCallBack || s == domain.StatusWrongNumber {
			t.Fatalf("non-owner should not see owner-only %s", s)
		}
	}
}

func TestClaimDefaultsFromConfig(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Pipeline.DefaultClaimStatus = "pending_but_ready"
	lead := env.createLead(t, "hr-1")
	if _, err := env.transition(t, lead.ID, domain.StatusScheduled, "hr-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.transition(t, lead.ID, domain.StatusCompleted, "hr-1"); err != nil {
		t.Fatal(err)
	}
	got, _, err := env.Engine.Claim(env.Ctx, lead.ID, "", env.user(t, "acc-1"), "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Status != domain.StatusPendingButReady {
		t.Fatalf("expected pending_but_ready, got %s", got.Status)
	}
}

func TestAutoHandoffDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Pipeline.AutoHandoff = false
	lead := env.createLead(t, "hr-1")
	if _, err := env.transition(t, lead.ID, domain.StatusScheduled, "hr-1"); err != nil {
		t.Fatal(err)
	}
	got, err := env.transition(t, lead.ID, domain.StatusCompleted, "hr-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected completed with handoff off, got %s", got.Status)
	}
	if got.CurrentOwnerID == nil || *got.CurrentOwnerID != "hr-1" {
		t.Fatalf("owner should be unchanged with handoff off")
	}
}
