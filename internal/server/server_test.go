package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	seed := []domain.User{
		{ID: "manager-1", Name: "Mia Manager", Email: "mia@example.com", Role: domain.RoleManager},
		{ID: "hr-1", Name: "Hana HR", Email: "hana@example.com", Role: domain.RoleHR},
		{ID: "hr-2", Name: "Hugo HR", Email: "hugo@example.com", Role: domain.RoleHR},
		{ID: "acc-1", Name: "Ada Accounts", Email: "ada@example.com", Role: domain.RoleAccounts},
	}
	for _, u := range seed {
		u.CreatedAt = "2026-01-01T00:00:00Z"
		if err := e.Repo.InsertUser(context.Background(), u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func decode(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func createLead(t *testing.T, s *testServer, actor, name string) LeadResponse {
	t.Helper()
	resp, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/leads",
		map[string]any{"name": name, "course": "golang-101"}, asActor(actor))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create lead: status %d body %s", resp.StatusCode, data)
	}
	var lead LeadResponse
	decode(t, data, &lead)
	return lead
}

func transition(t *testing.T, s *testServer, actor, leadID string, body map[string]any) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, s.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/leads/%s/transition", s.URL, leadID), body, asActor(actor))
}

func TestHealthUnauthenticated(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	resp, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d body %s", resp.StatusCode, data)
	}
}

func TestRequestsWithoutCredentialsAreRejected(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	resp, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body %s", resp.StatusCode, data)
	}
	var env errorEnvelope
	decode(t, data, &env)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", env.Error.Code)
	}
}

func TestJWTAuthentication(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	claims := jwt.RegisteredClaims{
		Subject:   "hr-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	resp, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d body %s", resp.StatusCode, data)
	}
	var me UserResponse
	decode(t, data, &me)
	if me.ID != "hr-1" || me.Role != "hr" {
		t.Fatalf("unexpected identity: %+v", me)
	}

	// A token for an unknown subject authenticates but resolves no user.
	claims.Subject = "ghost"
	token, _ = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	resp, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown subject, got %d", resp.StatusCode)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	resp, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/apikeys",
		map[string]any{"user_id": "acc-1", "name": "ci"}, asActor("manager-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key: status %d body %s", resp.StatusCode, data)
	}
	var key APIKeyResponse
	decode(t, data, &key)
	if key.Key == "" {
		t.Fatalf("raw key should be returned on creation")
	}
	resp, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil,
		map[string]string{"X-Api-Key": key.Key})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: status %d body %s", resp.StatusCode, data)
	}
	var me UserResponse
	decode(t, data, &me)
	if me.ID != "acc-1" {
		t.Fatalf("api key should act as its owner, got %s", me.ID)
	}
	// Listing keys never exposes the raw key again.
	resp, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/apikeys", nil, asActor("manager-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list keys: status %d", resp.StatusCode)
	}
	var keys []APIKeyResponse
	decode(t, data, &keys)
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("listed keys must omit the secret: %+v", keys)
	}
}

func TestLeadLifecycleOverHTTP(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	lead := createLead(t, s, "hr-1", "Priya")
	if lead.Status != "new" {
		t.Fatalf("new lead status %q", lead.Status)
	}
	if lead.CurrentOwnerID == nil || *lead.CurrentOwnerID != "hr-1" {
		t.Fatalf("creator should own the lead: %+v", lead.CurrentOwnerID)
	}

	resp, data := transition(t, s, "hr-1", lead.ID, map[string]any{"status": "scheduled", "reason": "demo booked"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule: status %d body %s", resp.StatusCode, data)
	}

	// Completing hands the lead off to the accounts stage and clears the owner.
	resp, data = transition(t, s, "hr-1", lead.ID, map[string]any{"status": "completed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: status %d body %s", resp.StatusCode, data)
	}
	var tr TransitionResponse
	decode(t, data, &tr)
	if tr.Lead.Status != "accounts_pending" {
		t.Fatalf("expected handoff to accounts_pending, got %s", tr.Lead.Status)
	}
	if tr.Lead.CurrentOwnerID != nil {
		t.Fatalf("handoff should clear the owner")
	}

	resp, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads/claimable", nil, asActor("acc-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claimable: status %d body %s", resp.StatusCode, data)
	}
	var claimable []LeadResponse
	decode(t, data, &claimable)
	if len(claimable) != 1 || claimable[0].ID != lead.ID {
		t.Fatalf("expected one claimable lead, got %+v", claimable)
	}

	resp, data = doJSON(t, s.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/leads/%s/claim", s.URL, lead.ID), map[string]any{}, asActor("acc-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim: status %d body %s", resp.StatusCode, data)
	}
	decode(t, data, &tr)
	if tr.Lead.Status != "ready_for_class" {
		t.Fatalf("claim default status %s", tr.Lead.Status)
	}
	if tr.Lead.CurrentOwnerID == nil || *tr.Lead.CurrentOwnerID != "acc-1" {
		t.Fatalf("claimer should own the lead")
	}

	amount := int64(45000)
	resp, data = transition(t, s, "acc-1", lead.ID, map[string]any{"status": "register", "registration_amount": amount})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: status %d body %s", resp.StatusCode, data)
	}
	decode(t, data, &tr)
	if tr.Lead.Status != "register" || tr.Lead.RegistrationAmount != amount {
		t.Fatalf("register result: %+v", tr.Lead)
	}

	resp, data = doJSON(t, s.Client(), http.MethodGet,
		fmt.Sprintf("%s/v0/leads/%s/history", s.URL, lead.ID), nil, asActor("manager-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d body %s", resp.StatusCode, data)
	}
	var entries []HistoryEntryResponse
	decode(t, data, &entries)
	// create, scheduled, completed, handoff, claim, register
	if len(entries) != 6 {
		t.Fatalf("expected 6 history entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousStatus != entries[i-1].NewStatus {
			t.Fatalf("broken audit chain at entry %d: %s -> %s", i, entries[i-1].NewStatus, entries[i].PreviousStatus)
		}
	}
}

func TestInvalidTransitionEnvelope(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	lead := createLead(t, s, "hr-1", "Ivan")
	resp, data := transition(t, s, "hr-1", lead.ID, map[string]any{"status": "completed"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body %s", resp.StatusCode, data)
	}
	var env errorEnvelope
	decode(t, data, &env)
	if env.Error.Code != "invalid_transition" {
		t.Fatalf("code %q", env.Error.Code)
	}
	if env.Error.Details["from"] != "new" || env.Error.Details["requested"] != "completed" {
		t.Fatalf("details missing: %+v", env.Error.Details)
	}
	if _, ok := env.Error.Details["allowed"].([]any); !ok {
		t.Fatalf("allowed list missing: %+v", env.Error.Details)
	}
}

func TestForbiddenForWrongStage(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	lead := createLead(t, s, "hr-1", "Farah")
	resp, data := doJSON(t, s.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/leads/%s/claim", s.URL, lead.ID), map[string]any{}, asActor("hr-1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %s", resp.StatusCode, data)
	}
	var env errorEnvelope
	decode(t, data, &env)
	if env.Error.Code != "forbidden" {
		t.Fatalf("code %q", env.Error.Code)
	}
	// Another HR user cannot move a lead they do not own.
	resp, data = transition(t, s, "hr-2", lead.ID, map[string]any{"status": "scheduled"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d body %s", resp.StatusCode, data)
	}
}

func TestUnknownLeadReturns404(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	resp, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads/nope", nil, asActor("hr-1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", resp.StatusCode, data)
	}
	var env errorEnvelope
	decode(t, data, &env)
	if env.Error.Code != "not_found" {
		t.Fatalf("code %q", env.Error.Code)
	}
}

func TestTransitionRequiresBody(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	lead := createLead(t, s, "hr-1", "Bodiless")
	resp, data := doJSON(t, s.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/leads/%s/transition", s.URL, lead.ID), nil, asActor("hr-1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", resp.StatusCode, data)
	}
}

func TestAllowedTransitionsEndpoint(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	lead := createLead(t, s, "hr-1", "Noor")
	resp, data := doJSON(t, s.Client(), http.MethodGet,
		fmt.Sprintf("%s/v0/leads/%s/transitions", s.URL, lead.ID), nil, asActor("hr-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transitions: status %d body %s", resp.StatusCode, data)
	}
	var out struct {
		Status  string   `json:"status"`
		Allowed []string `json:"allowed"`
	}
	decode(t, data, &out)
	if out.Status != "new" {
		t.Fatalf("status %q", out.Status)
	}
	want := map[string]bool{}
	for _, s := range out.Allowed {
		want[s] = true
	}
	for _, expected := range []string{"scheduled", "not_interested", "pending", "call_back", "wrong_number"} {
		if !want[expected] {
			t.Fatalf("owner should see %s in %v", expected, out.Allowed)
		}
	}
}

func TestReassignOverHTTP(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	lead := createLead(t, s, "hr-1", "Reem")
	resp, data := doJSON(t, s.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/leads/%s/reassign", s.URL, lead.ID),
		map[string]any{"owner_id": "hr-2"}, asActor("hr-1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("hr reassign should be 403, got %d body %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, s.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/leads/%s/reassign", s.URL, lead.ID),
		map[string]any{"owner_id": "hr-2", "reason": "workload"}, asActor("manager-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manager reassign: status %d body %s", resp.StatusCode, data)
	}
	var tr TransitionResponse
	decode(t, data, &tr)
	if tr.Lead.CurrentOwnerID == nil || *tr.Lead.CurrentOwnerID != "hr-2" {
		t.Fatalf("owner not reassigned: %+v", tr.Lead)
	}
	if tr.Lead.Status != "new" {
		t.Fatalf("reassignment must not change status, got %s", tr.Lead.Status)
	}
}

func TestListLeadsFiltersAndPagination(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	for i := 0; i < 3; i++ {
		createLead(t, s, "hr-1", fmt.Sprintf("Lead %d", i))
	}
	createLead(t, s, "hr-2", "Other")

	resp, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads?mine=true", nil, asActor("hr-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list mine: status %d body %s", resp.StatusCode, data)
	}
	var page paginatedLeads
	decode(t, data, &page)
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 own leads, got %d", len(page.Items))
	}

	resp, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads?limit=2", nil, asActor("manager-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list page 1: status %d", resp.StatusCode)
	}
	decode(t, data, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected full page with cursor, got %d items cursor %q", len(page.Items), page.NextCursor)
	}
	resp, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads?limit=2&cursor="+page.NextCursor, nil, asActor("manager-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list page 2: status %d body %s", resp.StatusCode, data)
	}
	page = paginatedLeads{}
	decode(t, data, &page)
	if len(page.Items) != 2 || page.NextCursor != "" {
		t.Fatalf("expected final page, got %d items cursor %q", len(page.Items), page.NextCursor)
	}

	resp, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads?status=bogus", nil, asActor("manager-1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status filter should be 400, got %d body %s", resp.StatusCode, data)
	}
}

func TestTeamScopedReadOnlyRoles(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	extra := []domain.User{
		{ID: "hr-b", Name: "Hiba HR", Email: "hiba@example.com", Role: domain.RoleHR, TeamID: "team-b"},
		{ID: "tl-b", Name: "Tariq Lead", Email: "tariq@example.com", Role: domain.RoleTeamLead, TeamID: "team-b"},
		{ID: "ts-b", Name: "Tess Support", Email: "tess@example.com", Role: domain.RoleTechSupport, TeamID: "team-b"},
	}
	for _, u := range extra {
		u.CreatedAt = "2026-01-01T00:00:00Z"
		if err := s.Engine.Repo.InsertUser(context.Background(), u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	outside := createLead(t, s, "hr-1", "Outside")
	inside := createLead(t, s, "hr-b", "Inside")

	for _, actor := range []string{"tl-b", "ts-b"} {
		resp, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads", nil, asActor(actor))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s list: status %d body %s", actor, resp.StatusCode, data)
		}
		var page paginatedLeads
		decode(t, data, &page)
		if len(page.Items) != 1 || page.Items[0].ID != inside.ID {
			t.Fatalf("%s should see only team leads, got %+v", actor, page.Items)
		}

		resp, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads/"+outside.ID, nil, asActor(actor))
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s should not see leads outside the team, got %d body %s", actor, resp.StatusCode, data)
		}
		resp, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/leads/"+inside.ID, nil, asActor(actor))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s get team lead: status %d body %s", actor, resp.StatusCode, data)
		}
	}
}

func TestStatusCounts(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	createLead(t, s, "hr-1", "A")
	lead := createLead(t, s, "hr-1", "B")
	transition(t, s, "hr-1", lead.ID, map[string]any{"status": "scheduled"})

	resp, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/status", nil, asActor("manager-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d body %s", resp.StatusCode, data)
	}
	var out struct {
		LeadCounts map[string]int `json:"lead_counts"`
	}
	decode(t, data, &out)
	if out.LeadCounts["new"] != 1 || out.LeadCounts["scheduled"] != 1 {
		t.Fatalf("unexpected counts: %+v", out.LeadCounts)
	}
}

func TestUserManagementRequiresManager(t *testing.T) {
	s, done := newTestServer(t)
	defer done()
	body := map[string]any{"name": "New Admin", "email": "na@example.com", "role": "admin"}
	resp, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/users", body, asActor("hr-1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("hr create user should be 403, got %d body %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/users", body, asActor("manager-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("manager create user: status %d body %s", resp.StatusCode, data)
	}
	var u UserResponse
	decode(t, data, &u)

	resp, data = doJSON(t, s.Client(), http.MethodPatch,
		fmt.Sprintf("%s/v0/users/%s/subrole", s.URL, u.ID),
		map[string]any{"sub_role": "session_organizer"}, asActor("manager-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set subrole: status %d body %s", resp.StatusCode, data)
	}
	decode(t, data, &u)
	if u.SubRole != "session_organizer" {
		t.Fatalf("sub_role not set: %+v", u)
	}

	// Sub-roles are admin-only.
	resp, data = doJSON(t, s.Client(), http.MethodPatch,
		s.URL+"/v0/users/hr-1/subrole",
		map[string]any{"sub_role": "admin_organizer"}, asActor("manager-1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("subrole on hr should be 400, got %d body %s", resp.StatusCode, data)
	}
}
