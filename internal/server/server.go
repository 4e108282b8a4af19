package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/engine/auth"
	"leadline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot move lead from scheduled to register"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"scheduled\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Leadline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Leadline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerLeads(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		allowed := make([]string, 0, len(ite.Allowed))
		for _, s := range ite.Allowed {
			allowed = append(allowed, string(s))
		}
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"from":      string(ite.From),
			"requested": string(ite.Requested),
			"allowed":   allowed,
		})
	}
	var ue auth.UnauthorizedActionError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"action": ue.Action,
			"role":   string(ue.Role),
		})
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"lead_id": ce.LeadID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_transition"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Leadline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "pipeline-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Pipeline status counts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionRead, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountLeadsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"lead_counts": counts}}, nil
	})
}

func registerLeads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Create lead",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateLeadRequest `json:"body"`
	}) (*struct {
		Body LeadResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.LeadCreateOptions{
			Name:   input.Body.Name,
			Phone:  stringOrEmpty(input.Body.Phone),
			Email:  stringOrEmpty(input.Body.Email),
			Course: stringOrEmpty(input.Body.Course),
			Source: stringOrEmpty(input.Body.Source),
			Actor:  actor,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		l, err := e.CreateLead(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LeadResponse `json:"body"`
		}{Body: leadResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List leads",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		OwnerID   string `query:"owner_id"`
		Mine      bool   `query:"mine"`
		Claimable bool   `query:"claimable"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedLeads `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionRead, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" && !domain.ValidStatus(domain.Status(input.Status)) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown status %q", input.Status), nil)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.LeadFilters{
			Status:          domain.Status(input.Status),
			OwnerID:         input.OwnerID,
			Claimable:       input.Claimable,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		if input.Mine {
			filter.OwnerID = actor.ID
		}
		if teamScoped(actor) {
			filter.TeamID = actor.TeamID
		}
		leads, err := e.Repo.ListLeads(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedLeads{Items: []LeadResponse{}}
		if len(leads) > limit {
			leads = leads[:limit]
			// Cursor points at the last returned row; the next page query
			// is strictly-after, so anchoring on the overflow row would
			// skip it.
			resp.NextCursor = composeCursor(leads[limit-1].CreatedAt, leads[limit-1].ID)
		}
		resp.Items = mapLeads(leads)
		return &struct {
			Body paginatedLeads `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claimable-leads",
		Method:      http.MethodGet,
		Path:        "/leads/claimable",
		Summary:     "List claimable leads",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []LeadResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		leads, err := e.ClaimableLeads(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LeadResponse `json:"body"`
		}{Body: mapLeads(leads)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{id}",
		Summary:     "Get lead",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body LeadResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.Repo.GetLead(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Auth.Check(actor, auth.ActionRead, l); err != nil {
			return nil, handleError(err)
		}
		if scopeErr := checkTeamVisibility(ctx, e, actor, l); scopeErr != nil {
			return nil, scopeErr
		}
		return &struct {
			Body LeadResponse `json:"body"`
		}{Body: leadResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allowed-transitions",
		Method:      http.MethodGet,
		Path:        "/leads/{id}/transitions",
		Summary:     "Allowed next statuses for the acting user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.Repo.GetLead(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Auth.Check(actor, auth.ActionRead, l); err != nil {
			return nil, handleError(err)
		}
		if scopeErr := checkTeamVisibility(ctx, e, actor, l); scopeErr != nil {
			return nil, scopeErr
		}
		allowed := engine.AllowedNext(l, actor, auth.EffectiveRole(actor))
		out := make([]string, 0, len(allowed))
		for _, s := range allowed {
			out = append(out, string(s))
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"lead_id": l.ID,
			"status":  string(l.Status),
			"allowed": out,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-lead",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/transition",
		Summary:     "Transition lead status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		l, entry, err := e.Transition(ctx, engine.TransitionOptions{
			LeadID:             input.ID,
			Requested:          domain.Status(input.Body.Status),
			Actor:              actor,
			Reason:             input.Body.Reason,
			RegistrationAmount: input.Body.RegistrationAmount,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{Lead: leadResponse(l), Entry: entryResponse(entry)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-lead",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/claim",
		Summary:     "Claim an unowned lead",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body ClaimRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		l, entry, err := e.Claim(ctx, input.ID, domain.Status(input.Body.Status), actor, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{Lead: leadResponse(l), Entry: entryResponse(entry)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-lead",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/reassign",
		Summary:     "Reassign lead ownership",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ReassignRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		l, entry, err := e.Reassign(ctx, input.ID, stringOrEmpty(input.Body.OwnerID), actor, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{Lead: leadResponse(l), Entry: entryResponse(entry)}}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "lead-history",
		Method:      http.MethodGet,
		Path:        "/leads/{id}/history",
		Summary:     "Lead audit history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		From string `query:"from"`
		To   string `query:"to"`
	}) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.Repo.GetLead(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Auth.Check(actor, auth.ActionRead, l); err != nil {
			return nil, handleError(err)
		}
		if scopeErr := checkTeamVisibility(ctx, e, actor, l); scopeErr != nil {
			return nil, scopeErr
		}
		var entries []domain.HistoryEntry
		if input.From != "" || input.To != "" {
			entries, err = e.History.Between(ctx, input.ID, input.From, input.To)
		} else {
			entries, err = e.History.HistoryFor(ctx, input.ID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: mapEntries(entries)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-history",
		Method:      http.MethodGet,
		Path:        "/history/recent",
		Summary:     "Recent moves into a status",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionRead, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		if input.Status == "" || !domain.ValidStatus(domain.Status(input.Status)) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown status %q", input.Status), nil)
		}
		entries, err := e.History.RecentByStatus(ctx, domain.Status(input.Status), normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: mapEntries(entries)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" || input.Body.Email == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name, email and role are required", nil)
		}
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionManageUsers, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		u := domain.User{
			Name:      input.Body.Name,
			Email:     input.Body.Email,
			Role:      domain.Role(input.Body.Role),
			TeamID:    stringOrEmpty(input.Body.TeamID),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if input.Body.ID != nil {
			u.ID = *input.Body.ID
		} else {
			u.ID = uuid.New().String()
		}
		if input.Body.SubRole != nil {
			if u.Role != domain.RoleAdmin {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "sub_role is only valid for admin users", nil)
			}
			u.SubRole = domain.SubRole(*input.Body.SubRole)
		}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionRead, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		users, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []UserResponse{}
		for _, u := range users {
			res = append(res, userResponse(u))
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionRead, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-subrole",
		Method:      http.MethodPatch,
		Path:        "/users/{id}/subrole",
		Summary:     "Set admin sub-role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body SetSubRoleRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionManageUsers, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		target, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if target.Role != domain.RoleAdmin && input.Body.SubRole != "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "sub_role is only valid for admin users", nil)
		}
		if err := e.Repo.SetSubRole(ctx, input.ID, domain.SubRole(input.Body.SubRole)); err != nil {
			return nil, handleError(err)
		}
		target.SubRole = domain.SubRole(input.Body.SubRole)
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(target)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionManageUsers, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetUser(ctx, input.Body.UserID); err != nil {
			return nil, handleError(err)
		}
		rawKey := uuid.New().String() + uuid.New().String()
		key := domain.APIKey{
			ID:        uuid.New().String(),
			UserID:    input.Body.UserID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(rawKey),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			UserID:    key.UserID,
			Name:      key.Name,
			CreatedAt: key.CreatedAt,
			Key:       rawKey,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionManageUsers, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []APIKeyResponse{}
		for _, k := range keys {
			res = append(res, APIKeyResponse{
				ID:        k.ID,
				UserID:    k.UserID,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Check(actor, auth.ActionManageUsers, domain.Lead{}); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Acting user",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(actor)}, nil
	})
}

// teamScoped reports whether the actor's reads are confined to their team.
func teamScoped(actor domain.User) bool {
	return (actor.Role == domain.RoleTeamLead || actor.Role == domain.RoleTechSupport) && actor.TeamID != ""
}

// checkTeamVisibility hides leads whose owner and creator are both outside a
// team-scoped reader's team. Hidden leads look like they do not exist.
func checkTeamVisibility(ctx context.Context, e engine.Engine, actor domain.User, l domain.Lead) huma.StatusError {
	if !teamScoped(actor) {
		return nil
	}
	ids := []string{l.CreatedByID}
	if l.CurrentOwnerID != nil {
		ids = append(ids, *l.CurrentOwnerID)
	}
	for _, id := range ids {
		u, err := e.Repo.GetUser(ctx, id)
		if err == nil && u.TeamID == actor.TeamID {
			return nil
		}
	}
	return newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("lead %q not found", l.ID), nil)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func composeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed cursor")
	}
	return parts[0], parts[1], nil
}
