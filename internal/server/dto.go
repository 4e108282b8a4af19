package server

import (
	"leadline/internal/domain"
)

// Request payloads

type CreateLeadRequest struct {
	ID     *string `json:"id,omitempty"`
	Name   string  `json:"name"`
	Phone  *string `json:"phone,omitempty"`
	Email  *string `json:"email,omitempty"`
	Course *string `json:"course,omitempty"`
	Source *string `json:"source,omitempty"`
}

type TransitionRequest struct {
	Status             string `json:"status" enum:"new,register,scheduled,completed,not_interested,pending,accounts_pending,ready_for_class,not_available,no_show,reschedule,pending_but_ready,call_back,wrong_number"`
	Reason             string `json:"reason,omitempty"`
	RegistrationAmount *int64 `json:"registration_amount,omitempty"`
}

type ClaimRequest struct {
	Status string `json:"status,omitempty" enum:"ready_for_class,pending_but_ready"`
	Reason string `json:"reason,omitempty"`
}

type ReassignRequest struct {
	OwnerID *string `json:"owner_id"`
	Reason  string  `json:"reason,omitempty"`
}

type CreateUserRequest struct {
	ID      *string `json:"id,omitempty"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Role    string  `json:"role" enum:"hr,accounts,session-coordinator,manager,admin,team_lead,tech-support"`
	SubRole *string `json:"sub_role,omitempty" enum:"admin_organizer,session_organizer"`
	TeamID  *string `json:"team_id,omitempty"`
}

type SetSubRoleRequest struct {
	SubRole string `json:"sub_role" enum:",admin_organizer,session_organizer"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Response payloads

type LeadResponse struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Phone              string  `json:"phone,omitempty"`
	Email              string  `json:"email,omitempty"`
	Course             string  `json:"course,omitempty"`
	Source             string  `json:"source,omitempty"`
	Status             string  `json:"status"`
	CurrentOwnerID     *string `json:"current_owner_id,omitempty"`
	CreatedByID        string  `json:"created_by_id"`
	RegistrationAmount int64   `json:"registration_amount"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type HistoryEntryResponse struct {
	ID              int64   `json:"id"`
	LeadID          string  `json:"lead_id"`
	PreviousStatus  string  `json:"previous_status"`
	NewStatus       string  `json:"new_status"`
	ChangedByUserID string  `json:"changed_by_user_id"`
	FromUserID      *string `json:"from_user_id,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	ChangedAt       string  `json:"changed_at" format:"date-time"`
}

type TransitionResponse struct {
	Lead  LeadResponse         `json:"lead"`
	Entry HistoryEntryResponse `json:"entry"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SubRole   string `json:"sub_role,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is returned once on creation; only the hash is stored.
	Key string `json:"key,omitempty"`
}

type paginatedLeads struct {
	Items      []LeadResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Conversion helpers

func leadResponse(l domain.Lead) LeadResponse {
	return LeadResponse{
		ID:                 l.ID,
		Name:               l.Name,
		Phone:              l.Phone,
		Email:              l.Email,
		Course:             l.Course,
		Source:             l.Source,
		Status:             string(l.Status),
		CurrentOwnerID:     l.CurrentOwnerID,
		CreatedByID:        l.CreatedByID,
		RegistrationAmount: l.RegistrationAmount,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

func mapLeads(items []domain.Lead) []LeadResponse {
	res := []LeadResponse{}
	for _, l := range items {
		res = append(res, leadResponse(l))
	}
	return res
}

func entryResponse(e domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:              e.ID,
		LeadID:          e.LeadID,
		PreviousStatus:  string(e.PreviousStatus),
		NewStatus:       string(e.NewStatus),
		ChangedByUserID: e.ChangedByUserID,
		FromUserID:      e.FromUserID,
		Reason:          e.Reason,
		ChangedAt:       e.ChangedAt,
	}
}

func mapEntries(items []domain.HistoryEntry) []HistoryEntryResponse {
	res := []HistoryEntryResponse{}
	for _, e := range items {
		res = append(res, entryResponse(e))
	}
	return res
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		SubRole:   string(u.SubRole),
		TeamID:    u.TeamID,
		CreatedAt: u.CreatedAt,
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
