package domain

// Status is a lead pipeline status. The set is closed; anything else is
// rejected at the API boundary.
type Status string

const (
	StatusNew             Status = "new"
	StatusRegister        Status = "register"
	StatusScheduled       Status = "scheduled"
	StatusCompleted       Status = "completed"
	StatusNotInterested   Status = "not_interested"
	StatusPending         Status = "pending"
	StatusAccountsPending Status = "accounts_pending"
	StatusReadyForClass   Status = "ready_for_class"
	StatusNotAvailable    Status = "not_available"
	StatusNoShow          Status = "no_show"
	StatusReschedule      Status = "reschedule"
	StatusPendingButReady Status = "pending_but_ready"
	StatusCallBack        Status = "call_back"
	StatusWrongNumber     Status = "wrong_number"
)

// AllStatuses lists every valid status.
var AllStatuses = []Status{
	StatusNew, StatusRegister, StatusScheduled, StatusCompleted,
	StatusNotInterested, StatusPending, StatusAccountsPending,
	StatusReadyForClass, StatusNotAvailable, StatusNoShow,
	StatusReschedule, StatusPendingButReady, StatusCallBack,
	StatusWrongNumber,
}

// ValidStatus reports whether s is in the closed status set.
func ValidStatus(s Status) bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// AccountsStage reports whether a status belongs to the accounts handoff
// stage. Leads entering this stage become claimable.
func AccountsStage(s Status) bool {
	switch s {
	case StatusAccountsPending, StatusReadyForClass, StatusPendingButReady:
		return true
	}
	return false
}

type Role string

const (
	RoleHR                 Role = "hr"
	RoleAccounts           Role = "accounts"
	RoleSessionCoordinator Role = "session-coordinator"
	RoleManager            Role = "manager"
	RoleAdmin              Role = "admin"
	RoleTeamLead           Role = "team_lead"
	RoleTechSupport        Role = "tech-support"
)

var AllRoles = []Role{
	RoleHR, RoleAccounts, RoleSessionCoordinator, RoleManager,
	RoleAdmin, RoleTeamLead, RoleTechSupport,
}

func ValidRole(r Role) bool {
	for _, v := range AllRoles {
		if v == r {
			return true
		}
	}
	return false
}

// SubRole narrows an admin to manager-level or accounts-level capability.
// It is stored on the user row and never read from requests.
type SubRole string

const (
	SubRoleNone             SubRole = ""
	SubRoleAdminOrganizer   SubRole = "admin_organizer"
	SubRoleSessionOrganizer SubRole = "session_organizer"
)

type Lead struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Phone              string  `json:"phone,omitempty"`
	Email              string  `json:"email,omitempty"`
	Course             string  `json:"course,omitempty"`
	Source             string  `json:"source,omitempty"`
	Status             Status  `json:"status"`
	CurrentOwnerID     *string `json:"current_owner_id,omitempty"`
	CreatedByID        string  `json:"created_by_id"`
	RegistrationAmount int64   `json:"registration_amount"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// HistoryEntry is one immutable audit record of a status change.
// Ordering by (changed_at, id) reconstructs the lead lifecycle.
type HistoryEntry struct {
	ID              int64   `json:"id"`
	LeadID          string  `json:"lead_id"`
	PreviousStatus  Status  `json:"previous_status"`
	NewStatus       Status  `json:"new_status"`
	ChangedByUserID string  `json:"changed_by_user_id"`
	FromUserID      *string `json:"from_user_id,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	ChangedAt       string  `json:"changed_at" format:"date-time"`
}

type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      Role    `json:"role"`
	SubRole   SubRole `json:"sub_role,omitempty"`
	TeamID    string  `json:"team_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
