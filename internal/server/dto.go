package server

import (
	"appbee/internal/domain"
	"appbee/internal/engine"
	"appbee/internal/engine/auth"
	"appbee/internal/ranking"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	FullName  string `json:"full_name,omitempty"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role" example:"ENGINEER" doc:"ENGINEER or COMPANY; ROLE_ prefixes and any casing are accepted"`
	CompanyID string `json:"company_id,omitempty" doc:"Existing company to join; COMPANY accounts without one get a new company"`
}

type CreateCompanyRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	OwnerAccountID string `json:"owner_account_id,omitempty"`
}

type UpdateCompanyRequest struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	OwnerAccountID *string `json:"owner_account_id,omitempty" doc:"Empty string clears the owner"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	Difficulty  string `json:"difficulty" example:"HARD"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Price       *int64  `json:"price,omitempty" doc:"Only while the task is PUBLISHED"`
	Difficulty  *string `json:"difficulty,omitempty" doc:"Only while the task is PUBLISHED"`
}

type ClaimRequest struct {
	EngineerID string `json:"engineer_id,omitempty" doc:"Required when an admin claims on behalf of an engineer"`
}

type SubmitRequest struct {
	EngineerID    string `json:"engineer_id,omitempty" doc:"Required when an admin submits on behalf of an engineer"`
	Notes         string `json:"notes,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt string          `json:"expires_at" format:"date-time"`
	Account   AccountResponse `json:"account"`
}

type AccountResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	Role          string `json:"role" enum:"ENGINEER,COMPANY,ADMIN"`
	ApprovalState string `json:"approval_state" enum:"PENDING,APPROVED,REJECTED"`
	CompanyID     string `json:"company_id,omitempty"`
	XP            int64  `json:"xp"`
	Level         int64  `json:"level"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type MeResponse struct {
	AccountID     string `json:"account_id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	ApprovalState string `json:"approval_state"`
	CompanyID     string `json:"company_id,omitempty"`
	Source        string `json:"source" enum:"jwt,api_key,local"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key" doc:"Shown once; only a hash is stored"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeySummary struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID                string   `json:"id"`
	CompanyID         string   `json:"company_id"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Price             int64    `json:"price"`
	Difficulty        string   `json:"difficulty" enum:"EASY,MEDIUM,HARD"`
	Status            string   `json:"status" enum:"PUBLISHED,CLAIMED,SUBMITTED,APPROVED"`
	StatusLabel       string   `json:"status_label"`
	AssignedEngineers []string `json:"assigned_engineers"`
	ClaimedByMe       bool     `json:"claimed_by_me"`
	SubmittedByMe     bool     `json:"submitted_by_me"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
	ApprovedAt        string   `json:"approved_at,omitempty" format:"date-time"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type SubmissionResponse struct {
	ID               string `json:"id"`
	TaskID           string `json:"task_id"`
	EngineerID       string `json:"engineer_id"`
	EngineerFullName string `json:"engineer_full_name,omitempty"`
	EngineerEmail    string `json:"engineer_email,omitempty"`
	Notes            string `json:"notes"`
	AttachmentURL    string `json:"attachment_url"`
	ClaimedAt        string `json:"claimed_at,omitempty" format:"date-time"`
	SubmittedAt      string `json:"submitted_at,omitempty" format:"date-time"`
	Approved         bool   `json:"approved"`
	XPAwarded        int64  `json:"xp_awarded"`
}

type CreditResponse struct {
	EngineerID string `json:"engineer_id"`
	XP         int64  `json:"xp"`
	TotalXP    int64  `json:"total_xp"`
}

type ApprovalResponse struct {
	Task            TaskResponse     `json:"task"`
	Credits         []CreditResponse `json:"credits"`
	AlreadyApproved bool             `json:"already_approved"`
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"account_id"`
	FullName  string `json:"full_name"`
	XP        int64  `json:"xp"`
	Level     int64  `json:"level"`
}

type LeaderboardResponse struct {
	Items []LeaderboardEntry `json:"items"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func accountResponse(a domain.Account) AccountResponse {
	return AccountResponse{
		ID:            a.ID,
		Email:         a.Email,
		FullName:      a.FullName,
		Role:          string(a.Role),
		ApprovalState: string(a.ApprovalState),
		CompanyID:     stringOrEmpty(a.CompanyID),
		XP:            a.XP,
		Level:         a.Level(),
		CreatedAt:     a.CreatedAt,
	}
}

func meResponse(p auth.Principal) MeResponse {
	return MeResponse{
		AccountID:     p.AccountID,
		Email:         p.Email,
		Role:          string(p.Role),
		ApprovalState: string(p.ApprovalState),
		CompanyID:     p.CompanyID,
		Source:        p.Source,
	}
}

func taskResponse(v domain.TaskView) TaskResponse {
	assigned := v.AssignedEngineers
	if assigned == nil {
		assigned = []string{}
	}
	return TaskResponse{
		ID:                v.ID,
		CompanyID:         v.CompanyID,
		Title:             v.Title,
		Description:       v.Description,
		Price:             v.Price,
		Difficulty:        string(v.Difficulty),
		Status:            string(v.Status),
		StatusLabel:       v.Status.Badge(),
		AssignedEngineers: assigned,
		ClaimedByMe:       v.ClaimedByMe,
		SubmittedByMe:     v.SubmittedByMe,
		CreatedAt:         v.CreatedAt,
		UpdatedAt:         v.UpdatedAt,
		ApprovedAt:        stringOrEmpty(v.ApprovedAt),
	}
}

// viewFor annotates a task returned by a write for the caller who made it.
func viewFor(p auth.Principal, t domain.Task, submitted bool) domain.TaskView {
	claimed := false
	for _, id := range t.AssignedEngineers {
		if id == p.AccountID {
			claimed = true
			break
		}
	}
	return domain.TaskView{Task: t, ClaimedByMe: claimed, SubmittedByMe: submitted}
}

func submissionResponse(s domain.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:            s.ID,
		TaskID:        s.TaskID,
		EngineerID:    s.EngineerID,
		Notes:         s.Notes,
		AttachmentURL: s.AttachmentURL,
		ClaimedAt:     stringOrEmpty(s.ClaimedAt),
		SubmittedAt:   stringOrEmpty(s.SubmittedAt),
		Approved:      s.Approved,
		XPAwarded:     s.XPAwarded,
	}
}

func submissionViewResponse(v domain.SubmissionView) SubmissionResponse {
	res := submissionResponse(v.Submission)
	res.EngineerFullName = v.EngineerName
	res.EngineerEmail = v.EngineerEmail
	return res
}

func approvalResponse(p auth.Principal, r engine.ApprovalResult) ApprovalResponse {
	credits := make([]CreditResponse, 0, len(r.Credits))
	for _, c := range r.Credits {
		credits = append(credits, CreditResponse{EngineerID: c.EngineerID, XP: c.XP, TotalXP: c.TotalXP})
	}
	return ApprovalResponse{
		Task:            taskResponse(viewFor(p, r.Task, false)),
		Credits:         credits,
		AlreadyApproved: r.AlreadyApproved,
	}
}

func leaderboardResponse(r ranking.Ranking) LeaderboardResponse {
	res := LeaderboardResponse{Items: make([]LeaderboardEntry, 0, r.Len())}
	for rank, e := range r.All() {
		res.Items = append(res.Items, LeaderboardEntry{
			Rank:      rank,
			AccountID: e.AccountID,
			FullName:  e.FullName,
			XP:        e.XP,
			Level:     e.Level,
		})
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

type CompanyResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	OwnerAccountID string `json:"owner_account_id,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

func companyResponse(c domain.Company) CompanyResponse {
	return CompanyResponse{
		ID:             c.ID,
		Name:           c.Name,
		Description:    c.Description,
		OwnerAccountID: stringOrEmpty(c.OwnerAccountID),
		CreatedAt:      c.CreatedAt,
	}
}

func mapCompanies(items []domain.Company) []CompanyResponse {
	out := make([]CompanyResponse, 0, len(items))
	for _, c := range items {
		out = append(out, companyResponse(c))
	}
	return out
}
