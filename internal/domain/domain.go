package domain

type Company struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	OwnerAccountID *string `json:"owner_account_id,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Account struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	FullName      string        `json:"full_name"`
	PasswordHash  string        `json:"-"`
	Role          Role          `json:"role" enum:"ENGINEER,COMPANY,ADMIN"`
	ApprovalState ApprovalState `json:"approval_state" enum:"PENDING,APPROVED,REJECTED"`
	CompanyID     *string       `json:"company_id,omitempty"`
	XP            int64         `json:"xp"`
	CreatedAt     string        `json:"created_at" format:"date-time"`
	UpdatedAt     string        `json:"updated_at" format:"date-time"`
}

// Level is derived from accumulated XP, one level per 500 points.
func (a Account) Level() int64 {
	return LevelForXP(a.XP)
}

func LevelForXP(xp int64) int64 {
	if xp < 0 {
		xp = 0
	}
	return 1 + xp/500
}

type Task struct {
	ID                string     `json:"id"`
	CompanyID         string     `json:"company_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Price             int64      `json:"price"`
	Difficulty        Difficulty `json:"difficulty" enum:"EASY,MEDIUM,HARD"`
	Status            TaskStatus `json:"status" enum:"PUBLISHED,CLAIMED,SUBMITTED,APPROVED"`
	AssignedEngineers []string   `json:"assigned_engineers"`
	CreatedAt         string     `json:"created_at" format:"date-time"`
	UpdatedAt         string     `json:"updated_at" format:"date-time"`
	ApprovedAt        *string    `json:"approved_at,omitempty" format:"date-time"`
}

// TaskView is a task annotated for one caller. The flags are never stored.
type TaskView struct {
	Task
	ClaimedByMe   bool `json:"claimed_by_me"`
	SubmittedByMe bool `json:"submitted_by_me"`
}

type Submission struct {
	ID            string  `json:"id"`
	TaskID        string  `json:"task_id"`
	EngineerID    string  `json:"engineer_id"`
	Notes         string  `json:"notes"`
	AttachmentURL string  `json:"attachment_url"`
	ClaimedAt     *string `json:"claimed_at,omitempty" format:"date-time"`
	SubmittedAt   *string `json:"submitted_at,omitempty" format:"date-time"`
	Approved      bool    `json:"approved"`
	ApprovedAt    *string `json:"approved_at,omitempty" format:"date-time"`
	XPAwarded     int64   `json:"xp_awarded"`
}

// Submitted reports whether the engineer has delivered work, as opposed to
// only having claimed the task.
func (s Submission) Submitted() bool {
	return s.SubmittedAt != nil
}

// SubmissionView joins a submission with the engineer's identity.
type SubmissionView struct {
	Submission
	EngineerName  string `json:"engineer_full_name"`
	EngineerEmail string `json:"engineer_email"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
