package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appbee/internal/config"
	"appbee/internal/domain"
	"appbee/internal/engine/auth"
	"appbee/internal/events"
	"appbee/internal/repo"
)

// Engine owns every write to task status, the assigned-engineer set and the
// submission ledger.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    zerolog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger zerolog.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    logger.With().Str("component", "engine").Logger(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Price       int64
	Difficulty  string
}

// CreateTask publishes a task for the caller's company.
func (e Engine) CreateTask(ctx context.Context, p auth.Principal, opts TaskCreateOptions) (domain.Task, error) {
	if err := p.Require(domain.RoleCompany); err != nil {
		return domain.Task{}, err
	}
	if p.CompanyID == "" {
		return domain.Task{}, domain.Errorf(domain.KindAuthorization, "account %s is not linked to a company", p.AccountID)
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, domain.Errorf(domain.KindValidation, "title is required")
	}
	if opts.Price <= 0 {
		return domain.Task{}, domain.Errorf(domain.KindValidation, "price must be positive, got %d", opts.Price)
	}
	if strings.TrimSpace(opts.Difficulty) == "" {
		return domain.Task{}, domain.Errorf(domain.KindValidation, "difficulty is required")
	}
	difficulty, err := domain.ParseDifficulty(opts.Difficulty)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	t := domain.Task{
		ID:                uuid.NewString(),
		CompanyID:         p.CompanyID,
		Title:             title,
		Description:       strings.TrimSpace(opts.Description),
		Price:             opts.Price,
		Difficulty:        difficulty,
		Status:            domain.TaskPublished,
		AssignedEngineers: []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetCompany(ctx, tx, p.CompanyID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, domain.Errorf(domain.KindAuthorization, "company %s no longer exists", p.CompanyID)
		}
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, "task", t.ID, p.AccountID, events.EventPayload{
		"company_id": t.CompanyID,
		"title":      t.Title,
		"price":      t.Price,
		"difficulty": t.Difficulty,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskPatch carries optional task edits. Price and difficulty are terms and
// change only while the task is still published.
type TaskPatch struct {
	Title       *string
	Description *string
	Price       *int64
	Difficulty  *string
}

func (e Engine) UpdateTask(ctx context.Context, p auth.Principal, taskID string, patch TaskPatch) (domain.Task, error) {
	if err := p.Require(domain.RoleCompany, domain.RoleAdmin); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.loadTask(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if err := ensureOwner(p, t); err != nil {
		return t, err
	}
	before := t
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return before, domain.Errorf(domain.KindValidation, "title must not be blank")
		}
		t.Title = title
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
	}
	termsChanged := false
	if patch.Price != nil && *patch.Price != t.Price {
		if *patch.Price <= 0 {
			return before, domain.Errorf(domain.KindValidation, "price must be positive, got %d", *patch.Price)
		}
		t.Price = *patch.Price
		termsChanged = true
	}
	if patch.Difficulty != nil {
		d, err := domain.ParseDifficulty(*patch.Difficulty)
		if err != nil {
			return before, err
		}
		if d != t.Difficulty {
			t.Difficulty = d
			termsChanged = true
		}
	}
	if termsChanged && !t.Status.TermsEditable() {
		return before, domain.Errorf(domain.KindInvalidState, "price and difficulty are fixed once a task is %s", t.Status)
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskFields(ctx, tx, t); err != nil {
		return before, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, "task", t.ID, p.AccountID, events.EventPayload{
		"title":         t.Title,
		"price":         t.Price,
		"difficulty":    t.Difficulty,
		"terms_changed": termsChanged,
	}); err != nil {
		return before, err
	}
	if err := tx.Commit(); err != nil {
		return before, err
	}
	return t, nil
}

// Claim adds an engineer to a task's assigned set. Claims are not exclusive:
// any number of engineers may claim the same task, and repeating a claim
// changes nothing.
func (e Engine) Claim(ctx context.Context, p auth.Principal, taskID, engineerID string) (domain.Task, error) {
	engineerID, err := actingEngineer(p, engineerID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.loadTask(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if err := e.ensureEngineer(ctx, tx, engineerID); err != nil {
		return t, err
	}
	if !t.Status.AcceptsWork() {
		return t, nil
	}
	now := e.stamp()
	added, err := e.Repo.AddAssignee(ctx, tx, t.ID, engineerID, now)
	if err != nil {
		return t, err
	}
	if err := e.Repo.EnsureClaimRecord(ctx, tx, uuid.NewString(), t.ID, engineerID, now); err != nil {
		return t, err
	}
	from := t.Status
	if _, err := e.advance(ctx, tx, t.ID, domain.TaskClaimed, now); err != nil {
		return t, err
	}
	if added {
		if err := e.Events.Append(ctx, tx, events.TaskClaimed, "task", t.ID, p.AccountID, events.EventPayload{
			"engineer_id": engineerID,
			"from_status": from,
		}); err != nil {
			return t, err
		}
	}
	t, err = e.Repo.GetTask(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// SubmitOptions are the fields of a work submission.
type SubmitOptions struct {
	TaskID        string
	EngineerID    string
	Notes         string
	AttachmentURL string
}

// Submit records the engineer's work. A prior claim is not required. The
// latest submission from an engineer replaces their earlier one. Submitting
// to an approved task changes nothing.
func (e Engine) Submit(ctx context.Context, p auth.Principal, opts SubmitOptions) (domain.Submission, error) {
	engineerID, err := actingEngineer(p, opts.EngineerID)
	if err != nil {
		return domain.Submission{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()
	t, err := e.loadTask(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := e.ensureEngineer(ctx, tx, engineerID); err != nil {
		return domain.Submission{}, err
	}
	if !t.Status.AcceptsWork() {
		s, err := e.Repo.GetSubmission(ctx, tx, t.ID, engineerID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.Submission{}, err
		}
		return s, nil
	}
	now := e.stamp()
	s, err := e.Repo.UpsertSubmission(ctx, tx, domain.Submission{
		ID:            uuid.NewString(),
		TaskID:        t.ID,
		EngineerID:    engineerID,
		Notes:         strings.TrimSpace(opts.Notes),
		AttachmentURL: strings.TrimSpace(opts.AttachmentURL),
		SubmittedAt:   &now,
	})
	if err != nil {
		return domain.Submission{}, err
	}
	if _, err := e.Repo.AddAssignee(ctx, tx, t.ID, engineerID, now); err != nil {
		return domain.Submission{}, err
	}
	if _, err := e.advance(ctx, tx, t.ID, domain.TaskSubmitted, now); err != nil {
		return domain.Submission{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskSubmitted, "task", t.ID, p.AccountID, events.EventPayload{
		"engineer_id":    engineerID,
		"submission_id":  s.ID,
		"has_attachment": s.AttachmentURL != "",
		"from_status":    t.Status,
	}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

// Credit is one engineer's reward from an approval.
type Credit struct {
	EngineerID   string `json:"engineer_id"`
	SubmissionID string `json:"submission_id"`
	XP           int64  `json:"xp"`
	TotalXP      int64  `json:"total_xp"`
}

type ApprovalResult struct {
	Task    domain.Task `json:"task"`
	Credits []Credit    `json:"credits"`
	// AlreadyApproved is set when the call found the task approved and
	// credited nobody.
	AlreadyApproved bool `json:"already_approved"`
}

// Approve finalizes a task and credits the difficulty reward to every
// assigned engineer holding a submission. The status flip and every credit
// commit together, and only the call that flips the status credits, so
// repeated or concurrent approvals never pay twice.
func (e Engine) Approve(ctx context.Context, p auth.Principal, taskID string) (ApprovalResult, error) {
	if err := p.Require(domain.RoleCompany, domain.RoleAdmin); err != nil {
		return ApprovalResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApprovalResult{}, err
	}
	defer tx.Rollback()
	t, err := e.loadTask(ctx, tx, taskID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if err := ensureOwner(p, t); err != nil {
		return ApprovalResult{}, err
	}
	now := e.stamp()
	flipped, err := e.advance(ctx, tx, t.ID, domain.TaskApproved, now)
	if err != nil {
		return ApprovalResult{}, err
	}
	if !flipped {
		return ApprovalResult{Task: t, Credits: []Credit{}, AlreadyApproved: true}, nil
	}
	reward := e.Config.Reward(t.Difficulty)
	subs, err := e.Repo.CreditableSubmissions(ctx, tx, t.ID)
	if err != nil {
		return ApprovalResult{}, err
	}
	credits := make([]Credit, 0, len(subs))
	for _, s := range subs {
		total, err := e.Repo.CreditXP(ctx, tx, s.EngineerID, reward, now)
		if err != nil {
			return ApprovalResult{}, fmt.Errorf("credit %s: %w", s.EngineerID, err)
		}
		if err := e.Repo.MarkSubmissionApproved(ctx, tx, s.ID, reward, now); err != nil {
			return ApprovalResult{}, err
		}
		if err := e.Events.Append(ctx, tx, events.XPCredited, "account", s.EngineerID, p.AccountID, events.EventPayload{
			"task_id":  t.ID,
			"xp":       reward,
			"total_xp": total,
		}); err != nil {
			return ApprovalResult{}, err
		}
		credits = append(credits, Credit{EngineerID: s.EngineerID, SubmissionID: s.ID, XP: reward, TotalXP: total})
	}
	if err := e.Events.Append(ctx, tx, events.TaskApproved, "task", t.ID, p.AccountID, events.EventPayload{
		"from_status": t.Status,
		"reward":      reward,
		"credited":    len(credits),
	}); err != nil {
		return ApprovalResult{}, err
	}
	t, err = e.Repo.GetTask(ctx, tx, t.ID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApprovalResult{}, err
	}
	for _, c := range credits {
		e.Log.Info().
			Str("task_id", t.ID).
			Str("engineer_id", c.EngineerID).
			Int64("xp", c.XP).
			Int64("total_xp", c.TotalXP).
			Msg("xp credited")
	}
	return ApprovalResult{Task: t, Credits: credits}, nil
}

// ListOptions filter and page task listings.
type ListOptions struct {
	Status string
	Limit  int
	Cursor string
}

type TaskPage struct {
	Items      []domain.TaskView `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// ListTasks returns the tasks visible to the caller: companies see their own,
// engineers and admins see all. Each task carries the caller's own
// claimed/submitted flags.
func (e Engine) ListTasks(ctx context.Context, p auth.Principal, opts ListOptions) (TaskPage, error) {
	if err := p.Require(); err != nil {
		return TaskPage{}, err
	}
	page := TaskPage{Items: []domain.TaskView{}}
	f := repo.TaskFilters{}
	if p.Is(domain.RoleCompany) {
		if p.CompanyID == "" {
			return page, nil
		}
		f.CompanyID = p.CompanyID
	}
	if opts.Status != "" {
		st, err := domain.ParseTaskStatus(opts.Status)
		if err != nil {
			return page, err
		}
		f.Status = st
	}
	if opts.Cursor != "" {
		ts, id, err := parseCursor(opts.Cursor)
		if err != nil {
			return page, err
		}
		f.CursorCreatedAt, f.CursorID = ts, id
	}
	if opts.Limit > 0 {
		f.Limit = opts.Limit + 1
	}
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return page, err
	}
	if opts.Limit > 0 && len(tasks) > opts.Limit {
		tasks = tasks[:opts.Limit]
		last := tasks[len(tasks)-1]
		page.NextCursor = last.CreatedAt + "|" + last.ID
	}
	views, err := e.annotate(ctx, p, tasks)
	if err != nil {
		return page, err
	}
	page.Items = views
	return page, nil
}

// GetTask returns one task under the same visibility rule as ListTasks.
func (e Engine) GetTask(ctx context.Context, p auth.Principal, taskID string) (domain.TaskView, error) {
	if err := p.Require(); err != nil {
		return domain.TaskView{}, err
	}
	t, err := e.loadTask(ctx, nil, taskID)
	if err != nil {
		return domain.TaskView{}, err
	}
	if p.Is(domain.RoleCompany) && p.CompanyID != t.CompanyID {
		return domain.TaskView{}, domain.Errorf(domain.KindNotFound, "task %s not found", taskID)
	}
	views, err := e.annotate(ctx, p, []domain.Task{t})
	if err != nil {
		return domain.TaskView{}, err
	}
	return views[0], nil
}

// ListSubmissions returns the ledger for a task to its owner or an admin.
func (e Engine) ListSubmissions(ctx context.Context, p auth.Principal, taskID string) ([]domain.SubmissionView, error) {
	if err := p.Require(domain.RoleCompany, domain.RoleAdmin); err != nil {
		return nil, err
	}
	t, err := e.loadTask(ctx, nil, taskID)
	if err != nil {
		return nil, err
	}
	if err := ensureOwner(p, t); err != nil {
		return nil, err
	}
	return e.Repo.ListSubmissionViews(ctx, t.ID)
}

func (e Engine) annotate(ctx context.Context, p auth.Principal, tasks []domain.Task) ([]domain.TaskView, error) {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	work, err := e.Repo.EngineerWorkForTasks(ctx, p.AccountID, ids)
	if err != nil {
		return nil, err
	}
	views := make([]domain.TaskView, len(tasks))
	for i, t := range tasks {
		views[i] = domain.TaskView{
			Task:          t,
			ClaimedByMe:   slices.Contains(t.AssignedEngineers, p.AccountID),
			SubmittedByMe: work[t.ID].Submitted,
		}
	}
	return views, nil
}

// advance moves a task to status from any state the transition table allows.
// It reports whether the status changed.
func (e Engine) advance(ctx context.Context, tx *sql.Tx, taskID string, to domain.TaskStatus, now string) (bool, error) {
	return e.Repo.AdvanceTaskStatus(ctx, tx, taskID, to, now, sourcesFor(to)...)
}

func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, taskID string) (domain.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return domain.Task{}, domain.Errorf(domain.KindValidation, "task id is required")
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return t, domain.Errorf(domain.KindNotFound, "task %s not found", taskID)
		}
		return t, err
	}
	return t, nil
}

// ensureEngineer checks that work is recorded only for approved engineers.
func (e Engine) ensureEngineer(ctx context.Context, tx *sql.Tx, engineerID string) error {
	a, err := e.Repo.GetAccount(ctx, tx, engineerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Errorf(domain.KindNotFound, "engineer %s not found", engineerID)
		}
		return err
	}
	if a.Role != domain.RoleEngineer {
		return domain.Errorf(domain.KindValidation, "account %s is %s, not ENGINEER", engineerID, a.Role)
	}
	if a.ApprovalState != domain.StateApproved {
		return domain.Errorf(domain.KindAuthorization, "engineer %s is not approved", engineerID)
	}
	return nil
}

// actingEngineer resolves whose work a claim or submit records. Engineers act
// for themselves; admins act on behalf of a named engineer.
func actingEngineer(p auth.Principal, engineerID string) (string, error) {
	if err := p.Require(domain.RoleEngineer, domain.RoleAdmin); err != nil {
		return "", err
	}
	engineerID = strings.TrimSpace(engineerID)
	if p.Is(domain.RoleEngineer) {
		if engineerID != "" && engineerID != p.AccountID {
			return "", domain.Errorf(domain.KindAuthorization, "engineers may only act for themselves")
		}
		return p.AccountID, nil
	}
	if engineerID == "" {
		return "", domain.Errorf(domain.KindValidation, "engineer_id is required when acting as admin")
	}
	return engineerID, nil
}

func ensureOwner(p auth.Principal, t domain.Task) error {
	if p.Is(domain.RoleAdmin) {
		return nil
	}
	if p.Is(domain.RoleCompany) && p.CompanyID != "" && p.CompanyID == t.CompanyID {
		return nil
	}
	return domain.Errorf(domain.KindAuthorization, "task %s belongs to another company", t.ID)
}

func parseCursor(cursor string) (string, string, error) {
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", domain.Errorf(domain.KindValidation, "invalid cursor")
	}
	return parts[0], parts[1], nil
}
