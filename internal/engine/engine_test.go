package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"appbee/internal/config"
	"appbee/internal/db"
	"appbee/internal/domain"
	"appbee/internal/engine"
	"appbee/internal/engine/auth"
	"appbee/internal/migrate"
	"appbee/internal/registry"
)

// clock moves forward one second on every reading.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	Engine   engine.Engine
	Registry registry.Registry
	Gate     auth.Gate
	Admin    auth.Principal
	Ctx      context.Context
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
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default(), zerolog.Nop())
	eng.Now = clk.Now
	reg := registry.New(conn, zerolog.Nop())
	reg.Now = clk.Now
	reg.PasswordCost = 4
	ctx := context.Background()
	admin, _, err := reg.EnsureAdmin(ctx, "admin@bee.com", "Admin", "secret")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	return testEnv{
		Engine:   eng,
		Registry: reg,
		Gate:     auth.Gate{Repo: eng.Repo},
		Admin:    auth.FromAccount(admin, auth.SourceLocal),
		Ctx:      ctx,
	}
}

func (env testEnv) principal(t *testing.T, id string) auth.Principal {
	t.Helper()
	p, err := env.Gate.ResolveAccount(env.Ctx, id, auth.SourceLocal)
	if err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
	return p
}

func (env testEnv) account(t *testing.T, email, role string, approve bool) auth.Principal {
	t.Helper()
	a, err := env.Registry.Register(env.Ctx, registry.RegisterOptions{
		FullName: email,
		Email:    email,
		Password: "pw",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	if approve {
		if _, err := env.Registry.Approve(env.Ctx, env.Admin, a.ID); err != nil {
			t.Fatalf("approve %s: %v", email, err)
		}
	}
	return env.principal(t, a.ID)
}

func (env testEnv) task(t *testing.T, company auth.Principal, difficulty string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, company, engine.TaskCreateOptions{
		Title:      "Build the thing",
		Price:      5000,
		Difficulty: difficulty,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) xp(t *testing.T, id string) int64 {
	t.Helper()
	a, err := env.Engine.Repo.GetAccount(env.Ctx, nil, id)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return a.XP
}

func TestCreateTaskRequiresApprovedCompany(t *testing.T) {
	env := newTestEnv(t)
	pending := env.account(t, "pending@co.com", "COMPANY", false)
	eng := env.account(t, "eng@bee.com", "ENGINEER", true)
	opts := engine.TaskCreateOptions{Title: "T", Price: 10, Difficulty: "EASY"}

	if _, err := env.Engine.CreateTask(env.Ctx, pending, opts); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("pending company: expected authorization error, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, eng, opts); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("engineer: expected authorization error, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, auth.Principal{}, opts); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("anonymous: expected unauthenticated, got %v", err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	bad := map[string]engine.TaskCreateOptions{
		"blank title":  {Title: "  ", Price: 10, Difficulty: "EASY"},
		"zero price":   {Title: "T", Price: 0, Difficulty: "EASY"},
		"negative":     {Title: "T", Price: -5, Difficulty: "EASY"},
		"difficulty":   {Title: "T", Price: 10, Difficulty: "EXTREME"},
		"no difficulty": {Title: "T", Price: 10},
	}
	for name, opts := range bad {
		if _, err := env.Engine.CreateTask(env.Ctx, company, opts); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	task := env.task(t, company, "medium")
	if task.Status != domain.TaskPublished || task.Difficulty != domain.DifficultyMedium {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.CompanyID != company.CompanyID || len(task.AssignedEngineers) != 0 {
		t.Fatalf("unexpected ownership or assignees %+v", task)
	}
}

func TestClaimIsIdempotentAndNonExclusive(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	e2 := env.account(t, "e2@bee.com", "ENGINEER", true)
	task := env.task(t, company, "EASY")

	got, err := env.Engine.Claim(env.Ctx, e1, task.ID, "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Status != domain.TaskClaimed {
		t.Fatalf("expected CLAIMED, got %s", got.Status)
	}
	if got, err = env.Engine.Claim(env.Ctx, e1, task.ID, e1.AccountID); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(got.AssignedEngineers) != 1 {
		t.Fatalf("reclaim must not duplicate membership: %v", got.AssignedEngineers)
	}
	if got, err = env.Engine.Claim(env.Ctx, e2, task.ID, ""); err != nil {
		t.Fatalf("second engineer claim: %v", err)
	}
	want := []string{e1.AccountID, e2.AccountID}
	if len(got.AssignedEngineers) != 2 || got.AssignedEngineers[0] != want[0] || got.AssignedEngineers[1] != want[1] {
		t.Fatalf("expected assignees %v in claim order, got %v", want, got.AssignedEngineers)
	}
	if got.Status != domain.TaskClaimed {
		t.Fatalf("status should stay CLAIMED, got %s", got.Status)
	}
}

func TestClaimAuthorization(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	e2 := env.account(t, "e2@bee.com", "ENGINEER", true)
	pending := env.account(t, "p@bee.com", "ENGINEER", false)
	task := env.task(t, company, "EASY")

	if _, err := env.Engine.Claim(env.Ctx, pending, task.ID, ""); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("pending engineer: expected authorization error, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, company, task.ID, e1.AccountID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("company claim: expected authorization error, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, e1, task.ID, e2.AccountID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("claim for another engineer: expected authorization error, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, e1, "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing task: expected not found, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, env.Admin, task.ID, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("admin without engineer: expected validation error, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, env.Admin, task.ID, pending.AccountID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("admin claim for pending engineer: expected authorization error, got %v", err)
	}
	got, err := env.Engine.Claim(env.Ctx, env.Admin, task.ID, e2.AccountID)
	if err != nil {
		t.Fatalf("admin claim on behalf: %v", err)
	}
	if len(got.AssignedEngineers) != 1 || got.AssignedEngineers[0] != e2.AccountID {
		t.Fatalf("unexpected assignees %v", got.AssignedEngineers)
	}
}

func TestSubmitWithoutClaimAndResubmit(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	task := env.task(t, company, "EASY")

	sub, err := env.Engine.Submit(env.Ctx, e1, engine.SubmitOptions{TaskID: task.ID, Notes: "first"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.SubmittedAt == nil || sub.AttachmentURL != "" {
		t.Fatalf("unexpected submission %+v", sub)
	}
	sub2, err := env.Engine.Submit(env.Ctx, e1, engine.SubmitOptions{TaskID: task.ID, Notes: "second", AttachmentURL: "https://git.example/pr/1"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if sub2.ID != sub.ID || sub2.Notes != "second" || sub2.AttachmentURL != "https://git.example/pr/1" {
		t.Fatalf("resubmit should replace the same row, got %+v", sub2)
	}
	subs, err := env.Engine.ListSubmissions(env.Ctx, company, task.ID)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	if len(subs) != 1 || subs[0].EngineerEmail != "e1@bee.com" {
		t.Fatalf("expected one submission row, got %+v", subs)
	}
	listed := subs[0]
	if listed.Notes != "second" || listed.AttachmentURL != "https://git.example/pr/1" {
		t.Fatalf("listed row should carry the latest submission, got %+v", listed.Submission)
	}
	if listed.SubmittedAt == nil || *listed.SubmittedAt <= *sub.SubmittedAt {
		t.Fatalf("submitted_at should move forward on resubmit: first %s, listed %v", *sub.SubmittedAt, listed.SubmittedAt)
	}
	view, err := env.Engine.GetTask(env.Ctx, e1, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if view.Status != domain.TaskSubmitted || !view.ClaimedByMe || !view.SubmittedByMe {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestSubmitAfterClaimAdvances(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	task := env.task(t, company, "EASY")
	if _, err := env.Engine.Claim(env.Ctx, e1, task.ID, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}
	sub, err := env.Engine.Submit(env.Ctx, e1, engine.SubmitOptions{TaskID: task.ID, AttachmentURL: "https://x"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.ClaimedAt == nil || sub.SubmittedAt == nil {
		t.Fatalf("claim time should survive submission: %+v", sub)
	}
	view, _ := env.Engine.GetTask(env.Ctx, e1, task.ID)
	if view.Status != domain.TaskSubmitted || len(view.AssignedEngineers) != 1 {
		t.Fatalf("unexpected task %+v", view.Task)
	}
}

// Two engineers on a HARD task, one submitting and one only claiming, are
// both credited on approval.
func TestMultiEngineerApprovalCreditsEveryone(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	e2 := env.account(t, "e2@bee.com", "ENGINEER", true)
	task := env.task(t, company, "HARD")

	if _, err := env.Engine.Submit(env.Ctx, e1, engine.SubmitOptions{TaskID: task.ID}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := env.Engine.Claim(env.Ctx, e2, task.ID, "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Status != domain.TaskSubmitted {
		t.Fatalf("claim must not regress status, got %s", got.Status)
	}
	res, err := env.Engine.Approve(env.Ctx, company, task.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Task.Status != domain.TaskApproved || res.Task.ApprovedAt == nil {
		t.Fatalf("unexpected approved task %+v", res.Task)
	}
	if len(res.Credits) != 2 {
		t.Fatalf("expected two credits, got %+v", res.Credits)
	}
	if env.xp(t, e1.AccountID) != 500 || env.xp(t, e2.AccountID) != 500 {
		t.Fatalf("expected 500 xp each, got %d and %d", env.xp(t, e1.AccountID), env.xp(t, e2.AccountID))
	}

	again, err := env.Engine.Approve(env.Ctx, company, task.ID)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if !again.AlreadyApproved || len(again.Credits) != 0 {
		t.Fatalf("second approve should be inert: %+v", again)
	}
	if env.xp(t, e1.AccountID) != 500 {
		t.Fatalf("second approve credited again: %d", env.xp(t, e1.AccountID))
	}
}

func TestApproveWithoutWorkAndAuthorization(t *testing.T) {
	env := newTestEnv(t)
	owner := env.account(t, "owner@co.com", "COMPANY", true)
	other := env.account(t, "other@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	task := env.task(t, owner, "EASY")
	worked := env.task(t, owner, "MEDIUM")
	if _, err := env.Engine.Submit(env.Ctx, e1, engine.SubmitOptions{TaskID: worked.ID, Notes: "done"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := env.Engine.Approve(env.Ctx, other, worked.ID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("foreign company: expected authorization error, got %v", err)
	}
	after, err := env.Engine.GetTask(env.Ctx, owner, worked.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if after.Status != domain.TaskSubmitted || after.ApprovedAt != nil {
		t.Fatalf("refused approval changed the task: %+v", after.Task)
	}
	if got := env.xp(t, e1.AccountID); got != 0 {
		t.Fatalf("refused approval credited %d xp", got)
	}
	if _, err := env.Engine.Approve(env.Ctx, e1, task.ID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("engineer approve: expected authorization error, got %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, owner, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing task: expected not found, got %v", err)
	}
	res, err := env.Engine.Approve(env.Ctx, env.Admin, task.ID)
	if err != nil {
		t.Fatalf("admin approve published task: %v", err)
	}
	if res.Task.Status != domain.TaskApproved || len(res.Credits) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRejectedEngineerIsNotCredited(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	e2 := env.account(t, "e2@bee.com", "ENGINEER", true)
	task := env.task(t, company, "HARD")
	for _, p := range []auth.Principal{e1, e2} {
		if _, err := env.Engine.Submit(env.Ctx, p, engine.SubmitOptions{TaskID: task.ID, Notes: "work"}); err != nil {
			t.Fatalf("submit %s: %v", p.AccountID, err)
		}
	}
	if err := env.Registry.Reject(env.Ctx, env.Admin, e2.AccountID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	subs, err := env.Engine.ListSubmissions(env.Ctx, company, task.ID)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	if len(subs) != 1 || subs[0].EngineerID != e1.AccountID {
		t.Fatalf("rejected engineer's submission should be hidden, got %+v", subs)
	}
	view, err := env.Engine.GetTask(env.Ctx, company, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(view.AssignedEngineers) != 1 || view.AssignedEngineers[0] != e1.AccountID {
		t.Fatalf("rejected engineer should not be listed as assigned, got %v", view.AssignedEngineers)
	}

	res, err := env.Engine.Approve(env.Ctx, company, task.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(res.Credits) != 1 || res.Credits[0].EngineerID != e1.AccountID || res.Credits[0].XP != 500 {
		t.Fatalf("only the approved engineer should be credited, got %+v", res.Credits)
	}
	var xp int64
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT xp FROM accounts WHERE id=?`, e2.AccountID).Scan(&xp); err != nil {
		t.Fatalf("read tombstone xp: %v", err)
	}
	if xp != 0 {
		t.Fatalf("rejected engineer credited %d xp", xp)
	}
}

func TestWorkAfterApprovalIsInert(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	late := env.account(t, "late@bee.com", "ENGINEER", true)
	task := env.task(t, company, "MEDIUM")
	if _, err := env.Engine.Submit(env.Ctx, e1, engine.SubmitOptions{TaskID: task.ID, Notes: "done"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, company, task.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	sub, err := env.Engine.Submit(env.Ctx, e1, engine.SubmitOptions{TaskID: task.ID, Notes: "changed"})
	if err != nil {
		t.Fatalf("resubmit after approval: %v", err)
	}
	if sub.Notes != "done" || !sub.Approved || sub.XPAwarded != 300 {
		t.Fatalf("approved submission must not change: %+v", sub)
	}
	got, err := env.Engine.Claim(env.Ctx, late, task.ID, "")
	if err != nil {
		t.Fatalf("late claim: %v", err)
	}
	if got.Status != domain.TaskApproved || len(got.AssignedEngineers) != 1 {
		t.Fatalf("late claim must not join an approved task: %+v", got)
	}
	if env.xp(t, late.AccountID) != 0 || env.xp(t, e1.AccountID) != 300 {
		t.Fatalf("unexpected xp after approval")
	}
}

func TestUpdateTaskTermsLockAfterPublish(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	other := env.account(t, "other@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	task := env.task(t, company, "EASY")

	price := int64(7000)
	diff := "HARD"
	got, err := env.Engine.UpdateTask(env.Ctx, company, task.ID, engine.TaskPatch{Price: &price, Difficulty: &diff})
	if err != nil {
		t.Fatalf("update published: %v", err)
	}
	if got.Price != 7000 || got.Difficulty != domain.DifficultyHard {
		t.Fatalf("terms not updated: %+v", got)
	}
	title := "Other"
	if _, err := env.Engine.UpdateTask(env.Ctx, other, task.ID, engine.TaskPatch{Title: &title}); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("foreign update: expected authorization error, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, e1, task.ID, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}
	price = 1
	if _, err := env.Engine.UpdateTask(env.Ctx, company, task.ID, engine.TaskPatch{Price: &price}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("price change after claim: expected invalid state, got %v", err)
	}
	got, err = env.Engine.UpdateTask(env.Ctx, company, task.ID, engine.TaskPatch{Title: &title})
	if err != nil || got.Title != "Other" {
		t.Fatalf("title change after claim: %v", err)
	}
	blank := " "
	if _, err := env.Engine.UpdateTask(env.Ctx, company, task.ID, engine.TaskPatch{Title: &blank}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank title: expected validation error, got %v", err)
	}
}

func TestListTasksVisibilityAndPaging(t *testing.T) {
	env := newTestEnv(t)
	c1 := env.account(t, "c1@co.com", "COMPANY", true)
	c2 := env.account(t, "c2@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	for i := 0; i < 3; i++ {
		env.task(t, c1, "EASY")
	}
	mine := env.task(t, c2, "HARD")
	if _, err := env.Engine.Claim(env.Ctx, e1, mine.ID, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}

	page, err := env.Engine.ListTasks(env.Ctx, c1, engine.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("company should see only its own 3 tasks, got %d", len(page.Items))
	}
	if _, err := env.Engine.GetTask(env.Ctx, c1, mine.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign task should be hidden, got %v", err)
	}

	all, err := env.Engine.ListTasks(env.Ctx, e1, engine.ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all.Items) != 4 {
		t.Fatalf("engineer should see 4 tasks, got %d", len(all.Items))
	}
	claimed := 0
	for _, v := range all.Items {
		if v.ClaimedByMe {
			claimed++
			if v.ID != mine.ID || v.SubmittedByMe {
				t.Fatalf("unexpected flags on %+v", v)
			}
		}
	}
	if claimed != 1 {
		t.Fatalf("expected exactly one claimed task, got %d", claimed)
	}

	byStatus, err := env.Engine.ListTasks(env.Ctx, e1, engine.ListOptions{Status: "claimed"})
	if err != nil || len(byStatus.Items) != 1 {
		t.Fatalf("status filter: %v %d", err, len(byStatus.Items))
	}

	first, err := env.Engine.ListTasks(env.Ctx, e1, engine.ListOptions{Limit: 3})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first.Items) != 3 || first.NextCursor == "" {
		t.Fatalf("expected full first page with cursor, got %d %q", len(first.Items), first.NextCursor)
	}
	second, err := env.Engine.ListTasks(env.Ctx, e1, engine.ListOptions{Limit: 3, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(second.Items) != 1 || second.NextCursor != "" {
		t.Fatalf("expected last page of 1, got %d %q", len(second.Items), second.NextCursor)
	}
	seen := map[string]bool{}
	for _, v := range append(first.Items, second.Items...) {
		if seen[v.ID] {
			t.Fatalf("task %s listed twice across pages", v.ID)
		}
		seen[v.ID] = true
	}
	if _, err := env.Engine.ListTasks(env.Ctx, e1, engine.ListOptions{Cursor: "garbage"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad cursor: expected validation error, got %v", err)
	}
}

func TestListSubmissionsRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.account(t, "owner@co.com", "COMPANY", true)
	other := env.account(t, "other@co.com", "COMPANY", true)
	e1 := env.account(t, "e1@bee.com", "ENGINEER", true)
	task := env.task(t, owner, "EASY")
	if _, err := env.Engine.ListSubmissions(env.Ctx, other, task.ID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("foreign company: expected authorization error, got %v", err)
	}
	if _, err := env.Engine.ListSubmissions(env.Ctx, e1, task.ID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("engineer: expected authorization error, got %v", err)
	}
	subs, err := env.Engine.ListSubmissions(env.Ctx, env.Admin, task.ID)
	if err != nil || len(subs) != 0 {
		t.Fatalf("admin list: %v %d", err, len(subs))
	}
}

func TestConcurrentClaimsAndApprovals(t *testing.T) {
	env := newTestEnv(t)
	company := env.account(t, "c@co.com", "COMPANY", true)
	task := env.task(t, company, "EASY")
	const n = 6
	engineers := make([]auth.Principal, n)
	for i := range engineers {
		engineers[i] = env.account(t, "e"+string(rune('a'+i))+"@bee.com", "ENGINEER", true)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i, e := range engineers {
		wg.Add(1)
		go func(i int, e auth.Principal) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := env.Engine.Claim(env.Ctx, e, task.ID, "")
				errs <- err
				return
			}
			_, err := env.Engine.Submit(env.Ctx, e, engine.SubmitOptions{TaskID: task.ID})
			errs <- err
		}(i, e)
	}
	wg.Wait()

	credited := make(chan int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Engine.Approve(env.Ctx, company, task.ID)
			errs <- err
			credited <- len(res.Credits)
		}()
	}
	wg.Wait()
	close(errs)
	close(credited)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent op: %v", err)
		}
	}
	total := 0
	for c := range credited {
		total += c
	}
	if total != n {
		t.Fatalf("expected %d credits across all approvals, got %d", n, total)
	}
	for _, e := range engineers {
		if xp := env.xp(t, e.AccountID); xp != 100 {
			t.Fatalf("engineer %s has %d xp, want 100", e.Email, xp)
		}
	}
}
