package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"appbee/internal/domain"
	"appbee/internal/engine"
	"appbee/internal/ranking"
	"appbee/internal/repo"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Publish a task for the caller's company",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		t, err := e.CreateTask(ctx, p, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Price:       input.Body.Price,
			Difficulty:  input.Body.Difficulty,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(viewFor(p, t, false))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks visible to the caller, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"PUBLISHED, CLAIMED, SUBMITTED, APPROVED (COMPLETED is accepted)"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		page, err := e.ListTasks(ctx, p, engine.ListOptions{
			Status: input.Status,
			Limit:  normalizeLimit(input.Limit),
			Cursor: input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: make([]TaskResponse, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, v := range page.Items {
			resp.Items = append(resp.Items, taskResponse(v))
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		v, err := e.GetTask(ctx, p, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Edit a task; price and difficulty only while PUBLISHED",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		t, err := e.UpdateTask(ctx, p, input.TaskID, engine.TaskPatch{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Price:       input.Body.Price,
			Difficulty:  input.Body.Difficulty,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(viewFor(p, t, false))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/claim",
		Summary:     "Join a task; claims are not exclusive and repeat claims are no-ops",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string        `path:"task_id"`
		Body   *ClaimRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		engineerID := ""
		if input.Body != nil {
			engineerID = input.Body.EngineerID
		}
		t, err := e.Claim(ctx, p, input.TaskID, engineerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(viewFor(p, t, false))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/submit",
		Summary:     "Submit work; a later submission replaces the earlier one",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   *SubmitRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		opts := engine.SubmitOptions{TaskID: input.TaskID}
		if input.Body != nil {
			opts.EngineerID = input.Body.EngineerID
			opts.Notes = input.Body.Notes
			opts.AttachmentURL = input.Body.AttachmentURL
		}
		s, err := e.Submit(ctx, p, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approve",
		Summary:     "Approve a task and credit every participating engineer",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body ApprovalResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		res, err := e.Approve(ctx, p, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovalResponse `json:"body"`
		}{Body: approvalResponse(p, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/submissions",
		Summary:     "Submissions for a task (owning company or admin)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []SubmissionResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		items, err := e.ListSubmissions(ctx, p, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]SubmissionResponse, 0, len(items))
		for _, v := range items {
			out = append(out, submissionViewResponse(v))
		}
		return &struct {
			Body []SubmissionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerLeaderboard(api huma.API, proj ranking.Projector) {
	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/leaderboard",
		Summary:     "Top engineers by XP",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" doc:"Defaults to leaderboard.default_limit, capped at leaderboard.max_limit"`
	}) (*struct {
		Body LeaderboardResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		r, err := proj.TopEngineers(ctx, p, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LeaderboardResponse `json:"body"`
		}{Body: leaderboardResponse(r)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/admin/events",
		Summary:     "Recent journal events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"account,company,task"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		if err := p.Require(domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
