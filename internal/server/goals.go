package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"goalline/internal/domain"
	"goalline/internal/engine"
	"goalline/internal/projection"
)

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

func registerWhoami(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/whoami",
		Summary:     "Current worker",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoamiResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoamiResponse `json:"body"`
		}{Body: WhoamiResponse{WorkerID: string(p.WorkerID), Source: p.Source}}, nil
	})
}

func registerGoals(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" enum:"to-do,doing,paused,blocked,in-review,qualified,completed"`
		ClaimedBy string `query:"claimed_by"`
		Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body GoalListResponse `json:"body"`
	}, error) {
		items, err := e.List(ctx, projection.Filter{
			Status:    domain.Status(input.Status),
			ClaimedBy: domain.WorkerID(input.ClaimedBy),
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Projection.CountByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := GoalListResponse{Items: []GoalResponse{}, Counts: map[string]int{}}
		for _, v := range items {
			resp.Items = append(resp.Items, goalResponse(v))
		}
		for s, n := range counts {
			resp.Counts[string(s)] = n
		}
		return &struct {
			Body GoalListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Add goal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		worker, authErr := workerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Add(ctx, engine.AddOptions{
			ID:              input.Body.ID,
			Objective:       input.Body.Objective,
			SuccessCriteria: input.Body.SuccessCriteria,
			ScopeIn:         input.Body.ScopeIn,
			ScopeOut:        input.Body.ScopeOut,
			Boundaries:      input.Body.Boundaries,
			Planning:        input.Body.Planning,
			NextGoalID:      input.Body.NextGoalID,
			WorkerID:        worker,
		})
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.Show(ctx, string(res.GoalID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}",
		Summary:     "Get goal",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		v, err := e.Show(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goal-events",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/events",
		Summary:     "Goal event history",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		evts, err := e.History(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(evts))
		for _, evt := range evts {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

type transitionRoute struct {
	action  string
	summary string
	run     func(context.Context, engine.TransitionOptions) (engine.Result, error)
}

func registerTransitions(api huma.API, e *engine.Engine) {
	routes := []transitionRoute{
		{"start", "Start goal and claim it", e.Start},
		{"pause", "Pause goal", e.Pause},
		{"resume", "Resume paused goal", e.Resume},
		{"block", "Block goal (note required)", e.Block},
		{"unblock", "Unblock goal", e.Unblock},
		{"submit", "Submit goal for review", e.SubmitForReview},
		{"qualify", "Qualify reviewed goal", e.Qualify},
		{"complete", "Complete qualified goal", e.Complete},
		{"reset", "Reset goal to to-do", e.Reset},
	}
	for _, r := range routes {
		run := r.run
		huma.Register(api, huma.Operation{
			OperationID: r.action + "-goal",
			Method:      http.MethodPost,
			Path:        "/goals/{goal_id}/" + r.action,
			Summary:     r.summary,
			Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			GoalID string             `path:"goal_id"`
			Body   *TransitionRequest `json:"body" required:"false"`
		}) (*struct {
			Body CommandResponse `json:"body"`
		}, error) {
			worker, authErr := workerFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			opts := engine.TransitionOptions{GoalID: input.GoalID, WorkerID: worker}
			if input.Body != nil {
				opts.Note = input.Body.Note
			}
			res, err := run(ctx, opts)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body CommandResponse `json:"body"`
			}{Body: commandResponse(res)}, nil
		})
	}
}
