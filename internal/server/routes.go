package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"launchledger/internal/domain"
	"launchledger/internal/engine"
	"launchledger/internal/engine/auth"
)

type handlers struct {
	engine  engine.Engine
	auth    AuthConfig
	limiter *voterLimiter
	log     logrus.FieldLogger
}

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

type statusOutput[T any] struct {
	Status int
	Body   T `json:"body"`
}

func reply[T any](body T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: body}
}

func adminOp(op huma.Operation) huma.Operation {
	if op.Metadata == nil {
		op.Metadata = map[string]any{}
	}
	op.Metadata[metaBearer] = true
	op.Errors = append(op.Errors, http.StatusUnauthorized, http.StatusForbidden)
	return op
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func registerLaunches(api huma.API, h handlers) {
	huma.Register(api, adminOp(huma.Operation{
		OperationID: "create-launch",
		Method:      http.MethodPost,
		Path:        "/launches",
		Summary:     "Create the active launch for a date",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}), func(ctx context.Context, input *struct {
		Body CreateLaunchRequest
	}) (*bodyOutput[LaunchResponse], error) {
		p, err := requireAdmin(ctx, h.auth)
		if err != nil {
			return nil, handleError(err)
		}
		createdBy := input.Body.CreatedBy
		if createdBy == "" {
			createdBy = p.Subject
		}
		l, err := h.engine.CreateLaunch(ctx, engine.CreateLaunchOptions{
			Date:      input.Body.Date,
			AppIDs:    input.Body.AppIDs,
			Name:      input.Body.Name,
			CreatedBy: createdBy,
			Manual:    true,
			Options:   input.Body.Options,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(LaunchResponse{Launch: l}), nil
	})

	huma.Register(api, adminOp(huma.Operation{
		OperationID: "list-launches",
		Method:      http.MethodGet,
		Path:        "/launches",
		Summary:     "List flushed launches, newest first",
	}), func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"10"`
	}) (*bodyOutput[LaunchListResponse], error) {
		if _, err := requireAdmin(ctx, h.auth); err != nil {
			return nil, handleError(err)
		}
		items, err := h.engine.ListFlushedLaunches(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(LaunchListResponse{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-active-launch",
		Method:      http.MethodGet,
		Path:        "/launches/active",
		Summary:     "Active launch, if any",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[ActiveLaunchResponse], error) {
		l, err := h.engine.GetActiveLaunch(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ActiveLaunchResponse{Launch: l}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-today",
		Method:      http.MethodGet,
		Path:        "/launches/today",
		Summary:     "Today's apps with live vote counts",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Token string `query:"token"`
	}) (*bodyOutput[engine.TodayView], error) {
		voterID := ""
		if input.Token != "" {
			claims, err := h.voter(input.Token)
			if err != nil {
				return nil, handleError(err)
			}
			voterID = claims.Subject
		}
		view, err := h.engine.Today(ctx, voterID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view), nil
	})

	huma.Register(api, adminOp(huma.Operation{
		OperationID: "get-launch",
		Method:      http.MethodGet,
		Path:        "/launches/{date}",
		Summary:     "Launch with its recorded results",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}), func(ctx context.Context, input *struct {
		Date string `path:"date"`
	}) (*bodyOutput[engine.LaunchHistory], error) {
		if _, err := requireAdmin(ctx, h.auth); err != nil {
			return nil, handleError(err)
		}
		hist, err := h.engine.GetLaunchHistory(ctx, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(hist), nil
	})

	huma.Register(api, adminOp(huma.Operation{
		OperationID: "flush-launch",
		Method:      http.MethodPost,
		Path:        "/launches/{date}/flush",
		Summary:     "Reconcile a launch's votes into totals",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}), func(ctx context.Context, input *struct {
		Date string `path:"date"`
	}) (*bodyOutput[FlushResponse], error) {
		if _, err := requireAdmin(ctx, h.auth); err != nil {
			return nil, handleError(err)
		}
		l, err := h.engine.GetLaunchByDate(ctx, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		if l == nil {
			return nil, handleError(engine.ErrNotFound)
		}
		if l.Status != domain.LaunchActive {
			return nil, handleError(engine.ErrLaunchNotActive)
		}
		res, err := h.engine.FlushLaunch(ctx, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(FlushResponse{Message: res.Message, VoteCounts: res.VoteCounts, Launch: res.Launch}), nil
	})
}

type voteInput struct {
	ToolID string `query:"toolId"`
	ItemID string `query:"itemId" doc:"Alias of toolId"`
	Token  string `query:"token"`
	Action string `query:"action" doc:"unvote retracts a vote"`
	Unvote string `query:"unvote" doc:"1 or true retracts a vote"`
}

func (in voteInput) appID() string {
	if in.ToolID != "" {
		return in.ToolID
	}
	return in.ItemID
}

func (in voteInput) unvote() bool {
	if strings.EqualFold(in.Action, "unvote") {
		return true
	}
	switch strings.ToLower(in.Unvote) {
	case "1", "true":
		return true
	}
	return false
}

func (h handlers) voter(token string) (auth.VoterClaims, error) {
	if strings.TrimSpace(token) == "" {
		return auth.VoterClaims{}, auth.UnauthorizedError{Reason: "voter token required"}
	}
	claims, err := auth.DecryptVoterToken(token, h.auth.VoterTokenSecret)
	if err != nil {
		h.log.WithError(err).Debug("voter token rejected")
		return auth.VoterClaims{}, auth.UnauthorizedError{Reason: "invalid voter token"}
	}
	return claims, nil
}

func (h handlers) vote(ctx context.Context, input *voteInput) (*bodyOutput[VoteResponse], error) {
	claims, err := h.voter(input.Token)
	if err != nil {
		return nil, handleError(err)
	}
	if !h.limiter.Allow(claims.Subject) {
		return nil, newAPIError(http.StatusTooManyRequests, "RATE_LIMITED", "too many votes", nil)
	}
	var count int64
	if input.unvote() {
		count, err = h.engine.Unvote(ctx, claims.Subject, input.appID())
	} else {
		count, err = h.engine.Vote(ctx, claims.Subject, input.appID())
	}
	if err != nil {
		return nil, handleError(err)
	}
	return reply(VoteResponse{Count: count}), nil
}

func registerVotes(api huma.API, h handlers) {
	errs := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict, http.StatusTooManyRequests}
	huma.Register(api, huma.Operation{
		OperationID: "vote",
		Method:      http.MethodPost,
		Path:        "/vote",
		Summary:     "Vote for or retract a vote on an app",
		Errors:      errs,
	}, h.vote)
	huma.Register(api, huma.Operation{
		OperationID: "vote-get",
		Method:      http.MethodGet,
		Path:        "/vote",
		Summary:     "Vote for or retract a vote on an app",
		Errors:      errs,
	}, h.vote)
}

func registerAdmin(api huma.API, h handlers) {
	huma.Register(api, adminOp(huma.Operation{
		OperationID: "repair",
		Method:      http.MethodPost,
		Path:        "/admin/repair",
		Summary:     "Rebuild the eligibility set from the active launch",
	}), func(ctx context.Context, _ *struct{}) (*statusOutput[engine.RepairResult], error) {
		if _, err := requireAdmin(ctx, h.auth); err != nil {
			return nil, handleError(err)
		}
		res := h.engine.RepairActiveLaunchRedis(ctx)
		status := http.StatusOK
		if !res.Success {
			status = http.StatusInternalServerError
		}
		return &statusOutput[engine.RepairResult]{Status: status, Body: res}, nil
	})

	huma.Register(api, adminOp(huma.Operation{
		OperationID: "run-cycle",
		Method:      http.MethodPost,
		Path:        "/admin/cycle",
		Summary:     "Run the daily cycle now",
	}), func(ctx context.Context, _ *struct{}) (*statusOutput[CycleResponse], error) {
		p, err := requireAdmin(ctx, h.auth)
		if err != nil {
			return nil, handleError(err)
		}
		h.log.WithField("subject", p.Subject).Info("manual daily cycle")
		return h.runCycle(ctx), nil
	})

	huma.Register(api, adminOp(huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/admin/audit",
		Summary:     "Recent audit log entries",
	}), func(ctx context.Context, input *struct {
		Type  string `query:"type" enum:"cron,revalidation,maintenance,other"`
		Limit int    `query:"limit" default:"50"`
	}) (*bodyOutput[AuditListResponse], error) {
		if _, err := requireAdmin(ctx, h.auth); err != nil {
			return nil, handleError(err)
		}
		items, err := h.engine.Repo.ListAudit(ctx, domain.AuditType(input.Type), normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.AuditLog{}
		}
		return reply(AuditListResponse{Items: items}), nil
	})
}

func (h handlers) runCycle(ctx context.Context) *statusOutput[CycleResponse] {
	res := h.engine.RunDailyCycle(ctx, h.engine.CurrentDay())
	status := http.StatusOK
	if !res.CycleComplete {
		status = http.StatusInternalServerError
	}
	return &statusOutput[CycleResponse]{Status: status, Body: cycleResponse(res)}
}

func registerCron(api huma.API, h handlers) {
	huma.Register(api, adminOp(huma.Operation{
		OperationID: "cron-daily-cycle",
		Method:      http.MethodGet,
		Path:        "/cron/daily-cycle",
		Summary:     "Scheduler entry point for the daily cycle",
	}), func(ctx context.Context, input *struct {
		Authorization string `header:"Authorization"`
	}) (*statusOutput[CycleResponse], error) {
		if err := auth.VerifyCronSecret(input.Authorization, h.auth.CronSecret); err != nil {
			h.log.WithError(err).Warn("cron trigger rejected")
			return nil, handleError(err)
		}
		return h.runCycle(ctx), nil
	})
}

func registerApps(api huma.API, h handlers) {
	huma.Register(api, adminOp(huma.Operation{
		OperationID: "set-app-launch-date",
		Method:      http.MethodPut,
		Path:        "/apps/{id}/launch-date",
		Summary:     "Schedule an app for a launch day",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}), func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetLaunchDateRequest
	}) (*bodyOutput[AppLaunchDateResponse], error) {
		if _, err := requireAdmin(ctx, h.auth); err != nil {
			return nil, handleError(err)
		}
		if err := h.engine.ScheduleApp(ctx, input.ID, input.Body.LaunchDate); err != nil {
			return nil, handleError(err)
		}
		return reply(AppLaunchDateResponse{ID: input.ID, LaunchDate: input.Body.LaunchDate}), nil
	})
}
