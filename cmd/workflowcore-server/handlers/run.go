package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/common/ratelimit"
	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/graph"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/runctl"
	"github.com/lyzr/workflowcore/internal/store"
)

// RunHandler handles workflow execution and approval resolution.
type RunHandler struct {
	run         *runctl.Controller
	store       store.Store
	rateLimiter *ratelimit.RateLimiter
	log         *logger.Logger
}

// NewRunHandler wires a RunHandler. rateLimiter may be nil, in which case
// tiered rate limiting is skipped entirely (e.g. no Redis configured).
func NewRunHandler(run *runctl.Controller, st store.Store, rateLimiter *ratelimit.RateLimiter, log *logger.Logger) *RunHandler {
	return &RunHandler{run: run, store: st, rateLimiter: rateLimiter, log: log}
}

type executeRequest struct {
	Input        interface{} `json:"input"`
	BudgetPoolID string      `json:"budgetPoolId"`
}

// Execute starts a fresh run of the workflow named by :id. Before
// dispatching, it inspects the workflow's agent-node density to pick a
// rate limit tier, so a handful of heavy multi-agent workflows can't
// starve simple ones out of the same per-user budget.
func (h *RunHandler) Execute(c echo.Context) error {
	workflowID := c.Param("id")

	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	if h.rateLimiter != nil {
		wf, err := h.store.GetWorkflow(c.Request().Context(), workflowID)
		if err != nil {
			if coreerr.Is(err, coreerr.KindWorkflowNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
			}
			h.log.Error("failed to load workflow for rate limit inspection", "workflow_id", workflowID, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
		}

		profile := ratelimit.InspectWorkflow(inspectorInput(wf.Definition))
		username := c.Request().Header.Get("X-User-Id")
		if username == "" {
			username = "anonymous"
		}

		result, err := h.rateLimiter.CheckTieredLimit(c.Request().Context(), username, profile.Tier)
		if err != nil {
			h.log.Warn("tiered rate limit check failed, allowing request", "workflow_id", workflowID, "tier", string(profile.Tier), "error", err)
		} else if !result.Allowed {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"error":   "workflow_rate_limit_exceeded",
				"message": ratelimit.GetDescription(profile.Tier),
				"details": map[string]interface{}{
					"tier":                string(profile.Tier),
					"agentCount":          profile.AgentCount,
					"limit":               result.Limit,
					"retry_after_seconds": result.RetryAfterSeconds,
				},
			})
		}
	}

	outcome, err := h.run.StartRun(c.Request().Context(), workflowID, req.Input, graph.RunOptions{BudgetPoolID: req.BudgetPoolID})
	if err != nil {
		if coreerr.Is(err, coreerr.KindWorkflowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		h.log.Error("failed to start run", "workflow_id", workflowID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	return c.JSON(http.StatusOK, outcomeResponse(outcome))
}

// inspectorInput converts a workflow's node tree into the generic
// map[string]interface{} shape ratelimit.InspectWorkflow expects, marking
// LLM nodes as "agent" nodes since those are the ones that carry
// meaningful per-call cost in this domain.
func inspectorInput(def *model.Node) map[string]interface{} {
	nodes := map[string]interface{}{}
	var walk func(n *model.Node, prefix string)
	walk = func(n *model.Node, prefix string) {
		for id, child := range n.Nodes {
			qualified := prefix + id
			nodeType := "other"
			if child.Kind == model.NodeKindLLM {
				nodeType = "agent"
			}
			nodes[qualified] = map[string]interface{}{"type": nodeType}
			if child.Kind == model.NodeKindGroup {
				walk(child, qualified+".")
			}
		}
	}
	if def != nil {
		walk(def, "")
	}
	return map[string]interface{}{"nodes": nodes}
}

type resolveRequest struct {
	ResolvedBy string `json:"resolvedBy"`
	Notes      string `json:"notes"`
}

// Approve resolves a pending approval as approved, resuming the run it
// was blocking.
func (h *RunHandler) Approve(c echo.Context) error {
	return h.resolve(c, true)
}

// Reject resolves a pending approval as rejected, failing the node it
// was blocking.
func (h *RunHandler) Reject(c echo.Context) error {
	return h.resolve(c, false)
}

func (h *RunHandler) resolve(c echo.Context, approved bool) error {
	approvalID := c.Param("id")

	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	outcome, err := h.run.Resume(c.Request().Context(), approvalID, approved, req.ResolvedBy, req.Notes)
	if err != nil {
		if coreerr.Is(err, coreerr.KindApprovalNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "approval not found")
		}
		h.log.Error("failed to resolve approval", "approval_id", approvalID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve approval")
	}

	return c.JSON(http.StatusOK, outcomeResponse(outcome))
}

func outcomeResponse(outcome runctl.Outcome) map[string]interface{} {
	resp := map[string]interface{}{
		"sessionId": outcome.SessionID,
		"success":   outcome.Success,
		"suspended": outcome.Suspended,
	}
	if outcome.Suspended {
		resp["approvalId"] = outcome.ApprovalID
	}
	if outcome.Success {
		resp["output"] = outcome.Output
	}
	return resp
}
