package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/revision"
	"github.com/lyzr/workflowcore/internal/store"
)

// WorkflowHandler handles workflow CRUD and revisioning.
type WorkflowHandler struct {
	store    store.Store
	reviser  *revision.Reviser
	log      *logger.Logger
}

func NewWorkflowHandler(st store.Store, reviser *revision.Reviser, log *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{store: st, reviser: reviser, log: log}
}

// createWorkflowRequest is the body of POST /workflows.
type createWorkflowRequest struct {
	Name       string    `json:"name"`
	Definition *model.Node `json:"definition"`
}

func (h *WorkflowHandler) Create(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.Definition == nil || req.Definition.Kind != model.NodeKindGroup {
		return echo.NewHTTPError(http.StatusBadRequest, "definition must be a group node")
	}

	now := time.Now()
	wf := &model.StoredWorkflow{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Version:    1,
		Definition: req.Definition,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.store.SaveWorkflow(c.Request().Context(), wf); err != nil {
		h.log.Error("failed to save workflow", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save workflow")
	}

	return c.JSON(http.StatusCreated, wf)
}

func (h *WorkflowHandler) Get(c echo.Context) error {
	id := c.Param("id")
	wf, err := h.store.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		if coreerr.Is(err, coreerr.KindWorkflowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		h.log.Error("failed to get workflow", "id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load workflow")
	}
	return c.JSON(http.StatusOK, wf)
}

func (h *WorkflowHandler) List(c echo.Context) error {
	workflows, err := h.store.ListWorkflows(c.Request().Context(), store.ListOptions{})
	if err != nil {
		h.log.Error("failed to list workflows", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list workflows")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"workflows": workflows})
}

func (h *WorkflowHandler) Delete(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.DeleteWorkflow(c.Request().Context(), id); err != nil {
		if coreerr.Is(err, coreerr.KindWorkflowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		h.log.Error("failed to delete workflow", "id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete workflow")
	}
	return c.NoContent(http.StatusNoContent)
}

// Revise applies a JSON Patch body (the request's raw bytes, an RFC6902
// document) to the workflow's current definition and persists the next
// version.
func (h *WorkflowHandler) Revise(c echo.Context) error {
	id := c.Param("id")

	body, err := readBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patch body")
	}
	if !json.Valid(body) {
		return echo.NewHTTPError(http.StatusBadRequest, "patch body is not valid JSON")
	}

	revised, err := h.reviser.Revise(c.Request().Context(), id, body)
	if err != nil {
		switch {
		case coreerr.Is(err, coreerr.KindWorkflowNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		case coreerr.Is(err, coreerr.KindInvalidDefinition):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			h.log.Error("failed to revise workflow", "id", id, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to revise workflow")
		}
	}

	return c.JSON(http.StatusOK, revised)
}
