// Package routes registers the demonstration HTTP surface over the
// workflow core: workflow CRUD/revisioning and run execution/approval,
// mirroring the teacher's route-registration-per-resource style.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflowcore/cmd/workflowcore-server/container"
	"github.com/lyzr/workflowcore/cmd/workflowcore-server/handlers"
	"github.com/lyzr/workflowcore/common/logger"
)

func Register(e *echo.Echo, c *container.Container, log *logger.Logger) {
	wfHandler := handlers.NewWorkflowHandler(c.Store, c.Revision, log)
	runHandler := handlers.NewRunHandler(c.Run, c.Store, c.RateLimiter, log)

	e.POST("/workflows", wfHandler.Create)
	e.GET("/workflows", wfHandler.List)
	e.GET("/workflows/:id", wfHandler.Get)
	e.DELETE("/workflows/:id", wfHandler.Delete)
	e.PATCH("/workflows/:id", wfHandler.Revise)

	e.POST("/workflows/:id/execute", runHandler.Execute)
	e.POST("/approvals/:id/approve", runHandler.Approve)
	e.POST("/approvals/:id/reject", runHandler.Reject)
}
