// Package container wires the workflow core's components into a single
// request-serving unit, mirroring the teacher's cmd/orchestrator service
// container but scoped to this module's narrower component set.
package container

import (
	"github.com/lyzr/workflowcore/common/bootstrap"
	redisclient "github.com/lyzr/workflowcore/common/redis"
	"github.com/lyzr/workflowcore/common/ratelimit"
	"github.com/lyzr/workflowcore/internal/budget"
	"github.com/lyzr/workflowcore/internal/graph"
	"github.com/lyzr/workflowcore/internal/llmexec"
	"github.com/lyzr/workflowcore/internal/revision"
	"github.com/lyzr/workflowcore/internal/runctl"
	"github.com/lyzr/workflowcore/internal/store"
	"github.com/lyzr/workflowcore/internal/store/memstore"
	"github.com/lyzr/workflowcore/internal/store/pgstore"

	"github.com/lyzr/workflowcore/cmd/workflowcore-server/demoprovider"
)

// Container holds every wired component a request handler needs.
type Container struct {
	Store       store.Store
	Budget      *budget.Manager
	Graph       *graph.Executor
	Run         *runctl.Controller
	Revision    *revision.Reviser
	RateLimiter *ratelimit.RateLimiter
}

// New wires a Container from already-bootstrapped components. Store
// backs onto Postgres when components.DB is present, falling back to an
// in-memory store when the caller opted out of DB bootstrap (e.g. local
// demo runs without Postgres).
func New(components *bootstrap.Components) *Container {
	var st store.Store
	if components.DB != nil {
		st = pgstore.New(components.DB)
	} else {
		st = memstore.New()
	}

	budgetMgr := budget.New(st)
	llmExec := llmexec.New(demoprovider.New(), components.Logger)
	graphExec := graph.New(st, llmExec, budgetMgr, st, "demo-model", components.Logger)
	reviser := revision.New(st, components.Logger)

	var limiter *ratelimit.RateLimiter
	var notifier runctl.Notifier
	if components.Redis != nil {
		limiter = ratelimit.NewRateLimiter(components.Redis, components.Logger)
		notifier = redisclient.NewClient(components.Redis, components.Logger)
	}

	runCtl := runctl.New(runctl.Opts{Store: st, Exec: graphExec, Logger: components.Logger, Notifier: notifier})

	return &Container{
		Store:       st,
		Budget:      budgetMgr,
		Graph:       graphExec,
		Run:         runCtl,
		Revision:    reviser,
		RateLimiter: limiter,
	}
}
