// Package revision implements workflow revisioning (component C9):
// applying an RFC6902 JSON Patch to a workflow's definition to produce
// its next version, which replaces the stored definition in place.
package revision

import (
	"context"
	"encoding/json"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/common/validation"
	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
)

// Store is the subset of the store contract workflow revisioning needs.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*model.StoredWorkflow, error)
	UpdateWorkflow(ctx context.Context, wf *model.StoredWorkflow) error
}

// Reviser applies JSON Patches to a workflow's definition. Grounded on
// the teacher's patch-chain materializer, reduced from "derive a DAG from
// a base plus a patch chain" to "derive version N+1 from version N": a
// session's WorkflowSnapshot already copied the definition at creation
// time, so overwriting the stored row in place doesn't disturb sessions
// still running against the prior version.
type Reviser struct {
	store     Store
	now       func() time.Time
	log       *logger.Logger
	opChecker *validation.PatchValidator
}

func New(store Store, log *logger.Logger) *Reviser {
	return &Reviser{store: store, now: time.Now, log: log, opChecker: validation.NewPatchValidator()}
}

// Revise loads workflowID's current definition, applies patch to its JSON
// form, validates the result still parses as a node tree rooted in a
// group, and persists it as the next version.
func (r *Reviser) Revise(ctx context.Context, workflowID string, patch []byte) (*model.StoredWorkflow, error) {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindWorkflowNotFound, err, "workflow %q", workflowID)
	}

	currentJSON, err := json.Marshal(wf.Definition)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindInvalidDefinition, err, "marshal current definition for %q", workflowID)
	}

	var rawOps []map[string]interface{}
	if err := json.Unmarshal(patch, &rawOps); err != nil {
		return nil, coreerr.Wrap(coreerr.KindInvalidDefinition, err, "decode patch operations for %q", workflowID)
	}
	if err := r.opChecker.ValidateOperations(rawOps); err != nil {
		return nil, coreerr.Wrap(coreerr.KindInvalidDefinition, err, "patch for %q failed operation validation", workflowID)
	}

	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindInvalidDefinition, err, "decode patch for %q", workflowID)
	}

	patchedJSON, err := decoded.Apply(currentJSON)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindInvalidDefinition, err, "apply patch to %q", workflowID)
	}

	var next model.Node
	if err := json.Unmarshal(patchedJSON, &next); err != nil {
		return nil, coreerr.Wrap(coreerr.KindInvalidDefinition, err, "patched definition for %q does not parse as a node tree", workflowID)
	}
	if next.Kind != model.NodeKindGroup {
		return nil, coreerr.New(coreerr.KindInvalidDefinition, "patched root node must be a group, got %q", next.Kind)
	}
	if err := validateNodeTree(&next); err != nil {
		return nil, err
	}

	wf.Definition = &next
	wf.Version++
	wf.UpdatedAt = r.now()
	if err := r.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, coreerr.Wrap(coreerr.KindStoreError, err, "save revised workflow %q", workflowID)
	}
	if r.log != nil {
		r.log.Info("revised workflow", "workflow_id", workflowID, "version", wf.Version)
	}
	return wf, nil
}

// validateNodeTree performs per-node shape checks on the whole patched
// tree after the patch has been applied. The patch's own operations are
// checked separately, before applying, by PatchValidator.ValidateOperations
// in Revise.
func validateNodeTree(n *model.Node) error {
	switch n.Kind {
	case model.NodeKindGroup:
		if n.EntryPoint == "" || n.ExitPoint == "" {
			return coreerr.New(coreerr.KindInvalidDefinition, "group node missing entryPoint/exitPoint")
		}
		for id, child := range n.Nodes {
			if child == nil {
				return coreerr.New(coreerr.KindInvalidDefinition, "child node %q is nil", id)
			}
			if err := validateNodeTree(child); err != nil {
				return coreerr.Wrap(coreerr.KindInvalidDefinition, err, "invalid child node %q", id)
			}
		}
		for i, e := range n.Edges {
			if e.From == "" || e.To == "" {
				return coreerr.New(coreerr.KindInvalidDefinition, "edge %d missing from/to", i)
			}
		}
	case model.NodeKindTransform:
		if n.Fn == nil {
			return coreerr.New(coreerr.KindInvalidDefinition, "transform node missing fn")
		}
	case model.NodeKindCallWorkflow:
		if n.WorkflowRef == "" {
			return coreerr.New(coreerr.KindInvalidDefinition, "callWorkflow node missing workflowRef")
		}
	case model.NodeKindLLM, model.NodeKindStream, model.NodeKindGenerator:
		// no fields are required beyond kind.
	default:
		return coreerr.New(coreerr.KindInvalidDefinition, "unknown node kind %q", n.Kind)
	}
	return nil
}
