package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/harborcs/taskmode/model"
)

// snapshot is an immutable collection of all workflow definitions indexed
// by ID.
type snapshot struct {
	workflows map[string]model.WorkflowDefinition
	order     []string
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded workflows.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.WorkflowDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []model.WorkflowDefinition) {
	s := &snapshot{
		workflows: make(map[string]model.WorkflowDefinition, len(defs)),
		order:     make([]string, 0, len(defs)),
	}

	var checksumParts []string

	for _, def := range defs {
		s.workflows[def.ID] = def
		s.order = append(s.order, def.ID)
		checksumParts = append(checksumParts, def.Checksum)
	}
	sort.Strings(s.order)

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetWorkflow returns the workflow definition with the given ID.
func (r *Registry) GetWorkflow(workflowID string) (model.WorkflowDefinition, bool) {
	w, ok := r.current().workflows[workflowID]
	return w, ok
}

// AllWorkflows returns all workflow definitions in ID order.
func (r *Registry) AllWorkflows() []model.WorkflowDefinition {
	s := r.current()
	defs := make([]model.WorkflowDefinition, 0, len(s.order))
	for _, id := range s.order {
		defs = append(defs, s.workflows[id])
	}
	return defs
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
