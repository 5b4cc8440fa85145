package flow

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/inkline/model"
)

// snapshot is an immutable collection of flows indexed by ID.
type snapshot struct {
	flows    map[string]model.FlowDefinition
	checksum string
}

// Registry is a read-optimized, thread-safe store of loaded flows.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.FlowDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents. A later definition with the
// same ID wins, so directory flows override built-ins when loaded after them.
func (r *Registry) Replace(defs []model.FlowDefinition) {
	s := &snapshot{flows: make(map[string]model.FlowDefinition, len(defs))}

	var checksumParts []string
	for _, def := range defs {
		s.flows[def.ID] = def
		checksumParts = append(checksumParts, def.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the flow with the given ID.
func (r *Registry) Get(flowID string) (model.FlowDefinition, bool) {
	f, ok := r.current().flows[flowID]
	return f, ok
}

// All returns every registered flow sorted by ID.
func (r *Registry) All() []model.FlowDefinition {
	s := r.current()
	defs := make([]model.FlowDefinition, 0, len(s.flows))
	for _, f := range s.flows {
		defs = append(defs, f)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Len returns the number of registered flows.
func (r *Registry) Len() int {
	return len(r.current().flows)
}

// Checksum returns the combined checksum of all loaded flows.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
