package support

import (
	"sort"
	"sync"

	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/model"
)

// DefinitionManager holds the materialized workflow definitions of all
// organizations and enforces the immutability policy: a definition referenced
// by a live instance cannot be replaced, edits must register a new definition.
type DefinitionManager struct {
	mu    sync.Mutex // protects the definition maps
	defs  map[string]*definition.Definition
	byOrg map[string][]*definition.Definition
	live  map[string]int // live instance count per definition
}

func NewDefinitionManager() *DefinitionManager {
	return &DefinitionManager{
		defs:  make(map[string]*definition.Definition),
		byOrg: make(map[string][]*definition.Definition),
		live:  make(map[string]int),
	}
}

// Register materializes and stores a definition. Re-registering an id that
// live instances still reference is rejected.
func (dm *DefinitionManager) Register(rep *definition.DefinitionRep) (*definition.Definition, error) {
	def, err := definition.NewDefinition(rep)
	if err != nil {
		return nil, err
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if old, exists := dm.defs[def.ID()]; exists {
		if dm.live[def.ID()] > 0 {
			return nil, model.InvalidStatef("definition [%s] has live instances", def.ID())
		}
		dm.removeFromOrg(old)
	}

	dm.defs[def.ID()] = def
	dm.byOrg[def.OrganizationID()] = append(dm.byOrg[def.OrganizationID()], def)
	return def, nil
}

func (dm *DefinitionManager) removeFromOrg(def *definition.Definition) {
	defs := dm.byOrg[def.OrganizationID()]
	for i, d := range defs {
		if d.ID() == def.ID() {
			dm.byOrg[def.OrganizationID()] = append(defs[:i], defs[i+1:]...)
			return
		}
	}
}

// Get returns the definition with the given id
func (dm *DefinitionManager) Get(id string) (*definition.Definition, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	def, ok := dm.defs[id]
	if !ok {
		return nil, model.NotFoundf("definition [%s]", id)
	}
	return def, nil
}

// ActiveForOrg returns the organization's definitions ordered by priority
// descending, the order the trigger matcher consumes them in.
func (dm *DefinitionManager) ActiveForOrg(orgID string) []*definition.Definition {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	defs := append([]*definition.Definition(nil), dm.byOrg[orgID]...)
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Priority() > defs[j].Priority() })
	return defs
}

// MarkLive records that a new instance references the definition
func (dm *DefinitionManager) MarkLive(defID string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.live[defID]++
}

// MarkDone records that an instance referencing the definition terminated
func (dm *DefinitionManager) MarkDone(defID string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.live[defID] > 0 {
		dm.live[defID]--
	}
}
