package definition

import (
	"fmt"
	"time"

	"github.com/bilansoft/approvalflow/model"
)

// Definition is the object that describes a workflow definition: its trigger,
// its ordered stage templates and its completion side effects. Definitions
// are immutable once materialized; edits produce a new Definition.
type Definition struct {
	id             string
	name           string
	version        int
	organizationID string
	priority       int

	documentTypes []string
	trigger       *TriggerPredicate

	stages []*StageTemplate

	requiresEntry    bool
	entryTemplateRef string
}

// ID returns the identifier of the definition
func (d *Definition) ID() string {
	return d.id
}

// Name returns the name of the definition
func (d *Definition) Name() string {
	return d.name
}

// Version returns the version of the definition
func (d *Definition) Version() int {
	return d.version
}

// OrganizationID returns the owning organization
func (d *Definition) OrganizationID() string {
	return d.organizationID
}

// Priority is the tie-break when multiple definitions match a document,
// higher wins.
func (d *Definition) Priority() int {
	return d.priority
}

// DocumentTypes returns the document types this definition applies to
func (d *Definition) DocumentTypes() []string {
	return d.documentTypes
}

// AppliesToType reports whether the definition covers the document type
func (d *Definition) AppliesToType(docType string) bool {
	for _, t := range d.documentTypes {
		if t == docType {
			return true
		}
	}
	return false
}

// Trigger returns the trigger predicate, nil when the definition matches
// every document of its types
func (d *Definition) Trigger() *TriggerPredicate {
	return d.trigger
}

// Stages returns the stage templates in order position
func (d *Definition) Stages() []*StageTemplate {
	return d.stages
}

// Stage returns the stage template with the given id
func (d *Definition) Stage(id string) *StageTemplate {
	for _, s := range d.stages {
		if s.id == id {
			return s
		}
	}
	return nil
}

// RequiresEntry reports whether successful completion must produce a
// bookkeeping entry
func (d *Definition) RequiresEntry() bool {
	return d.requiresEntry
}

// EntryTemplateRef returns the bookkeeping entry template reference
func (d *Definition) EntryTemplateRef() string {
	return d.entryTemplateRef
}

func (d *Definition) String() string {
	return fmt.Sprintf("Definition[%s] '%s' v%d", d.id, d.name, d.version)
}

// ExecutionMode informs how a stage's own tasks are dispatched; sibling
// stages are always sequential.
type ExecutionMode int

const (
	ExecutionSequential ExecutionMode = 1

	ExecutionParallel ExecutionMode = 2
)

func (m ExecutionMode) String() string {
	if m == ExecutionParallel {
		return "parallel"
	}
	return "sequential"
}

// StageTemplate is one step of a workflow definition. It belongs to exactly
// one Definition and has a strict order position unique within it.
type StageTemplate struct {
	definition *Definition

	id    string
	name  string
	order int

	execution ExecutionMode
	approval  model.ApprovalMode
	threshold float64

	assignee   AssigneeRule
	escalation AssigneeRule // nil falls back to the manager of the overdue assignee

	sla time.Duration

	entry *Predicate
	skip  *Predicate

	onEnter   []Action
	onApprove []Action
	onReject  []Action
}

// ID returns the identifier of the stage template
func (s *StageTemplate) ID() string {
	return s.id
}

// Name returns the name of the stage template
func (s *StageTemplate) Name() string {
	return s.name
}

// Order returns the stage's 1-based position within its definition
func (s *StageTemplate) Order() int {
	return s.order
}

// Definition returns the owning definition
func (s *StageTemplate) Definition() *Definition {
	return s.definition
}

// Execution returns the task dispatch mode of the stage
func (s *StageTemplate) Execution() ExecutionMode {
	return s.execution
}

// ApprovalMode returns the rule combining the stage's decisions
func (s *StageTemplate) ApprovalMode() model.ApprovalMode {
	return s.approval
}

// Threshold returns the approval ratio for ApprovalModeThreshold
func (s *StageTemplate) Threshold() float64 {
	return s.threshold
}

// Assignee returns the stage's assignee-resolution rule
func (s *StageTemplate) Assignee() AssigneeRule {
	return s.assignee
}

// Escalation returns the escalation target rule, nil when escalation falls
// back to the overdue assignee's manager
func (s *StageTemplate) Escalation() AssigneeRule {
	return s.escalation
}

// SLA returns the maximum duration the stage may remain unresolved
func (s *StageTemplate) SLA() time.Duration {
	return s.sla
}

// EntryPredicate returns the condition that must hold for the stage to run
func (s *StageTemplate) EntryPredicate() *Predicate {
	return s.entry
}

// SkipPredicate returns the condition under which the stage is skipped
func (s *StageTemplate) SkipPredicate() *Predicate {
	return s.skip
}

// OnEnter returns the actions run when the stage activates
func (s *StageTemplate) OnEnter() []Action {
	return s.onEnter
}

// OnApprove returns the actions run when the stage resolves approved
func (s *StageTemplate) OnApprove() []Action {
	return s.onApprove
}

// OnReject returns the actions run when the stage resolves rejected
func (s *StageTemplate) OnReject() []Action {
	return s.onReject
}

func (s *StageTemplate) String() string {
	return fmt.Sprintf("Stage[%s] '%s' #%d", s.id, s.name, s.order)
}

// ActionType tags a stage action
type ActionType int

const (
	// ActionNotify emits a notification intent to the configured recipient
	ActionNotify ActionType = 1

	// ActionWebhook invokes an external hook by reference
	ActionWebhook ActionType = 2

	// ActionFieldUpdate writes a value into the instance context
	ActionFieldUpdate ActionType = 3
)

func (a ActionType) String() string {
	switch a {
	case ActionNotify:
		return "notify"
	case ActionWebhook:
		return "webhook"
	case ActionFieldUpdate:
		return "field_update"
	}
	return "unknown"
}

// ToActionType converts an action type string from a definition payload
func ToActionType(val string) (ActionType, error) {
	switch val {
	case "notify":
		return ActionNotify, nil
	case "webhook":
		return ActionWebhook, nil
	case "field_update":
		return ActionFieldUpdate, nil
	default:
		return 0, model.ConfigErrorf("unsupported action type [%s]", val)
	}
}

// Action is a side effect attached to a stage transition. The engine hands
// it to the configured ActionRunner collaborator.
type Action struct {
	Type   ActionType
	Ref    string
	Params map[string]interface{}
}
