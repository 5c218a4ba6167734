package definition

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bilansoft/approvalflow/model"
)

// DefinitionRep is a serializable representation of a workflow Definition
type DefinitionRep struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Version        int    `json:"version"`
	OrganizationID string `json:"organizationId"`
	Priority       int    `json:"priority"`

	DocumentTypes []string    `json:"documentTypes"`
	Trigger       *TriggerRep `json:"trigger,omitempty"`

	Stages []*StageRep `json:"stages"`

	RequiresEntry    bool   `json:"requiresEntry,omitempty"`
	EntryTemplateRef string `json:"entryTemplateRef,omitempty"`
}

// TriggerRep is a serializable representation of a trigger predicate
type TriggerRep struct {
	MinAmount  *float64        `json:"minAmount,omitempty"`
	MaxAmount  *float64        `json:"maxAmount,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Conditions []*ConditionRep `json:"conditions,omitempty"`
}

// ConditionRep is a serializable representation of a field condition
type ConditionRep struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

// StageRep is a serializable representation of a stage template
type StageRep struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	Execution string `json:"execution,omitempty"`

	ApprovalMode string  `json:"approvalMode"`
	Threshold    float64 `json:"threshold,omitempty"`

	Assignee   *AssigneeRep `json:"assignee"`
	Escalation *AssigneeRep `json:"escalation,omitempty"`

	SLA string `json:"sla"`

	Entry []*ConditionRep `json:"entry,omitempty"`
	Skip  []*ConditionRep `json:"skip,omitempty"`

	OnEnter   []*ActionRep `json:"onEnter,omitempty"`
	OnApprove []*ActionRep `json:"onApprove,omitempty"`
	OnReject  []*ActionRep `json:"onReject,omitempty"`
}

// ActionRep is a serializable representation of a stage action
type ActionRep struct {
	Type   string                 `json:"type"`
	Ref    string                 `json:"ref,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// NewDefinition creates a workflow Definition from a serializable definition
// representation, validating it. All field paths, operators, modes and stage
// ordering are checked here so nothing is left to resolution time.
func NewDefinition(rep *DefinitionRep) (*Definition, error) {

	if rep.Name == "" {
		return nil, model.ConfigErrorf("definition has no name")
	}
	if rep.OrganizationID == "" {
		return nil, model.ConfigErrorf("definition '%s' has no organization", rep.Name)
	}
	if len(rep.Stages) == 0 {
		return nil, model.ConfigErrorf("definition '%s' has zero stages", rep.Name)
	}
	if len(rep.DocumentTypes) == 0 {
		return nil, model.ConfigErrorf("definition '%s' covers no document types", rep.Name)
	}

	def := &Definition{
		id:               rep.ID,
		name:             rep.Name,
		version:          rep.Version,
		organizationID:   rep.OrganizationID,
		priority:         rep.Priority,
		documentTypes:    rep.DocumentTypes,
		requiresEntry:    rep.RequiresEntry,
		entryTemplateRef: rep.EntryTemplateRef,
	}
	if def.id == "" {
		def.id = uuid.NewString()
	}
	if def.version == 0 {
		def.version = 1
	}

	if rep.Trigger != nil {
		trigger, err := createTrigger(rep.Trigger)
		if err != nil {
			return nil, fmt.Errorf("definition '%s': %w", rep.Name, err)
		}
		def.trigger = trigger
	}

	seen := make(map[int]bool, len(rep.Stages))
	def.stages = make([]*StageTemplate, len(rep.Stages))
	for _, stageRep := range rep.Stages {
		stage, err := createStage(def, stageRep)
		if err != nil {
			return nil, fmt.Errorf("definition '%s': %w", rep.Name, err)
		}
		if stage.order < 1 || stage.order > len(rep.Stages) {
			return nil, model.ConfigErrorf("definition '%s': stage '%s' order %d out of range 1..%d",
				rep.Name, stage.name, stage.order, len(rep.Stages))
		}
		if seen[stage.order] {
			return nil, model.ConfigErrorf("definition '%s': duplicate stage order %d", rep.Name, stage.order)
		}
		seen[stage.order] = true
		def.stages[stage.order-1] = stage
	}

	return def, nil
}

func createTrigger(rep *TriggerRep) (*TriggerPredicate, error) {
	trigger := &TriggerPredicate{
		MinAmount: rep.MinAmount,
		MaxAmount: rep.MaxAmount,
		Tags:      rep.Tags,
	}
	if rep.MinAmount != nil && rep.MaxAmount != nil && *rep.MinAmount > *rep.MaxAmount {
		return nil, model.ConfigErrorf("trigger amount bounds inverted")
	}
	conds, err := createConditions(rep.Conditions)
	if err != nil {
		return nil, fmt.Errorf("trigger: %w", err)
	}
	trigger.Conditions = conds
	return trigger, nil
}

func createConditions(reps []*ConditionRep) ([]Condition, error) {
	if len(reps) == 0 {
		return nil, nil
	}
	conds := make([]Condition, 0, len(reps))
	for _, rep := range reps {
		path, err := ParseFieldPath(rep.Field)
		if err != nil {
			return nil, err
		}
		op, err := ToOperator(rep.Op)
		if err != nil {
			return nil, err
		}
		conds = append(conds, Condition{Field: path, Op: op, Value: rep.Value})
	}
	return conds, nil
}

func createPredicate(reps []*ConditionRep) (*Predicate, error) {
	if len(reps) == 0 {
		return nil, nil
	}
	conds, err := createConditions(reps)
	if err != nil {
		return nil, err
	}
	return &Predicate{Conditions: conds}, nil
}

func createStage(def *Definition, rep *StageRep) (*StageTemplate, error) {

	stage := &StageTemplate{
		definition: def,
		id:         rep.ID,
		name:       rep.Name,
		order:      rep.Order,
	}
	if stage.id == "" {
		stage.id = uuid.NewString()
	}

	stage.execution = ExecutionSequential
	if rep.Execution != "" {
		switch rep.Execution {
		case "sequential":
			stage.execution = ExecutionSequential
		case "parallel":
			stage.execution = ExecutionParallel
		default:
			return nil, model.ConfigErrorf("stage '%s': unsupported execution mode [%s]", rep.Name, rep.Execution)
		}
	}

	approval, err := model.ToApprovalMode(rep.ApprovalMode)
	if err != nil {
		return nil, fmt.Errorf("stage '%s': %w", rep.Name, err)
	}
	stage.approval = approval

	stage.threshold = rep.Threshold
	if approval == model.ApprovalModeThreshold {
		if rep.Threshold <= 0 || rep.Threshold > 1 {
			return nil, model.ConfigErrorf("stage '%s': threshold %v outside (0,1]", rep.Name, rep.Threshold)
		}
	}

	rule, err := NewAssigneeRule(rep.Assignee)
	if err != nil {
		return nil, fmt.Errorf("stage '%s': %w", rep.Name, err)
	}
	stage.assignee = rule

	if rep.Escalation != nil {
		escRule, err := NewAssigneeRule(rep.Escalation)
		if err != nil {
			return nil, fmt.Errorf("stage '%s' escalation: %w", rep.Name, err)
		}
		stage.escalation = escRule
	}

	sla, err := time.ParseDuration(rep.SLA)
	if err != nil || sla <= 0 {
		return nil, model.ConfigErrorf("stage '%s': invalid sla [%s]", rep.Name, rep.SLA)
	}
	stage.sla = sla

	if stage.entry, err = createPredicate(rep.Entry); err != nil {
		return nil, fmt.Errorf("stage '%s' entry: %w", rep.Name, err)
	}
	if stage.skip, err = createPredicate(rep.Skip); err != nil {
		return nil, fmt.Errorf("stage '%s' skip: %w", rep.Name, err)
	}

	if stage.onEnter, err = createActions(rep.OnEnter); err != nil {
		return nil, fmt.Errorf("stage '%s': %w", rep.Name, err)
	}
	if stage.onApprove, err = createActions(rep.OnApprove); err != nil {
		return nil, fmt.Errorf("stage '%s': %w", rep.Name, err)
	}
	if stage.onReject, err = createActions(rep.OnReject); err != nil {
		return nil, fmt.Errorf("stage '%s': %w", rep.Name, err)
	}

	return stage, nil
}

func createActions(reps []*ActionRep) ([]Action, error) {
	if len(reps) == 0 {
		return nil, nil
	}
	actions := make([]Action, 0, len(reps))
	for _, rep := range reps {
		actionType, err := ToActionType(rep.Type)
		if err != nil {
			return nil, err
		}
		actions = append(actions, Action{Type: actionType, Ref: rep.Ref, Params: rep.Params})
	}
	return actions, nil
}
