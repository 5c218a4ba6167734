package instance

import (
	"time"

	coreevent "github.com/project-flogo/core/engine/event"

	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/model"
	"github.com/bilansoft/approvalflow/state"
	"github.com/bilansoft/approvalflow/support/event"
)

type instanceEvent struct {
	time           time.Time
	defName        string
	instanceID     string
	organizationID string
	status         event.Status
	outcome        string
}

func (ie *instanceEvent) DefinitionName() string {
	return ie.defName
}

// Returns instance ID
func (ie *instanceEvent) InstanceID() string {
	return ie.instanceID
}

// Returns owning organization
func (ie *instanceEvent) OrganizationID() string {
	return ie.organizationID
}

// Returns event time
func (ie *instanceEvent) Time() time.Time {
	return ie.time
}

// Returns current instance status
func (ie *instanceEvent) InstanceStatus() event.Status {
	return ie.status
}

// Returns final outcome, empty while the instance is live
func (ie *instanceEvent) Outcome() string {
	return ie.outcome
}

type stageEvent struct {
	time       time.Time
	defName    string
	instanceID string
	stageName  string
	stageOrder int
	status     event.Status
	outcome    string
}

func (se *stageEvent) DefinitionName() string {
	return se.defName
}

func (se *stageEvent) InstanceID() string {
	return se.instanceID
}

func (se *stageEvent) StageName() string {
	return se.stageName
}

func (se *stageEvent) StageOrder() int {
	return se.stageOrder
}

func (se *stageEvent) StageStatus() event.Status {
	return se.status
}

func (se *stageEvent) Time() time.Time {
	return se.time
}

func (se *stageEvent) Outcome() string {
	return se.outcome
}

func postInstanceEvent(inst *state.WorkflowInstance, defName string) {

	if coreevent.HasListener(event.InstanceEventType) {

		ie := &instanceEvent{}
		ie.time = time.Now()
		ie.defName = defName
		ie.instanceID = inst.ID
		ie.organizationID = inst.OrganizationID
		ie.status = convertInstanceStatus(inst.Status)
		if inst.Outcome != model.OutcomeNone {
			ie.outcome = inst.Outcome.String()
		}
		coreevent.Post(event.InstanceEventType, ie)
	}
}

func postStageEvent(inst *state.WorkflowInstance, defName string, tmpl *definition.StageTemplate,
	status model.StageStatus, outcome model.Outcome) {

	if coreevent.HasListener(event.StageEventType) {

		se := &stageEvent{}
		se.time = time.Now()
		se.defName = defName
		se.instanceID = inst.ID
		se.stageName = tmpl.Name()
		se.stageOrder = tmpl.Order()
		se.status = convertStageStatus(status)
		if outcome != model.OutcomeNone {
			se.outcome = outcome.String()
		}
		coreevent.Post(event.StageEventType, se)
	}
}

func convertInstanceStatus(code model.InstanceStatus) event.Status {
	switch code {
	case model.InstanceStatusActive:
		return event.STARTED
	case model.InstanceStatusCompleted:
		return event.COMPLETED
	case model.InstanceStatusCancelled:
		return event.CANCELLED
	}
	return event.UNKNOWN
}

func convertStageStatus(code model.StageStatus) event.Status {
	switch code {
	case model.StageStatusActive:
		return event.STARTED
	case model.StageStatusEscalated:
		return event.ESCALATED
	case model.StageStatusCompleted:
		return event.COMPLETED
	case model.StageStatusSkipped:
		return event.SKIPPED
	}
	return event.UNKNOWN
}
