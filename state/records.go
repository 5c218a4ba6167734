package state

import (
	"time"

	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/model"
)

// WorkflowInstance is the persisted runtime record of one (document,
// definition) pair. Mutated only by the Orchestrator; terminal exactly once.
type WorkflowInstance struct {
	ID             string `json:"id"`
	DefinitionID   string `json:"definitionId"`
	OrganizationID string `json:"organizationId"`
	DocumentID     string `json:"documentId"`

	Document *definition.Document `json:"document"`

	// Context accumulates the document's extracted fields plus values written
	// by field_update actions; predicates later in the workflow read it.
	Context map[string]interface{} `json:"context"`

	Status         model.InstanceStatus `json:"status"`
	CurrentStageID string               `json:"currentStageId,omitempty"`
	Outcome        model.Outcome        `json:"outcome"`
	Progress       int                  `json:"progress"`

	// EntryID references the bookkeeping entry created on approval, when the
	// definition requests one.
	EntryID string `json:"entryId,omitempty"`

	CancelReason string `json:"cancelReason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StageInstance is the persisted runtime record of one (WorkflowInstance,
// StageTemplate) pair.
type StageInstance struct {
	ID         string `json:"id"`
	InstanceID string `json:"instanceId"`
	TemplateID string `json:"templateId"`
	Order      int    `json:"order"`

	Status  model.StageStatus `json:"status"`
	Outcome model.Outcome     `json:"outcome"`

	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	EscalationCount int `json:"escalationCount"`
}

// ApprovalTask is the persisted record of one assignee's pending decision on
// a stage instance.
type ApprovalTask struct {
	ID              string `json:"id"`
	StageInstanceID string `json:"stageInstanceId"`
	InstanceID      string `json:"instanceId"`
	OrganizationID  string `json:"organizationId"`

	AssigneeID string `json:"assigneeId"`

	Status   model.TaskStatus `json:"status"`
	Decision model.Decision   `json:"decision"`

	Comment     string `json:"comment,omitempty"`
	ActorID     string `json:"actorId,omitempty"`
	ActorIP     string `json:"actorIp,omitempty"`
	ActorDevice string `json:"actorDevice,omitempty"`

	// DelegateTaskID references the single task spawned when this one was
	// delegated.
	DelegateTaskID string `json:"delegateTaskId,omitempty"`

	DueAt     time.Time  `json:"dueAt"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`

	ReminderSentAt *time.Time `json:"reminderSentAt,omitempty"`
}

// Overdue reports whether the task is pending past its due date
func (t *ApprovalTask) Overdue(now time.Time) bool {
	return t.Status == model.TaskStatusPending && t.DueAt.Before(now)
}
