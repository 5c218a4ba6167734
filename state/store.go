package state

import (
	"time"

	"github.com/bilansoft/approvalflow/model"
)

// Store is the persistence seam of the engine. Every status mutation is a
// compare-and-swap conditioned on the expected prior status; a transition
// whose guard no longer holds returns ErrConflict so the caller can treat
// the race as already handled. The engine takes no other locks.
type Store interface {
	InstanceStore
	StageStore
	TaskStore
}

type InstanceStore interface {
	// InsertInstance stores a new workflow instance
	InsertInstance(inst *WorkflowInstance) error

	// GetInstance returns the instance or ErrNotFound
	GetInstance(id string) (*WorkflowInstance, error)

	// UpdateInstance applies a mutation while the instance status equals
	// expect; returns ErrConflict otherwise. The mutation may change the
	// status, which is how instances reach a terminal state exactly once.
	UpdateInstance(id string, expect model.InstanceStatus, apply func(*WorkflowInstance)) (*WorkflowInstance, error)
}

type StageStore interface {
	// InsertStage stores a new stage instance
	InsertStage(stage *StageInstance) error

	// GetStage returns the stage instance or ErrNotFound
	GetStage(id string) (*StageInstance, error)

	// ListStages returns all stage instances of a workflow instance in
	// template order
	ListStages(instanceID string) ([]*StageInstance, error)

	// TransitionStage is the CAS point for stage status changes. The apply
	// mutation runs only when the current status is one of from.
	TransitionStage(id string, from []model.StageStatus, to model.StageStatus, apply func(*StageInstance)) (*StageInstance, error)

	// UpdateStage applies a mutation that does not move the stage status
	// (escalation counters and the like)
	UpdateStage(id string, apply func(*StageInstance)) (*StageInstance, error)
}

type TaskStore interface {
	// InsertTask stores a new approval task
	InsertTask(task *ApprovalTask) error

	// GetTask returns the task or ErrNotFound
	GetTask(id string) (*ApprovalTask, error)

	// ListTasks returns all tasks of a stage instance in creation order
	ListTasks(stageInstanceID string) ([]*ApprovalTask, error)

	// ListTasksByInstance returns all tasks of a workflow instance
	ListTasksByInstance(instanceID string) ([]*ApprovalTask, error)

	// ListOverdueTasks returns pending tasks with a due date before now
	ListOverdueTasks(now time.Time) ([]*ApprovalTask, error)

	// ListDueSoonTasks returns pending tasks due within the window that have
	// not yet received a reminder
	ListDueSoonTasks(now time.Time, window time.Duration) ([]*ApprovalTask, error)

	// TransitionTask is the CAS point for task status changes
	TransitionTask(id string, from model.TaskStatus, to model.TaskStatus, apply func(*ApprovalTask)) (*ApprovalTask, error)

	// MarkReminderSent stamps the reminder time; reports false when another
	// sweep already stamped it or the task is no longer pending
	MarkReminderSent(id string, at time.Time) (bool, error)
}
