package model

type InstanceStatus int
type StageStatus int
type TaskStatus int

const (
	// InstanceStatusActive indicates that the WorkflowInstance is active
	InstanceStatusActive InstanceStatus = 100

	// InstanceStatusCompleted indicates that the WorkflowInstance has been completed
	InstanceStatusCompleted InstanceStatus = 500

	// InstanceStatusCancelled indicates that the WorkflowInstance has been cancelled
	InstanceStatusCancelled InstanceStatus = 600

	// InstanceStatusFailed indicates that the WorkflowInstance has failed
	InstanceStatusFailed InstanceStatus = 700

	// StageStatusPending indicates that the StageInstance has not been activated
	StageStatusPending StageStatus = 0

	// StageStatusActive indicates that the StageInstance is awaiting decisions
	StageStatusActive StageStatus = 100

	// StageStatusEscalated indicates that at least one task of the stage was escalated
	StageStatusEscalated StageStatus = 300

	// StageStatusCompleted indicates that the StageInstance resolved with an outcome
	StageStatusCompleted StageStatus = 500

	// StageStatusSkipped indicates that the StageInstance was skipped
	StageStatusSkipped StageStatus = 550

	// TaskStatusPending indicates that the ApprovalTask is awaiting a decision
	TaskStatusPending TaskStatus = 0

	// TaskStatusDelegated indicates that the ApprovalTask was handed to a delegate
	TaskStatusDelegated TaskStatus = 200

	// TaskStatusEscalated indicates that the ApprovalTask went overdue and was escalated
	TaskStatusEscalated TaskStatus = 300

	// TaskStatusCompleted indicates that the ApprovalTask carries a final decision
	TaskStatusCompleted TaskStatus = 500

	// TaskStatusExpired indicates that the ApprovalTask was voided by instance termination
	TaskStatusExpired TaskStatus = 600
)

func (s InstanceStatus) String() string {
	switch s {
	case InstanceStatusActive:
		return "active"
	case InstanceStatusCompleted:
		return "completed"
	case InstanceStatusCancelled:
		return "cancelled"
	case InstanceStatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the instance can no longer change
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled || s == InstanceStatusFailed
}

func (s StageStatus) String() string {
	switch s {
	case StageStatusPending:
		return "pending"
	case StageStatusActive:
		return "active"
	case StageStatusEscalated:
		return "escalated"
	case StageStatusCompleted:
		return "completed"
	case StageStatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Terminal reports whether the stage can no longer change
func (s StageStatus) Terminal() bool {
	return s == StageStatusCompleted || s == StageStatusSkipped
}

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusPending:
		return "pending"
	case TaskStatusDelegated:
		return "delegated"
	case TaskStatusEscalated:
		return "escalated"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusExpired:
		return "expired"
	}
	return "unknown"
}

// Outcome is the final verdict of a stage or of a whole workflow instance
type Outcome int

const (
	OutcomeNone Outcome = 0

	OutcomeApproved Outcome = 1

	OutcomeRejected Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	}
	return "none"
}

// Decision is an actor's verdict on a single ApprovalTask
type Decision int

const (
	DecisionNone Decision = 0

	DecisionApproved Decision = 1

	DecisionRejected Decision = 2

	DecisionDelegated Decision = 3
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionRejected:
		return "rejected"
	case DecisionDelegated:
		return "delegated"
	}
	return "none"
}

// ToDecision converts a decision string from a submission payload
func ToDecision(val string) (Decision, error) {
	switch val {
	case "approved":
		return DecisionApproved, nil
	case "rejected":
		return DecisionRejected, nil
	case "delegated":
		return DecisionDelegated, nil
	default:
		return DecisionNone, ConfigErrorf("unsupported decision [%s]", val)
	}
}
