package event

import (
	"time"
)

type Status string

const (
	STARTED   Status = "Started"
	COMPLETED Status = "Completed"
	CANCELLED Status = "Cancelled"
	SKIPPED   Status = "Skipped"
	ESCALATED Status = "Escalated"
	UNKNOWN   Status = "Unknown"
)

const InstanceEventType = "approvalflow:instanceevent"
const StageEventType = "approvalflow:stageevent"

// InstanceEvent provides access to workflow instance lifecycle details
type InstanceEvent interface {
	// Returns workflow definition name
	DefinitionName() string
	// Returns instance ID
	InstanceID() string
	// Returns owning organization
	OrganizationID() string
	// Returns event time
	Time() time.Time
	// Returns current instance status
	InstanceStatus() Status
	// Returns final outcome, empty while the instance is live
	Outcome() string
}

// StageEvent provides access to stage instance transition details
type StageEvent interface {
	// Returns workflow definition name
	DefinitionName() string
	// Returns instance ID
	InstanceID() string
	// Returns stage name
	StageName() string
	// Returns stage order position
	StageOrder() int
	// Returns stage status
	StageStatus() Status
	// Returns event time
	Time() time.Time
	// Returns stage outcome, empty while unresolved
	Outcome() string
}
