package service

import (
	"sort"
	"sync"

	"github.com/bilansoft/approvalflow/definition"
)

// Service names used in engine configuration
const (
	// ServiceDirectory is the name of the organization directory collaborator
	ServiceDirectory string = "directory"

	// ServiceNotifier is the name of the notification collaborator
	ServiceNotifier string = "notifier"

	// ServiceActionRunner is the name of the stage-action collaborator
	ServiceActionRunner string = "actionRunner"

	// ServiceEntryCreator is the name of the bookkeeping-entry collaborator
	ServiceEntryCreator string = "entryCreator"
)

// Directory resolves organization structure for assignee rules. Implemented
// by the CRM subsystem; the engine only consumes it.
type Directory interface {
	// UsersInRole returns every user holding the role in the organization
	UsersInRole(orgID, role string) ([]string, error)

	// DepartmentMembers returns the members of a department
	DepartmentMembers(orgID, dept string) ([]string, error)

	// ManagerOf returns the department manager of a user, "" when none
	ManagerOf(orgID, userID string) (string, error)
}

// NotificationType classifies a notification intent
type NotificationType string

const (
	NotificationApprovalRequest NotificationType = "approval_request"
	NotificationReminder        NotificationType = "reminder"
	NotificationEscalation      NotificationType = "escalation"
	NotificationCompleted       NotificationType = "completed"
	NotificationRejected        NotificationType = "rejected"
)

// Notification is a structured intent; the engine decides what and to whom,
// the notification collaborator decides channel and final copy.
type Notification struct {
	RecipientID string           `json:"recipientId"`
	Type        NotificationType `json:"type"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	ActionRef   string           `json:"actionRef,omitempty"`
}

// Notifier delivers notification intents
type Notifier interface {
	Notify(n Notification) error
}

// ActionRunner executes a stage action against an instance context
type ActionRunner interface {
	Run(action definition.Action, instanceID string, context map[string]interface{}) error
}

// NoopNotifier drops every intent; the default when no collaborator is wired
type NoopNotifier struct{}

func (NoopNotifier) Notify(Notification) error { return nil }

// NoopActionRunner accepts every action without effect
type NoopActionRunner struct{}

func (NoopActionRunner) Run(definition.Action, string, map[string]interface{}) error { return nil }

// StaticDirectory is a map-backed Directory, used by the tester harness and
// in tests.
type StaticDirectory struct {
	mu       sync.Mutex
	roles    map[string]map[string][]string // org -> role -> users
	depts    map[string]map[string][]string // org -> dept -> users
	managers map[string]map[string]string   // org -> user -> manager
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		roles:    make(map[string]map[string][]string),
		depts:    make(map[string]map[string][]string),
		managers: make(map[string]map[string]string),
	}
}

func (d *StaticDirectory) AddRole(orgID, role string, users ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.roles[orgID] == nil {
		d.roles[orgID] = make(map[string][]string)
	}
	d.roles[orgID][role] = append(d.roles[orgID][role], users...)
}

func (d *StaticDirectory) AddDepartment(orgID, dept string, users ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.depts[orgID] == nil {
		d.depts[orgID] = make(map[string][]string)
	}
	d.depts[orgID][dept] = append(d.depts[orgID][dept], users...)
}

func (d *StaticDirectory) SetManager(orgID, userID, managerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.managers[orgID] == nil {
		d.managers[orgID] = make(map[string]string)
	}
	d.managers[orgID][userID] = managerID
}

func (d *StaticDirectory) UsersInRole(orgID, role string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := append([]string(nil), d.roles[orgID][role]...)
	sort.Strings(users)
	return users, nil
}

func (d *StaticDirectory) DepartmentMembers(orgID, dept string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := append([]string(nil), d.depts[orgID][dept]...)
	sort.Strings(users)
	return users, nil
}

func (d *StaticDirectory) ManagerOf(orgID, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.managers[orgID][userID], nil
}
