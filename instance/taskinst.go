package instance

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/project-flogo/core/data/coerce"
	"github.com/project-flogo/core/support/log"

	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/model"
	"github.com/bilansoft/approvalflow/service"
	"github.com/bilansoft/approvalflow/state"
)

// TaskManager resolves who must act on a stage and materializes the
// per-assignee approval tasks.
type TaskManager struct {
	store     state.Store
	directory service.Directory
	notifier  service.Notifier
	logger    log.Logger
}

func NewTaskManager(store state.Store, directory service.Directory, notifier service.Notifier, logger log.Logger) *TaskManager {
	if logger == nil {
		logger = log.ChildLogger(log.RootLogger(), "taskmanager")
	}
	return &TaskManager{store: store, directory: directory, notifier: notifier, logger: logger}
}

// ResolveAssignees applies an assignee rule to a document. The subject is the
// user a ManagerOf rule resolves against: the document owner during normal
// assignment, the overdue assignee during escalation. The result is
// deduplicated and sorted; empty is legal.
func (tm *TaskManager) ResolveAssignees(rule definition.AssigneeRule, doc *definition.Document, subject string) ([]string, error) {

	var users []string
	var err error

	switch r := rule.(type) {
	case definition.FixedUsers:
		users = r.UserIDs
	case definition.Role:
		users, err = tm.directory.UsersInRole(doc.OrganizationID, r.Name)
	case definition.Department:
		users, err = tm.directory.DepartmentMembers(doc.OrganizationID, r.Name)
	case definition.DocumentOwner:
		users = []string{doc.OwnerID}
	case definition.ManagerOf:
		var manager string
		manager, err = tm.directory.ManagerOf(doc.OrganizationID, subject)
		if manager != "" {
			users = []string{manager}
		}
	case definition.Dynamic:
		if raw, ok := r.Field.Lookup(doc.ExtractedFields); ok {
			user, cerr := coerce.ToString(raw)
			if cerr == nil && user != "" {
				users = []string{user}
				break
			}
		}
		if r.Default != "" {
			users = []string{r.Default}
		}
	default:
		return nil, model.ConfigErrorf("unsupported assignee rule [%s]", rule.Kind())
	}

	if err != nil {
		return nil, model.DependencyErrorf("directory lookup failed: %v", err)
	}

	seen := make(map[string]bool, len(users))
	var resolved []string
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		resolved = append(resolved, u)
	}
	sort.Strings(resolved)
	return resolved, nil
}

// CreateTasks creates one pending ApprovalTask per assignee with the stage's
// due date and emits an approval-request intent per task. Idempotent:
// re-invocation for a stage that already has tasks is a no-op, which guards
// against duplicate activation.
func (tm *TaskManager) CreateTasks(stage *state.StageInstance, inst *state.WorkflowInstance, assignees []string) error {

	existing, err := tm.store.ListTasks(stage.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	due := time.Now().UTC()
	if stage.DueAt != nil {
		due = *stage.DueAt
	}

	for _, assignee := range assignees {
		task := &state.ApprovalTask{
			ID:              uuid.NewString(),
			StageInstanceID: stage.ID,
			InstanceID:      inst.ID,
			OrganizationID:  inst.OrganizationID,
			AssigneeID:      assignee,
			Status:          model.TaskStatusPending,
			DueAt:           due,
			CreatedAt:       time.Now().UTC(),
		}
		if err := tm.store.InsertTask(task); err != nil {
			return err
		}

		tm.notifyAssignee(task, inst)
	}

	tm.logger.Debugf("Stage [%s] fanned out %d tasks", stage.ID, len(assignees))
	return nil
}

func (tm *TaskManager) notifyAssignee(task *state.ApprovalTask, inst *state.WorkflowInstance) {
	err := tm.notifier.Notify(service.Notification{
		RecipientID: task.AssigneeID,
		Type:        service.NotificationApprovalRequest,
		Subject:     "Document awaiting your approval",
		Body:        "Document " + inst.DocumentID + " requires your decision.",
		ActionRef:   task.ID,
	})
	if err != nil {
		// delivery is a collaborator concern, a failed intent never blocks the stage
		tm.logger.Warnf("Approval request notification for task [%s] failed: %v", task.ID, err)
	}
}

// ExpirePendingTasks voids every still-pending task of an instance. Used by
// reject and cancel; lost races are fine, the task was handled elsewhere.
func (tm *TaskManager) ExpirePendingTasks(instanceID string) error {
	tasks, err := tm.store.ListTasksByInstance(instanceID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status != model.TaskStatusPending {
			continue
		}
		_, err := tm.store.TransitionTask(task.ID, model.TaskStatusPending, model.TaskStatusExpired, nil)
		if err != nil && !isConflict(err) {
			return err
		}
	}
	return nil
}

// ExpireStageSiblings voids the pending tasks of one resolved stage
func (tm *TaskManager) ExpireStageSiblings(stageInstanceID string) error {
	tasks, err := tm.store.ListTasks(stageInstanceID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status != model.TaskStatusPending {
			continue
		}
		_, err := tm.store.TransitionTask(task.ID, model.TaskStatusPending, model.TaskStatusExpired, nil)
		if err != nil && !isConflict(err) {
			return err
		}
	}
	return nil
}
