// Package escalation reassigns overdue approval tasks. The sweep is
// idempotent and safe to run from multiple replicas: every mutation it
// performs is a guarded status transition, so only one run wins per task.
package escalation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/project-flogo/core/support/log"

	"github.com/bilansoft/approvalflow/audit"
	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/instance"
	"github.com/bilansoft/approvalflow/model"
	"github.com/bilansoft/approvalflow/service"
	"github.com/bilansoft/approvalflow/state"
	"github.com/bilansoft/approvalflow/support"
)

const DefaultInterval = 15 * time.Minute

func isConflict(err error) bool {
	return errors.Is(err, model.ErrConflict)
}

type Scheduler struct {
	store    state.Store
	defs     *support.DefinitionManager
	tasks    *instance.TaskManager
	auditLog *audit.Log
	notifier service.Notifier

	interval       time.Duration
	reminderWindow time.Duration

	now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}

	logger log.Logger
}

func NewScheduler(store state.Store, defs *support.DefinitionManager, tasks *instance.TaskManager,
	auditLog *audit.Log, notifier service.Notifier, interval, reminderWindow time.Duration,
	logger log.Logger) *Scheduler {

	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.ChildLogger(log.RootLogger(), "escalation")
	}
	return &Scheduler{
		store:          store,
		defs:           defs,
		tasks:          tasks,
		auditLog:       auditLog,
		notifier:       notifier,
		interval:       interval,
		reminderWindow: reminderWindow,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
}

// Start runs the periodic sweep until Stop is called
func (s *Scheduler) Start() {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Sweep(s.now()); err != nil {
					s.logger.Errorf("Escalation sweep failed: %v", err)
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the periodic sweep and waits for the current run
func (s *Scheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
}

// Sweep escalates every overdue pending task and sends reminders for tasks
// approaching their due date.
func (s *Scheduler) Sweep(now time.Time) error {

	if s.reminderWindow > 0 {
		if err := s.remind(now); err != nil {
			return err
		}
	}

	overdue, err := s.store.ListOverdueTasks(now)
	if err != nil {
		return err
	}

	for _, task := range overdue {
		if err := s.escalate(task, now); err != nil {
			if isConflict(err) {
				// another scheduler run won this task
				continue
			}
			s.logger.Errorf("Escalation of task [%s] failed: %v", task.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) remind(now time.Time) error {
	dueSoon, err := s.store.ListDueSoonTasks(now, s.reminderWindow)
	if err != nil {
		return err
	}
	for _, task := range dueSoon {
		won, err := s.store.MarkReminderSent(task.ID, now)
		if err != nil || !won {
			continue
		}
		if nerr := s.notifier.Notify(service.Notification{
			RecipientID: task.AssigneeID,
			Type:        service.NotificationReminder,
			Subject:     "Approval due soon",
			Body:        "Your approval task is approaching its due date.",
			ActionRef:   task.ID,
		}); nerr != nil {
			s.logger.Warnf("Reminder notification for task [%s] failed: %v", task.ID, nerr)
		}
	}
	return nil
}

// escalate performs the per-task escalation: an atomic pending-to-escalated
// transition, an escalation counter bump on the owning stage, and one
// replacement task for the resolved target with a fresh due date. The
// original task's due date is never touched. A task with no resolvable
// target stays escalated with no replacement; that is a stalled stage, not
// an error.
func (s *Scheduler) escalate(task *state.ApprovalTask, now time.Time) error {

	_, err := s.store.TransitionTask(task.ID, model.TaskStatusPending, model.TaskStatusEscalated, nil)
	if err != nil {
		return err
	}

	stage, err := s.store.UpdateStage(task.StageInstanceID,
		func(st *state.StageInstance) { st.EscalationCount++ })
	if err != nil {
		return err
	}

	// surfaced stage status; resolution still accepts escalated stages
	_, err = s.store.TransitionStage(stage.ID,
		[]model.StageStatus{model.StageStatusActive}, model.StageStatusEscalated, nil)
	if err != nil && !isConflict(err) {
		return err
	}

	inst, err := s.store.GetInstance(task.InstanceID)
	if err != nil {
		return err
	}
	def, err := s.defs.Get(inst.DefinitionID)
	if err != nil {
		return err
	}
	tmpl := def.Stage(stage.TemplateID)
	if tmpl == nil {
		return model.NotFoundf("stage template [%s]", stage.TemplateID)
	}

	rule := tmpl.Escalation()
	if rule == nil {
		rule = definition.ManagerOf{}
	}

	// the overdue assignee is the subject a manager_of rule resolves against
	targets, err := s.tasks.ResolveAssignees(rule, inst.Document, task.AssigneeID)
	if err != nil {
		return err
	}

	s.notifyEscalation(task.AssigneeID, task.ID)

	if len(targets) == 0 {
		s.logger.Warnf("Task [%s] escalated with no resolvable target, stage [%s] stalled", task.ID, stage.ID)
		s.append(task, map[string]interface{}{
			"taskId": task.ID,
			"target": "",
		})
		return nil
	}

	target := targets[0]
	replacement := &state.ApprovalTask{
		ID:              uuid.NewString(),
		StageInstanceID: task.StageInstanceID,
		InstanceID:      task.InstanceID,
		OrganizationID:  task.OrganizationID,
		AssigneeID:      target,
		Status:          model.TaskStatusPending,
		DueAt:           now.Add(tmpl.SLA()),
		CreatedAt:       now,
	}
	if err := s.store.InsertTask(replacement); err != nil {
		return err
	}

	s.append(task, map[string]interface{}{
		"taskId":    task.ID,
		"target":    target,
		"newTaskId": replacement.ID,
	})
	s.notifyTarget(target, replacement.ID)

	s.logger.Infof("Task [%s] escalated to [%s]", task.ID, target)
	return nil
}

func (s *Scheduler) notifyEscalation(assigneeID, taskID string) {
	if err := s.notifier.Notify(service.Notification{
		RecipientID: assigneeID,
		Type:        service.NotificationEscalation,
		Subject:     "Approval task escalated",
		Body:        "Your overdue approval task was escalated.",
		ActionRef:   taskID,
	}); err != nil {
		s.logger.Warnf("Escalation notification for task [%s] failed: %v", taskID, err)
	}
}

func (s *Scheduler) notifyTarget(target, taskID string) {
	if err := s.notifier.Notify(service.Notification{
		RecipientID: target,
		Type:        service.NotificationEscalation,
		Subject:     "Escalated approval assigned to you",
		Body:        "An overdue approval task was reassigned to you.",
		ActionRef:   taskID,
	}); err != nil {
		s.logger.Warnf("Escalation notification for task [%s] failed: %v", taskID, err)
	}
}

func (s *Scheduler) append(task *state.ApprovalTask, data map[string]interface{}) {
	_, err := s.auditLog.Append(task.OrganizationID, audit.EventEscalated, task.InstanceID, "", data)
	if err != nil {
		s.logger.Errorf("Audit append for task [%s] failed: %v", task.ID, err)
	}
}
