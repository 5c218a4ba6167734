package instance

import (
	"time"

	"github.com/google/uuid"
	"github.com/project-flogo/core/support/log"

	"github.com/bilansoft/approvalflow/audit"
	"github.com/bilansoft/approvalflow/model"
	"github.com/bilansoft/approvalflow/service"
	"github.com/bilansoft/approvalflow/state"
	"github.com/bilansoft/approvalflow/support"
)

// DecisionRequest is an actor's decision submission. Identity, IP and device
// fingerprint come from the caller's authentication layer.
type DecisionRequest struct {
	TaskID     string         `json:"taskId"`
	ActorID    string         `json:"actorId"`
	Decision   model.Decision `json:"decision"`
	Comment    string         `json:"comment,omitempty"`
	DelegateTo string         `json:"delegateTo,omitempty"`
	IP         string         `json:"ip,omitempty"`
	Device     string         `json:"device,omitempty"`
}

// DecisionProcessor applies an actor's decision to a task and evaluates
// whether the owning stage resolved. Resolution is re-evaluated after every
// decision but only one evaluation can win the stage's completion CAS, so
// near-simultaneous decisions never double-advance the orchestrator.
type DecisionProcessor struct {
	store    state.Store
	defs     *support.DefinitionManager
	orch     *Orchestrator
	auditLog *audit.Log
	notifier service.Notifier
	logger   log.Logger
}

func NewDecisionProcessor(store state.Store, defs *support.DefinitionManager, orch *Orchestrator,
	auditLog *audit.Log, notifier service.Notifier, logger log.Logger) *DecisionProcessor {

	if logger == nil {
		logger = log.ChildLogger(log.RootLogger(), "decisions")
	}
	return &DecisionProcessor{
		store:    store,
		defs:     defs,
		orch:     orch,
		auditLog: auditLog,
		notifier: notifier,
		logger:   logger,
	}
}

// Decide processes one decision submission
func (p *DecisionProcessor) Decide(req *DecisionRequest) error {

	task, err := p.store.GetTask(req.TaskID)
	if err != nil {
		return err
	}
	if task.AssigneeID != req.ActorID {
		return model.NotFoundf("no pending task [%s] for actor [%s]", req.TaskID, req.ActorID)
	}
	if task.Status != model.TaskStatusPending {
		return model.InvalidStatef("task [%s] is %s", req.TaskID, task.Status)
	}

	switch req.Decision {
	case model.DecisionDelegated:
		return p.delegate(task, req)
	case model.DecisionApproved, model.DecisionRejected:
		return p.decide(task, req)
	default:
		return model.ConfigErrorf("unsupported decision [%s]", req.Decision)
	}
}

// delegate marks the original task delegated and spawns exactly one pending
// task for the delegate with the same due date. Stage resolution is
// unaffected: the delegate's eventual decision is what counts.
func (p *DecisionProcessor) delegate(task *state.ApprovalTask, req *DecisionRequest) error {

	if req.DelegateTo == "" {
		return model.ConfigErrorf("delegation of task [%s] names no delegate", task.ID)
	}

	now := time.Now().UTC()
	delegateTask := &state.ApprovalTask{
		ID:              uuid.NewString(),
		StageInstanceID: task.StageInstanceID,
		InstanceID:      task.InstanceID,
		OrganizationID:  task.OrganizationID,
		AssigneeID:      req.DelegateTo,
		Status:          model.TaskStatusPending,
		DueAt:           task.DueAt,
		CreatedAt:       now,
	}

	_, err := p.store.TransitionTask(task.ID, model.TaskStatusPending, model.TaskStatusDelegated,
		func(t *state.ApprovalTask) {
			t.Decision = model.DecisionDelegated
			t.Comment = req.Comment
			t.ActorID = req.ActorID
			t.ActorIP = req.IP
			t.ActorDevice = req.Device
			t.DecidedAt = &now
			t.DelegateTaskID = delegateTask.ID
		})
	if err != nil {
		return err
	}

	if err := p.store.InsertTask(delegateTask); err != nil {
		return err
	}

	p.append(task, audit.EventDelegated, req.ActorID, map[string]interface{}{
		"taskId":     task.ID,
		"delegateTo": req.DelegateTo,
		"newTaskId":  delegateTask.ID,
	})

	if nerr := p.notifier.Notify(service.Notification{
		RecipientID: req.DelegateTo,
		Type:        service.NotificationApprovalRequest,
		Subject:     "Approval delegated to you",
		Body:        "A document approval was delegated to you by " + req.ActorID + ".",
		ActionRef:   delegateTask.ID,
	}); nerr != nil {
		p.logger.Warnf("Delegation notification for task [%s] failed: %v", delegateTask.ID, nerr)
	}

	return nil
}

func (p *DecisionProcessor) decide(task *state.ApprovalTask, req *DecisionRequest) error {

	now := time.Now().UTC()
	_, err := p.store.TransitionTask(task.ID, model.TaskStatusPending, model.TaskStatusCompleted,
		func(t *state.ApprovalTask) {
			t.Decision = req.Decision
			t.Comment = req.Comment
			t.ActorID = req.ActorID
			t.ActorIP = req.IP
			t.ActorDevice = req.Device
			t.DecidedAt = &now
		})
	if err != nil {
		return err
	}

	p.append(task, audit.EventApprovalCompleted, req.ActorID, map[string]interface{}{
		"taskId":   task.ID,
		"decision": req.Decision.String(),
		"comment":  req.Comment,
		"ip":       req.IP,
		"device":   req.Device,
	})

	return p.evaluateStage(task.StageInstanceID)
}

// evaluateStage recomputes the stage tally and hands a resolved outcome to
// the orchestrator. Safe under concurrent invocation: the orchestrator's
// completion CAS lets exactly one evaluation advance the workflow.
func (p *DecisionProcessor) evaluateStage(stageInstanceID string) error {

	stage, err := p.store.GetStage(stageInstanceID)
	if err != nil {
		return err
	}
	if stage.Status.Terminal() {
		return nil
	}

	inst, err := p.store.GetInstance(stage.InstanceID)
	if err != nil {
		return err
	}
	def, err := p.defs.Get(inst.DefinitionID)
	if err != nil {
		return err
	}
	tmpl := def.Stage(stage.TemplateID)
	if tmpl == nil {
		return model.NotFoundf("stage template [%s]", stage.TemplateID)
	}

	tasks, err := p.store.ListTasks(stageInstanceID)
	if err != nil {
		return err
	}

	outcome := model.Resolve(tmpl.ApprovalMode(), tmpl.Threshold(), tallyTasks(tasks))
	if outcome == model.OutcomeNone {
		return nil
	}
	return p.orch.OnStageResolved(stageInstanceID, outcome)
}

// tallyTasks counts the tasks that can still produce a resolving decision.
// Delegated and escalated originals are excluded; their replacements count.
func tallyTasks(tasks []*state.ApprovalTask) model.Tally {
	var tally model.Tally
	for _, task := range tasks {
		switch task.Status {
		case model.TaskStatusPending:
			tally.Total++
		case model.TaskStatusCompleted:
			tally.Total++
			if task.Decision == model.DecisionApproved {
				tally.Approved++
			} else if task.Decision == model.DecisionRejected {
				tally.Rejected++
			}
		}
	}
	return tally
}

func (p *DecisionProcessor) append(task *state.ApprovalTask, eventType, actorID string, data map[string]interface{}) {
	_, err := p.auditLog.Append(task.OrganizationID, eventType, task.InstanceID, actorID, data)
	if err != nil {
		p.logger.Errorf("Audit append [%s] for task [%s] failed: %v", eventType, task.ID, err)
	}
}
