package instance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/project-flogo/core/support/log"

	"github.com/bilansoft/approvalflow/audit"
	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/ledger"
	"github.com/bilansoft/approvalflow/model"
	"github.com/bilansoft/approvalflow/service"
	"github.com/bilansoft/approvalflow/state"
	"github.com/bilansoft/approvalflow/support"
	"github.com/bilansoft/approvalflow/util"
)

// Orchestrator owns the per-document workflow instance lifecycle: starting
// it, walking stage instances forward, completing or rejecting the instance
// and invoking side effects. All stage and instance mutations go through the
// store's guarded transitions, so concurrent callers degrade to no-ops
// instead of double-advancing.
type Orchestrator struct {
	store    state.Store
	defs     *support.DefinitionManager
	auditLog *audit.Log
	tasks    *TaskManager
	notifier service.Notifier
	actions  service.ActionRunner
	entries  ledger.EntryCreator

	logger log.Logger
}

func NewOrchestrator(store state.Store, defs *support.DefinitionManager, auditLog *audit.Log,
	tasks *TaskManager, notifier service.Notifier, actions service.ActionRunner,
	entries ledger.EntryCreator, logger log.Logger) *Orchestrator {

	if logger == nil {
		logger = log.ChildLogger(log.RootLogger(), "orchestrator")
	}
	return &Orchestrator{
		store:    store,
		defs:     defs,
		auditLog: auditLog,
		tasks:    tasks,
		notifier: notifier,
		actions:  actions,
		entries:  entries,
		logger:   logger,
	}
}

// Start creates one WorkflowInstance and one pending StageInstance per stage
// template, in template order, then advances.
func (o *Orchestrator) Start(doc *definition.Document, def *definition.Definition) (*state.WorkflowInstance, error) {

	if len(def.Stages()) == 0 {
		return nil, model.ConfigErrorf("definition [%s] has zero stages", def.ID())
	}

	now := time.Now().UTC()
	inst := &state.WorkflowInstance{
		ID:             uuid.NewString(),
		DefinitionID:   def.ID(),
		OrganizationID: def.OrganizationID(),
		DocumentID:     doc.ID,
		Document:       doc,
		Context:        util.DeepCopyMap(doc.ExtractedFields),
		Status:         model.InstanceStatusActive,
		CreatedAt:      now,
	}
	if err := o.store.InsertInstance(inst); err != nil {
		return nil, err
	}
	o.defs.MarkLive(def.ID())

	for _, tmpl := range def.Stages() {
		stage := &state.StageInstance{
			ID:         uuid.NewString(),
			InstanceID: inst.ID,
			TemplateID: tmpl.ID(),
			Order:      tmpl.Order(),
			Status:     model.StageStatusPending,
		}
		if err := o.store.InsertStage(stage); err != nil {
			return nil, err
		}
	}

	o.append(inst, audit.EventWorkflowStarted, "", map[string]interface{}{
		"definitionId": def.ID(),
		"definition":   def.Name(),
		"documentId":   doc.ID,
	})
	postInstanceEvent(inst, def.Name())

	o.logger.Infof("Started instance [%s] of %s for document [%s]", inst.ID, def, doc.ID)

	if err := o.Advance(inst.ID); err != nil {
		return nil, err
	}
	return o.store.GetInstance(inst.ID)
}

// Advance walks the instance forward: skips stages whose predicates say so,
// activates the first eligible pending stage, completes the instance when no
// stage remains. Calling it while a stage is in flight re-checks the stage's
// task fan-out and otherwise does nothing.
func (o *Orchestrator) Advance(instanceID string) error {

	inst, err := o.store.GetInstance(instanceID)
	if err != nil {
		return err
	}
	if inst.Status != model.InstanceStatusActive {
		return model.InvalidStatef("instance [%s] is %s", instanceID, inst.Status)
	}

	def, err := o.defs.Get(inst.DefinitionID)
	if err != nil {
		return err
	}

	stages, err := o.store.ListStages(instanceID)
	if err != nil {
		return err
	}

	for _, stage := range stages {
		switch stage.Status {
		case model.StageStatusCompleted, model.StageStatusSkipped:
			continue

		case model.StageStatusActive, model.StageStatusEscalated:
			// a stage is in flight; retry its fan-out in case a previous
			// attempt failed on a collaborator
			tmpl := def.Stage(stage.TemplateID)
			if tmpl == nil {
				return model.NotFoundf("stage template [%s]", stage.TemplateID)
			}
			return o.ensureTasks(stage, tmpl, inst)

		case model.StageStatusPending:
			tmpl := def.Stage(stage.TemplateID)
			if tmpl == nil {
				return model.NotFoundf("stage template [%s]", stage.TemplateID)
			}

			if o.shouldSkip(tmpl, inst) {
				now := time.Now().UTC()
				_, err := o.store.TransitionStage(stage.ID,
					[]model.StageStatus{model.StageStatusPending}, model.StageStatusSkipped,
					func(s *state.StageInstance) { s.CompletedAt = &now })
				if err != nil {
					if isConflict(err) {
						return nil
					}
					return err
				}
				o.append(inst, audit.EventStageSkipped, "", map[string]interface{}{
					"stageInstanceId": stage.ID,
					"stage":           tmpl.Name(),
					"order":           tmpl.Order(),
				})
				postStageEvent(inst, def.Name(), tmpl, model.StageStatusSkipped, model.OutcomeNone)
				o.RecomputeProgress(instanceID)
				return o.Advance(instanceID)
			}

			return o.activate(stage, tmpl, inst)
		}
	}

	return o.complete(inst, def)
}

// shouldSkip applies the stage's predicates against the instance context.
// A satisfied skip predicate skips the stage; so does a failing entry
// predicate, since a linear workflow has nothing to wait for.
func (o *Orchestrator) shouldSkip(tmpl *definition.StageTemplate, inst *state.WorkflowInstance) bool {
	if tmpl.SkipPredicate() != nil && tmpl.SkipPredicate().Eval(inst.Context) {
		return true
	}
	if tmpl.EntryPredicate() != nil && !tmpl.EntryPredicate().Eval(inst.Context) {
		return true
	}
	return false
}

func (o *Orchestrator) activate(stage *state.StageInstance, tmpl *definition.StageTemplate, inst *state.WorkflowInstance) error {

	now := time.Now().UTC()
	due := now.Add(tmpl.SLA())

	activated, err := o.store.TransitionStage(stage.ID,
		[]model.StageStatus{model.StageStatusPending}, model.StageStatusActive,
		func(s *state.StageInstance) {
			s.ActivatedAt = &now
			s.DueAt = &due
		})
	if err != nil {
		if isConflict(err) {
			// another caller activated first
			return nil
		}
		return err
	}

	_, err = o.store.UpdateInstance(inst.ID, model.InstanceStatusActive,
		func(i *state.WorkflowInstance) { i.CurrentStageID = activated.ID })
	if err != nil {
		return err
	}

	o.append(inst, audit.EventStageEntered, "", map[string]interface{}{
		"stageInstanceId": activated.ID,
		"stage":           tmpl.Name(),
		"order":           tmpl.Order(),
		"dueAt":           due,
	})
	postStageEvent(inst, tmpl.Definition().Name(), tmpl, model.StageStatusActive, model.OutcomeNone)

	o.runActions(tmpl.OnEnter(), inst)

	return o.ensureTasks(activated, tmpl, inst)
}

// ensureTasks fans out the stage's approval tasks. An empty assignee set is
// immediate approval under any-mode and a configuration error for the modes
// that need a quorum.
func (o *Orchestrator) ensureTasks(stage *state.StageInstance, tmpl *definition.StageTemplate, inst *state.WorkflowInstance) error {

	existing, err := o.store.ListTasks(stage.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	assignees, err := o.tasks.ResolveAssignees(tmpl.Assignee(), inst.Document, inst.Document.OwnerID)
	if err != nil {
		return err
	}

	if len(assignees) == 0 {
		if tmpl.ApprovalMode() == model.ApprovalModeAny {
			o.logger.Debugf("Stage [%s] resolved no assignees, auto-approving under any-mode", stage.ID)
			return o.OnStageResolved(stage.ID, model.OutcomeApproved)
		}
		return model.ConfigErrorf("stage '%s' resolved zero assignees under %s mode",
			tmpl.Name(), tmpl.ApprovalMode())
	}

	return o.tasks.CreateTasks(stage, inst, assignees)
}

// OnStageResolved marks the stage completed with the given outcome and moves
// the instance on. The active-to-completed transition is the CAS point for
// stage resolution: a concurrent double-resolution degrades to a no-op here.
func (o *Orchestrator) OnStageResolved(stageInstanceID string, outcome model.Outcome) error {

	now := time.Now().UTC()
	stage, err := o.store.TransitionStage(stageInstanceID,
		[]model.StageStatus{model.StageStatusActive, model.StageStatusEscalated},
		model.StageStatusCompleted,
		func(s *state.StageInstance) {
			s.Outcome = outcome
			s.CompletedAt = &now
		})
	if err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}

	// remaining siblings were not consulted; void them so the escalation
	// sweep never picks up tasks of a resolved stage
	if err := o.tasks.ExpireStageSiblings(stage.ID); err != nil {
		return err
	}

	inst, err := o.store.GetInstance(stage.InstanceID)
	if err != nil {
		return err
	}
	def, err := o.defs.Get(inst.DefinitionID)
	if err != nil {
		return err
	}
	tmpl := def.Stage(stage.TemplateID)
	if tmpl == nil {
		return model.NotFoundf("stage template [%s]", stage.TemplateID)
	}

	if outcome == model.OutcomeApproved {
		o.runActions(tmpl.OnApprove(), inst)
	} else {
		o.runActions(tmpl.OnReject(), inst)
	}

	o.append(inst, audit.EventStageCompleted, "", map[string]interface{}{
		"stageInstanceId": stage.ID,
		"stage":           tmpl.Name(),
		"order":           tmpl.Order(),
		"outcome":         outcome.String(),
	})
	postStageEvent(inst, def.Name(), tmpl, model.StageStatusCompleted, outcome)
	o.RecomputeProgress(inst.ID)

	if outcome == model.OutcomeRejected {
		return o.reject(inst, def)
	}
	return o.Advance(inst.ID)
}

// complete terminates the instance as approved. When the definition requires
// a bookkeeping entry the collaborator is invoked exactly once; its failure
// is reported to the caller but never reverts the approved outcome.
func (o *Orchestrator) complete(inst *state.WorkflowInstance, def *definition.Definition) error {

	now := time.Now().UTC()
	updated, err := o.store.UpdateInstance(inst.ID, model.InstanceStatusActive,
		func(i *state.WorkflowInstance) {
			i.Status = model.InstanceStatusCompleted
			i.Outcome = model.OutcomeApproved
			i.Progress = 100
			i.CurrentStageID = ""
			i.CompletedAt = &now
		})
	if err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	o.defs.MarkDone(def.ID())

	var entryErr error
	if def.RequiresEntry() {
		entryErr = o.createEntry(updated, def)
	}

	o.append(updated, audit.EventWorkflowCompleted, "", map[string]interface{}{
		"outcome": model.OutcomeApproved.String(),
	})
	postInstanceEvent(updated, def.Name())
	o.notifyOwner(updated, service.NotificationCompleted, "Document approved",
		"Document "+updated.DocumentID+" completed its approval workflow.")

	o.logger.Infof("Instance [%s] completed approved", inst.ID)
	return entryErr
}

func (o *Orchestrator) createEntry(inst *state.WorkflowInstance, def *definition.Definition) error {

	if o.entries == nil {
		err := model.DependencyErrorf("no bookkeeping collaborator configured")
		o.append(inst, audit.EventEntryFailed, "", map[string]interface{}{"error": err.Error()})
		return err
	}

	entryID, err := o.entries.CreateEntry(context.Background(), &ledger.Request{
		InstanceID:     inst.ID,
		DocumentID:     inst.DocumentID,
		OrganizationID: inst.OrganizationID,
		TemplateRef:    def.EntryTemplateRef(),
		Fields:         inst.Context,
	})
	if err != nil {
		// approval audit and financial posting stay decoupled: the outcome
		// remains approved, the posting is retried out of band
		o.logger.Errorf("Entry creation for instance [%s] failed: %v", inst.ID, err)
		o.append(inst, audit.EventEntryFailed, "", map[string]interface{}{"error": err.Error()})
		return err
	}

	_, err = o.store.UpdateInstance(inst.ID, model.InstanceStatusCompleted,
		func(i *state.WorkflowInstance) { i.EntryID = entryID })
	if err != nil {
		return err
	}

	o.append(inst, audit.EventEntryCreated, "", map[string]interface{}{"entryId": entryID})
	return nil
}

// reject terminates the instance as rejected and voids every task still
// pending anywhere in it.
func (o *Orchestrator) reject(inst *state.WorkflowInstance, def *definition.Definition) error {

	now := time.Now().UTC()
	updated, err := o.store.UpdateInstance(inst.ID, model.InstanceStatusActive,
		func(i *state.WorkflowInstance) {
			i.Status = model.InstanceStatusCompleted
			i.Outcome = model.OutcomeRejected
			i.CurrentStageID = ""
			i.CompletedAt = &now
		})
	if err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	o.defs.MarkDone(def.ID())

	if err := o.tasks.ExpirePendingTasks(inst.ID); err != nil {
		return err
	}

	o.append(updated, audit.EventWorkflowCompleted, "", map[string]interface{}{
		"outcome": model.OutcomeRejected.String(),
	})
	postInstanceEvent(updated, def.Name())
	o.notifyOwner(updated, service.NotificationRejected, "Document rejected",
		"Document "+updated.DocumentID+" was rejected during approval.")

	o.logger.Infof("Instance [%s] completed rejected", inst.ID)
	return nil
}

// Cancel aborts a live instance. Terminal instances reject with InvalidState.
func (o *Orchestrator) Cancel(instanceID, reason string) error {

	now := time.Now().UTC()
	updated, err := o.store.UpdateInstance(instanceID, model.InstanceStatusActive,
		func(i *state.WorkflowInstance) {
			i.Status = model.InstanceStatusCancelled
			i.CancelReason = reason
			i.CurrentStageID = ""
			i.CompletedAt = &now
		})
	if err != nil {
		if isConflict(err) {
			return model.InvalidStatef("instance [%s] is already terminal", instanceID)
		}
		return err
	}
	o.defs.MarkDone(updated.DefinitionID)

	if err := o.tasks.ExpirePendingTasks(instanceID); err != nil {
		return err
	}

	defName := ""
	if def, derr := o.defs.Get(updated.DefinitionID); derr == nil {
		defName = def.Name()
	}
	o.append(updated, audit.EventWorkflowCancelled, "", map[string]interface{}{"reason": reason})
	postInstanceEvent(updated, defName)

	o.logger.Infof("Instance [%s] cancelled: %s", instanceID, reason)
	return nil
}

// RecomputeProgress derives the progress percentage from terminal stage
// counts. Explicit by design: the invariant lives in code, not in storage
// triggers.
func (o *Orchestrator) RecomputeProgress(instanceID string) {

	stages, err := o.store.ListStages(instanceID)
	if err != nil || len(stages) == 0 {
		return
	}
	terminal := 0
	for _, stage := range stages {
		if stage.Status.Terminal() {
			terminal++
		}
	}
	progress := terminal * 100 / len(stages)

	_, err = o.store.UpdateInstance(instanceID, model.InstanceStatusActive,
		func(i *state.WorkflowInstance) { i.Progress = progress })
	if err != nil && !isConflict(err) {
		o.logger.Warnf("Progress recompute for instance [%s] failed: %v", instanceID, err)
	}
}

func (o *Orchestrator) runActions(actions []definition.Action, inst *state.WorkflowInstance) {
	for _, action := range actions {
		if err := o.actions.Run(action, inst.ID, inst.Context); err != nil {
			// collaborator failures leave the stage active; retried on the
			// next advance attempt
			o.logger.Warnf("Action %s on instance [%s] failed: %v", action.Type, inst.ID, err)
			o.append(inst, audit.EventActionFailed, "", map[string]interface{}{
				"action": action.Type.String(),
				"ref":    action.Ref,
				"error":  err.Error(),
			})
		}
	}
}

func (o *Orchestrator) notifyOwner(inst *state.WorkflowInstance, nType service.NotificationType, subject, body string) {
	err := o.notifier.Notify(service.Notification{
		RecipientID: inst.Document.OwnerID,
		Type:        nType,
		Subject:     subject,
		Body:        body,
		ActionRef:   inst.ID,
	})
	if err != nil {
		o.logger.Warnf("Notification for instance [%s] failed: %v", inst.ID, err)
	}
}

func (o *Orchestrator) append(inst *state.WorkflowInstance, eventType, actorID string, data map[string]interface{}) {
	_, err := o.auditLog.Append(inst.OrganizationID, eventType, inst.ID, actorID, data)
	if err != nil {
		o.logger.Errorf("Audit append [%s] for instance [%s] failed: %v", eventType, inst.ID, err)
	}
}
