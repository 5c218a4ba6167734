// Package approvalflow is a document approval workflow engine: configurable
// multi-stage approvals with delegation, time-based escalation, a
// tamper-evident audit trail and bookkeeping-entry creation on approval.
package approvalflow

import (
	"time"

	"github.com/project-flogo/core/support/log"

	"github.com/bilansoft/approvalflow/audit"
	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/escalation"
	"github.com/bilansoft/approvalflow/instance"
	"github.com/bilansoft/approvalflow/ledger"
	"github.com/bilansoft/approvalflow/model"
	"github.com/bilansoft/approvalflow/service"
	"github.com/bilansoft/approvalflow/state"
	"github.com/bilansoft/approvalflow/support"
	"github.com/bilansoft/approvalflow/trigger"
)

// Config carries the engine's collaborators and deployment parameters.
// Zero values fall back to in-memory storage and no-op collaborators.
type Config struct {
	Store     state.Store
	Directory service.Directory
	Notifier  service.Notifier
	Actions   service.ActionRunner
	Entries   ledger.EntryCreator

	EscalationInterval time.Duration
	ReminderWindow     time.Duration

	Logger log.Logger
}

// Engine ties the trigger matcher, orchestrator, decision processor and
// escalation scheduler together over one store and one audit log.
type Engine struct {
	defs      *support.DefinitionManager
	matcher   *trigger.Matcher
	auditLog  *audit.Log
	orch      *instance.Orchestrator
	decisions *instance.DecisionProcessor
	scheduler *escalation.Scheduler
	store     state.Store

	logger log.Logger
}

func New(config Config) (*Engine, error) {

	logger := config.Logger
	if logger == nil {
		logger = log.ChildLogger(log.RootLogger(), "approvalflow")
	}

	store := config.Store
	if store == nil {
		store = state.NewInMemoryStore()
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = service.NoopNotifier{}
	}
	actions := config.Actions
	if actions == nil {
		actions = service.NoopActionRunner{}
	}
	directory := config.Directory
	if directory == nil {
		directory = service.NewStaticDirectory()
	}

	defs := support.NewDefinitionManager()
	auditLog := audit.NewLog()
	tasks := instance.NewTaskManager(store, directory, notifier, logger)
	orch := instance.NewOrchestrator(store, defs, auditLog, tasks, notifier, actions, config.Entries, logger)
	decisions := instance.NewDecisionProcessor(store, defs, orch, auditLog, notifier, logger)
	scheduler := escalation.NewScheduler(store, defs, tasks, auditLog, notifier,
		config.EscalationInterval, config.ReminderWindow, logger)

	return &Engine{
		defs:      defs,
		matcher:   trigger.NewMatcher(logger),
		auditLog:  auditLog,
		orch:      orch,
		decisions: decisions,
		scheduler: scheduler,
		store:     store,
		logger:    logger,
	}, nil
}

// Start launches the escalation scheduler
func (e *Engine) Start() {
	e.scheduler.Start()
}

// Stop terminates the escalation scheduler
func (e *Engine) Stop() {
	e.scheduler.Stop()
}

// RegisterDefinition materializes, validates and stores a workflow definition
func (e *Engine) RegisterDefinition(rep *definition.DefinitionRep) (*definition.Definition, error) {
	return e.defs.Register(rep)
}

// Definitions exposes the definition manager
func (e *Engine) Definitions() *support.DefinitionManager {
	return e.defs
}

// HandleDocument processes a document-ready event: matches the organization's
// definitions against the document and starts a workflow instance on the
// first match. No match is a no-op, reported through the second return.
func (e *Engine) HandleDocument(doc *definition.Document) (*state.WorkflowInstance, bool, error) {

	if doc.OrganizationID == "" {
		return nil, false, model.ConfigErrorf("document [%s] has no organization", doc.ID)
	}

	def, ok := e.matcher.Match(doc, e.defs.ActiveForOrg(doc.OrganizationID))
	if !ok {
		return nil, false, nil
	}

	inst, err := e.orch.Start(doc, def)
	if err != nil {
		return nil, true, err
	}
	return inst, true, nil
}

// Decide submits an actor's decision on an approval task
func (e *Engine) Decide(req *instance.DecisionRequest) error {
	return e.decisions.Decide(req)
}

// Cancel aborts a live workflow instance
func (e *Engine) Cancel(instanceID, reason string) error {
	return e.orch.Cancel(instanceID, reason)
}

// Instance returns a workflow instance by id
func (e *Engine) Instance(id string) (*state.WorkflowInstance, error) {
	return e.store.GetInstance(id)
}

// Stages returns the stage instances of a workflow instance in template order
func (e *Engine) Stages(instanceID string) ([]*state.StageInstance, error) {
	return e.store.ListStages(instanceID)
}

// Tasks returns all approval tasks of a workflow instance
func (e *Engine) Tasks(instanceID string) ([]*state.ApprovalTask, error) {
	return e.store.ListTasksByInstance(instanceID)
}

// Audit exposes the audit log for queries and verification
func (e *Engine) Audit() *audit.Log {
	return e.auditLog
}

// Sweep runs one escalation pass immediately; the scheduler normally drives
// this on its interval.
func (e *Engine) Sweep(now time.Time) error {
	return e.scheduler.Sweep(now)
}
