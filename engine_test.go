package approvalflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bilansoft/approvalflow/audit"
	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/instance"
	"github.com/bilansoft/approvalflow/ledger"
	"github.com/bilansoft/approvalflow/model"
	"github.com/bilansoft/approvalflow/service"
	"github.com/bilansoft/approvalflow/state"
)

type capturingNotifier struct {
	mu   sync.Mutex
	sent []service.Notification
}

func (n *capturingNotifier) Notify(msg service.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type stubEntries struct {
	mu    sync.Mutex
	calls int
}

func (s *stubEntries) CreateEntry(_ context.Context, _ *ledger.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "entry-1", nil
}

func newEngine(t *testing.T) (*Engine, *capturingNotifier, *service.StaticDirectory, *stubEntries) {
	t.Helper()

	notifier := &capturingNotifier{}
	directory := service.NewStaticDirectory()
	entries := &stubEntries{}

	engine, err := New(Config{
		Directory: directory,
		Notifier:  notifier,
		Entries:   entries,
	})
	assert.Nil(t, err)
	return engine, notifier, directory, entries
}

func singleStageRep(mode string, users []string, escalation *definition.AssigneeRep) *definition.DefinitionRep {
	return &definition.DefinitionRep{
		ID:             "def-1",
		Name:           "single-stage",
		OrganizationID: "org-1",
		DocumentTypes:  []string{"invoice"},
		Stages: []*definition.StageRep{
			{
				Name:         "review",
				Order:        1,
				ApprovalMode: mode,
				Assignee:     &definition.AssigneeRep{Type: "fixed_users", Users: users},
				Escalation:   escalation,
				SLA:          "24h",
			},
		},
	}
}

func document(amount float64) *definition.Document {
	return &definition.Document{
		ID:              "doc-1",
		Type:            "invoice",
		OwnerID:         "u-owner",
		OrganizationID:  "org-1",
		ExtractedFields: map[string]interface{}{"amount": amount},
	}
}

func pendingTaskOf(t *testing.T, engine *Engine, instanceID, assignee string) *state.ApprovalTask {
	t.Helper()
	tasks, err := engine.Tasks(instanceID)
	assert.Nil(t, err)
	for _, task := range tasks {
		if task.AssigneeID == assignee && task.Status == model.TaskStatusPending {
			return task
		}
	}
	t.Fatalf("no pending task for %s", assignee)
	return nil
}

// one any-mode stage, two assignees: the first approval settles the stage and
// the instance, the unconsulted task is expired
func TestFirstApprovalCompletesAnyModeStage(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	_, err := engine.RegisterDefinition(singleStageRep("any", []string{"u-one", "u-two"}, nil))
	assert.Nil(t, err)

	inst, matched, err := engine.HandleDocument(document(1200))
	assert.Nil(t, err)
	assert.True(t, matched)

	task := pendingTaskOf(t, engine, inst.ID, "u-one")
	assert.Nil(t, engine.Decide(&instance.DecisionRequest{
		TaskID:   task.ID,
		ActorID:  "u-one",
		Decision: model.DecisionApproved,
	}))

	inst, err = engine.Instance(inst.ID)
	assert.Nil(t, err)
	assert.Equal(t, model.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, model.OutcomeApproved, inst.Outcome)

	stages, err := engine.Stages(inst.ID)
	assert.Nil(t, err)
	assert.Equal(t, model.StageStatusCompleted, stages[0].Status)
	assert.Equal(t, model.OutcomeApproved, stages[0].Outcome)

	tasks, err := engine.Tasks(inst.ID)
	assert.Nil(t, err)
	for _, task := range tasks {
		if task.AssigneeID == "u-two" {
			assert.Equal(t, model.TaskStatusExpired, task.Status)
		}
	}

	assert.Nil(t, engine.Audit().Verify("org-1"))
}

// one all-mode stage, nobody decides within the SLA: the sweep escalates both
// tasks to the configured manager role with a fresh 24h due date
func TestOverdueTasksEscalateToManagerRole(t *testing.T) {
	engine, _, directory, _ := newEngine(t)
	directory.AddRole("org-1", "managers", "u-boss")

	_, err := engine.RegisterDefinition(singleStageRep("all", []string{"u-one", "u-two"},
		&definition.AssigneeRep{Type: "role", Role: "managers"}))
	assert.Nil(t, err)

	inst, _, err := engine.HandleDocument(document(1200))
	assert.Nil(t, err)

	sweepAt := time.Now().UTC().Add(25 * time.Hour)
	assert.Nil(t, engine.Sweep(sweepAt))

	tasks, err := engine.Tasks(inst.ID)
	assert.Nil(t, err)

	var escalated, replacements int
	for _, task := range tasks {
		switch task.Status {
		case model.TaskStatusEscalated:
			escalated++
		case model.TaskStatusPending:
			replacements++
			assert.Equal(t, "u-boss", task.AssigneeID)
			assert.Equal(t, sweepAt.Add(24*time.Hour), task.DueAt)
		}
	}
	assert.Equal(t, 2, escalated)
	assert.Equal(t, 2, replacements)

	// the manager's approvals now resolve the stage
	for _, task := range tasks {
		if task.Status == model.TaskStatusPending {
			assert.Nil(t, engine.Decide(&instance.DecisionRequest{
				TaskID:   task.ID,
				ActorID:  "u-boss",
				Decision: model.DecisionApproved,
			}))
		}
	}

	inst, err = engine.Instance(inst.ID)
	assert.Nil(t, err)
	assert.Equal(t, model.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, model.OutcomeApproved, inst.Outcome)
	assert.Nil(t, engine.Audit().Verify("org-1"))
}

// three sequential stages with a skip predicate on the middle one: a small
// amount routes around the finance stage entirely
func TestSkipPredicateRoutesAroundStage(t *testing.T) {
	engine, _, _, entries := newEngine(t)

	_, err := engine.RegisterDefinition(&definition.DefinitionRep{
		ID:             "def-3",
		Name:           "three-stage",
		OrganizationID: "org-1",
		DocumentTypes:  []string{"invoice"},
		Stages: []*definition.StageRep{
			{
				Name: "manager", Order: 1, ApprovalMode: "any",
				Assignee: &definition.AssigneeRep{Type: "fixed_users", Users: []string{"u-one"}},
				SLA:      "24h",
			},
			{
				Name: "finance", Order: 2, ApprovalMode: "any",
				Assignee: &definition.AssigneeRep{Type: "fixed_users", Users: []string{"u-fin"}},
				SLA:      "24h",
				Skip:     []*definition.ConditionRep{{Field: "amount", Op: "lt", Value: 10000}},
			},
			{
				Name: "board", Order: 3, ApprovalMode: "any",
				Assignee: &definition.AssigneeRep{Type: "fixed_users", Users: []string{"u-three"}},
				SLA:      "24h",
			},
		},
		RequiresEntry:    true,
		EntryTemplateRef: "tmpl-standard",
	})
	assert.Nil(t, err)

	inst, _, err := engine.HandleDocument(document(5000))
	assert.Nil(t, err)

	assert.Nil(t, engine.Decide(&instance.DecisionRequest{
		TaskID: pendingTaskOf(t, engine, inst.ID, "u-one").ID, ActorID: "u-one", Decision: model.DecisionApproved,
	}))

	stages, err := engine.Stages(inst.ID)
	assert.Nil(t, err)
	assert.Equal(t, model.StageStatusCompleted, stages[0].Status)
	assert.Equal(t, model.StageStatusSkipped, stages[1].Status)
	assert.Equal(t, model.StageStatusActive, stages[2].Status)

	assert.Nil(t, engine.Decide(&instance.DecisionRequest{
		TaskID: pendingTaskOf(t, engine, inst.ID, "u-three").ID, ActorID: "u-three", Decision: model.DecisionApproved,
	}))

	inst, err = engine.Instance(inst.ID)
	assert.Nil(t, err)
	assert.Equal(t, model.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, model.OutcomeApproved, inst.Outcome)
	assert.Equal(t, "entry-1", inst.EntryID)
	assert.Equal(t, 1, entries.calls)
	assert.Nil(t, engine.Audit().Verify("org-1"))
}

// a mid-workflow rejection terminates the instance and every task still
// pending anywhere in it is explicitly expired
func TestMidWorkflowRejectionTerminates(t *testing.T) {
	engine, _, _, entries := newEngine(t)

	_, err := engine.RegisterDefinition(&definition.DefinitionRep{
		ID:             "def-4",
		Name:           "two-stage",
		OrganizationID: "org-1",
		DocumentTypes:  []string{"invoice"},
		Stages: []*definition.StageRep{
			{
				Name: "manager", Order: 1, ApprovalMode: "all",
				Assignee: &definition.AssigneeRep{Type: "fixed_users", Users: []string{"u-one", "u-two"}},
				SLA:      "24h",
			},
			{
				Name: "board", Order: 2, ApprovalMode: "any",
				Assignee: &definition.AssigneeRep{Type: "fixed_users", Users: []string{"u-three"}},
				SLA:      "24h",
			},
		},
		RequiresEntry: true,
	})
	assert.Nil(t, err)

	inst, _, err := engine.HandleDocument(document(1200))
	assert.Nil(t, err)

	assert.Nil(t, engine.Decide(&instance.DecisionRequest{
		TaskID:   pendingTaskOf(t, engine, inst.ID, "u-one").ID,
		ActorID:  "u-one",
		Decision: model.DecisionRejected,
		Comment:  "missing purchase order",
	}))

	inst, err = engine.Instance(inst.ID)
	assert.Nil(t, err)
	assert.Equal(t, model.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, model.OutcomeRejected, inst.Outcome)

	stages, err := engine.Stages(inst.ID)
	assert.Nil(t, err)
	assert.Equal(t, model.StageStatusCompleted, stages[0].Status)
	assert.Equal(t, model.OutcomeRejected, stages[0].Outcome)
	assert.Equal(t, model.StageStatusPending, stages[1].Status)

	tasks, err := engine.Tasks(inst.ID)
	assert.Nil(t, err)
	for _, task := range tasks {
		assert.NotEqual(t, model.TaskStatusPending, task.Status)
	}

	// rejection never posts to the ledger
	assert.Equal(t, 0, entries.calls)
	assert.Nil(t, engine.Audit().Verify("org-1"))
}

func TestHandleDocumentWithoutMatch(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	_, err := engine.RegisterDefinition(singleStageRep("any", []string{"u-one"}, nil))
	assert.Nil(t, err)

	doc := document(1200)
	doc.Type = "contract"

	inst, matched, err := engine.HandleDocument(doc)
	assert.Nil(t, err)
	assert.False(t, matched)
	assert.Nil(t, inst)
}

func TestHandleDocumentRequiresOrganization(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	doc := document(1200)
	doc.OrganizationID = ""

	_, _, err := engine.HandleDocument(doc)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestTriggerAmountBound(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	rep := singleStageRep("any", []string{"u-one"}, nil)
	min := 10000.0
	rep.Trigger = &definition.TriggerRep{MinAmount: &min}
	_, err := engine.RegisterDefinition(rep)
	assert.Nil(t, err)

	_, matched, err := engine.HandleDocument(document(1200))
	assert.Nil(t, err)
	assert.False(t, matched)

	_, matched, err = engine.HandleDocument(document(25000))
	assert.Nil(t, err)
	assert.True(t, matched)
}

func TestCancelThroughEngine(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	_, err := engine.RegisterDefinition(singleStageRep("any", []string{"u-one"}, nil))
	assert.Nil(t, err)

	inst, _, err := engine.HandleDocument(document(1200))
	assert.Nil(t, err)

	assert.Nil(t, engine.Cancel(inst.ID, "submitted twice"))

	inst, err = engine.Instance(inst.ID)
	assert.Nil(t, err)
	assert.Equal(t, model.InstanceStatusCancelled, inst.Status)
	assert.Equal(t, "submitted twice", inst.CancelReason)

	err = engine.Cancel(inst.ID, "again")
	assert.True(t, errors.Is(err, model.ErrInvalidState))
}

func TestAuditTrailCoversLifecycle(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	_, err := engine.RegisterDefinition(singleStageRep("any", []string{"u-one"}, nil))
	assert.Nil(t, err)

	inst, _, err := engine.HandleDocument(document(1200))
	assert.Nil(t, err)

	assert.Nil(t, engine.Decide(&instance.DecisionRequest{
		TaskID:   pendingTaskOf(t, engine, inst.ID, "u-one").ID,
		ActorID:  "u-one",
		Decision: model.DecisionApproved,
	}))

	entries, err := engine.Audit().Entries(audit.Query{OrganizationID: "org-1", InstanceID: inst.ID})
	assert.Nil(t, err)

	types := make([]string, 0, len(entries))
	for _, entry := range entries {
		types = append(types, entry.EventType)
	}
	assert.Equal(t, []string{
		audit.EventWorkflowStarted,
		audit.EventStageEntered,
		audit.EventApprovalCompleted,
		audit.EventStageCompleted,
		audit.EventWorkflowCompleted,
	}, types)

	assert.Nil(t, engine.Audit().Verify("org-1"))
}

func TestEngineStartStop(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	engine.Start()
	engine.Stop()
}
