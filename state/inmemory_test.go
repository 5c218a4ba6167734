package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bilansoft/approvalflow/model"
)

func TestInstanceCAS(t *testing.T) {
	store := NewInMemoryStore()

	inst := &WorkflowInstance{ID: "wi-1", Status: model.InstanceStatusActive}
	assert.Nil(t, store.InsertInstance(inst))
	assert.ErrorIs(t, store.InsertInstance(inst), model.ErrConflict)

	updated, err := store.UpdateInstance("wi-1", model.InstanceStatusActive, func(i *WorkflowInstance) {
		i.Status = model.InstanceStatusCompleted
		i.Outcome = model.OutcomeApproved
	})
	assert.Nil(t, err)
	assert.Equal(t, model.InstanceStatusCompleted, updated.Status)

	// guard no longer holds
	_, err = store.UpdateInstance("wi-1", model.InstanceStatusActive, func(i *WorkflowInstance) {})
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = store.UpdateInstance("missing", model.InstanceStatusActive, func(i *WorkflowInstance) {})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	_ = store.InsertInstance(&WorkflowInstance{
		ID:      "wi-1",
		Status:  model.InstanceStatusActive,
		Context: map[string]interface{}{"amount": 100.0},
	})

	inst, _ := store.GetInstance("wi-1")
	inst.Context["amount"] = 999.0
	inst.Status = model.InstanceStatusFailed

	fresh, _ := store.GetInstance("wi-1")
	assert.Equal(t, 100.0, fresh.Context["amount"])
	assert.Equal(t, model.InstanceStatusActive, fresh.Status)
}

func TestStageTransitionGuard(t *testing.T) {
	store := NewInMemoryStore()
	_ = store.InsertStage(&StageInstance{ID: "si-1", InstanceID: "wi-1", Order: 1, Status: model.StageStatusPending})

	_, err := store.TransitionStage("si-1", []model.StageStatus{model.StageStatusPending}, model.StageStatusActive, nil)
	assert.Nil(t, err)

	// resolution CAS accepts active or escalated
	resolved, err := store.TransitionStage("si-1",
		[]model.StageStatus{model.StageStatusActive, model.StageStatusEscalated},
		model.StageStatusCompleted,
		func(s *StageInstance) { s.Outcome = model.OutcomeApproved })
	assert.Nil(t, err)
	assert.Equal(t, model.OutcomeApproved, resolved.Outcome)

	// a second resolution attempt degrades to a conflict
	_, err = store.TransitionStage("si-1",
		[]model.StageStatus{model.StageStatusActive, model.StageStatusEscalated},
		model.StageStatusCompleted, nil)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestStageListOrder(t *testing.T) {
	store := NewInMemoryStore()
	_ = store.InsertStage(&StageInstance{ID: "si-3", InstanceID: "wi-1", Order: 3})
	_ = store.InsertStage(&StageInstance{ID: "si-1", InstanceID: "wi-1", Order: 1})
	_ = store.InsertStage(&StageInstance{ID: "si-2", InstanceID: "wi-1", Order: 2})
	_ = store.InsertStage(&StageInstance{ID: "other", InstanceID: "wi-2", Order: 1})

	stages, err := store.ListStages("wi-1")
	assert.Nil(t, err)
	assert.Equal(t, 3, len(stages))
	assert.Equal(t, []int{1, 2, 3}, []int{stages[0].Order, stages[1].Order, stages[2].Order})
}

func TestTaskTransitionConcurrent(t *testing.T) {
	store := NewInMemoryStore()
	_ = store.InsertTask(&ApprovalTask{ID: "t-1", Status: model.TaskStatusPending, DueAt: time.Now()})

	// only one of many concurrent transitions may win
	var wins, conflicts int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TransitionTask("t-1", model.TaskStatusPending, model.TaskStatusCompleted, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, model.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 15, conflicts)
}

func TestListOverdueTasks(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()

	_ = store.InsertTask(&ApprovalTask{ID: "late", Status: model.TaskStatusPending, DueAt: now.Add(-time.Hour)})
	_ = store.InsertTask(&ApprovalTask{ID: "ontime", Status: model.TaskStatusPending, DueAt: now.Add(time.Hour)})
	_ = store.InsertTask(&ApprovalTask{ID: "done", Status: model.TaskStatusCompleted, DueAt: now.Add(-time.Hour)})

	overdue, err := store.ListOverdueTasks(now)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(overdue))
	assert.Equal(t, "late", overdue[0].ID)
}

func TestListDueSoonTasks(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()

	_ = store.InsertTask(&ApprovalTask{ID: "soon", Status: model.TaskStatusPending, DueAt: now.Add(30 * time.Minute)})
	_ = store.InsertTask(&ApprovalTask{ID: "far", Status: model.TaskStatusPending, DueAt: now.Add(5 * time.Hour)})

	due, err := store.ListDueSoonTasks(now, time.Hour)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(due))
	assert.Equal(t, "soon", due[0].ID)

	ok, err := store.MarkReminderSent("soon", now)
	assert.Nil(t, err)
	assert.True(t, ok)

	// second sweep does not re-send
	ok, _ = store.MarkReminderSent("soon", now)
	assert.False(t, ok)

	due, _ = store.ListDueSoonTasks(now, time.Hour)
	assert.Equal(t, 0, len(due))
}
