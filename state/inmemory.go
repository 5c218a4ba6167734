package state

import (
	"sort"
	"sync"
	"time"

	"github.com/bilansoft/approvalflow/model"
	"github.com/bilansoft/approvalflow/util"
)

// InMemoryStore is the reference Store implementation. A database-backed
// store would express each transition as a conditional single-row update
// ("... WHERE id=? AND status=?"); here the same guard runs under one mutex.
type InMemoryStore struct {
	mu sync.Mutex

	instances map[string]*WorkflowInstance
	stages    map[string]*StageInstance
	tasks     map[string]*ApprovalTask

	// insertion order for deterministic listings
	stageOrder []string
	taskOrder  []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*WorkflowInstance),
		stages:    make(map[string]*StageInstance),
		tasks:     make(map[string]*ApprovalTask),
	}
}

func copyInstance(inst *WorkflowInstance) *WorkflowInstance {
	return util.DeepCopy(inst).(*WorkflowInstance)
}

func copyStage(stage *StageInstance) *StageInstance {
	return util.DeepCopy(stage).(*StageInstance)
}

func copyTask(task *ApprovalTask) *ApprovalTask {
	return util.DeepCopy(task).(*ApprovalTask)
}

func (s *InMemoryStore) InsertInstance(inst *WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.Conflictf("instance [%s] already exists", inst.ID)
	}
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *InMemoryStore) GetInstance(id string) (*WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, model.NotFoundf("instance [%s]", id)
	}
	return copyInstance(inst), nil
}

func (s *InMemoryStore) UpdateInstance(id string, expect model.InstanceStatus, apply func(*WorkflowInstance)) (*WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, model.NotFoundf("instance [%s]", id)
	}
	if inst.Status != expect {
		return nil, model.Conflictf("instance [%s] is %s, expected %s", id, inst.Status, expect)
	}
	apply(inst)
	return copyInstance(inst), nil
}

func (s *InMemoryStore) InsertStage(stage *StageInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stages[stage.ID]; exists {
		return model.Conflictf("stage instance [%s] already exists", stage.ID)
	}
	s.stages[stage.ID] = copyStage(stage)
	s.stageOrder = append(s.stageOrder, stage.ID)
	return nil
}

func (s *InMemoryStore) GetStage(id string) (*StageInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage, ok := s.stages[id]
	if !ok {
		return nil, model.NotFoundf("stage instance [%s]", id)
	}
	return copyStage(stage), nil
}

func (s *InMemoryStore) ListStages(instanceID string) ([]*StageInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stages []*StageInstance
	for _, id := range s.stageOrder {
		stage := s.stages[id]
		if stage.InstanceID == instanceID {
			stages = append(stages, copyStage(stage))
		}
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Order < stages[j].Order })
	return stages, nil
}

func (s *InMemoryStore) TransitionStage(id string, from []model.StageStatus, to model.StageStatus, apply func(*StageInstance)) (*StageInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage, ok := s.stages[id]
	if !ok {
		return nil, model.NotFoundf("stage instance [%s]", id)
	}
	guarded := false
	for _, status := range from {
		if stage.Status == status {
			guarded = true
			break
		}
	}
	if !guarded {
		return nil, model.Conflictf("stage instance [%s] is %s", id, stage.Status)
	}
	stage.Status = to
	if apply != nil {
		apply(stage)
	}
	return copyStage(stage), nil
}

func (s *InMemoryStore) UpdateStage(id string, apply func(*StageInstance)) (*StageInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage, ok := s.stages[id]
	if !ok {
		return nil, model.NotFoundf("stage instance [%s]", id)
	}
	apply(stage)
	return copyStage(stage), nil
}

func (s *InMemoryStore) InsertTask(task *ApprovalTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return model.Conflictf("task [%s] already exists", task.ID)
	}
	s.tasks[task.ID] = copyTask(task)
	s.taskOrder = append(s.taskOrder, task.ID)
	return nil
}

func (s *InMemoryStore) GetTask(id string) (*ApprovalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, model.NotFoundf("task [%s]", id)
	}
	return copyTask(task), nil
}

func (s *InMemoryStore) ListTasks(stageInstanceID string) ([]*ApprovalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*ApprovalTask
	for _, id := range s.taskOrder {
		task := s.tasks[id]
		if task.StageInstanceID == stageInstanceID {
			tasks = append(tasks, copyTask(task))
		}
	}
	return tasks, nil
}

func (s *InMemoryStore) ListTasksByInstance(instanceID string) ([]*ApprovalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*ApprovalTask
	for _, id := range s.taskOrder {
		task := s.tasks[id]
		if task.InstanceID == instanceID {
			tasks = append(tasks, copyTask(task))
		}
	}
	return tasks, nil
}

func (s *InMemoryStore) ListOverdueTasks(now time.Time) ([]*ApprovalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*ApprovalTask
	for _, id := range s.taskOrder {
		task := s.tasks[id]
		if task.Overdue(now) {
			tasks = append(tasks, copyTask(task))
		}
	}
	return tasks, nil
}

func (s *InMemoryStore) ListDueSoonTasks(now time.Time, window time.Duration) ([]*ApprovalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := now.Add(window)
	var tasks []*ApprovalTask
	for _, id := range s.taskOrder {
		task := s.tasks[id]
		if task.Status == model.TaskStatusPending && task.ReminderSentAt == nil &&
			task.DueAt.After(now) && !task.DueAt.After(horizon) {
			tasks = append(tasks, copyTask(task))
		}
	}
	return tasks, nil
}

func (s *InMemoryStore) TransitionTask(id string, from model.TaskStatus, to model.TaskStatus, apply func(*ApprovalTask)) (*ApprovalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, model.NotFoundf("task [%s]", id)
	}
	if task.Status != from {
		return nil, model.Conflictf("task [%s] is %s, expected %s", id, task.Status, from)
	}
	task.Status = to
	if apply != nil {
		apply(task)
	}
	return copyTask(task), nil
}

func (s *InMemoryStore) MarkReminderSent(id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false, model.NotFoundf("task [%s]", id)
	}
	if task.Status != model.TaskStatusPending || task.ReminderSentAt != nil {
		return false, nil
	}
	stamp := at
	task.ReminderSentAt = &stamp
	return true, nil
}
