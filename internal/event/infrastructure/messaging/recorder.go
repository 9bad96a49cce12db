package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/wyfcoding/securitieslending/internal/event/domain"
)

// ErrPublishDisabled 模拟总线不可用
var ErrPublishDisabled = errors.New("publisher disabled")

// Recorder 内存发布器，记录全部事件，可模拟发布失败
type Recorder struct {
	mu        sync.Mutex
	workflow  []domain.WorkflowEvent
	inventory []domain.InventoryEvent
	failing   bool
}

func NewRecorder() *Recorder { return &Recorder{} }

// SetFailing 打开后所有发布返回 ErrPublishDisabled
func (r *Recorder) SetFailing(failing bool) {
	r.mu.Lock()
	r.failing = failing
	r.mu.Unlock()
}

func (r *Recorder) PublishWorkflowEvent(_ context.Context, event domain.WorkflowEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return ErrPublishDisabled
	}
	r.workflow = append(r.workflow, event)
	return nil
}

func (r *Recorder) PublishInventoryEvent(_ context.Context, event domain.InventoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return ErrPublishDisabled
	}
	r.inventory = append(r.inventory, event)
	return nil
}

func (r *Recorder) WorkflowEvents() []domain.WorkflowEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.WorkflowEvent(nil), r.workflow...)
}

func (r *Recorder) InventoryEvents() []domain.InventoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.InventoryEvent(nil), r.inventory...)
}
