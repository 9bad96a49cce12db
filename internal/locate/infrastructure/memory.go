package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/locate/domain"
)

// MemoryRepository 进程内借券申请仓储，读写均拷贝
type MemoryRepository struct {
	mu       sync.RWMutex
	requests map[string]*domain.LocateRequest
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{requests: map[string]*domain.LocateRequest{}}
}

func (m *MemoryRepository) Create(_ context.Context, r *domain.LocateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.RequestID]; ok {
		return decision.NewStateError("locate %s already exists", r.RequestID)
	}
	m.requests[r.RequestID] = r.Clone()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*domain.LocateRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrLocateNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) Update(_ context.Context, r *domain.LocateRequest, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.RequestID]
	if !ok {
		return domain.ErrLocateNotFound
	}
	if cur.Version != expectedVersion {
		return decision.Conflict(nil)
	}
	r.Version = expectedVersion + 1
	m.requests[r.RequestID] = r.Clone()
	return nil
}

func (m *MemoryRepository) ListExpirable(_ context.Context, asOf time.Time, limit int) ([]*domain.LocateRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.LocateRequest
	for _, r := range m.requests {
		if r.Status == domain.StatusApproved && r.Approval != nil && !asOf.Before(r.Approval.ExpiryDate) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
