package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
)

// ReferenceRepository 进程内参考数据
type ReferenceRepository struct {
	mu         sync.RWMutex
	securities map[string]domain.Security
	parties    map[string]domain.Counterparty
	units      map[string]domain.AggregationUnit
}

func NewReferenceRepository() *ReferenceRepository {
	return &ReferenceRepository{
		securities: map[string]domain.Security{},
		parties:    map[string]domain.Counterparty{},
		units:      map[string]domain.AggregationUnit{},
	}
}

func (r *ReferenceRepository) GetSecurity(_ context.Context, id string) (*domain.Security, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.securities[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (r *ReferenceRepository) GetCounterparty(_ context.Context, id string) (*domain.Counterparty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.parties[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *ReferenceRepository) GetAggregationUnit(_ context.Context, id string) (*domain.AggregationUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	au, ok := r.units[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &au, nil
}

func (r *ReferenceRepository) SaveSecurity(_ context.Context, s *domain.Security) error {
	r.mu.Lock()
	r.securities[s.SecurityID] = *s
	r.mu.Unlock()
	return nil
}

func (r *ReferenceRepository) SaveCounterparty(_ context.Context, c *domain.Counterparty) error {
	r.mu.Lock()
	r.parties[c.CounterpartyID] = *c
	r.mu.Unlock()
	return nil
}

func (r *ReferenceRepository) SaveAggregationUnit(_ context.Context, au *domain.AggregationUnit) error {
	r.mu.Lock()
	r.units[au.AggregationUnitID] = *au
	r.mu.Unlock()
	return nil
}
