package mysql

import (
	"context"

	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	"github.com/wyfcoding/securitieslending/pkg/db"
	"gorm.io/gorm"
)

// ReferenceRepository 参考数据 gorm 仓储
type ReferenceRepository struct {
	db *gorm.DB
}

func NewReferenceRepository(db *gorm.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

func (r *ReferenceRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&SecurityModel{}, &CounterpartyModel{}, &AggregationUnitModel{})
}

func first[M any](ctx context.Context, tx *gorm.DB, column, id string) (*M, error) {
	var m M
	err := tx.WithContext(ctx).Where(column+" = ?", id).First(&m).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *ReferenceRepository) GetSecurity(ctx context.Context, id string) (*domain.Security, error) {
	m, err := first[SecurityModel](ctx, r.db, "security_id", id)
	if err != nil {
		return nil, err
	}
	return toSecurity(m), nil
}

func (r *ReferenceRepository) GetCounterparty(ctx context.Context, id string) (*domain.Counterparty, error) {
	m, err := first[CounterpartyModel](ctx, r.db, "counterparty_id", id)
	if err != nil {
		return nil, err
	}
	return toCounterparty(m), nil
}

func (r *ReferenceRepository) GetAggregationUnit(ctx context.Context, id string) (*domain.AggregationUnit, error) {
	m, err := first[AggregationUnitModel](ctx, r.db, "aggregation_unit_id", id)
	if err != nil {
		return nil, err
	}
	return toAggregationUnit(m), nil
}

func (r *ReferenceRepository) SaveSecurity(ctx context.Context, s *domain.Security) error {
	return r.db.WithContext(ctx).Save(toSecurityModel(s)).Error
}

func (r *ReferenceRepository) SaveCounterparty(ctx context.Context, c *domain.Counterparty) error {
	return r.db.WithContext(ctx).Save(toCounterpartyModel(c)).Error
}

func (r *ReferenceRepository) SaveAggregationUnit(ctx context.Context, au *domain.AggregationUnit) error {
	return r.db.WithContext(ctx).Save(toAggregationUnitModel(au)).Error
}
