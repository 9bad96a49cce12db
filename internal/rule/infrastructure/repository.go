package infrastructure

import (
	"context"
	"time"

	"github.com/wyfcoding/securitieslending/internal/rule/domain"
	"github.com/wyfcoding/securitieslending/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RulePO struct {
	ID            uint64                       `gorm:"column:id;primaryKey;autoIncrement"`
	RuleID        string                       `gorm:"column:rule_id;type:varchar(64);uniqueIndex;not null"`
	Name          string                       `gorm:"column:name;type:varchar(128)"`
	Type          string                       `gorm:"column:type;type:varchar(32);index;not null"`
	Priority      int                          `gorm:"column:priority;not null;default:100"`
	Status        string                       `gorm:"column:status;type:varchar(20);not null;default:'DRAFT'"`
	EffectiveDate *time.Time                   `gorm:"column:effective_date"`
	ExpiryDate    *time.Time                   `gorm:"column:expiry_date"`
	Conditions    []domain.ConditionDefinition `gorm:"column:conditions;type:text;serializer:json"`
	Actions       []domain.ActionDefinition    `gorm:"column:actions;type:text;serializer:json"`
	CreatedAt     time.Time                    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}

func (RulePO) TableName() string { return "approval_rules" }

type GormRuleRepository struct {
	db *gorm.DB
}

func NewGormRuleRepository(db *gorm.DB) *GormRuleRepository {
	return &GormRuleRepository{db: db}
}

func (r *GormRuleRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&RulePO{})
}

func (r *GormRuleRepository) ListByType(ctx context.Context, ruleType domain.RuleType) ([]domain.RuleDefinition, error) {
	var pos []*RulePO
	if err := r.db.WithContext(ctx).Where("type = ?", ruleType).Order("priority, rule_id").Find(&pos).Error; err != nil {
		return nil, err
	}
	defs := make([]domain.RuleDefinition, len(pos))
	for i, po := range pos {
		defs[i] = toDefinition(po)
	}
	return defs, nil
}

func (r *GormRuleRepository) Get(ctx context.Context, ruleID string) (*domain.RuleDefinition, error) {
	var po RulePO
	err := r.db.WithContext(ctx).Where("rule_id = ?", ruleID).First(&po).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	def := toDefinition(&po)
	return &def, nil
}

func (r *GormRuleRepository) Save(ctx context.Context, def *domain.RuleDefinition) error {
	po := &RulePO{
		RuleID:        def.RuleID,
		Name:          def.Name,
		Type:          string(def.Type),
		Priority:      def.Priority,
		Status:        string(def.Status),
		EffectiveDate: def.EffectiveDate,
		ExpiryDate:    def.ExpiryDate,
		Conditions:    def.Conditions,
		Actions:       def.Actions,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "type", "priority", "status", "effective_date", "expiry_date", "conditions", "actions", "updated_at"}),
	}).Create(po).Error
}

func toDefinition(po *RulePO) domain.RuleDefinition {
	return domain.RuleDefinition{
		RuleID:        po.RuleID,
		Name:          po.Name,
		Type:          domain.RuleType(po.Type),
		Priority:      po.Priority,
		Status:        domain.RuleStatus(po.Status),
		EffectiveDate: po.EffectiveDate,
		ExpiryDate:    po.ExpiryDate,
		Conditions:    po.Conditions,
		Actions:       po.Actions,
		UpdatedAt:     po.UpdatedAt,
	}
}
