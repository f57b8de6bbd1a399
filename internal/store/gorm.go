package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trackwise/internal/models"

	"gorm.io/gorm"
)

// ruleRow is the database shape of a rule. Trigger/condition/action lists
// are stored as JSON text columns.
type ruleRow struct {
	ID             string     `gorm:"primaryKey"`
	Name           string     `gorm:"not null"`
	Description    string     `gorm:"type:text"`
	Enabled        bool       `gorm:"index"`
	ProjectKeys    string     `gorm:"type:text"`
	Triggers       string     `gorm:"type:text"`
	Conditions     string     `gorm:"type:text"`
	Actions        string     `gorm:"type:text"`
	CreatedBy      string     ``
	CreatedAt      time.Time  ``
	UpdatedAt      time.Time  ``
	ExecutionCount int        ``
	FailureCount   int        ``
	LastExecuted   *time.Time ``
}

func (ruleRow) TableName() string { return "automation_rules" }

// executionRow is the database shape of an execution record.
type executionRow struct {
	ID          string    `gorm:"primaryKey"`
	RuleID      string    `gorm:"index"`
	Status      string    `gorm:"index"`
	TriggeredAt time.Time `gorm:"index"`
	TriggeredBy string    ``
	DurationMS  int64     ``
	Context     string    `gorm:"type:text"`
	Results     string    `gorm:"type:text"`
	Error       string    `gorm:"type:text"`
}

func (executionRow) TableName() string { return "automation_executions" }

// Migrate creates or updates the store tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ruleRow{}, &executionRow{})
}

func marshalColumn(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}
	return string(raw), nil
}

func toRuleRow(rule *models.AutomationRule) (*ruleRow, error) {
	keys, err := marshalColumn(rule.ProjectKeys)
	if err != nil {
		return nil, err
	}
	triggers, err := marshalColumn(rule.Triggers)
	if err != nil {
		return nil, err
	}
	conditions, err := marshalColumn(rule.Conditions)
	if err != nil {
		return nil, err
	}
	actions, err := marshalColumn(rule.Actions)
	if err != nil {
		return nil, err
	}
	return &ruleRow{
		ID:             rule.ID,
		Name:           rule.Name,
		Description:    rule.Description,
		Enabled:        rule.Enabled,
		ProjectKeys:    keys,
		Triggers:       triggers,
		Conditions:     conditions,
		Actions:        actions,
		CreatedBy:      rule.CreatedBy,
		CreatedAt:      rule.CreatedAt,
		UpdatedAt:      rule.UpdatedAt,
		ExecutionCount: rule.ExecutionCount,
		FailureCount:   rule.FailureCount,
		LastExecuted:   rule.LastExecuted,
	}, nil
}

func fromRuleRow(row *ruleRow) (*models.AutomationRule, error) {
	rule := &models.AutomationRule{
		ID:             row.ID,
		Name:           row.Name,
		Description:    row.Description,
		Enabled:        row.Enabled,
		CreatedBy:      row.CreatedBy,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		ExecutionCount: row.ExecutionCount,
		FailureCount:   row.FailureCount,
		LastExecuted:   row.LastExecuted,
	}
	if row.ProjectKeys != "" {
		if err := json.Unmarshal([]byte(row.ProjectKeys), &rule.ProjectKeys); err != nil {
			return nil, fmt.Errorf("decode project keys for %s: %w", row.ID, err)
		}
	}
	if row.Triggers != "" {
		if err := json.Unmarshal([]byte(row.Triggers), &rule.Triggers); err != nil {
			return nil, fmt.Errorf("decode triggers for %s: %w", row.ID, err)
		}
	}
	if row.Conditions != "" {
		if err := json.Unmarshal([]byte(row.Conditions), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("decode conditions for %s: %w", row.ID, err)
		}
	}
	if row.Actions != "" {
		if err := json.Unmarshal([]byte(row.Actions), &rule.Actions); err != nil {
			return nil, fmt.Errorf("decode actions for %s: %w", row.ID, err)
		}
	}
	return rule, nil
}

// GormRuleStore is the database-backed RuleStore.
type GormRuleStore struct {
	db *gorm.DB
}

// NewGormRuleStore wraps a gorm handle as a RuleStore.
func NewGormRuleStore(db *gorm.DB) *GormRuleStore {
	return &GormRuleStore{db: db}
}

func (s *GormRuleStore) Get(ctx context.Context, id string) (*models.AutomationRule, error) {
	var row ruleRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRuleRow(&row)
}

func (s *GormRuleStore) List(ctx context.Context, filter models.RuleFilter) ([]models.AutomationRule, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	var rows []ruleRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	var out []models.AutomationRule
	for i := range rows {
		rule, err := fromRuleRow(&rows[i])
		if err != nil {
			return nil, err
		}
		// Project and trigger filters live in JSON columns, applied here.
		if ruleMatches(rule, filter) {
			out = append(out, *rule)
		}
	}
	return out, nil
}

func (s *GormRuleStore) Put(ctx context.Context, rule *models.AutomationRule) error {
	row, err := toRuleRow(rule)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *GormRuleStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&ruleRow{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GormExecutionStore is the database-backed ExecutionStore. Appends prune
// the oldest rows beyond the configured bound.
type GormExecutionStore struct {
	db         *gorm.DB
	maxEntries int
}

// NewGormExecutionStore wraps a gorm handle as an ExecutionStore bounded to
// maxEntries records.
func NewGormExecutionStore(db *gorm.DB, maxEntries int) *GormExecutionStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &GormExecutionStore{db: db, maxEntries: maxEntries}
}

func toExecutionRow(exec *models.Execution) (*executionRow, error) {
	ctxJSON, err := marshalColumn(exec.Context)
	if err != nil {
		return nil, err
	}
	resultsJSON, err := marshalColumn(exec.Results)
	if err != nil {
		return nil, err
	}
	return &executionRow{
		ID:          exec.ID,
		RuleID:      exec.RuleID,
		Status:      string(exec.Status),
		TriggeredAt: exec.TriggeredAt,
		TriggeredBy: exec.TriggeredBy,
		DurationMS:  exec.DurationMS,
		Context:     ctxJSON,
		Results:     resultsJSON,
		Error:       exec.Error,
	}, nil
}

func fromExecutionRow(row *executionRow) (*models.Execution, error) {
	exec := &models.Execution{
		ID:          row.ID,
		RuleID:      row.RuleID,
		Status:      models.ExecutionStatus(row.Status),
		TriggeredAt: row.TriggeredAt,
		TriggeredBy: row.TriggeredBy,
		DurationMS:  row.DurationMS,
		Error:       row.Error,
	}
	if row.Context != "" && row.Context != "null" {
		if err := json.Unmarshal([]byte(row.Context), &exec.Context); err != nil {
			return nil, fmt.Errorf("decode context for %s: %w", row.ID, err)
		}
	}
	if row.Results != "" && row.Results != "null" {
		if err := json.Unmarshal([]byte(row.Results), &exec.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", row.ID, err)
		}
	}
	return exec, nil
}

func (s *GormExecutionStore) Append(ctx context.Context, exec *models.Execution) error {
	row, err := toExecutionRow(exec)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	return s.prune(ctx)
}

func (s *GormExecutionStore) prune(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&executionRow{}).Count(&count).Error; err != nil {
		return err
	}
	overflow := int(count) - s.maxEntries
	if overflow <= 0 {
		return nil
	}
	var ids []string
	if err := s.db.WithContext(ctx).Model(&executionRow{}).
		Order("triggered_at ASC").Limit(overflow).Pluck("id", &ids).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&executionRow{}, "id IN ?", ids).Error
}

func (s *GormExecutionStore) Get(ctx context.Context, id string) (*models.Execution, error) {
	var row executionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromExecutionRow(&row)
}

func (s *GormExecutionStore) List(ctx context.Context, filter models.ExecutionFilter) ([]models.Execution, error) {
	query := s.db.WithContext(ctx).Order("triggered_at DESC")
	if filter.RuleID != "" {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []executionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	var out []models.Execution
	for i := range rows {
		exec, err := fromExecutionRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, nil
}
