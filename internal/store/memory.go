package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"trackwise/internal/models"
)

// MemoryRuleStore is the in-memory reference implementation of RuleStore.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]*models.AutomationRule
}

// NewMemoryRuleStore creates an empty in-memory rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]*models.AutomationRule)}
}

func (s *MemoryRuleStore) Get(_ context.Context, id string) (*models.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRule(rule), nil
}

func (s *MemoryRuleStore) List(_ context.Context, filter models.RuleFilter) ([]models.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AutomationRule
	for _, rule := range s.rules {
		if ruleMatches(rule, filter) {
			out = append(out, *copyRule(rule))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryRuleStore) Put(_ context.Context, rule *models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (s *MemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

// copyRule deep-copies through JSON so in-flight executions operate on a
// snapshot a concurrent update cannot corrupt.
func copyRule(rule *models.AutomationRule) *models.AutomationRule {
	raw, err := json.Marshal(rule)
	if err != nil {
		clone := *rule
		return &clone
	}
	var clone models.AutomationRule
	if err := json.Unmarshal(raw, &clone); err != nil {
		shallow := *rule
		return &shallow
	}
	return &clone
}

// MemoryExecutionStore is a bounded newest-first in-memory execution
// history.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions []models.Execution
	maxEntries int
}

// NewMemoryExecutionStore creates a history bounded to maxEntries records.
// A non-positive bound defaults to 1000.
func NewMemoryExecutionStore(maxEntries int) *MemoryExecutionStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryExecutionStore{maxEntries: maxEntries}
}

func (s *MemoryExecutionStore) Append(_ context.Context, exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append([]models.Execution{*exec}, s.executions...)
	if len(s.executions) > s.maxEntries {
		s.executions = s.executions[:s.maxEntries]
	}
	return nil
}

func (s *MemoryExecutionStore) Get(_ context.Context, id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.executions {
		if s.executions[i].ID == id {
			exec := s.executions[i]
			return &exec, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryExecutionStore) List(_ context.Context, filter models.ExecutionFilter) ([]models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Execution
	for i := range s.executions {
		if executionMatches(&s.executions[i], filter) {
			out = append(out, s.executions[i])
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out, nil
}
