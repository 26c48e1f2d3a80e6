package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wildfire-lending/guardrail/internal/cache"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

// DefaultProcedure is the stored procedure that returns the rule rows for a
// (type, area) pair.
const DefaultProcedure = "wf_guardrail_rules_get"

// CacheKey names the cached serialized ruleset for a (type, area) pair.
func CacheKey(ruleType, area string) string {
	return fmt.Sprintf("RuleSet:%s:%s", ruleType, area)
}

// Manager loads, compiles, and caches rulesets. Static bundles loaded from a
// rules file take precedence over the store; everything else goes through the
// shared cache so a warm (type, area) performs no procedure calls at all.
type Manager struct {
	store     storage.RecordStore
	kv        cache.KVCache
	logger    *slog.Logger
	ttl       time.Duration
	procedure string

	mu     sync.RWMutex
	static map[string][]Rule
}

// ManagerOption tweaks Manager construction.
type ManagerOption func(*Manager)

// WithRulesTTL bounds how long a cached ruleset stays warm. Zero or negative
// keeps entries until explicitly invalidated.
func WithRulesTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = ttl }
}

// WithProcedure overrides the ruleset stored procedure name.
func WithProcedure(name string) ManagerOption {
	return func(m *Manager) {
		if strings.TrimSpace(name) != "" {
			m.procedure = name
		}
	}
}

// NewManager builds a ruleset manager over the given store and cache.
func NewManager(store storage.RecordStore, kv cache.KVCache, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     store,
		kv:        kv,
		logger:    logger.With(slog.String("component", "rule_manager")),
		procedure: DefaultProcedure,
		static:    map[string][]Rule{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetStatic replaces the full static bundle, typically after a rules file
// load or reload. Keys follow CacheKey.
func (m *Manager) SetStatic(bundle map[string][]Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bundle == nil {
		bundle = map[string][]Rule{}
	}
	m.static = bundle
}

// StaticKeys lists the (type, area) cache keys of the loaded static bundle.
func (m *Manager) StaticKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.static))
	for key := range m.static {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// GetRuleSet returns the compiled, sequence-ordered ruleset for a
// (type, area) pair. An unknown pair yields an empty ruleset, not an error.
func (m *Manager) GetRuleSet(ctx context.Context, ruleType, area string) ([]Rule, error) {
	key := CacheKey(ruleType, area)

	m.mu.RLock()
	static, ok := m.static[key]
	m.mu.RUnlock()
	if ok {
		return static, nil
	}

	if m.kv != nil {
		payload, hit, err := m.kv.Get(ctx, key)
		if err != nil {
			m.logger.Warn("ruleset cache read failed", slog.String("key", key), slog.Any("error", err))
		} else if hit {
			rules, err := decodeCachedRows(payload)
			if err == nil {
				return rules, nil
			}
			// A stale or corrupt entry falls through to the store.
			m.logger.Warn("cached ruleset discarded", slog.String("key", key), slog.Any("error", err))
		}
	}

	records, err := m.store.Call(ctx, m.procedure, ruleType, area)
	if err != nil {
		return nil, fmt.Errorf("rules: load ruleset %s/%s: %w", ruleType, area, err)
	}

	rows := make([]ruleRow, 0, len(records))
	for _, rec := range records {
		row, err := rowFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("rules: ruleset %s/%s: %w", ruleType, area, err)
		}
		rows = append(rows, row)
	}

	rules, err := CompileRows(rows)
	if err != nil {
		return nil, fmt.Errorf("rules: ruleset %s/%s: %w", ruleType, area, err)
	}

	if m.kv != nil {
		if payload, err := json.Marshal(rows); err == nil {
			if err := m.kv.Set(ctx, key, payload, m.ttl); err != nil {
				m.logger.Warn("ruleset cache write failed", slog.String("key", key), slog.Any("error", err))
			}
		}
	}

	m.logger.Debug("ruleset loaded",
		slog.String("rule_type", ruleType),
		slog.String("area", area),
		slog.Int("rules", len(rules)))
	return rules, nil
}

// Invalidate drops the cached ruleset for a (type, area) pair.
func (m *Manager) Invalidate(ctx context.Context, ruleType, area string) error {
	if m.kv == nil {
		return nil
	}
	return m.kv.Delete(ctx, CacheKey(ruleType, area))
}

// decodeCachedRows re-parses a cached ruleset. Rows are cached in their
// serializable form because compiled rules hold regexp state.
func decodeCachedRows(payload []byte) ([]Rule, error) {
	var rows []ruleRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, err
	}
	return CompileRows(rows)
}
