package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wildfire-lending/guardrail/internal/cache"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

const (
	// LenderConfigProcedure returns one row per active lender configuration.
	LenderConfigProcedure = "wf_lender_config_get_active"
	// LenderConfigCacheKey holds every active lender config, keyed by
	// lender id, as one blob.
	LenderConfigCacheKey = "Guardrail:LenderConfigs"
)

// lenderRecord is the cached per-lender entry.
type lenderRecord struct {
	LenderID   int64           `json:"lender_id"`
	LenderName string          `json:"lender_name"`
	Config     json.RawMessage `json:"config"`
}

// LenderConfiguration selects one lender's active configuration out of the
// shared, cache-backed config table.
type LenderConfiguration struct {
	store    storage.RecordStore
	kv       cache.KVCache
	logger   *slog.Logger
	appID    int64
	lenderID int64
}

// NewLenderConfiguration requires both ids nonzero: the application id ties
// the fetch to a request, the lender id selects the configuration.
func NewLenderConfiguration(store storage.RecordStore, kv cache.KVCache, logger *slog.Logger, applicationID, lenderID int64) (*LenderConfiguration, error) {
	if applicationID <= 0 {
		return nil, fmt.Errorf("source: lender configuration requires a positive application id, got %d", applicationID)
	}
	if lenderID <= 0 {
		return nil, fmt.Errorf("source: lender configuration requires a positive lender id, got %d", lenderID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LenderConfiguration{
		store:    store,
		kv:       kv,
		logger:   logger.With(slog.String("component", "lender_configuration")),
		appID:    applicationID,
		lenderID: lenderID,
	}, nil
}

func (l *LenderConfiguration) Name() string { return "lender_configuration" }

// Fetch returns {lender_id, lender_name, config} for the requested lender,
// loading and caching the full active-config table on a cold cache.
func (l *LenderConfiguration) Fetch(ctx context.Context) (value.Value, error) {
	configs, err := l.loadConfigs(ctx)
	if err != nil {
		return value.Null(), err
	}

	rec, ok := configs[l.lenderID]
	if !ok {
		return value.Null(), &UnavailableError{Source: l.Name(), Reason: fmt.Sprintf("lender %d has no active configuration", l.lenderID)}
	}

	config := value.Null()
	if len(rec.Config) > 0 {
		parsed, err := value.FromJSON(rec.Config)
		if err != nil {
			return value.Null(), &UnavailableError{Source: l.Name(), Reason: fmt.Sprintf("lender %d config is not valid JSON: %v", l.lenderID, err)}
		}
		config = parsed
	}

	return value.Object(map[string]value.Value{
		"lender_id":   value.Int(rec.LenderID),
		"lender_name": value.String(rec.LenderName),
		"config":      config,
	}), nil
}

func (l *LenderConfiguration) loadConfigs(ctx context.Context) (map[int64]lenderRecord, error) {
	if l.kv != nil {
		payload, hit, err := l.kv.Get(ctx, LenderConfigCacheKey)
		if err != nil {
			l.logger.Warn("lender config cache read failed", slog.Any("error", err))
		} else if hit {
			var configs map[int64]lenderRecord
			if err := json.Unmarshal(payload, &configs); err == nil {
				return configs, nil
			}
			l.logger.Warn("cached lender configs discarded", slog.Any("error", err))
		}
	}

	rows, err := l.store.Call(ctx, LenderConfigProcedure)
	if err != nil {
		return nil, fmt.Errorf("source: lender configs: %w", err)
	}
	if len(rows) == 0 {
		return nil, &UnavailableError{Source: l.Name(), Reason: "no active lender configurations"}
	}

	configs := make(map[int64]lenderRecord, len(rows))
	for _, row := range rows {
		rec, err := lenderRecordFromRow(row)
		if err != nil {
			return nil, &UnavailableError{Source: l.Name(), Reason: err.Error()}
		}
		configs[rec.LenderID] = rec
	}

	if l.kv != nil {
		if payload, err := json.Marshal(configs); err == nil {
			// No TTL: lender configs persist until explicitly invalidated.
			if err := l.kv.Set(ctx, LenderConfigCacheKey, payload, 0); err != nil {
				l.logger.Warn("lender config cache write failed", slog.Any("error", err))
			}
		}
	}
	return configs, nil
}

func lenderRecordFromRow(row storage.Row) (lenderRecord, error) {
	id, err := asInt64(row["lender_id"])
	if err != nil {
		return lenderRecord{}, fmt.Errorf("lender_id: %v", err)
	}
	rec := lenderRecord{LenderID: id}
	if name, ok := row["lender_name"].(string); ok {
		rec.LenderName = name
	}
	if raw, ok := row["config"].(string); ok && raw != "" {
		if !json.Valid([]byte(raw)) {
			return lenderRecord{}, fmt.Errorf("lender %d config is not valid JSON", id)
		}
		rec.Config = json.RawMessage(raw)
	}
	return rec, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not an integer", v, v)
	}
}
