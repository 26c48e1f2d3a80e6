package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wildfire-lending/guardrail/internal/cache"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

// ApplicationProcedure returns one row per application id with the full
// application document in a payload column.
const ApplicationProcedure = "wf_applications_get"

// applicationTTL bounds payload staleness: application documents change
// during underwriting, so cached copies expire quickly.
const applicationTTL = 60 * time.Second

// ApplicationCacheKey names the cached payload for one application id.
func ApplicationCacheKey(applicationID int64) string {
	return fmt.Sprintf("Guardrail:Application:%d", applicationID)
}

// Application loads the application document for a single application id,
// caching the payload so a warm repeat request skips the store entirely.
type Application struct {
	store  storage.RecordStore
	kv     cache.KVCache
	logger *slog.Logger
	id     int64
}

// NewApplication builds the source for one application id.
func NewApplication(store storage.RecordStore, kv cache.KVCache, logger *slog.Logger, applicationID int64) (*Application, error) {
	if applicationID <= 0 {
		return nil, fmt.Errorf("source: application id must be positive, got %d", applicationID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Application{
		store:  store,
		kv:     kv,
		logger: logger.With(slog.String("component", "application")),
		id:     applicationID,
	}, nil
}

func (a *Application) Name() string { return "application" }

// Fetch expects exactly one row whose payload column holds the application
// document as a JSON object.
func (a *Application) Fetch(ctx context.Context) (value.Value, error) {
	key := ApplicationCacheKey(a.id)
	if a.kv != nil {
		cached, hit, err := a.kv.Get(ctx, key)
		if err != nil {
			a.logger.Warn("application cache read failed", slog.Any("error", err))
		} else if hit {
			if payload, err := parseApplicationPayload(cached); err == nil {
				return payload, nil
			}
			a.logger.Warn("cached application payload discarded", slog.Int64("application_id", a.id))
		}
	}

	rows, err := a.store.Call(ctx, ApplicationProcedure, a.id)
	if err != nil {
		return value.Null(), fmt.Errorf("source: application %d: %w", a.id, err)
	}
	if len(rows) == 0 {
		return value.Null(), &UnavailableError{Source: a.Name(), Reason: fmt.Sprintf("application %d not found", a.id)}
	}

	raw, ok := rows[0]["payload"].(string)
	if !ok || raw == "" {
		return value.Null(), &UnavailableError{Source: a.Name(), Reason: fmt.Sprintf("application %d has no payload", a.id)}
	}

	payload, err := parseApplicationPayload([]byte(raw))
	if err != nil {
		return value.Null(), &UnavailableError{Source: a.Name(), Reason: fmt.Sprintf("application %d: %v", a.id, err)}
	}

	if a.kv != nil {
		if err := a.kv.Set(ctx, key, []byte(raw), applicationTTL); err != nil {
			a.logger.Warn("application cache write failed", slog.Any("error", err))
		}
	}
	return payload, nil
}

func parseApplicationPayload(raw []byte) (value.Value, error) {
	payload, err := value.FromJSON(raw)
	if err != nil {
		return value.Null(), fmt.Errorf("payload is not valid JSON: %v", err)
	}
	if payload.Kind() != value.KindObject {
		return value.Null(), fmt.Errorf("payload is not an object")
	}
	return payload, nil
}
