package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wildfire-lending/guardrail/internal/cache"
	"github.com/wildfire-lending/guardrail/internal/engine/resolver"
	"github.com/wildfire-lending/guardrail/internal/engine/rules"
	"github.com/wildfire-lending/guardrail/internal/engine/source"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
	"github.com/wildfire-lending/guardrail/internal/metrics"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

// Request is the evaluation envelope. Testing mode substitutes the supplied
// datasets for live data sources.
type Request struct {
	ApplicationID int64          `json:"application_id" validate:"required,gt=0"`
	Type          string         `json:"type" validate:"required"`
	Area          string         `json:"area" validate:"required"`
	LenderID      int64          `json:"lender_id"`
	Testing       bool           `json:"testing"`
	Datasets      map[string]any `json:"datasets"`
}

// Response is the evaluation envelope's reply.
type Response struct {
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Data    *AggregateResult `json:"data,omitempty"`
}

// Router parses envelopes, assembles the data-source bag, and hands rulesets
// to the engine.
type Router struct {
	manager  *rules.Manager
	service  *Service
	store    storage.RecordStore
	kv       cache.KVCache
	logger   *slog.Logger
	recorder *metrics.Recorder
	validate *validator.Validate
	timeout  time.Duration
}

// NewRouter wires the evaluation front door.
func NewRouter(manager *rules.Manager, service *Service, store storage.RecordStore, kv cache.KVCache, logger *slog.Logger, recorder *metrics.Recorder, timeout time.Duration) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Router{
		manager:  manager,
		service:  service,
		store:    store,
		kv:       kv,
		logger:   logger.With(slog.String("component", "router")),
		recorder: recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		timeout:  timeout,
	}
}

// ServeEvaluate handles POST /evaluate.
func (rt *Router) ServeEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rt.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.WriteError(w, http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return
	}
	if err := rt.validate.Struct(req); err != nil {
		rt.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.timeout)
	defer cancel()

	start := time.Now()
	result, status, err := rt.evaluate(ctx, req)
	if err != nil {
		rt.recorder.ObserveEvaluation(req.Type, req.Area, "error", time.Since(start))
		rt.logger.Warn("evaluation failed",
			slog.String("rule_type", req.Type),
			slog.String("area", req.Area),
			slog.Int64("application_id", req.ApplicationID),
			slog.Any("error", err))
		rt.WriteError(w, status, err.Error())
		return
	}

	outcome := "pass"
	if !result.Success {
		outcome = "restricted"
	}
	rt.recorder.ObserveEvaluation(req.Type, req.Area, outcome, time.Since(start))
	for _, o := range result.Outcomes {
		rt.recorder.ObserveRuleOutcome(o.Operator, string(o.Result), string(o.Action))
	}

	rt.logger.Info("evaluation completed",
		slog.String("rule_type", req.Type),
		slog.String("area", req.Area),
		slog.Int64("application_id", req.ApplicationID),
		slog.Bool("success", result.Success),
		slog.Int("outcomes", len(result.Outcomes)),
		slog.Duration("elapsed", time.Since(start)))

	writeJSON(w, http.StatusOK, Response{Success: result.Success, Data: &result})
}

func (rt *Router) evaluate(ctx context.Context, req Request) (AggregateResult, int, error) {
	ruleSet, err := rt.manager.GetRuleSet(ctx, req.Type, req.Area)
	if err != nil {
		return AggregateResult{}, http.StatusInternalServerError, err
	}
	if len(ruleSet) == 0 {
		return AggregateResult{}, http.StatusNotFound, fmt.Errorf("no ruleset configured for %s/%s", req.Type, req.Area)
	}

	bag, err := rt.assembleBag(ctx, req, ruleSet)
	if err != nil {
		return AggregateResult{}, http.StatusBadGateway, err
	}

	result, err := rt.service.Evaluate(ctx, ruleSet, bag)
	if err != nil {
		return AggregateResult{}, http.StatusServiceUnavailable, err
	}
	return result, http.StatusOK, nil
}

// assembleBag builds the per-request data-source bag: inline datasets in
// testing mode, live sources otherwise. Only sources the ruleset actually
// references are fetched.
func (rt *Router) assembleBag(ctx context.Context, req Request, ruleSet []rules.Rule) (resolver.Bag, error) {
	if req.Testing {
		bag := make(resolver.Bag, len(req.Datasets))
		for name, payload := range req.Datasets {
			bag[name] = value.FromAny(payload)
		}
		return bag, nil
	}

	referenced := referencedSources(ruleSet)

	app, err := source.NewApplication(rt.store, rt.kv, rt.logger, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	appPayload, err := app.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	bag := resolver.Bag{app.Name(): appPayload}

	if referenced["lender_configuration"] {
		lenderID := req.LenderID
		if lenderID == 0 {
			// The envelope may omit the lender; the application document
			// carries it.
			if field, ok := appPayload.Field("lender_id"); ok {
				if n, ok := field.Number(); ok {
					lenderID = int64(n)
				}
			}
		}
		lender, err := source.NewLenderConfiguration(rt.store, rt.kv, rt.logger, req.ApplicationID, lenderID)
		if err != nil {
			return nil, err
		}
		payload, err := lender.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		bag[lender.Name()] = payload
	}

	if referenced["user_authorization_matrix"] {
		matrix := source.NewUserAuthorizationMatrix(rt.store, rt.kv, rt.logger)
		payload, err := matrix.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		bag[matrix.Name()] = payload
	}

	return bag, nil
}

// referencedSources collects the first path segment of every target, depends,
// and criteria reference in the ruleset.
func referencedSources(ruleSet []rules.Rule) map[string]bool {
	names := map[string]bool{}
	addPath := func(path string) {
		if head, _, ok := strings.Cut(path, "."); ok {
			names[head] = true
		} else if path != "" {
			names[path] = true
		}
	}
	for _, rule := range ruleSet {
		for _, p := range rule.Target {
			addPath(p)
		}
		for _, p := range rule.Criteria.Paths() {
			addPath(p)
		}
		if rule.Sub != nil {
			for _, p := range rule.Sub.Depends {
				addPath(p)
			}
			for _, p := range rule.Sub.Criteria.Paths() {
				addPath(p)
			}
		}
	}
	return names
}

// ServeHealth handles GET /healthz.
func (rt *Router) ServeHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":      "ok",
		"observed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if rt.kv != nil {
		if size, err := rt.kv.Size(r.Context()); err == nil {
			payload["cache_entries"] = size
		}
	}
	if rt.manager != nil {
		payload["static_rulesets"] = rt.manager.StaticKeys()
	}
	writeJSON(w, http.StatusOK, payload)
}

// WriteError renders the failure envelope.
func (rt *Router) WriteError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
