package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/wildfire-lending/guardrail/internal/cache"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
	"github.com/wildfire-lending/guardrail/internal/storage"
)

const (
	// AuthMatrixProcedure returns one row per (email, role, group, title)
	// assignment.
	AuthMatrixProcedure = "wf_guardrail_user_Authorization_matrix"
	// AuthMatrixCacheKey holds the fully shaped matrix as one blob.
	AuthMatrixCacheKey = "Guardrail:UserAuthorizationMatrix"
)

// userEntry aggregates one user's assignments.
type userEntry struct {
	Roles  []string `json:"role"`
	Groups []string `json:"group"`
	Titles []string `json:"title"`
}

// authMatrix is the shaped matrix: per-user assignments plus the three
// reverse indexes.
type authMatrix struct {
	Users  map[string]*userEntry `json:"users"`
	Roles  map[string][]string   `json:"roles"`
	Groups map[string][]string   `json:"groups"`
	Titles map[string][]string   `json:"titles"`
}

// UserAuthorizationMatrix exposes who holds which role, group, and title,
// shaped for path lookups like user_authorization_matrix.users.<email>.role.
type UserAuthorizationMatrix struct {
	store  storage.RecordStore
	kv     cache.KVCache
	logger *slog.Logger
}

// NewUserAuthorizationMatrix builds the matrix source.
func NewUserAuthorizationMatrix(store storage.RecordStore, kv cache.KVCache, logger *slog.Logger) *UserAuthorizationMatrix {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserAuthorizationMatrix{
		store:  store,
		kv:     kv,
		logger: logger.With(slog.String("component", "user_authorization_matrix")),
	}
}

func (m *UserAuthorizationMatrix) Name() string { return "user_authorization_matrix" }

// Fetch returns the shaped matrix, loading and caching it on a cold cache.
func (m *UserAuthorizationMatrix) Fetch(ctx context.Context) (value.Value, error) {
	if m.kv != nil {
		payload, hit, err := m.kv.Get(ctx, AuthMatrixCacheKey)
		if err != nil {
			m.logger.Warn("authorization matrix cache read failed", slog.Any("error", err))
		} else if hit {
			var matrix authMatrix
			if err := json.Unmarshal(payload, &matrix); err == nil {
				return matrix.toValue()
			}
			m.logger.Warn("cached authorization matrix discarded", slog.Any("error", err))
		}
	}

	rows, err := m.store.Call(ctx, AuthMatrixProcedure)
	if err != nil {
		return value.Null(), fmt.Errorf("source: authorization matrix: %w", err)
	}
	if len(rows) == 0 {
		return value.Null(), &UnavailableError{Source: m.Name(), Reason: "authorization matrix is empty"}
	}

	matrix := shapeMatrix(rows)

	if m.kv != nil {
		if payload, err := json.Marshal(matrix); err == nil {
			if err := m.kv.Set(ctx, AuthMatrixCacheKey, payload, 0); err != nil {
				m.logger.Warn("authorization matrix cache write failed", slog.Any("error", err))
			}
		}
	}
	return matrix.toValue()
}

// shapeMatrix folds assignment rows into the per-user view and the three
// reverse indexes. Emails are lowercased and trimmed; blank emails are
// skipped; duplicate assignments collapse.
func shapeMatrix(rows []storage.Row) authMatrix {
	matrix := authMatrix{
		Users:  map[string]*userEntry{},
		Roles:  map[string][]string{},
		Groups: map[string][]string{},
		Titles: map[string][]string{},
	}

	for _, row := range rows {
		email := strings.ToLower(strings.TrimSpace(rowText(row, "email")))
		if email == "" {
			continue
		}
		entry, ok := matrix.Users[email]
		if !ok {
			entry = &userEntry{}
			matrix.Users[email] = entry
		}

		if role := rowText(row, "role"); role != "" {
			entry.Roles = appendUnique(entry.Roles, role)
			matrix.Roles[role] = appendUnique(matrix.Roles[role], email)
		}
		if group := rowText(row, "group_name"); group != "" {
			entry.Groups = appendUnique(entry.Groups, group)
			matrix.Groups[group] = appendUnique(matrix.Groups[group], email)
		}
		if title := rowText(row, "title"); title != "" {
			entry.Titles = appendUnique(entry.Titles, title)
			matrix.Titles[title] = appendUnique(matrix.Titles[title], email)
		}
	}
	return matrix
}

func (m authMatrix) toValue() (value.Value, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return value.Null(), fmt.Errorf("source: shape authorization matrix: %w", err)
	}
	return value.FromJSON(raw)
}

func rowText(row storage.Row, column string) string {
	s, _ := row[column].(string)
	return strings.TrimSpace(s)
}

func appendUnique(list []string, item string) []string {
	if slices.Contains(list, item) {
		return list
	}
	return append(list, item)
}
