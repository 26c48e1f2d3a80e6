package storage

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"context"

	"github.com/jmoiron/sqlx"
)

// procedure names come from fixed contracts, but the pattern keeps a
// misconfigured rule row from smuggling SQL into the statement.
var procNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CallObserver receives the outcome of every stored-procedure call.
type CallObserver interface {
	ObserveStoreCall(procedure string, err error, duration time.Duration)
}

// Postgres executes stored procedures as set-returning function selects.
type Postgres struct {
	db       *sqlx.DB
	logger   *slog.Logger
	observer CallObserver
}

// PostgresOption tweaks Postgres construction.
type PostgresOption func(*Postgres)

// WithCallObserver instruments every Call with the given observer.
func WithCallObserver(obs CallObserver) PostgresOption {
	return func(p *Postgres) { p.observer = obs }
}

// NewPostgres wraps an already-opened sqlx handle.
func NewPostgres(db *sqlx.DB, logger *slog.Logger, opts ...PostgresOption) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Postgres{db: db, logger: logger.With(slog.String("component", "record_store"))}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OpenConfig carries the pool knobs for Open.
type OpenConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open builds the sqlx handle for the primary database.
func Open(cfg OpenConfig) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("storage: database dsn required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Call runs `SELECT * FROM procedure($1, …)` and maps every row by column
// name.
func (s *Postgres) Call(ctx context.Context, procedure string, args ...any) ([]Row, error) {
	start := time.Now()
	out, err := s.call(ctx, procedure, args...)
	if s.observer != nil {
		s.observer.ObserveStoreCall(procedure, err, time.Since(start))
	}
	return out, err
}

func (s *Postgres) call(ctx context.Context, procedure string, args ...any) ([]Row, error) {
	if !procNamePattern.MatchString(procedure) {
		return nil, fmt.Errorf("storage: invalid procedure name %q", procedure)
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("SELECT * FROM %s(%s)", procedure, strings.Join(placeholders, ", "))

	start := time.Now()
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: call %s: %w", procedure, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("rows close failed", slog.String("procedure", procedure), slog.Any("error", closeErr))
		}
	}()

	var out []Row
	for rows.Next() {
		row := Row{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("storage: scan %s: %w", procedure, err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate %s: %w", procedure, err)
	}

	s.logger.Debug("procedure executed",
		slog.String("procedure", procedure),
		slog.Int("rows", len(out)),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}
