package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Health states reported by /health/db.
const (
	HealthOK       = "healthy"
	HealthOutdated = "outdated"
	HealthDown     = "unhealthy"
)

type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// MigrationState summarizes the migrations of the served schema.
type MigrationState struct {
	Applied int `json:"applied"`
	Pending int `json:"pending"`
	Latest  int `json:"latest_version"`
}

// Health is the body of /health/db.
type Health struct {
	Status     string          `json:"status"`
	Schema     string          `json:"schema"`
	Pool       PoolStats       `json:"pool"`
	Migrations *MigrationState `json:"migrations,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func poolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
	}
}

func migrationState(statuses []MigrationStatus) *MigrationState {
	st := &MigrationState{Pending: PendingCount(statuses)}
	st.Applied = len(statuses) - st.Pending
	for _, s := range statuses {
		if s.Applied && s.Version > st.Latest {
			st.Latest = s.Version
		}
	}
	return st
}

// report builds the response for a ping result and migration status.
// An unreachable database is 503; pending migrations are reported as
// outdated, since the lab tables may not match the running binary.
func report(h Health, pingErr error, statuses []MigrationStatus, statusErr error) (int, Health) {
	if pingErr != nil {
		h.Status, h.Error = HealthDown, pingErr.Error()
		return http.StatusServiceUnavailable, h
	}
	if statusErr != nil {
		h.Status, h.Error = HealthDown, statusErr.Error()
		return http.StatusServiceUnavailable, h
	}
	h.Migrations = migrationState(statuses)
	h.Status = HealthOK
	if h.Migrations.Pending > 0 {
		h.Status = HealthOutdated
	}
	return http.StatusOK, h
}

// HealthHandler pings the database and reports the pool and the migration
// state of the migrator's schema.
func HealthHandler(pool *pgxpool.Pool, m *Migrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		h := Health{Schema: m.Schema(), Pool: poolStats(pool)}
		if err := pool.Ping(ctx); err != nil {
			code, body := report(h, err, nil, nil)
			return c.JSON(code, body)
		}
		statuses, err := m.Status(ctx)
		code, body := report(h, nil, statuses, err)
		return c.JSON(code, body)
	}
}
