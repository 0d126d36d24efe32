package db_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/niftyrun/internal/infrastructure/db"
)

func TestDefaultConfig(t *testing.T) {
	config := db.DefaultConfig()

	assert.Equal(t, 4, config.MaxOpenConns)
	assert.Equal(t, 2, config.MaxIdleConns)
	assert.Equal(t, 30*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*db.Config){
		"enabled without dsn": func(c *db.Config) { c.Enabled = true },
		"zero open conns":     func(c *db.Config) { c.MaxOpenConns = 0 },
		"idle above open":     func(c *db.Config) { c.MaxIdleConns = 10 },
		"zero timeout":        func(c *db.Config) { c.QueryTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := db.DefaultConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/niftyrun")
	t.Setenv("PG_ENABLED", "true")
	t.Setenv("PG_QUERY_TIMEOUT", "5s")

	c := db.DefaultConfig()
	c.ApplyEnvOverrides()

	assert.Equal(t, "postgres://localhost/niftyrun", c.DSN)
	assert.True(t, c.Enabled)
	assert.Equal(t, 5*time.Second, c.QueryTimeout)
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := db.NewManager(db.Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Repository())
	assert.Nil(t, manager.DB())
	assert.NoError(t, manager.Close())

	health := manager.Health().Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Contains(t, health.Errors[0], "disabled")
	assert.NoError(t, manager.Health().Ping(context.Background()))

	stats := manager.Health().Stats(context.Background())
	assert.False(t, stats["enabled"].(bool))

	assert.Error(t, manager.Migrate(context.Background()))
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := db.NewManager(db.Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func newMockManager(t *testing.T) (*db.Manager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return db.NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), db.DefaultConfig()), mock
}

func TestManagerWithDB(t *testing.T) {
	manager, mock := newMockManager(t)

	assert.True(t, manager.IsEnabled())
	require.NotNil(t, manager.Repository())
	assert.NotNil(t, manager.Repository().Audit)
	assert.NotNil(t, manager.Repository().Events)

	mock.ExpectPing()
	health := manager.Health().Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Errors)

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
	health = manager.Health().Health(context.Background())
	assert.False(t, health.Healthy)
	require.Len(t, health.Errors, 1)
	assert.Contains(t, health.Errors[0], "ping failed")

	stats := manager.Health().Stats(context.Background())
	assert.True(t, stats["enabled"].(bool))
	assert.Contains(t, stats, "open_connections")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_Migrate(t *testing.T) {
	manager, mock := newMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_snapshots")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, manager.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
