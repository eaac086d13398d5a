package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/dagflow/config"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	cfg := PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}
	pm, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Same(t, gormDB, pm.DB())
	assert.Equal(t, cfg, pm.config)
	assert.Equal(t, 10, pm.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, PoolConfig{}, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectPing() // gorm.Open
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	pm, err := NewPoolManager(gormDB, PoolConfig{}, nil)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, pm.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, pm.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	pm, err := NewPoolManager(gormDB, PoolConfig{}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	// 第二次关闭不再触达底层连接
	require.NoError(t, pm.Close())
	assert.Error(t, pm.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolConfigFrom(t *testing.T) {
	cfg := config.DefaultCheckpointConfig().Database
	pc := PoolConfigFrom(cfg)
	assert.Equal(t, cfg.MaxOpenConns, pc.MaxOpenConns)
	assert.Equal(t, cfg.MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, cfg.ConnMaxLifetime, pc.ConnMaxLifetime)
}

func TestDialector(t *testing.T) {
	for _, backend := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(backend, "dsn")
		require.NoError(t, err, backend)
		assert.Equal(t, backend, d.Name())
	}

	_, err := Dialector("oracle", "dsn")
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.DefaultCheckpointConfig()
	cfg.Backend = "sqlite"
	cfg.Database.Name = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())

	pm, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	assert.Equal(t, "sqlite", pm.DB().Dialector.Name())
	assert.NoError(t, pm.Ping(context.Background()))
}

func TestOpen_UnsupportedBackend(t *testing.T) {
	cfg := config.DefaultCheckpointConfig()
	_, err := Open(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database backend")
}

// =============================================================================
// 🔄 事务测试
// =============================================================================

func TestWithTransactionRetry_Commit(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := WithTransactionRetry(context.Background(), gormDB, 3, nil, func(*gorm.DB) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRetry_PermanentErrorRollsBackOnce(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("constraint violated")
	calls := 0
	err := WithTransactionRetry(context.Background(), gormDB, 3, nil, func(*gorm.DB) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRetry_RetriesTransientErrors(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := WithTransactionRetry(context.Background(), gormDB, 3, zap.NewNop(), func(*gorm.DB) error {
		calls++
		if calls == 1 {
			return errors.New("ERROR: deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRetry_Exhausted(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err := WithTransactionRetry(context.Background(), gormDB, 2, nil, func(*gorm.DB) error {
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Deadlock found when trying to get lock"), true},
		{errors.New("pq: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("Lock wait timeout exceeded"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("duplicate key value violates unique constraint"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}
