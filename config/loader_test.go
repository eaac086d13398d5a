// 配置加载器测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "dagflow.yaml")

	yamlContent := `
engine:
  max_concurrency: 4
  circuit_breaker:
    enabled: true
    failure_threshold: 2
    recovery_timeout: 10s

checkpoint:
  backend: redis
  redis:
    addr: "redis.example.com:6379"
    password: "secret"
    db: 1
    ttl: 1h

log:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  addr: ":9100"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	assert.True(t, cfg.Engine.CircuitBreaker.Enabled)
	assert.Equal(t, 2, cfg.Engine.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Engine.CircuitBreaker.RecoveryTimeout)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 3, cfg.Engine.CircuitBreaker.HalfOpenMaxProbes)

	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, "redis.example.com:6379", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, "secret", cfg.Checkpoint.Redis.Password)
	assert.Equal(t, 1, cfg.Checkpoint.Redis.DB)
	assert.Equal(t, time.Hour, cfg.Checkpoint.Redis.TTL)
	assert.Equal(t, "dagflow", cfg.Checkpoint.Redis.KeyPrefix)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("DAGFLOW_ENGINE_MAX_CONCURRENCY", "8")
	t.Setenv("DAGFLOW_CHECKPOINT_BACKEND", "postgres")
	t.Setenv("DAGFLOW_CHECKPOINT_DATABASE_HOST", "db.internal")
	t.Setenv("DAGFLOW_CHECKPOINT_DATABASE_CONN_MAX_LIFETIME", "90s")
	t.Setenv("DAGFLOW_CHECKPOINT_DATABASE_AUTO_MIGRATE", "false")
	t.Setenv("DAGFLOW_LOG_LEVEL", "warn")
	t.Setenv("DAGFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/dagflow.log")
	t.Setenv("DAGFLOW_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("DAGFLOW_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.MaxConcurrency)
	assert.Equal(t, "postgres", cfg.Checkpoint.Backend)
	assert.Equal(t, "db.internal", cfg.Checkpoint.Database.Host)
	assert.Equal(t, 90*time.Second, cfg.Checkpoint.Database.ConnMaxLifetime)
	assert.False(t, cfg.Checkpoint.Database.AutoMigrate)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/var/log/dagflow.log"}, cfg.Log.OutputPaths)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRate, 1e-9)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "dagflow.yaml")
	yamlContent := `
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))
	t.Setenv("DAGFLOW_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_LOG_LEVEL", "debug")
	t.Setenv("DAGFLOW_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_Errors(t *testing.T) {
	t.Run("malformed yaml", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("log: ["), 0o644))
		_, err := NewLoader().WithConfigPath(configPath).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("DAGFLOW_ENGINE_MAX_CONCURRENCY", "lots")
		_, err := NewLoader().Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DAGFLOW_ENGINE_MAX_CONCURRENCY")
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("DAGFLOW_CHECKPOINT_BACKEND", "etcd")
		_, err := NewLoader().Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown checkpoint backend "etcd"`)
	})

	t.Run("custom validator", func(t *testing.T) {
		sentinel := errors.New("nope")
		_, err := NewLoader().WithValidator(func(*Config) error { return sentinel }).Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, sentinel)
	})
}

func TestMustLoad(t *testing.T) {
	assert.NotPanics(t, func() { MustLoad("") })

	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log: ["), 0o644))
	assert.Panics(t, func() { MustLoad(configPath) })
}

// --- Validate / DSN ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "negative concurrency", mutate: func(c *Config) { c.Engine.MaxConcurrency = -1 }, wantErr: "max_concurrency"},
		{name: "breaker without threshold", mutate: func(c *Config) {
			c.Engine.CircuitBreaker.Enabled = true
			c.Engine.CircuitBreaker.FailureThreshold = 0
		}, wantErr: "failure_threshold"},
		{name: "breaker probes below success threshold", mutate: func(c *Config) {
			c.Engine.CircuitBreaker.Enabled = true
			c.Engine.CircuitBreaker.HalfOpenMaxProbes = 1
			c.Engine.CircuitBreaker.SuccessThreshold = 2
		}, wantErr: "half_open_max_probes"},
		{name: "breaker without success threshold", mutate: func(c *Config) {
			c.Engine.CircuitBreaker.Enabled = true
			c.Engine.CircuitBreaker.SuccessThreshold = 0
		}, wantErr: "success_threshold"},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Checkpoint.Backend = "redis"
			c.Checkpoint.Redis.Addr = ""
		}, wantErr: "checkpoint.redis.addr"},
		{name: "sql without name", mutate: func(c *Config) {
			c.Checkpoint.Backend = "mysql"
			c.Checkpoint.Database.Name = ""
		}, wantErr: "checkpoint.database.name"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "log level"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log format"},
		{name: "sample rate", mutate: func(c *Config) { c.Telemetry.SampleRate = 2 }, wantErr: "sample_rate"},
		{name: "metrics without addr", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, wantErr: "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckpointConfig_DSN(t *testing.T) {
	cfg := DefaultCheckpointConfig()
	cfg.Database.Password = "pw"

	cfg.Backend = "postgres"
	assert.Equal(t, "host=localhost port=5432 user=dagflow password=pw dbname=dagflow sslmode=disable", cfg.DSN())

	cfg.Backend = "mysql"
	cfg.Database.Port = 3306
	assert.Equal(t, "dagflow:pw@tcp(localhost:3306)/dagflow?parseTime=true", cfg.DSN())

	cfg.Backend = "sqlite"
	cfg.Database.Name = "/tmp/dagflow.db"
	assert.Equal(t, "/tmp/dagflow.db", cfg.DSN())

	cfg.Backend = "memory"
	assert.Empty(t, cfg.DSN())
}
