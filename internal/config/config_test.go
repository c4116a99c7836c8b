package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "DATABASE_PATH", "USER_ID", "HTTP_ADDRESS", "SYNC_INTERVAL", "SYNC_BATCH_SIZE",
		"SYNC_MAX_RETRIES", "SYNC_BASE_BACKOFF", "SYNC_MAX_BACKOFF", "REMOTE_MODE", "REMOTE_URL",
		"REMOTE_TOKEN", "KAFKA_BROKERS", "CONSUMER_TOPICS", "LOG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 25, cfg.SyncBatchSize)
	require.Equal(t, 5, cfg.SyncMaxRetries)
	require.Equal(t, 30*time.Second, cfg.SyncInterval)
	require.Equal(t, RemoteModeHTTP, cfg.RemoteMode)
	require.Equal(t, []string{"workout_sessions", "workout_sets"}, cfg.ConsumerTopics)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "workoutsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_path: /data/phone.db
user_id: athlete-7
sync_interval: 1m
sync_batch_size: 10
remote_mode: kafka
kafka_brokers: [broker-a:9092, broker-b:9092]
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SYNC_BATCH_SIZE", "40")
	t.Setenv("KAFKA_BROKERS", " broker-c:9092 , ")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/data/phone.db", cfg.DatabasePath)
	require.Equal(t, "athlete-7", cfg.UserID)
	require.Equal(t, time.Minute, cfg.SyncInterval)
	require.Equal(t, 40, cfg.SyncBatchSize)
	require.Equal(t, RemoteModeKafka, cfg.RemoteMode)
	require.Equal(t, []string{"broker-c:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 5*time.Minute, cfg.SyncMaxBackoff)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMOTE_MODE", "carrier-pigeon")
	_, err := Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("SYNC_BASE_BACKOFF", "10m")
	_, err = Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	require.Error(t, err)
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNC_INTERVAL", "soon")
	t.Setenv("SYNC_MAX_RETRIES", "many")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.SyncInterval)
	require.Equal(t, 5, cfg.SyncMaxRetries)
}
