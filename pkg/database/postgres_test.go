package database

import (
	"context"
	"path/filepath"
	"testing"

	"roomcast/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_SQLite(t *testing.T) {
	cfg := &config.Config{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "roomcast.db"),
		AppMode:  "test",
	}

	db, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.NoError(t, HealthCheck(context.Background(), db))
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect(&config.Config{DBDriver: "oracle"})
	assert.Error(t, err)
}

func TestHealthCheck_NilDB(t *testing.T) {
	assert.Error(t, HealthCheck(context.Background(), nil))
}
