package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/config"
	"tracker/internal/core"
	"tracker/internal/log"
	"tracker/internal/storage"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:  "postgres",
		PostgresURL:  "postgres://localhost/tracker",
		AMQPURL:      "amqp://localhost/",
		AMQPExchange: "tracker",
		AMQPQueue:    "record_changes",
	})
	require.NoError(t, err)
	assert.Equal(t, PostgresBackend, cfg.Type)
	assert.Equal(t, "postgres://localhost/tracker", cfg.PostgresURL)
	assert.Equal(t, "tracker", cfg.AMQPExchange)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"postgres without url", Config{Type: PostgresBackend}, true},
		{"unknown", Config{Type: "redis"}, true},
		{"amqp without exchange", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost/"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	assert.Equal(t, []string{"memory", "sqlite", "postgres"}, GetBackendTypeStrings())

	err := Config{Type: "redis"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory, sqlite, postgres")
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(log.Discard())

	t.Run("memory", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
		require.NoError(t, err)
		assert.Nil(t, res.Publisher)
		require.NoError(t, res.Store.Ping(ctx))
		assert.NoError(t, res.Cleanup())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tracker.db")
		res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: path})
		require.NoError(t, err)
		defer res.Cleanup()

		e := core.DeriveExpense(core.Expense{ID: "e1", UserID: "u1", Amount: core.Money{Cents: 5}, Category: core.CategoryOther, Date: core.NewDate(2024, 1, 1)})
		require.NoError(t, res.Store.CreateExpense(ctx, e))
		got, err := res.Store.GetExpense(ctx, "u1", "e1")
		require.NoError(t, err)
		assert.Equal(t, e.Amount, got.Amount)

		_, err = res.Store.GetExpense(ctx, "u2", "e1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend})
		assert.Error(t, err)
	})
}
