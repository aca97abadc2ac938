package runner

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategykit/internal/ops"
	"strategykit/internal/store"
)

func TestSelectPrecedence(t *testing.T) {
	tests := []struct {
		name                             string
		server, module, tools, strategy string
		param                            string
		want                             Target
		logDir                           string
	}{
		{"server wins", "api", "tune", "dump", "grid", "7", Target{KindServer, "api", "7"}, "api"},
		{"module over tools", "", "tune", "dump", "grid", "7", Target{KindModule, "tune", "7"}, "tune_7"},
		{"tools over strategy", "", "", "dump", "grid", "", Target{KindTools, "dump", ""}, "dump"},
		{"strategy", "", "", "", "grid", "3", Target{KindStrategy, "grid", "3"}, "grid_3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(tt.server, tt.module, tt.tools, tt.strategy, tt.param)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.logDir, got.LogDirName())
		})
	}

	_, err := Select("", "", "", "", "1")
	require.ErrorIs(t, err, ErrNoTarget)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("master")
	require.NoError(t, err)
	assert.Equal(t, ModeMaster, mode)

	_, err = ParseMode("prod")
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	var got string
	r.Register(KindStrategy, "grid", func(_ context.Context, _ *App, param string) error {
		got = param
		return nil
	})
	r.Register(KindStrategy, "dca", func(context.Context, *App, string) error { return nil })

	assert.Equal(t, []string{"dca", "grid"}, r.Names(KindStrategy))
	assert.Empty(t, r.Names(KindServer))

	require.NoError(t, r.Run(t.Context(), NewApp(ModeTest, ops.Loaded{}, nil), Target{Kind: KindStrategy, Name: "grid", Param: "42"}))
	assert.Equal(t, "42", got)

	err := r.Run(t.Context(), nil, Target{Kind: KindServer, Name: "grid"})
	require.ErrorIs(t, err, ErrModuleNotFound)
	assert.Contains(t, err.Error(), "strategy module server.grid does not exist")

	assert.Panics(t, func() {
		r.Register(KindStrategy, "grid", func(context.Context, *App, string) error { return nil })
	})
	assert.Panics(t, func() { r.Register(KindTools, "nil", nil) })
}

func TestAppStores(t *testing.T) {
	ctx := t.Context()
	mr := miniredis.RunT(t)

	app := NewApp(ModeTest, ops.Loaded{Database: ops.DatabaseConfig{
		SQLURL:   "sqlite://:memory:",
		RedisURL: "redis://" + mr.Addr(),
	}}, nil)

	db, err := app.DB(ctx)
	require.NoError(t, err)
	again, err := app.DB(ctx)
	require.NoError(t, err)
	assert.Same(t, db, again)

	_, err = db.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)", store.Propagate)
	require.NoError(t, err)

	kv, err := app.KV(ctx)
	require.NoError(t, err)
	_, err = kv.SetString(ctx, "mode", string(app.Mode))
	require.NoError(t, err)
	stored, err := mr.Get("mode")
	require.NoError(t, err)
	assert.Equal(t, "test", stored)

	require.NoError(t, app.Close())
}

func TestAppNotConfigured(t *testing.T) {
	app := NewApp(ModeTest, ops.Loaded{}, nil)

	_, err := app.DB(t.Context())
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = app.KV(t.Context())
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = app.Email()
	require.ErrorIs(t, err, ErrNotConfigured)

	require.NoError(t, app.Close())
}

func TestAppEmail(t *testing.T) {
	app := NewApp(ModeMaster, ops.Loaded{Email: &ops.EmailConfig{
		SMTPServer: "smtp.example.com",
		SMTPPort:   587,
		Sender:     "bot@example.com",
		Recipients: []string{"ops@example.com"},
	}}, nil)

	email, err := app.Email()
	require.NoError(t, err)
	require.NotNil(t, email)
}
