package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/clevercompass/internal/adapters/llm"
	"github.com/PabloGalante/clevercompass/internal/config"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["chat"])
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestBuildDepsLocalMode(t *testing.T) {
	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)

	d, err := buildDeps(context.Background(), cfg)
	require.NoError(t, err)
	defer d.Close()

	sess, err := d.svc.Open(context.Background(), "Math")
	require.NoError(t, err)
	assert.Len(t, sess.Snapshot().Messages, 1)
}

func TestBuildDepsSQLiteTurnLog(t *testing.T) {
	t.Setenv("TUTOR_TURN_LOG_BACKEND", "sqlite")
	t.Setenv("TUTOR_SQLITE_PATH", t.TempDir()+"/turns.db")

	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)

	d, err := buildDeps(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, d.closers, 1)
	assert.NoError(t, d.Close())
}

func TestNewTutorUsesMockInLocalMode(t *testing.T) {
	tutor, err := newTutor(context.Background(), &config.Config{Mode: config.ModeLocal, UseMockLLM: true})
	require.NoError(t, err)
	assert.IsType(t, &llm.MockTutor{}, tutor)
}
