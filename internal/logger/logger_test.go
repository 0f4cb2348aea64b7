package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_RejectsUnknownLevel(t *testing.T) {
	_, err := Init("loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestInit_BuildsLogger(t *testing.T) {
	log, err := Init("debug")
	require.NoError(t, err)
	t.Cleanup(Cleanup)

	require.NotNil(t, log)
	log.With("run_id", "abc").Debug("hello", "k", 1)
}

func TestNop_DiscardsEverything(t *testing.T) {
	l := Nop().With("repository", "x")
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
}
