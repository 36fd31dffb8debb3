package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridclear/logging"
)

func TestNamedLoggerKeepsOwnLevel(t *testing.T) {
	log := logging.NewTestLogger()
	child := log.Named("child")

	child.SetLevel(logging.ErrorLevel)
	assert.Equal(t, logging.ErrorLevel, child.GetLevel())
	assert.NotEqual(t, logging.ErrorLevel, log.GetLevel())
	assert.Equal(t, "child", child.GetName())
}

func TestParseLevel(t *testing.T) {
	lvl, err := logging.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, logging.DebugLevel, lvl)

	_, err = logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestIsDebug(t *testing.T) {
	log := logging.NewTestLogger()
	assert.True(t, log.IsDebug())

	log.SetLevel(logging.InfoLevel)
	assert.False(t, log.IsDebug())
}
