package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFatalGoesThroughExitHandler(t *testing.T) {
	var code int
	prev := SetExitHandler(func(c int) { code = c })
	defer SetExitHandler(prev)

	LogFatal("simulated %s", "failure")
	assert.Equal(t, 1, code)
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, level)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}
