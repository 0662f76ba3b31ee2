package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 1, 3))
	assert.Equal(t, 2, Clamp(2, 1, 3))
	assert.Equal(t, 3, Clamp(9, 1, 3))
	assert.Equal(t, 0.5, Clamp(0.5, 0.0, 1.0))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, uint32(8), ClampLimit[uint32](8, 2, 0))
	assert.Equal(t, uint32(2), ClampLimit[uint32](1, 2, 0))
	assert.Equal(t, uint32(3), ClampLimit[uint32](8, 2, 3))
}
