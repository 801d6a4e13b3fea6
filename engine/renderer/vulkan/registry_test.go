package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-sched/engine/renderer"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

func TestRegistry(t *testing.T) {
	r := newRegistry[metadata.BufferHandle, string]("buffer")

	a := r.add("vertices")
	b := r.add("indices")
	assert.NotEqual(t, metadata.BufferHandle(0), a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.len())

	v, err := r.get(b)
	require.NoError(t, err)
	assert.Equal(t, "indices", v)

	_, err = r.get(99)
	assert.ErrorIs(t, err, renderer.ErrInvalidHandle)

	_, ok, err := r.getOptional(0)
	assert.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = r.getOptional(99)
	assert.ErrorIs(t, err, renderer.ErrInvalidHandle)
	assert.False(t, ok)

	v, err = r.remove(a)
	require.NoError(t, err)
	assert.Equal(t, "vertices", v)
	_, err = r.remove(a)
	assert.ErrorIs(t, err, renderer.ErrInvalidHandle)

	// handles are never reused
	assert.Greater(t, r.add("uniforms"), b)
}
