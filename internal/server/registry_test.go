package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()
	a := &Session{Id: "a"}
	b := &Session{Id: "b"}

	r.Add(a)
	r.Add(b)
	assert.Equal(t, 2, r.Count())

	got, ok := r.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	assert.ElementsMatch(t, []*Session{a, b}, r.List())

	assert.Same(t, a, r.Remove("a"))
	assert.Nil(t, r.Remove("a"), "removing twice returns nil")
	assert.Equal(t, 1, r.Count())

	_, ok = r.Get("a")
	assert.False(t, ok)
}
