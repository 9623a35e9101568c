package spdy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer(t *testing.T) {
	b := newBuffer()
	assert.Equal(t, 0, b.len())

	p := make([]byte, 10)
	assert.Equal(t, 0, b.read(p), "Reading an empty buffer should return nothing")

	b.write([]byte("hello "))
	b.write([]byte("world"))
	assert.Equal(t, 11, b.len())

	n := b.read(p)
	assert.Equal(t, 10, n)
	assert.Equal(t, "hello worl", string(p[:n]))
	assert.Equal(t, 1, b.len())

	n = b.read(p)
	assert.Equal(t, 1, n)
	assert.Equal(t, "d", string(p[:n]))
	assert.Equal(t, 0, b.len())
}

func TestBufferOwnsData(t *testing.T) {
	b := newBuffer()
	src := []byte("abcd")
	b.write(src)
	src[0] = 'z'

	p := make([]byte, 4)
	b.read(p)
	assert.Equal(t, "abcd", string(p), "Buffer must copy, callers may reuse their slices")
}

func TestBufferPartialChunkReads(t *testing.T) {
	b := newBuffer()
	b.write([]byte("0123456789"))

	p := make([]byte, 3)
	assert.Equal(t, 3, b.read(p))
	assert.Equal(t, "012", string(p))
	assert.Equal(t, 3, b.read(p))
	assert.Equal(t, "345", string(p))
	assert.Equal(t, 4, b.len())
}
