package relay

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendQueueFIFO(t *testing.T) {
	q := newSendQueue(1024, 16)

	assert.True(t, q.push([]byte("one"), true))
	assert.True(t, q.push([]byte("two"), false))

	assert.True(t, bytes.Equal(q.pop(), []byte("one")))
	assert.True(t, bytes.Equal(q.pop(), []byte("two")))
	assert.Nil(t, q.pop())
}

func TestSendQueueDropsDroppableOverByteCap(t *testing.T) {
	q := newSendQueue(10, 100)

	assert.True(t, q.push(make([]byte, 8), true))
	assert.False(t, q.push(make([]byte, 8), true), "event over the byte cap is dropped")
	assert.True(t, q.push(make([]byte, 8), false), "responses bypass the cap")
}

func TestSendQueueDropsDroppableOverFrameCap(t *testing.T) {
	q := newSendQueue(1<<20, 2)

	assert.True(t, q.push([]byte("a"), true))
	assert.True(t, q.push([]byte("b"), true))
	assert.False(t, q.push([]byte("c"), true))
	assert.True(t, q.push([]byte("d"), false))
}

func TestSendQueueClose(t *testing.T) {
	q := newSendQueue(1024, 16)
	q.push([]byte("pending"), false)

	q.close()
	assert.True(t, q.isClosed())
	assert.Nil(t, q.pop(), "close discards queued frames")
	assert.False(t, q.push([]byte("late"), false))
}

func TestSendQueueFullReflectsCaps(t *testing.T) {
	q := newSendQueue(4, 100)
	assert.False(t, q.full())

	q.push(make([]byte, 8), false)
	assert.True(t, q.full())

	q.pop()
	assert.False(t, q.full())
}
