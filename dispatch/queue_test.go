package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue(t *testing.T) {
	var q Queue
	assert.NoError(t, q.EnqueueAll([]string{"a", "b", "c"}))
	assert.Equal(t, ErrAlreadyQueued, q.EnqueueAll([]string{"d"}))

	assert.Equal(t, []string{"a", "b"}, q.Take(2))
	assert.Equal(t, 1, q.Len())
	assert.Nil(t, q.Take(0))
	assert.Equal(t, []string{"c"}, q.Take(5))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Discard(t *testing.T) {
	var q Queue
	q.EnqueueAll([]string{"a", "b", "c"})
	q.Take(1)

	assert.Equal(t, 2, q.Discard())
	assert.Equal(t, 0, q.Len())
}
