package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewFixedClock(t0)

	assert.Equal(t, t0, c.Now())
	assert.Equal(t, t0.Add(time.Minute), c.Advance(time.Minute))

	c.Set(t0)
	assert.Equal(t, t0, c.Now())
}

func TestEarlier(t *testing.T) {
	a := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := a.Add(time.Hour)

	assert.Equal(t, a, Earlier(a, b))
	assert.Equal(t, a, Earlier(b, a))
	assert.Equal(t, a, Earlier(a, a))
}

func TestSystemClockIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, SystemClock{}.Now().Location())
}
