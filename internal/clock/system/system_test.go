package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after))
}

func TestFrozenAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	clk := NewFrozen(start)
	assert.True(t, clk.Now().Equal(start))
	assert.Equal(t, time.UTC, clk.Now().Location())

	clk.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second).UTC(), clk.Now())
}
