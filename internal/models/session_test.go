package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionDuration(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)

	ongoing := Session{ID: 1, Start: start}
	assert.True(t, ongoing.Ongoing())
	assert.Equal(t, 90*time.Second, ongoing.Duration(now), "ongoing sessions run up to the given time")

	sealed := Session{ID: 2, Start: start, End: start.Add(time.Minute)}
	assert.False(t, sealed.Ongoing())
	assert.Equal(t, time.Minute, sealed.Duration(now), "sealed sessions ignore the given time")
}
