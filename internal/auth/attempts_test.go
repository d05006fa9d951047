package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvtien/storefront-backend/internal/auth"
)

func TestAttemptTracker_LimitReached(t *testing.T) {
	tracker := auth.NewAttemptTracker(3)

	assert.False(t, tracker.Fail("sess:order-1"))
	assert.False(t, tracker.Fail("sess:order-1"))
	assert.True(t, tracker.Fail("sess:order-1"))

	// The counter resets once the limit fires.
	assert.False(t, tracker.Fail("sess:order-1"))
}

func TestAttemptTracker_KeysAreIndependent(t *testing.T) {
	tracker := auth.NewAttemptTracker(3)

	tracker.Fail("sess-a:order-1")
	tracker.Fail("sess-a:order-1")

	assert.False(t, tracker.Fail("sess-b:order-1"))
	assert.True(t, tracker.Fail("sess-a:order-1"))
}

func TestAttemptTracker_ResetClearsCounter(t *testing.T) {
	tracker := auth.NewAttemptTracker(3)

	tracker.Fail("sess:order-1")
	tracker.Fail("sess:order-1")
	tracker.Reset("sess:order-1")

	assert.False(t, tracker.Fail("sess:order-1"))
	assert.False(t, tracker.Fail("sess:order-1"))
	assert.True(t, tracker.Fail("sess:order-1"))
}

func TestAttemptTracker_DefaultLimit(t *testing.T) {
	tracker := auth.NewAttemptTracker(0)

	assert.False(t, tracker.Fail("k"))
	assert.False(t, tracker.Fail("k"))
	assert.True(t, tracker.Fail("k"))
}
