package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelaySequence(t *testing.T) {
	policy := BackoffPolicy{Base: 1 * time.Second, Cap: 30 * time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, policy.Delay(i+1), "attempt %d", i+1)
	}
}

func TestBackoffDefaults(t *testing.T) {
	var policy BackoffPolicy

	assert.Equal(t, DefaultBackoffBase, policy.Delay(1))
	assert.Equal(t, DefaultBackoffCap, policy.Delay(100))
	assert.Equal(t, policy.Delay(1), policy.Delay(0), "attempt numbers below 1 clamp to the first delay")
}

func TestSupervisorAttemptBudget(t *testing.T) {
	sup := NewSupervisor(BackoffPolicy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 3})

	for i := 1; i <= 3; i++ {
		_, ok := sup.Next()
		require.True(t, ok, "attempt %d should be allowed", i)
		assert.Equal(t, i, sup.Attempt())
	}

	_, ok := sup.Next()
	assert.False(t, ok, "budget of 3 attempts must be exhausted")
}

func TestSupervisorResetOnSuccess(t *testing.T) {
	sup := NewSupervisor(BackoffPolicy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 2})

	sup.Next()
	sup.Next()
	_, ok := sup.Next()
	require.False(t, ok)

	sup.Reset()
	assert.Equal(t, 0, sup.Attempt())

	delay, ok := sup.Next()
	require.True(t, ok, "reset must restore the attempt budget")
	assert.Equal(t, time.Second, delay, "delays restart from the base after a successful connect")
}

func TestSupervisorUnlimitedAttempts(t *testing.T) {
	sup := NewSupervisor(BackoffPolicy{Base: time.Second, Cap: 4 * time.Second})

	for i := 0; i < 50; i++ {
		delay, ok := sup.Next()
		require.True(t, ok)
		assert.LessOrEqual(t, delay, 4*time.Second)
	}
}
