package reconciler

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitteredIntervalWithinBand(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		got := jitteredInterval(base, rng)
		assert.GreaterOrEqual(t, got, 8*time.Second)
		assert.LessOrEqual(t, got, 12*time.Second)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	r := &Reconciler{backoff: make(map[string]*backoffState)}

	r.recordFailure("pod-a")
	first := r.backoff["pod-a"].delay
	assert.Equal(t, minBackoff, first)

	r.recordFailure("pod-a")
	second := r.backoff["pod-a"].delay
	assert.Equal(t, 2*minBackoff, second)

	for i := 0; i < 10; i++ {
		r.recordFailure("pod-a")
	}
	assert.Equal(t, maxBackoff, r.backoff["pod-a"].delay)
}

func TestRecordSuccessClearsBackoff(t *testing.T) {
	r := &Reconciler{backoff: make(map[string]*backoffState)}
	r.recordFailure("pod-a")
	r.recordSuccess("pod-a")
	_, exists := r.backoff["pod-a"]
	assert.False(t, exists)
}

func TestShouldRetryTrueWithNoHistory(t *testing.T) {
	r := &Reconciler{backoff: make(map[string]*backoffState)}
	assert.True(t, r.shouldRetry("pod-new"))
}

func TestShouldRetryFalseBeforeNextAttempt(t *testing.T) {
	r := &Reconciler{backoff: make(map[string]*backoffState)}
	r.backoff["pod-a"] = &backoffState{nextAttempt: time.Now().Add(time.Hour), delay: minBackoff}
	assert.False(t, r.shouldRetry("pod-a"))
}
