package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFailed = errors.New("failed")

func fail() error    { return errFailed }
func succeed() error { return nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{Interval: time.Minute, Timeout: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				Interval: time.Minute,
				Timeout:  time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name: "success resets the streak",
			settings: Settings{
				Interval: time.Minute,
				Timeout:  time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 2
				},
			},
			requests:      []bool{false, true, false},
			expectedState: StateClosed,
		},
		{
			name: "ignored errors do not trip",
			settings: Settings{
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
				IsFailure:   func(err error) bool { return false },
			},
			requests:      []bool{false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)

			for _, success := range tt.requests {
				if success {
					_ = breaker.Do(succeed)
				} else {
					_ = breaker.Do(fail)
				}
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Interval: time.Minute, Timeout: time.Minute})

	require.NoError(t, breaker.Do(succeed))

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	assert.ErrorIs(t, breaker.Do(fail), errFailed)

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenRejects(t *testing.T) {
	breaker := New("test", Settings{
		Interval: time.Minute,
		Timeout:  time.Minute,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(fail)
	}
	assert.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, Rejected(err))
	assert.False(t, called)
	assert.False(t, Rejected(errFailed))
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	breaker := New("test", Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(fail)
	}
	assert.Equal(t, StateOpen, breaker.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, breaker.Do(succeed))
	}
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	breaker := New("test", Settings{
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})

	_ = breaker.Do(fail)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = breaker.Do(fail)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestCallReturnsValue(t *testing.T) {
	breaker := New("test", Settings{})

	got, err := Call(breaker, func() ([]byte, error) {
		return []byte("body"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), got)

	_, err = Call(breaker, func() (int, error) { return 0, errFailed })
	assert.ErrorIs(t, err, errFailed)
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string

	breaker := New("test", Settings{
		Interval: time.Minute,
		Timeout:  10 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(fail)
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	assert.Equal(t, []string{"closed->open", "open->half-open"}, transitions)
}
