package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()
	assert.NotEqual(t, gen.Generate(), gen.Generate())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		prefix string
		id     string
	}{
		{GuestPrefix, NewGuestID().String()},
		{RequestPrefix, NewRequestID().String()},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			parts := strings.Split(tt.id, "_")
			require.Len(t, parts, 2)
			assert.Equal(t, tt.prefix, parts[0])
			assert.Len(t, parts[1], 26)
			assert.True(t, IsValid(tt.id))
		})
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(NewGenerator().GenerateString()))
	for _, bad := range []string{"", "invalid", "1234567890", "guest_nope", "zzzzzzzzzzzzzzzzzzzzzzzzzzz"} {
		assert.False(t, IsValid(bad), bad)
	}
}

func TestParseAndTimestamp(t *testing.T) {
	before := time.Now()
	raw := NewGuestID().String()
	after := time.Now()

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(raw, GuestPrefix+"_"), parsed.String())

	ts, err := Timestamp(raw)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts.UnixMilli(), before.UnixMilli())
	assert.LessOrEqual(t, ts.UnixMilli(), after.UnixMilli())
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const goroutines, perGoroutine = 50, 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				id := gen.GenerateString()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestMonotonicOrder(t *testing.T) {
	gen := NewGenerator()
	prev := gen.GenerateString()
	for range 100 {
		next := gen.GenerateString()
		assert.Greater(t, next, prev)
		prev = next
	}
}
