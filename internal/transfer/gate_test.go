package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestGateOpenByDefault verifies Wait does not block on a fresh gate.
func TestGateOpenByDefault(t *testing.T) {
	g := NewGate()

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on an open gate")
	}
}

// TestGatePauseResume verifies Wait blocks while paused and returns after
// Resume.
func TestGatePauseResume(t *testing.T) {
	g := NewGate()
	g.Pause()
	assert.True(t, g.Paused())

	released := make(chan struct{})
	go func() {
		g.Wait()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("Wait returned while gate was paused")
	case <-time.After(50 * time.Millisecond):
	}

	g.Resume()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Resume")
	}
	assert.False(t, g.Paused())
}

// TestGateIdempotent verifies repeated Pause and Resume calls are safe.
func TestGateIdempotent(t *testing.T) {
	g := NewGate()

	g.Resume() // resume while open is a no-op
	g.Pause()
	g.Pause()
	g.Resume()
	g.Resume()
	assert.False(t, g.Paused())

	// Gate still works after the churn.
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked after pause/resume churn")
	}
}
