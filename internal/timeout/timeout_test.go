package timeout

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestArmFires checks that an armed timer fires with its session ID.
func TestArmFires(t *testing.T) {
	m := NewManager()

	fired := make(chan string, 1)
	m.Arm("s1", 10*time.Millisecond, func(id string) { fired <- id })

	select {
	case id := <-fired:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	assert.Equal(t, 0, m.Len())
}

// TestCancelBeatsFire checks that a cancelled timer never fires.
func TestCancelBeatsFire(t *testing.T) {
	m := NewManager()

	var fires int32
	m.Arm("s1", 50*time.Millisecond, func(string) { atomic.AddInt32(&fires, 1) })

	assert.True(t, m.Cancel("s1"))
	assert.Equal(t, 0, m.Len())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires))
}

// TestCancelWithoutTimer checks that cancelling an unknown session reports
// no pending timer.
func TestCancelWithoutTimer(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Cancel("nope"))
}

// TestRearmReplacesDeadline checks that re-arming replaces the pending
// timer and a stale expiry never fires the old function.
func TestRearmReplacesDeadline(t *testing.T) {
	m := NewManager()

	var firstFired int32
	m.Arm("s1", 20*time.Millisecond, func(string) { atomic.AddInt32(&firstFired, 1) })

	fired := make(chan struct{})
	m.Arm("s1", 60*time.Millisecond, func(string) { close(fired) })
	assert.Equal(t, 1, m.Len())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("re-armed timer did not fire")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&firstFired))
}

// TestStopCancelsAll checks shutdown behavior.
func TestStopCancelsAll(t *testing.T) {
	m := NewManager()

	var fires int32
	for _, id := range []string{"a", "b", "c"} {
		m.Arm(id, 50*time.Millisecond, func(string) { atomic.AddInt32(&fires, 1) })
	}
	assert.Equal(t, 3, m.Len())

	m.Stop()
	assert.Equal(t, 0, m.Len())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires))
}
