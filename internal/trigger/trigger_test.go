package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCoalescerKeepsOnePending(t *testing.T) {
	q := NewCoalescer()
	assert.True(t, q.Fire())
	for i := 0; i < 5; i++ {
		assert.False(t, q.Fire())
	}

	<-q.C()
	select {
	case <-q.C():
		t.Fatal("more than one pending trigger")
	default:
	}

	assert.True(t, q.Fire())
}

func TestPeriodicFiresUntilCancelled(t *testing.T) {
	q := NewCoalescer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Periodic(ctx, 5*time.Millisecond, q)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-q.C():
		case <-time.After(time.Second):
			t.Fatal("no periodic trigger")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Periodic did not stop")
	}
}

type fakePin struct {
	edges atomic.Int32
}

func (p *fakePin) WaitForEdge(time.Duration) bool {
	if p.edges.Load() <= 0 {
		time.Sleep(time.Millisecond)
		return false
	}
	p.edges.Add(-1)
	return true
}

func TestGPIOEdgeCoalescesBurst(t *testing.T) {
	pin := &fakePin{}
	pin.edges.Store(4)
	q := NewCoalescer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		GPIOEdge(ctx, pin, q)
		close(done)
	}()

	assert.Eventually(t, func() bool { return pin.edges.Load() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done

	<-q.C()
	select {
	case <-q.C():
		t.Fatal("burst of edges produced more than one pending cycle")
	default:
	}
}
