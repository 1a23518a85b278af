package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestMPSCBasic(t *testing.T) {
	q := NewMPSC[int](nil)
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case v := <-q.Recv():
			if v != i {
				t.Errorf("Expected %d, got %d", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case v := <-q.Recv():
		t.Errorf("Expected empty queue, got %d", v)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewMPSC[int](nil)

	const producers = 8
	const perProducer = 1000

	received := make(map[int]bool, producers*perProducer)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range q.Recv() {
			if received[v] {
				t.Errorf("Duplicate item received: %d", v)
			}
			received[v] = true

			// per producer order is kept
			p, seq := v/perProducer, v%perProducer
			if seq <= last[p] {
				t.Errorf("Expected producer %d items in order, got %d after %d", p, seq, last[p])
			}
			last[p] = seq
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !q.Push(p*perProducer + i) {
					t.Errorf("Producer %d failed to push item %d", p, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()
	q.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}

	if len(received) != producers*perProducer {
		t.Errorf("Expected %d items, got %d", producers*perProducer, len(received))
	}
	if q.Pending() != 0 {
		t.Errorf("Expected no pending items, got %d", q.Pending())
	}
}

func TestMPSCClose(t *testing.T) {
	q := NewMPSC[string](nil)
	q.Push("a")
	q.Close()

	if q.Push("b") {
		t.Errorf("Expected push after close to fail")
	}
	if !q.IsClosed() {
		t.Errorf("Expected queue to be closed")
	}

	var got []string
	for v := range q.Recv() {
		got = append(got, v)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Expected [a] to be delivered after close, got %v", got)
	}

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Errorf("Expected consumer to exit")
	}
}
