package signaling

import (
	"sync"
	"testing"
	"time"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue[int](10)

	for i := 0; i < 5; i++ {
		if !q.push(i) {
			t.Fatalf("push(%d) returned false", i)
		}
	}

	for i := 0; i < 5; i++ {
		val, ok := q.pop()
		if !ok {
			t.Fatalf("pop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if got := q.stats().Pending; got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}
}

func TestEventQueue_GrowsAt70Percent(t *testing.T) {
	q := newEventQueue[int](10)

	for i := 0; i < 7; i++ {
		q.push(i)
	}

	stats := q.stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.Resizes != 1 {
		t.Errorf("Resizes = %d, want 1", stats.Resizes)
	}

	for i := 0; i < 7; i++ {
		if val, _ := q.pop(); val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
}

func TestEventQueue_GrowAfterWrap(t *testing.T) {
	q := newEventQueue[int](10)

	// Move head forward so the ring wraps before growing
	for i := 0; i < 5; i++ {
		q.push(i)
	}
	for i := 0; i < 5; i++ {
		q.pop()
	}
	for i := 0; i < 20; i++ {
		q.push(100 + i)
	}

	for i := 0; i < 20; i++ {
		val, ok := q.pop()
		if !ok || val != 100+i {
			t.Fatalf("pop() = %d, %v, want %d, true", val, ok, 100+i)
		}
	}
}

func TestEventQueue_PopBlocksUntilPush(t *testing.T) {
	q := newEventQueue[string](4)

	got := make(chan string, 1)
	go func() {
		v, _ := q.pop()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(50 * time.Millisecond):
	}

	q.push("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("pop() = %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock")
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue[int](4)
	q.push(1)
	q.push(2)
	q.close()

	if q.push(3) {
		t.Error("push after close returned true")
	}

	// Remaining items are still delivered
	for _, want := range []int{1, 2} {
		val, ok := q.pop()
		if !ok || val != want {
			t.Errorf("pop() = %d, %v, want %d, true", val, ok, want)
		}
	}

	if _, ok := q.pop(); ok {
		t.Error("pop() on closed empty queue returned true")
	}
}

func TestEventQueue_CloseUnblocksPop(t *testing.T) {
	q := newEventQueue[int](4)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Error("pop() returned true after close")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock pop")
	}
}

func TestEventQueue_Concurrent(t *testing.T) {
	q := newEventQueue[int](2)
	const producers, perProducer = 4, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.push(i)
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, ok := q.pop(); !ok {
				return
			}
			received++
		}
	}()

	wg.Wait()
	q.close()
	<-done

	if received != producers*perProducer {
		t.Errorf("received = %d, want %d", received, producers*perProducer)
	}
	stats := q.stats()
	if stats.Pushed != stats.Popped {
		t.Errorf("Pushed = %d, Popped = %d, want equal", stats.Pushed, stats.Popped)
	}
}

func TestNewEventQueue_MinCapacity(t *testing.T) {
	q := newEventQueue[int](0)
	if q.stats().Capacity < 1 {
		t.Errorf("Capacity = %d, want >= 1", q.stats().Capacity)
	}
	q.push(1)
	if v, ok := q.pop(); !ok || v != 1 {
		t.Errorf("pop() = %d, %v, want 1, true", v, ok)
	}
}
