package handoff

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New()
	q.Push(5)
	q.Push(7)

	for _, want := range []Descriptor{5, 7} {
		got, ok := q.WaitAndPop()
		if !ok {
			t.Fatalf("WaitAndPop returned no descriptor, want %d", want)
		}
		if got != want {
			t.Errorf("WaitAndPop = %d, want %d", got, want)
		}
	}
	if n := q.Len(); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestQueue_SingleConsumerOrder(t *testing.T) {
	const n = 1000
	q := New()

	go func() {
		for i := 0; i < n; i++ {
			q.Push(Descriptor(i))
		}
	}()

	for i := 0; i < n; i++ {
		got, ok := q.WaitAndPop()
		if !ok {
			t.Fatalf("WaitAndPop returned no descriptor at %d", i)
		}
		if got != Descriptor(i) {
			t.Fatalf("WaitAndPop = %d, want %d", got, i)
		}
	}
}

func TestQueue_BlocksUntilShutDown(t *testing.T) {
	q := New()
	done := make(chan bool)

	go func() {
		_, ok := q.WaitAndPop()
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("WaitAndPop returned on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.ShutDown()

	select {
	case ok := <-done:
		if ok {
			t.Error("WaitAndPop returned a descriptor after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitAndPop did not return after ShutDown")
	}
}

func TestQueue_BlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan Descriptor)

	go func() {
		d, _ := q.WaitAndPop()
		done <- d
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case d := <-done:
		if d != 42 {
			t.Errorf("WaitAndPop = %d, want 42", d)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitAndPop did not return after Push")
	}
}

func TestQueue_ShutDownIgnoresQueuedItems(t *testing.T) {
	q := New()
	q.Push(1)
	q.Push(2)
	q.ShutDown()

	for i := 0; i < 3; i++ {
		if d, ok := q.WaitAndPop(); ok {
			t.Errorf("WaitAndPop = %d after shutdown, want none", d)
		}
	}
	if n := q.Len(); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}

	q.Push(3)
	if _, ok := q.WaitAndPop(); ok {
		t.Error("descriptor pushed after shutdown was delivered")
	}
}

func TestQueue_ShutDownIdempotent(t *testing.T) {
	q := New()
	for i := 0; i < 3; i++ {
		q.ShutDown()
	}
	if !q.ShuttingDown() {
		t.Error("ShuttingDown = false, want true")
	}
	if _, ok := q.WaitAndPop(); ok {
		t.Error("WaitAndPop returned a descriptor after repeated shutdown")
	}
}

func TestQueue_ShutDownWakesAllWaiters(t *testing.T) {
	const waiters = 8
	q := New()

	var wg sync.WaitGroup
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.WaitAndPop()
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.ShutDown()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("not all waiters returned after ShutDown")
	}

	close(results)
	for ok := range results {
		if ok {
			t.Error("waiter received a descriptor after shutdown")
		}
	}
}

func TestQueue_MultipleConsumersExactlyOnce(t *testing.T) {
	const (
		producers = 4
		consumers = 6
		perProd   = 500
	)
	q := New()

	var mu sync.Mutex
	seen := make(map[Descriptor]int)

	var cwg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				d, ok := q.WaitAndPop()
				if !ok {
					return
				}
				mu.Lock()
				seen[d]++
				mu.Unlock()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProd; i++ {
				q.Push(Descriptor(p*perProd + i))
			}
		}(p)
	}
	pwg.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == producers*perProd || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	q.ShutDown()
	cwg.Wait()

	if len(seen) != producers*perProd {
		t.Fatalf("delivered %d distinct descriptors, want %d", len(seen), producers*perProd)
	}
	for d, count := range seen {
		if count != 1 {
			t.Errorf("descriptor %d delivered %d times", d, count)
		}
	}
}

func TestQueue_Drain(t *testing.T) {
	q := New()
	q.Push(1)
	q.Push(2)

	if got := q.Drain(); got != nil {
		t.Errorf("Drain before shutdown = %v, want nil", got)
	}

	q.ShutDown()
	got := q.Drain()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Drain = %v, want [1 2]", got)
	}
	if n := q.Len(); n != 0 {
		t.Errorf("Len after Drain = %d, want 0", n)
	}
	if !q.ShuttingDown() {
		t.Error("Drain re-opened the queue")
	}
}
