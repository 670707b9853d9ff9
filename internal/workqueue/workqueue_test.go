package workqueue

import (
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestChunkQueueFIFO(t *testing.T) {
	Convey("Given a chunk queue with pushed chunks", t, func() {
		q := NewChunkQueue()
		q.Push(Chunk{1, 2, 3})
		q.Push(Chunk{4, 5})

		Convey("Pop returns them in FIFO order", func() {
			So(q.Pop(), ShouldResemble, Chunk{1, 2, 3})
			So(q.Pop(), ShouldResemble, Chunk{4, 5})
			So(q.Empty(), ShouldBeTrue)
		})
	})

	Convey("Given an empty chunk queue", t, func() {
		q := NewChunkQueue()
		done := make(chan Chunk, 1)
		go func() { done <- q.Pop() }()

		Convey("Pop blocks until a push arrives", func() {
			select {
			case <-done:
				t.Fatal("Pop returned before any push")
			case <-time.After(50 * time.Millisecond):
			}
			q.Push(Chunk{9})
			select {
			case c := <-done:
				So(c, ShouldResemble, Chunk{9})
			case <-time.After(time.Second):
				t.Fatal("Pop never unblocked after push")
			}
		})
	})
}

func TestIDQueueFIFO(t *testing.T) {
	Convey("Given an ID queue", t, func() {
		q := NewIDQueue()
		q.Push(3)
		q.Push(1)

		Convey("Pop is FIFO", func() {
			So(q.Pop(), ShouldEqual, 3)
			So(q.Pop(), ShouldEqual, 1)
		})
	})
}

func TestBarrierWakesAllWaiters(t *testing.T) {
	Convey("Given a barrier and several waiting goroutines", t, func() {
		b := NewBarrier()
		const nWorkers = 8
		var wg sync.WaitGroup
		wg.Add(nWorkers)
		woke := make([]bool, nWorkers)

		for i := 0; i < nWorkers; i++ {
			i := i
			observed := b.Counter()
			go func() {
				defer wg.Done()
				b.WaitPast(observed)
				woke[i] = true
			}()
		}

		// Give goroutines a moment to reach WaitPast.
		time.Sleep(50 * time.Millisecond)
		b.Advance()

		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()

		Convey("Every waiter wakes after one Advance", func() {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("not all waiters woke up")
			}
			for _, w := range woke {
				So(w, ShouldBeTrue)
			}
		})
	})
}

func TestBarrierMonotonicCounter(t *testing.T) {
	Convey("Given repeated Advance calls", t, func() {
		b := NewBarrier()
		prev := b.Counter()
		for i := 0; i < 5; i++ {
			b.Advance()
			cur := b.Counter()
			So(cur, ShouldEqual, prev+1)
			prev = cur
		}
	})
}
