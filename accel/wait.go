package accel

import "runtime"

// waitSpinYield blocks until done is closed, yielding the processor between
// checks instead of parking the goroutine on a channel receive. This is
// the discipline called for by the container's design notes: a thread
// waiting on one queue's transfer should free its core for other threads
// driving sibling queues, rather than sleep indefinitely.
func waitSpinYield(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
			runtime.Gosched()
		}
	}
}
