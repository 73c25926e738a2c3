package corosql

// waiter is a one-shot completion slot queued on the Pool when it is
// saturated (spec.md §3, Waiter). At most one of fulfill/fail is ever
// invoked, by the Pool itself after it has removed the waiter from its queue
// under its mutex; the call happens once the mutex is released, and never
// blocks because result is buffered.
type waiter struct {
	result chan waiterResult
}

type waiterResult struct {
	session *Session
	err     error
}

func newWaiter() *waiter {
	return &waiter{result: make(chan waiterResult, 1)}
}

func (w *waiter) fulfill(s *Session) {
	w.result <- waiterResult{session: s}
}

func (w *waiter) fail(err error) {
	w.result <- waiterResult{err: err}
}
