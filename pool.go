package corosql

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Stats is the record returned by (*Pool).Stats. Field names are part of
// the public contract per spec.md §6; tests depend on them.
type Stats struct {
	LiveCount   int
	IdleCount   int
	WaiterCount int
	Capacity    int
	Persistent  bool
	Validated   bool
}

// BorrowLeak carries information about a session held past the configured
// leak-detection threshold. This is purely observational and never
// reclaims the session.
type BorrowLeak struct {
	SessionID string
	HeldFor   time.Duration
}

// Pool is the bounded connection pool of spec.md §4.C: a fixed capacity of
// live Sessions, a FIFO idle queue and a FIFO waiter queue, with fair
// transfer of connections directly from releasers to waiters.
//
// The cooperative-scheduler source this spec was distilled from needs no
// lock around pool-state mutation because its scheduler is single-threaded;
// a Go port runs across real OS threads, so every mutation below is guarded
// by mu, exactly as spec.md §5 anticipates for "a multi-threaded port".
type Pool struct {
	cfg        Config
	persistent bool

	mu      sync.Mutex
	idle    *list.List // of *Session
	waiters *list.List // of *waiter
	live    int
	closed  bool

	lastHandedOut *Session
	validated     bool

	leakThreshold time.Duration
	leakHandler   func(BorrowLeak)

	metrics        *poolMetrics
	logger         *dbLogger
	tracingEnabled bool
}

// NewPool validates cfg and constructs an empty Pool; no sessions are
// created until the first Acquire.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:        cfg,
		persistent: cfg.Persistent,
		idle:       list.New(),
		waiters:    list.New(),
		validated:  true,
		logger:     newDBLogger(),
	}
	return p, nil
}

// Acquire returns a ready-to-use Session, following spec.md §4.C's
// three-step algorithm: serve from idle, else grow live-count up to
// capacity, else queue a Waiter.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &PoolClosed{}
	}

	if el := p.idle.Front(); el != nil {
		s := el.Value.(*Session)
		p.idle.Remove(el)
		p.lastHandedOut = s
		p.mu.Unlock()
		s.markCheckedOut()
		p.startLeakWatch(s)
		p.observeAcquire(false)
		return s, nil
	}

	if p.live < p.cfg.Capacity {
		p.live++
		p.mu.Unlock()

		s, err := newSession(ctx, p.cfg, p.persistent)
		if err != nil {
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			p.observeAcquireFailed()
			return nil, err
		}

		p.mu.Lock()
		p.lastHandedOut = s
		p.mu.Unlock()
		s.markCheckedOut()
		p.startLeakWatch(s)
		p.observeAcquire(true)
		return s, nil
	}

	w := newWaiter()
	p.waiters.PushBack(w)
	p.mu.Unlock()
	p.observeWait()

	select {
	case res := <-w.result:
		if res.err != nil {
			return nil, res.err
		}
		res.session.markCheckedOut()
		p.startLeakWatch(res.session)
		return res.session, nil
	case <-ctx.Done():
		p.cancelWaiter(w)
		return nil, ctx.Err()
	}
}

// cancelWaiter removes w from the queue without touching live-count, per
// spec.md §5's cancellation note.
func (p *Pool) cancelWaiter(w *waiter) {
	p.mu.Lock()
	removed := false
	for el := p.waiters.Front(); el != nil; el = el.Next() {
		if el.Value.(*waiter) == w {
			p.waiters.Remove(el)
			removed = true
			break
		}
	}
	p.mu.Unlock()
	if removed {
		p.observeWaitDone()
	}
}

// Release returns a session to the pool; it never blocks (spec.md §4.C).
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.stopLeakWatch(s)
	ctx := context.Background()

	if !isAlive(ctx, s) {
		p.releaseDead(ctx, s)
		return
	}

	resetSession(ctx, s)
	p.releaseAlive(s)
}

// releaseDead implements the "dead path" of spec.md §4.C's release
// algorithm: decrement live-count, then if a waiter is queued and capacity
// allows, eagerly create a replacement for the head waiter.
func (p *Pool) releaseDead(ctx context.Context, s *Session) {
	_ = s.close()
	p.observeSessionClosed()

	p.mu.Lock()
	p.live--
	if p.closed {
		p.mu.Unlock()
		return
	}
	el := p.waiters.Front()
	if el == nil || p.live >= p.cfg.Capacity {
		p.mu.Unlock()
		return
	}
	w := el.Value.(*waiter)
	p.waiters.Remove(el)
	p.live++
	p.mu.Unlock()
	p.observeWaitDone()

	replacement, err := newSession(ctx, p.cfg, p.persistent)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		w.fail(err)
		return
	}
	p.mu.Lock()
	p.lastHandedOut = replacement
	p.mu.Unlock()
	p.observeAcquire(true)
	w.fulfill(replacement)
}

// releaseAlive implements the "alive path": reset already ran in Release;
// hand the session to the oldest waiter, or else park it in idle.
func (p *Pool) releaseAlive(s *Session) {
	p.mu.Lock()
	if p.closed {
		p.live--
		p.mu.Unlock()
		_ = s.close()
		p.observeSessionClosed()
		return
	}
	if el := p.waiters.Front(); el != nil {
		w := el.Value.(*waiter)
		p.waiters.Remove(el)
		p.lastHandedOut = s
		p.mu.Unlock()
		p.observeWaitDone()
		w.fulfill(s)
		return
	}
	p.idle.PushBack(s)
	p.mu.Unlock()
}

// Stats returns the current pool statistics (spec.md §6).
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		LiveCount:   p.live,
		IdleCount:   p.idle.Len(),
		WaiterCount: p.waiters.Len(),
		Capacity:    p.cfg.Capacity,
		Persistent:  p.persistent,
		Validated:   p.validated,
	}
}

// LastHandedOut returns the most recently handed-out session, or nil.
func (p *Pool) LastHandedOut() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHandedOut
}

// Close rejects all waiters with PoolClosed and closes all idle sessions.
// Sessions currently loaned out are not force-closed; they become orphaned
// and are closed by their holder on next Release, after which the (now
// closed) pool discards them rather than re-pooling (spec.md §4.C).
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var toReject []*waiter
	for el := p.waiters.Front(); el != nil; el = el.Next() {
		toReject = append(toReject, el.Value.(*waiter))
	}
	p.waiters.Init()

	var toClose []*Session
	for el := p.idle.Front(); el != nil; el = el.Next() {
		toClose = append(toClose, el.Value.(*Session))
	}
	p.idle.Init()
	p.mu.Unlock()

	for _, w := range toReject {
		w.fail(&PoolClosed{})
		p.observeWaitDone()
	}

	for _, s := range toClose {
		_ = s.close()
		p.observeSessionClosed()
	}
	return nil
}

// Resize changes the pool's capacity. It never forcibly closes live
// sessions above the new capacity; it only stops Acquire from growing
// live-count past the new bound going forward (SPEC_FULL.md §7).
func (p *Pool) Resize(capacity int) error {
	if capacity < 1 {
		return &InvalidArgument{Parameter: "capacity", Message: "must be >= 1"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Capacity = capacity
	return nil
}

// WarmUp pre-creates sessions up to the pool's capacity by acquiring and
// immediately releasing them.
func (p *Pool) WarmUp(ctx context.Context) error {
	capacity := p.Stats().Capacity
	sessions := make([]*Session, 0, capacity)
	for i := 0; i < capacity; i++ {
		s, err := p.Acquire(ctx)
		if err != nil {
			for _, s := range sessions {
				p.Release(s)
			}
			return err
		}
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		p.Release(s)
	}
	return nil
}

// SetBorrowWarnThreshold and SetLeakHandler configure the supplemented
// connection-leak detector (SPEC_FULL.md §7): if a loaned-out session is
// held past threshold, handler is invoked once with a BorrowLeak.
func (p *Pool) SetBorrowWarnThreshold(d time.Duration) {
	p.mu.Lock()
	p.leakThreshold = d
	p.mu.Unlock()
}

func (p *Pool) SetLeakHandler(h func(BorrowLeak)) {
	p.mu.Lock()
	p.leakHandler = h
	p.mu.Unlock()
}

// startLeakWatch and stopLeakWatch track the watcher per-session, on the
// Session itself, so concurrent checkouts of different sessions never
// overwrite each other's stop channel.
func (p *Pool) startLeakWatch(s *Session) {
	p.mu.Lock()
	threshold := p.leakThreshold
	handler := p.leakHandler
	p.mu.Unlock()
	if threshold <= 0 || handler == nil {
		return
	}
	stop := make(chan struct{})
	s.setLeakStop(stop)
	go func(sessID string) {
		t := time.NewTimer(threshold)
		defer t.Stop()
		select {
		case <-stop:
			return
		case <-t.C:
			handler(BorrowLeak{SessionID: sessID, HeldFor: s.heldFor()})
		}
	}(s.ID().String())
}

func (p *Pool) stopLeakWatch(s *Session) {
	stop := s.takeLeakStop()
	if stop != nil {
		close(stop)
	}
}
