package pgfe

import (
	"sync"
	"time"

	"github.com/pgfe-go/pgfe/internal/metrics"
)

// poolSlot holds one Connection and whether it is currently borrowed.
type poolSlot struct {
	conn  *Connection
	inUse bool
}

// Pool is a fixed-size vector of Connections sharing one Options template.
// Borrow hands out an idle slot's Connection immediately, connecting it
// lazily on first use, and returns an invalid Handle right away if every
// slot is currently in use; it never blocks a caller. BorrowWait adds
// blocking-with-timeout on top of that for callers that want to wait for a
// slot instead of retrying.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots   []poolSlot
	options *Options

	onConnect func(*Connection) error
	onRelease func(*Connection) error

	metrics *metrics.Collector
	label   string

	waiting        int
	isConnected    bool
	closeOnRelease bool
	closed         bool

	stopHealthLoop func()
}

// NewPool constructs a Pool of size connections, all initially
// disconnected; each is dialed lazily the first time Borrow/BorrowWait
// hands it out. onRelease defaults to running "DISCARD ALL" to return a
// connection to a clean session state before it is reused.
func NewPool(size int, opts *Options) *Pool {
	p := &Pool{
		slots:   make([]poolSlot, size),
		options: opts,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.slots {
		p.slots[i].conn = NewConnection(opts.Clone())
	}
	p.onRelease = func(c *Connection) error {
		_, err := c.Perform("DISCARD ALL", nil)
		return err
	}
	return p
}

// SetMetrics attaches a Prometheus collector with the given pool label.
func (p *Pool) SetMetrics(m *metrics.Collector, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
	p.label = label
	for i := range p.slots {
		p.slots[i].conn.SetMetrics(m, label)
	}
}

// SetConnectHook installs a callback run once, immediately after a slot's
// Connection successfully dials for the first time (or reconnects after a
// lost connection). A nil hook (the default) does nothing.
func (p *Pool) SetConnectHook(hook func(*Connection) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = hook
}

// SetReleaseHook overrides the per-release cleanup hook run by Release
// before a Connection is returned to the idle set. Pass nil to disable it
// entirely.
func (p *Pool) SetReleaseHook(hook func(*Connection) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRelease = hook
}

// Handle is a move-only borrowed-connection wrapper: Release returns the
// underlying Connection to the Pool and must be called exactly once,
// typically via defer immediately after a successful Borrow.
type Handle struct {
	pool    *Pool
	slot    int
	conn    *Connection
	valid   bool
	started time.Time
}

// Valid reports whether this Handle actually holds a borrowed Connection
// (false for the zero-value Handle Borrow returns when the pool is
// exhausted).
func (h *Handle) Valid() bool { return h != nil && h.valid }

// Conn returns the borrowed Connection. Calling it on an invalid Handle
// returns nil.
func (h *Handle) Conn() *Connection {
	if h == nil || !h.valid {
		return nil
	}
	return h.conn
}

// Release runs the pool's release hook (if any) and returns the slot to
// the idle set, waking every BorrowWait waiter to recheck for it. Calling Release on an
// already-released or invalid Handle is a no-op, so a deferred Release
// next to a manual early Release is safe.
func (h *Handle) Release() {
	if h == nil || !h.valid {
		return
	}
	h.valid = false
	h.pool.release(h.slot)
}

// Connect opens every currently idle slot sequentially, invoking the
// connect hook after each successful dial, and marks the pool connected.
// It stops at the first failure, leaving already-opened slots connected so
// a retry only has the remainder to do.
func (p *Pool) Connect() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return newClientError(ErrGeneric, "pool is closed")
	}
	slots := p.slots
	p.mu.Unlock()

	for i := range slots {
		p.mu.Lock()
		busy := slots[i].inUse
		p.mu.Unlock()
		if busy {
			continue
		}
		if err := p.ensureConnected(slots[i].conn); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.isConnected = true
	p.closeOnRelease = false
	p.mu.Unlock()
	p.reportStatsLocked()
	return nil
}

// Disconnect closes only the idle slots and clears the connected flag;
// slots currently borrowed are left alone and close when released.
func (p *Pool) Disconnect() {
	p.mu.Lock()
	p.isConnected = false
	p.closeOnRelease = true
	var idle []*Connection
	for i := range p.slots {
		if !p.slots[i].inUse {
			idle = append(idle, p.slots[i].conn)
		}
	}
	p.mu.Unlock()

	for _, conn := range idle {
		conn.Disconnect()
	}
	p.reportStatsLocked()
}

// IsConnected reports whether Connect has opened the pool and neither
// Disconnect nor Close has since shut it.
func (p *Pool) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isConnected
}

// Borrow returns an idle Connection immediately, dialing it first if this
// is its first use, or an invalid Handle if every slot is currently
// borrowed. It never blocks.
func (p *Pool) Borrow() (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, newClientError(ErrGeneric, "pool is closed")
	}
	idx := p.firstIdleLocked()
	if idx < 0 {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PoolExhausted(p.label)
		}
		return &Handle{}, nil
	}
	p.slots[idx].inUse = true
	conn := p.slots[idx].conn
	p.mu.Unlock()

	if err := p.ensureConnected(conn); err != nil {
		p.mu.Lock()
		p.slots[idx].inUse = false
		p.mu.Unlock()
		p.cond.Broadcast()
		return nil, err
	}
	p.reportStatsLocked()
	return &Handle{pool: p, slot: idx, conn: conn, valid: true, started: time.Now()}, nil
}

// BorrowWait behaves like Borrow, but blocks up to timeout (timeout <= 0
// waits indefinitely) for a slot to become idle instead of returning an
// invalid Handle immediately.
func (p *Pool) BorrowWait(timeout time.Duration) (*Handle, error) {
	start := time.Now()
	deadline := time.Time{}
	if timeout > 0 {
		deadline = start.Add(timeout)
	}

	p.mu.Lock()
	p.waiting++
	defer func() {
		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()
	}()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, newClientError(ErrGeneric, "pool is closed")
		}
		idx := p.firstIdleLocked()
		if idx >= 0 {
			p.slots[idx].inUse = true
			p.mu.Unlock()
			conn := p.slots[idx].conn
			if err := p.ensureConnected(conn); err != nil {
				p.mu.Lock()
				p.slots[idx].inUse = false
				p.mu.Unlock()
				p.cond.Broadcast()
				return nil, err
			}
			if p.metrics != nil {
				p.metrics.AcquireDuration(p.label, time.Since(start))
			}
			p.reportStatsLocked()
			return &Handle{pool: p, slot: idx, conn: conn, valid: true, started: time.Now()}, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			p.mu.Unlock()
			return nil, newClientError(ErrTimedOut, "timed out waiting for an idle connection")
		}
		p.waitLocked(deadline)
	}
}

// waitLocked blocks on the condition variable, bounding the wait to
// deadline via a timer goroutine that issues a Broadcast: sync.Cond has
// no native deadline support, so a recheck-on-wake loop (the caller's for
// loop above) combined with this wake is how BorrowWait honors timeout.
func (p *Pool) waitLocked(deadline time.Time) {
	if deadline.IsZero() {
		p.cond.Wait()
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, p.cond.Broadcast)
	p.cond.Wait()
	timer.Stop()
}

func (p *Pool) firstIdleLocked() int {
	for i := range p.slots {
		if !p.slots[i].inUse {
			return i
		}
	}
	return -1
}

func (p *Pool) ensureConnected(conn *Connection) error {
	if conn.state == stateIdle {
		return nil
	}
	if err := conn.Connect(); err != nil {
		return err
	}
	p.mu.Lock()
	hook := p.onConnect
	p.mu.Unlock()
	if hook != nil {
		if err := hook(conn); err != nil {
			conn.Disconnect()
			return err
		}
	}
	return nil
}

// release runs the release hook (recovering from a panicking hook the same
// way notice/notification callbacks are isolated) and returns the slot to
// the idle set.
func (p *Pool) release(slot int) {
	conn := p.slots[slot].conn

	p.mu.Lock()
	hook := p.onRelease
	p.mu.Unlock()

	if hook != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					conn.logger.Warn("pgfe: pool release hook panicked", "recover", r)
				}
			}()
			if err := hook(conn); err != nil {
				conn.Disconnect()
			}
		}()
	}

	p.mu.Lock()
	poolDown := p.closeOnRelease
	p.mu.Unlock()
	// A connection that can no longer take requests is closed here rather
	// than handed back broken; the slot redials on its next borrow. The
	// same applies when the pool was disconnected while this slot was out.
	if poolDown || !conn.IsReadyForRequest() {
		conn.Disconnect()
	}

	p.mu.Lock()
	p.slots[slot].inUse = false
	p.mu.Unlock()
	p.reportStatsLocked()
	p.cond.Broadcast()
}

// probeOne runs "SELECT 1" on conn, reporting success. It recovers from a
// panic the same way release hooks are isolated, so one misbehaving slot
// never takes down the whole health-loop goroutine.
func probeOne(conn *Connection) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			conn.logger.Warn("pgfe: pool health probe panicked", "recover", r)
			ok = false
		}
	}()
	_, err := conn.Perform("SELECT 1", nil)
	if err != nil {
		conn.logger.Warn("pgfe: pool health probe failed, disconnecting slot", "error", err)
		return false
	}
	return true
}

// reportStatsLocked updates the pool gauges. Callers must not hold p.mu:
// it takes p.mu itself to count the slots.
func (p *Pool) reportStatsLocked() {
	if p.metrics == nil {
		return
	}
	active, idle := 0, 0
	p.mu.Lock()
	for _, s := range p.slots {
		if s.inUse {
			active++
		} else {
			idle++
		}
	}
	waiting := p.waiting
	p.mu.Unlock()
	p.metrics.SetPoolStats(p.label, active, idle, waiting)
}

// Stats reports the current count of borrowed, idle, and waiting callers.
func (p *Pool) Stats() (active, idle, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.inUse {
			active++
		} else {
			idle++
		}
	}
	return active, idle, p.waiting
}

// ConnectedStats is Stats restricted to live sessions: idle counts only
// slots holding an established connection, so a pool that has never dialed
// (or whose slots were all torn down) reports zero. Borrowed slots mutate
// their Connection outside the pool lock, so only non-borrowed slots are
// inspected.
func (p *Pool) ConnectedStats() (active, idle, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.inUse {
			active++
		} else if s.conn.state == stateIdle {
			idle++
		}
	}
	return active, idle, p.waiting
}

// Close marks the pool closed, disconnects every idle slot's Connection,
// and wakes any BorrowWait callers, who observe the pool closed and return
// an error rather than hanging forever. Borrowed slots are left to their
// borrowers and close on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.isConnected = false
	p.closeOnRelease = true
	var idle []*Connection
	for i := range p.slots {
		if !p.slots[i].inUse {
			idle = append(idle, p.slots[i].conn)
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	if p.stopHealthLoop != nil {
		p.stopHealthLoop()
	}

	var firstErr error
	for _, conn := range idle {
		if err := conn.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartHealthLoop runs a background probe of every currently idle slot on
// each tick of interval, sending "SELECT 1" and reading until
// ReadyForQuery. A slot that fails the probe is disconnected; the next
// Borrow/BorrowWait redials it lazily like any other first use. The
// returned stop function halts the loop and is also invoked automatically
// by Close. Calling StartHealthLoop more than once on the same Pool
// replaces the previous loop.
func (p *Pool) StartHealthLoop(interval time.Duration) func() {
	p.mu.Lock()
	if p.stopHealthLoop != nil {
		prevStop := p.stopHealthLoop
		p.mu.Unlock()
		prevStop()
		p.mu.Lock()
	}
	stopCh := make(chan struct{})
	p.stopHealthLoop = func() {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.probeIdleSlots()
			case <-stopCh:
				return
			}
		}
	}()
	return p.stopHealthLoop
}

// probeIdleSlots runs "SELECT 1" over each slot that is idle and already
// connected, disconnecting any slot whose probe fails so it reconnects
// fresh on next use.
func (p *Pool) probeIdleSlots() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var candidates []int
	for i := range p.slots {
		if !p.slots[i].inUse && p.slots[i].conn.state == stateIdle {
			p.slots[i].inUse = true
			candidates = append(candidates, i)
		}
	}
	p.mu.Unlock()

	for _, idx := range candidates {
		conn := p.slots[idx].conn
		if !probeOne(conn) {
			conn.Disconnect()
		}
		p.mu.Lock()
		p.slots[idx].inUse = false
		p.mu.Unlock()
	}

	p.reportStatsLocked()
	p.cond.Broadcast()
}
