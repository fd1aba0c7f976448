// Package hub owns the current session snapshot and fans out change batches
// to every admitted streaming connection. One hub instance drives the poll
// timer, the heartbeat timer and the connection registry; there are no
// package-level globals, so start/stop is deterministic in tests and at
// shutdown.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codewatch/control-room/internal/model/session"
	"github.com/codewatch/control-room/pkg/utils"
)

// Fetcher produces a fresh snapshot from the upstream API.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (session.Snapshot, error)
}

// Persister durably records delta batches and serves the warm-start read.
type Persister interface {
	SaveDeltas(ctx context.Context, deltas []session.Delta) error
	LoadSnapshot(ctx context.Context) (session.Snapshot, error)
}

// Notifier receives each non-empty delta batch as a fire-and-forget side
// effect. Implementations must not block.
type Notifier interface {
	Notify(deltas []session.Delta)
}

// Envelope is the one message shape sent to streaming clients. Today the
// only variant is session_update; new variants extend Type without breaking
// existing consumers.
type Envelope struct {
	Type  string          `json:"type"`
	Delta []session.Delta `json:"delta"`
}

// Options carries the hub's timing and resource knobs.
type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxBufferedBytes  int64
}

// Hub coordinates polling, diffing, persistence, notification and fan-out.
// It is the single writer of the snapshot and the connection registry.
type Hub struct {
	fetcher  Fetcher
	store    Persister // nil when persistence is unavailable
	notifier Notifier  // nil when no webhook is configured
	opts     Options

	mu       sync.RWMutex
	snapshot session.Snapshot
	conns    map[*Conn]struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wake     chan struct{}
	stopOnce sync.Once
	started  bool
}

// New builds a stopped hub. store and notifier may be nil.
func New(fetcher Fetcher, store Persister, notifier Notifier, opts Options) *Hub {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.MaxBufferedBytes <= 0 {
		opts.MaxBufferedBytes = 256 << 10
	}
	return &Hub{
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		opts:     opts,
		snapshot: make(session.Snapshot),
		conns:    make(map[*Conn]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Start warm-starts the snapshot from the persistence layer and launches the
// poll and heartbeat loops. The poll loop stays parked until the first
// connection registers.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.mu.Unlock()

	if h.store != nil {
		snap, err := h.store.LoadSnapshot(h.ctx)
		if err != nil {
			log.Printf("[hub] warm start failed, starting empty: %s", utils.TruncateError(err))
		} else if len(snap) > 0 {
			h.mu.Lock()
			h.snapshot = snap
			h.mu.Unlock()
			log.Printf("[hub] warm started with %d sessions", len(snap))
		}
	}

	go h.pollLoop()
	go h.heartbeatLoop()
}

// Stop halts both timers and closes every admitted connection. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		if !h.started {
			h.mu.Unlock()
			return
		}
		h.cancel()
		conns := make([]*Conn, 0, len(h.conns))
		for c := range h.conns {
			conns = append(conns, c)
		}
		h.conns = make(map[*Conn]struct{})
		h.mu.Unlock()

		for _, c := range conns {
			c.close(websocket.CloseGoingAway, "server shutting down")
		}
	})
}

// Register wraps an upgraded websocket, adds it to the registry and starts
// its read/write pumps. Registering the first connection wakes the poll
// loop.
func (h *Hub) Register(ws *websocket.Conn) *Conn {
	c := newConn(ws)

	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		_ = ws.SetReadDeadline(time.Now().Add(2*h.opts.HeartbeatInterval + writeWait))
		return nil
	})
	_ = ws.SetReadDeadline(time.Now().Add(2*h.opts.HeartbeatInterval + writeWait))

	h.mu.Lock()
	h.conns[c] = struct{}{}
	first := len(h.conns) == 1
	h.mu.Unlock()

	go c.writePump()
	go h.readPump(c)

	if first {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}

	log.Printf("[hub] connection registered (total=%d)", h.ConnCount())
	return c
}

// ConnCount reports the number of admitted connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// readPump drains inbound frames so pong handlers run, and evicts the
// connection when the client goes away.
func (h *Hub) readPump(c *Conn) {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			h.evict(c, websocket.CloseAbnormalClosure, "read failed")
			return
		}
	}
}

// evict removes a connection from the registry and closes it. Safe to call
// for already-evicted connections.
func (h *Hub) evict(c *Conn, code int, reason string) {
	h.mu.Lock()
	_, present := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()

	c.close(code, reason)
	if present {
		log.Printf("[hub] connection evicted: %s (total=%d)", reason, h.ConnCount())
	}
}

// pollLoop parks while no connections are registered and runs the poll
// ticker while at least one is.
func (h *Hub) pollLoop() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.wake:
		}

		ticker := time.NewTicker(h.opts.PollInterval)
	active:
		for {
			select {
			case <-h.ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				if h.ConnCount() == 0 {
					break active
				}
				h.tick()
			}
		}
		ticker.Stop()
	}
}

// tick is one poll cycle: fetch, diff, swap, persist, notify, fan out. Every
// failure is absorbed here; a failed tick leaves the previous snapshot
// authoritative and emits nothing.
func (h *Hub) tick() {
	started := time.Now()
	fresh, err := h.fetcher.FetchSnapshot(h.ctx)
	if err != nil {
		log.Printf("[hub] poll failed, skipping tick: %s", utils.TruncateError(err))
		return
	}

	h.mu.Lock()
	deltas := session.Diff(h.snapshot, fresh)
	h.snapshot = fresh
	h.mu.Unlock()

	if len(deltas) == 0 {
		return
	}

	if h.store != nil {
		if err := h.store.SaveDeltas(h.ctx, deltas); err != nil {
			log.Printf("[hub] persist failed: %s", utils.TruncateError(err))
		}
	}
	if h.notifier != nil {
		h.notifier.Notify(deltas)
	}

	h.broadcast(deltas)
	log.Printf("[hub] tick broadcast %d deltas elapsed=%s", len(deltas), time.Since(started).Round(time.Millisecond))
}

// broadcast sends one message carrying the whole batch to every registered
// connection. A connection over its byte budget is closed with the
// backpressure status instead of receiving the payload; the rest are
// unaffected.
func (h *Hub) broadcast(deltas []session.Delta) {
	payload, err := json.Marshal(Envelope{Type: "session_update", Delta: deltas})
	if err != nil {
		log.Printf("[hub] encode broadcast failed: %s", utils.TruncateError(err))
		return
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.enqueue(payload, h.opts.MaxBufferedBytes); err != nil {
			h.evict(c, closeBackpressure, "backpressure")
		}
	}
}

// heartbeatLoop runs for the hub's whole lifetime, independent of the poll
// timer and of connection count.
func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.heartbeatSweep()
		}
	}
}

// heartbeatSweep evicts connections that stayed silent since the previous
// sweep, then clears the liveness flag and pings the survivors. The pong
// handler is the only place the flag is set again.
func (h *Hub) heartbeatSweep() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.alive.Load() {
			h.evict(c, closeHeartbeatTimeout, "heartbeat timeout")
			continue
		}
		c.alive.Store(false)
		c.requestPing()
	}
}

// CurrentSnapshot returns the hub's view of the world. The returned map is
// the live snapshot reference; callers must treat it as read-only.
func (h *Hub) CurrentSnapshot() session.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot
}
