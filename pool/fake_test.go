package pool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/utkarsh5026/bulkload/internal/protocol"
	"github.com/utkarsh5026/bulkload/internal/transport"
)

// fakeSpawner hands out fakeConns the test drives by hand.
type fakeSpawner struct {
	mu        sync.Mutex
	conns     map[int]*fakeConn
	failSpawn map[int]bool
	silent    map[int]bool // never report ready
	reply     func(req protocol.Request) *protocol.Response
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		conns:     make(map[int]*fakeConn),
		failSpawn: make(map[int]bool),
		silent:    make(map[int]bool),
	}
}

func (s *fakeSpawner) Spawn(_ context.Context, id int, ev transport.Events) (transport.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSpawn[id] {
		return nil, errors.New("spawn failed")
	}
	c := &fakeConn{id: id, ev: ev, reply: s.reply, sent: make(chan protocol.Request, 1024)}
	s.conns[id] = c
	if !s.silent[id] {
		c.connected.Store(true)
		ev.OnReady()
	}
	return c, nil
}

func (s *fakeSpawner) conn(id int) *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

type fakeConn struct {
	id        int
	ev        transport.Events
	reply     func(req protocol.Request) *protocol.Response
	sent      chan protocol.Request
	connected atomic.Bool
	sendErr   atomic.Pointer[error]
	stalled   atomic.Bool // Send waits for its ctx, like a worker that stopped reading
	exitOnce  sync.Once
	sendCount atomic.Int32
}

func (c *fakeConn) Send(ctx context.Context, req protocol.Request) error {
	if errp := c.sendErr.Load(); errp != nil {
		return *errp
	}
	if !c.connected.Load() {
		return transport.ErrNotConnected
	}
	if c.stalled.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	c.sendCount.Add(1)
	c.sent <- req
	if c.reply != nil {
		if resp := c.reply(req); resp != nil {
			go c.ev.OnMessage(*resp)
		}
	}
	return nil
}

func (c *fakeConn) Connected() bool { return c.connected.Load() }

func (c *fakeConn) Kill() error {
	c.exit(transport.ExitStatus{Code: -1, Signal: "killed"})
	return nil
}

func (c *fakeConn) PID() int { return 1000 + c.id }

func (c *fakeConn) exit(status transport.ExitStatus) {
	c.exitOnce.Do(func() {
		c.connected.Store(false)
		c.ev.OnExit(status)
	})
}

func (c *fakeConn) respond(resp protocol.Response) {
	c.ev.OnMessage(resp)
}

func (c *fakeConn) nextRequest(t *testing.T) protocol.Request {
	t.Helper()
	select {
	case req := <-c.sent:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("worker %d received no request", c.id)
		return protocol.Request{}
	}
}

// echoCounts replies with every record processed.
func echoCounts(req protocol.Request) *protocol.Response {
	var items []protocol.Record
	_ = json.Unmarshal(req.Items, &items)
	resp := protocol.Success(req.ID, len(items), 0)
	return &resp
}

func records(n int) []protocol.Record {
	out := make([]protocol.Record, n)
	for i := range out {
		out[i] = protocol.Record{"registro_car": protocol.String("r")}
	}
	return out
}

func startPool(t *testing.T, spawner transport.Spawner, opts ...PoolOption) *Pool {
	t.Helper()
	p, err := Initialize(context.Background(), spawner, opts...)
	if err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(time.Second) })
	return p
}

func getWithTimeout(t *testing.T, f *Future) (TaskResult, error) {
	t.Helper()
	result, _, err := f.GetWithTimeout(2 * time.Second)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("future did not complete")
	}
	return result, err
}
