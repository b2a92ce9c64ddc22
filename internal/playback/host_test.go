package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-shell/internal/binding"
)

var playerDesc = binding.Descriptor{Name: ServiceName}

// recordingConn records the callbacks it receives.
type recordingConn struct {
	mu           sync.Mutex
	connected    []any
	disconnected int
}

func (c *recordingConn) OnServiceConnected(name string, service any) {
	c.mu.Lock()
	c.connected = append(c.connected, service)
	c.mu.Unlock()
}

func (c *recordingConn) OnServiceDisconnected(name string) {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
}

func (c *recordingConn) counts() (connected, disconnected int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connected), c.disconnected
}

func syncDispatch(fn func()) { fn() }

func newTestHost(mb *MockBackend) *Host {
	h := NewHost(func() *Service {
		svc := NewService(mb)
		svc.window = 5 * time.Millisecond
		return svc
	}, syncDispatch, 10*time.Millisecond)
	return h
}

func TestHostBindCreatesAndConnects(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)
	defer h.Close()

	conn := &recordingConn{}
	if err := h.BindService(playerDesc, conn, binding.BindAutoCreate); err != nil {
		t.Fatalf("BindService failed: %v", err)
	}

	waitFor(t, "connect", func() bool {
		n, _ := conn.counts()
		return n == 1
	})

	lb, ok := conn.connected[0].(LocalBinder)
	if !ok {
		t.Fatalf("expected LocalBinder, got %T", conn.connected[0])
	}
	st, err := lb.Service().Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Title != "Intro" {
		t.Errorf("unexpected status %+v", st)
	}
	if !h.Running() {
		t.Error("expected service running")
	}
	if lb.Service().IsForeground() {
		t.Error("bound-only service should not be foreground")
	}
}

func TestHostBindWithoutAutoCreate(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)
	defer h.Close()

	conn := &recordingConn{}
	if err := h.BindService(playerDesc, conn, 0); err != nil {
		t.Fatalf("BindService failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if n, _ := conn.counts(); n != 0 {
		t.Error("service should not be created without auto-create")
	}

	// Starting the service connects the waiting binding.
	if err := h.StartService(); err != nil {
		t.Fatalf("StartService failed: %v", err)
	}
	waitFor(t, "connect", func() bool {
		n, _ := conn.counts()
		return n == 1
	})
}

func TestHostSecondBindConnectsImmediately(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)
	defer h.Close()

	first := &recordingConn{}
	h.BindService(playerDesc, first, binding.BindAutoCreate)
	waitFor(t, "first connect", func() bool {
		n, _ := first.counts()
		return n == 1
	})

	second := &recordingConn{}
	if err := h.BindService(playerDesc, second, binding.BindAutoCreate); err != nil {
		t.Fatalf("BindService failed: %v", err)
	}
	if n, _ := second.counts(); n != 1 {
		t.Error("bind to a running service should connect through dispatch")
	}
	if connects, _, _ := mb.counts(); connects != 1 {
		t.Errorf("expected a single service instance, got %d connects", connects)
	}
}

func TestHostUnknownService(t *testing.T) {
	h := newTestHost(newMockBackend())
	defer h.Close()

	err := h.BindService(binding.Descriptor{Name: "other"}, &recordingConn{}, binding.BindAutoCreate)
	if !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("expected ErrServiceNotFound, got %v", err)
	}
	if h.StopService(binding.Descriptor{Name: "other"}) {
		t.Error("stopping an unknown service should report false")
	}
}

func TestHostUnbindDestroys(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)
	defer h.Close()

	conn := &recordingConn{}
	h.BindService(playerDesc, conn, binding.BindAutoCreate)
	waitFor(t, "connect", func() bool {
		n, _ := conn.counts()
		return n == 1
	})

	h.UnbindService(conn)
	if h.Running() {
		t.Error("unbound service should be destroyed")
	}
	waitFor(t, "backend close", func() bool {
		_, closes, _ := mb.counts()
		return closes == 1
	})
	if _, d := conn.counts(); d != 0 {
		t.Error("explicit unbind must not report a disconnect")
	}
}

func TestHostStartedOutlivesBindings(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)
	defer h.Close()

	if err := h.StartService(); err != nil {
		t.Fatalf("StartService failed: %v", err)
	}
	conn := &recordingConn{}
	h.BindService(playerDesc, conn, binding.BindAutoCreate)
	waitFor(t, "connect", func() bool {
		n, _ := conn.counts()
		return n == 1
	})

	h.mu.Lock()
	svc := h.svc
	h.mu.Unlock()
	if !svc.IsForeground() {
		t.Error("started service should be foreground")
	}

	h.UnbindService(conn)
	if !h.Running() {
		t.Fatal("started service should survive unbind")
	}

	if !h.StopService(playerDesc) {
		t.Error("StopService should report a running service")
	}
	if h.Running() {
		t.Error("stopped unbound service should be destroyed")
	}
	if h.StopService(playerDesc) {
		t.Error("second StopService should report nothing running")
	}
}

func TestHostStopWhileBoundKeepsService(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)
	defer h.Close()

	conn := &recordingConn{}
	h.BindService(playerDesc, conn, binding.BindAutoCreate)
	waitFor(t, "connect", func() bool {
		n, _ := conn.counts()
		return n == 1
	})

	if !h.StopService(playerDesc) {
		t.Error("expected running service")
	}
	if !h.Running() {
		t.Error("bound service should survive StopService")
	}
}

func TestHostRestartsAfterDeath(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)
	defer h.Close()

	conn := &recordingConn{}
	h.BindService(playerDesc, conn, binding.BindAutoCreate)
	waitFor(t, "connect", func() bool {
		n, _ := conn.counts()
		return n == 1
	})

	mb.kill()

	waitFor(t, "disconnect", func() bool {
		_, d := conn.counts()
		return d == 1
	})
	waitFor(t, "reconnect", func() bool {
		n, _ := conn.counts()
		return n == 2
	})

	if _, _, watches := mb.counts(); watches != 2 {
		t.Errorf("expected a second watch after restart, got %d", watches)
	}
}

func TestHostClose(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)

	conn := &recordingConn{}
	h.BindService(playerDesc, conn, binding.BindAutoCreate)
	waitFor(t, "connect", func() bool {
		n, _ := conn.counts()
		return n == 1
	})

	h.Close()
	if h.Running() {
		t.Error("closed host should not run a service")
	}
	if err := h.BindService(playerDesc, conn, binding.BindAutoCreate); !errors.Is(err, ErrHostClosed) {
		t.Errorf("expected ErrHostClosed, got %v", err)
	}
	if err := h.StartService(); !errors.Is(err, ErrHostClosed) {
		t.Errorf("expected ErrHostClosed, got %v", err)
	}
}

func TestHostWithConnector(t *testing.T) {
	mb := newMockBackend()
	h := newTestHost(mb)
	defer h.Close()

	c := binding.NewConnector[Handle](h, binding.ReArmPersistent)

	ready := make(chan struct{}, 2)
	c.Register(func() { ready <- struct{}{} })

	if err := c.Bind(playerDesc); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready callback not fired")
	}

	handle, err := c.Handle()
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if err := handle.Next(); err != nil {
		t.Errorf("Next failed: %v", err)
	}

	mb.kill()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready callback not fired after restart")
	}
	if c.State() != binding.StateBound {
		t.Errorf("expected bound after restart, got %s", c.State())
	}

	c.Unbind()
	if h.Running() {
		t.Error("service should be destroyed after the last unbind")
	}
	if _, err := c.Handle(); !errors.Is(err, binding.ErrNotBound) {
		t.Errorf("expected ErrNotBound, got %v", err)
	}
}
