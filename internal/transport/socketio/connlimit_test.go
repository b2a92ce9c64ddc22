package socketio

import (
	"testing"
)

func TestClientLimiterLoopbackAlwaysAllowed(t *testing.T) {
	l := newClientLimiter(1)

	for i, addr := range []string{"127.0.0.1", "::1", "127.0.0.1:52110", "[::1]:4000", "localhost"} {
		if evicted := l.admit("local-"+string(rune('a'+i)), addr); evicted != "" {
			t.Errorf("loopback %s should not evict anyone, got %s", addr, evicted)
		}
	}
	if l.remoteCount() != 0 {
		t.Errorf("loopback clients should not count as remote, got %d", l.remoteCount())
	}
}

func TestClientLimiterEvictsOldestRemote(t *testing.T) {
	l := newClientLimiter(1)

	if evicted := l.admit("ui-1", "192.168.1.100:50000"); evicted != "" {
		t.Errorf("first remote client should be admitted, evicted %s", evicted)
	}
	if evicted := l.admit("ui-2", "192.168.1.101"); evicted != "ui-1" {
		t.Errorf("expected ui-1 evicted, got %q", evicted)
	}
	if l.remoteCount() != 1 {
		t.Errorf("expected 1 remote client, got %d", l.remoteCount())
	}
}

func TestClientLimiterLargerCap(t *testing.T) {
	l := newClientLimiter(2)

	l.admit("a", "10.0.0.1")
	l.admit("b", "10.0.0.2")
	if evicted := l.admit("c", "10.0.0.3"); evicted != "a" {
		t.Errorf("expected a evicted, got %q", evicted)
	}
}

func TestClientLimiterRemove(t *testing.T) {
	l := newClientLimiter(1)

	l.admit("ui-1", "192.168.1.100")
	l.remove("ui-1")
	l.remove("ui-1")
	l.remove("never-seen")

	if evicted := l.admit("ui-2", "192.168.1.101"); evicted != "" {
		t.Errorf("slot should be free after remove, evicted %q", evicted)
	}
}

func TestClientLimiterReadmit(t *testing.T) {
	l := newClientLimiter(1)

	l.admit("ui-1", "192.168.1.100")
	if evicted := l.admit("ui-1", "192.168.1.100"); evicted != "" {
		t.Errorf("re-admitting a tracked client should be a no-op, evicted %q", evicted)
	}
	if l.remoteCount() != 1 {
		t.Errorf("expected 1 remote client, got %d", l.remoteCount())
	}
}
