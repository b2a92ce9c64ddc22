package socketio

import (
	"net"
)

// clientLimiter caps concurrent remote UI clients. Loopback clients are never
// limited. When a new remote client exceeds the cap, the oldest remote client
// is evicted so the newest UI always wins.
type clientLimiter struct {
	maxRemote int
	remote    []string          // remote client IDs, oldest first
	addrs     map[string]string // clientID -> address
}

func newClientLimiter(maxRemote int) *clientLimiter {
	return &clientLimiter{
		maxRemote: maxRemote,
		addrs:     make(map[string]string),
	}
}

// admit tracks a new client and returns the ID of the client it evicts, if any.
func (l *clientLimiter) admit(clientID, addr string) string {
	if _, ok := l.addrs[clientID]; ok {
		return ""
	}
	l.addrs[clientID] = addr

	if isLoopback(addr) {
		return ""
	}

	l.remote = append(l.remote, clientID)
	if len(l.remote) <= l.maxRemote {
		return ""
	}

	evicted := l.remote[0]
	l.remote = l.remote[1:]
	delete(l.addrs, evicted)
	return evicted
}

// remove forgets a disconnected client.
func (l *clientLimiter) remove(clientID string) {
	addr, ok := l.addrs[clientID]
	if !ok {
		return
	}
	delete(l.addrs, clientID)

	if isLoopback(addr) {
		return
	}
	for i, id := range l.remote {
		if id == clientID {
			l.remote = append(l.remote[:i], l.remote[i+1:]...)
			break
		}
	}
}

// remoteCount returns the number of tracked remote clients.
func (l *clientLimiter) remoteCount() int {
	return len(l.remote)
}

// isLoopback accepts bare IPs and host:port addresses.
func isLoopback(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
