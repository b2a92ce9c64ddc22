package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockWatch is one watch session handed out by MockBackend.
type mockWatch struct {
	ch   chan string
	once sync.Once
}

func (w *mockWatch) close() {
	w.once.Do(func() { close(w.ch) })
}

// MockBackend implements Backend for testing.
type MockBackend struct {
	mu sync.Mutex

	StatusAttrs map[string]string
	SongAttrs   map[string]string
	ConnectErr  error
	StatusErr   error

	Connects int
	Closes   int
	Calls    []string
	Volume   int
	SeekPos  int
	PlayPos  int

	watches []*mockWatch
}

func newMockBackend() *MockBackend {
	return &MockBackend{
		StatusAttrs: map[string]string{"state": "play", "song": "2", "elapsed": "12.500", "duration": "200.1", "volume": "40"},
		SongAttrs:   map[string]string{"file": "NAS/Album/01 - Intro.flac", "Title": "Intro", "Artist": "Band"},
	}
}

func (m *MockBackend) record(call string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()
}

func (m *MockBackend) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connects++
	return m.ConnectErr
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closes++
	return nil
}

func (m *MockBackend) Status() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	return m.StatusAttrs, nil
}

func (m *MockBackend) CurrentSong() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SongAttrs, nil
}

func (m *MockBackend) Play(pos int) error {
	m.mu.Lock()
	m.PlayPos = pos
	m.mu.Unlock()
	m.record("play")
	return nil
}

func (m *MockBackend) Pause(pause bool) error {
	if pause {
		m.record("pause")
	} else {
		m.record("unpause")
	}
	return nil
}

func (m *MockBackend) Stop() error     { m.record("stop"); return nil }
func (m *MockBackend) Next() error     { m.record("next"); return nil }
func (m *MockBackend) Previous() error { m.record("previous"); return nil }

func (m *MockBackend) Seek(pos int) error {
	m.mu.Lock()
	m.SeekPos = pos
	m.mu.Unlock()
	m.record("seek")
	return nil
}

func (m *MockBackend) SetVolume(vol int) error {
	m.mu.Lock()
	m.Volume = vol
	m.mu.Unlock()
	m.record("volume")
	return nil
}

func (m *MockBackend) Watch(ctx context.Context, subsystems ...string) (<-chan string, error) {
	w := &mockWatch{ch: make(chan string, 10)}
	m.mu.Lock()
	m.watches = append(m.watches, w)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.close()
	}()
	return w.ch, nil
}

// emit sends a subsystem change on the latest watch.
func (m *MockBackend) emit(subsystem string) {
	m.mu.Lock()
	w := m.watches[len(m.watches)-1]
	m.mu.Unlock()
	w.ch <- subsystem
}

// kill ends the latest watch as if MPD went away.
func (m *MockBackend) kill() {
	m.mu.Lock()
	w := m.watches[len(m.watches)-1]
	m.mu.Unlock()
	w.close()
}

func (m *MockBackend) counts() (connects, closes, watches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connects, m.Closes, len(m.watches)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBuildStatus(t *testing.T) {
	tests := []struct {
		name   string
		status map[string]string
		song   map[string]string
		want   Status
	}{
		{
			name:   "playing with metadata",
			status: map[string]string{"state": "play", "song": "3", "elapsed": "61.250", "duration": "240.9", "volume": "55", "audio": "96000:24:2"},
			song:   map[string]string{"file": "NAS/Album/01.FLAC", "Title": "One", "Artist": "A", "Album": "B"},
			want: Status{State: StatePlay, Position: 3, Seek: 61250, Duration: 240, Volume: 55,
				Title: "One", Artist: "A", Album: "B", URI: "NAS/Album/01.FLAC", TrackType: "flac",
				SampleRate: "96000", BitDepth: "24", Channels: "2"},
		},
		{
			name:   "paused falls back to song time and file name",
			status: map[string]string{"state": "pause"},
			song:   map[string]string{"file": "music/track.dsf", "Time": "300"},
			want:   Status{State: StatePause, Duration: 300, Volume: 100, Title: "track.dsf", URI: "music/track.dsf", TrackType: "dsf"},
		},
		{
			name:   "stopped and empty",
			status: map[string]string{},
			song:   map[string]string{},
			want:   Status{State: StateStop, Volume: 100},
		},
		{
			name:   "dsd audio format without channels",
			status: map[string]string{"state": "play", "audio": "dsd64:2"},
			song:   map[string]string{},
			want:   Status{State: StatePlay, Volume: 100, SampleRate: "dsd64", BitDepth: "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildStatus(tt.status, tt.song)
			if got != tt.want {
				t.Errorf("buildStatus() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStatusElapsed(t *testing.T) {
	st := Status{State: StatePlay, Seek: 1500}
	if st.Elapsed() != 1500*time.Millisecond {
		t.Errorf("Elapsed() = %v", st.Elapsed())
	}
	if !st.IsPlaying() {
		t.Error("expected playing")
	}
}

func TestServiceControls(t *testing.T) {
	mb := newMockBackend()
	svc := NewService(mb)

	steps := []struct {
		name string
		run  func() error
		call string
	}{
		{"play", func() error { return svc.Play(4) }, "play"},
		{"pause", svc.Pause, "pause"},
		{"resume", svc.Resume, "play"},
		{"stop", svc.StopPlayback, "stop"},
		{"next", svc.Next, "next"},
		{"previous", svc.Previous, "previous"},
		{"seek", func() error { return svc.Seek(30) }, "seek"},
		{"volume", func() error { return svc.SetVolume(70) }, "volume"},
	}

	for i, s := range steps {
		if err := s.run(); err != nil {
			t.Fatalf("%s failed: %v", s.name, err)
		}
		if mb.Calls[i] != s.call {
			t.Errorf("%s: expected backend call %q, got %q", s.name, s.call, mb.Calls[i])
		}
	}

	if mb.PlayPos != -1 {
		t.Errorf("Resume should play the current track, got pos %d", mb.PlayPos)
	}
	if mb.SeekPos != 30 || mb.Volume != 70 {
		t.Errorf("unexpected seek %d / volume %d", mb.SeekPos, mb.Volume)
	}
}

func TestServiceCurrentPosition(t *testing.T) {
	svc := NewService(newMockBackend())

	pos, err := svc.CurrentPosition()
	if err != nil {
		t.Fatalf("CurrentPosition failed: %v", err)
	}
	if pos != 12500*time.Millisecond {
		t.Errorf("expected 12.5s, got %v", pos)
	}

	mb := newMockBackend()
	mb.StatusErr = errors.New("connection refused")
	if _, err := NewService(mb).CurrentPosition(); err == nil {
		t.Error("expected status error")
	}
}

func TestServicePublishesDebounced(t *testing.T) {
	mb := newMockBackend()
	svc := NewService(mb)
	svc.window = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.start(ctx, func() { t.Error("unexpected death") }); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var mu sync.Mutex
	var got []Status
	unsubscribe := svc.Listen(func(st Status) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	})

	mb.emit("player")
	mb.emit("mixer")
	mb.emit("player")

	waitFor(t, "status update", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	if len(got) != 1 {
		t.Errorf("expected one debounced update, got %d", len(got))
	}
	if got[0].Title != "Intro" || got[0].Volume != 40 {
		t.Errorf("unexpected status %+v", got[0])
	}
	mu.Unlock()

	unsubscribe()
	mb.emit("player")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	if len(got) != 1 {
		t.Errorf("unsubscribed listener was notified")
	}
	mu.Unlock()
}

func TestServiceDeath(t *testing.T) {
	mb := newMockBackend()
	svc := NewService(mb)

	died := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.start(ctx, func() { close(died) }); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mb.kill()

	select {
	case <-died:
	case <-time.After(time.Second):
		t.Fatal("onDeath not called")
	}
}

func TestServiceCancelIsNotDeath(t *testing.T) {
	mb := newMockBackend()
	svc := NewService(mb)

	died := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := svc.start(ctx, func() { died <- struct{}{} }); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	cancel()
	svc.destroy()

	select {
	case <-died:
		t.Error("cancelled watch should not count as death")
	case <-time.After(50 * time.Millisecond):
	}

	if _, closes, _ := mb.counts(); closes != 1 {
		t.Errorf("expected backend closed once, got %d", closes)
	}
}

func TestServiceStartConnectError(t *testing.T) {
	mb := newMockBackend()
	mb.ConnectErr = errors.New("dial tcp: connection refused")

	err := NewService(mb).start(context.Background(), func() {})
	if err == nil {
		t.Fatal("expected connect error")
	}
	if !errors.Is(err, mb.ConnectErr) {
		t.Errorf("expected wrapped connect error, got %v", err)
	}
}
