package playback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// watchedSubsystems are the MPD subsystems that change what listeners see.
var watchedSubsystems = []string{"player", "mixer", "options", "playlist"}

// DefaultDebounceWindow collapses MPD idle bursts before listeners are notified.
const DefaultDebounceWindow = 50 * time.Millisecond

// Handle is what a bound client may do with the player service. It is only valid
// until the binding disconnects.
type Handle interface {
	Status() (Status, error)
	CurrentPosition() (time.Duration, error)
	Play(pos int) error
	Pause() error
	Resume() error
	StopPlayback() error
	Next() error
	Previous() error
	Seek(seconds int) error
	SetVolume(vol int) error
	IsForeground() bool
	Listen(fn func(Status)) (unsubscribe func())
}

// LocalBinder is delivered to connections on connect; it unwraps to the Handle.
type LocalBinder struct {
	svc *Service
}

// Service returns the bound service.
func (b LocalBinder) Service() Handle {
	return b.svc
}

// Service is the background player service. It is created and destroyed by a Host.
type Service struct {
	backend Backend
	window  time.Duration

	mu         sync.RWMutex
	listeners  map[int]func(Status)
	nextID     int
	debouncer  *debouncer
	foreground bool
	lost       chan struct{}
}

// NewService creates a player service over backend. It does nothing until started.
func NewService(backend Backend) *Service {
	return &Service{
		backend:   backend,
		window:    DefaultDebounceWindow,
		listeners: make(map[int]func(Status)),
		lost:      make(chan struct{}),
	}
}

// start connects the backend and begins watching MPD. onDeath runs if the watch
// ends before ctx does.
func (s *Service) start(ctx context.Context, onDeath func()) error {
	if err := s.backend.Connect(); err != nil {
		return fmt.Errorf("connect backend: %w", err)
	}

	events, err := s.backend.Watch(ctx, watchedSubsystems...)
	if err != nil {
		s.backend.Close()
		return fmt.Errorf("watch backend: %w", err)
	}

	d := newDebouncer(s.window, s.onChanged)
	s.mu.Lock()
	s.debouncer = d
	s.mu.Unlock()

	go func() {
		for subsystem := range events {
			log.Debug().Str("subsystem", subsystem).Msg("MPD subsystem changed")
			d.Trigger(subsystem)
		}
		d.Stop()
		if ctx.Err() == nil {
			log.Warn().Msg("Player service lost its backend")
			close(s.lost)
			onDeath()
		}
	}()

	log.Info().Msg("Player service started")
	return nil
}

// destroy stops notifications and releases the backend.
func (s *Service) destroy() {
	s.mu.Lock()
	d := s.debouncer
	s.debouncer = nil
	s.listeners = make(map[int]func(Status))
	s.foreground = false
	s.mu.Unlock()

	if d != nil {
		d.Stop()
	}
	if err := s.backend.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close backend")
	}
	log.Info().Msg("Player service destroyed")
}

// isLost reports whether the backend watch ended on its own.
func (s *Service) isLost() bool {
	select {
	case <-s.lost:
		return true
	default:
		return false
	}
}

func (s *Service) setForeground(on bool) {
	s.mu.Lock()
	s.foreground = on
	s.mu.Unlock()
}

// IsForeground reports whether the service was started and outlives its bindings.
func (s *Service) IsForeground() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.foreground
}

func (s *Service) onChanged(subsystems []string) {
	sort.Strings(subsystems)
	log.Debug().Strs("subsystems", subsystems).Msg("Publishing player status")
	s.publish()
}

func (s *Service) publish() {
	st, err := s.Status()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read player status")
		return
	}

	s.mu.RLock()
	listeners := make([]func(Status), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(st)
	}
}

// Listen registers fn for status changes. It returns an unsubscribe function.
func (s *Service) Listen(fn func(Status)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Status returns the current player status.
func (s *Service) Status() (Status, error) {
	status, err := s.backend.Status()
	if err != nil {
		return Status{}, err
	}

	song, err := s.backend.CurrentSong()
	if err != nil {
		// Not fatal - might not have a song playing
		song = make(map[string]string)
	}

	return buildStatus(status, song), nil
}

// CurrentPosition returns how far into the current track playback is.
func (s *Service) CurrentPosition() (time.Duration, error) {
	st, err := s.Status()
	if err != nil {
		return 0, err
	}
	return st.Elapsed(), nil
}

// Play starts playback at queue position pos.
func (s *Service) Play(pos int) error {
	log.Info().Int("position", pos).Msg("Play")
	return s.backend.Play(pos)
}

// Pause pauses playback.
func (s *Service) Pause() error {
	log.Info().Msg("Pause")
	return s.backend.Pause(true)
}

// Resume resumes the current track.
func (s *Service) Resume() error {
	log.Info().Msg("Resume")
	return s.backend.Play(-1)
}

// StopPlayback stops playback. The service itself keeps running.
func (s *Service) StopPlayback() error {
	log.Info().Msg("Stop")
	return s.backend.Stop()
}

// Next plays the next track.
func (s *Service) Next() error {
	log.Info().Msg("Next")
	return s.backend.Next()
}

// Previous plays the previous track.
func (s *Service) Previous() error {
	log.Info().Msg("Previous")
	return s.backend.Previous()
}

// Seek seeks to seconds in the current track.
func (s *Service) Seek(seconds int) error {
	log.Info().Int("position", seconds).Msg("Seek")
	return s.backend.Seek(seconds)
}

// SetVolume sets the volume (0-100).
func (s *Service) SetVolume(vol int) error {
	log.Info().Int("volume", vol).Msg("SetVolume")
	return s.backend.SetVolume(vol)
}
