package plugin

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/binding"
	"github.com/edumarques81/stellar-shell/internal/playback"
)

// AudioPlayerName is the bridge name of the audio player plugin.
const AudioPlayerName = "AbsAudioPlayer"

// Events emitted by the audio player.
const (
	EventServiceReady   = "serviceReady"
	EventPlaybackUpdate = "playbackUpdate"
)

// HandleSource yields the bound playback handle. *binding.Connector[playback.Handle]
// implements it.
type HandleSource interface {
	Handle() (playback.Handle, error)
	IsReady() bool
}

// Foreground starts the playback service so it outlives the UI binding.
type Foreground interface {
	StartService() error
}

// AudioPlayer controls the bound playback service.
type AudioPlayer struct {
	handles HandleSource
	fg      Foreground
	emit    Emitter

	mu          sync.Mutex
	host        Host
	unsubscribe func()
	readyCount  int
}

// NewAudioPlayer creates the audio player plugin.
func NewAudioPlayer(handles HandleSource, fg Foreground, emit Emitter) *AudioPlayer {
	return &AudioPlayer{handles: handles, fg: fg, emit: emit}
}

// Name implements Plugin.
func (p *AudioPlayer) Name() string { return AudioPlayerName }

// Load registers the service-ready callback with the host.
func (p *AudioPlayer) Load(host Host) error {
	p.mu.Lock()
	p.host = host
	p.mu.Unlock()

	host.RegisterReadyCallback(p.onServiceReady)
	return nil
}

// onServiceReady attaches the status listener to the freshly bound service.
func (p *AudioPlayer) onServiceReady() {
	handle, err := p.handles.Handle()
	if err != nil {
		log.Warn().Err(err).Msg("Service ready but handle unavailable")
		return
	}

	unsubscribe := handle.Listen(func(st playback.Status) {
		p.emit.Emit(EventPlaybackUpdate, st)
	})

	p.mu.Lock()
	old := p.unsubscribe
	p.unsubscribe = unsubscribe
	p.readyCount++
	count := p.readyCount
	p.mu.Unlock()

	if old != nil {
		old()
	}

	log.Info().Int("count", count).Msg("Audio player attached to playback service")
	p.emit.Emit(EventServiceReady, map[string]any{"ready": true})

	if st, err := handle.Status(); err == nil {
		p.emit.Emit(EventPlaybackUpdate, st)
	}
}

// ReadyCount returns how many times the service-ready signal was received.
func (p *AudioPlayer) ReadyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyCount
}

// Invoke implements Plugin.
func (p *AudioPlayer) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	switch method {
	case "isReady":
		return map[string]any{"value": p.handles.IsReady()}, nil
	case "closePlayback":
		return nil, p.closePlayback()
	}

	handle, err := p.handles.Handle()
	if err != nil {
		return nil, err
	}

	switch method {
	case "getStatus":
		return handle.Status()
	case "getCurrentTime":
		pos, err := handle.CurrentPosition()
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": pos.Seconds()}, nil
	case "play":
		if err := p.fg.StartService(); err != nil {
			return nil, err
		}
		return nil, handle.Play(optionalInt(args, "position", -1))
	case "pause":
		return nil, handle.Pause()
	case "resume":
		return nil, handle.Resume()
	case "stop":
		return nil, handle.StopPlayback()
	case "next":
		return nil, handle.Next()
	case "previous":
		return nil, handle.Previous()
	case "seek":
		pos, err := intArg(args, "value")
		if err != nil {
			return nil, err
		}
		return nil, handle.Seek(pos)
	case "setVolume":
		vol, err := intArg(args, "volume")
		if err != nil {
			return nil, err
		}
		return nil, handle.SetVolume(vol)
	default:
		return nil, unknownMethod(AudioPlayerName, method)
	}
}

// closePlayback stops playback and asks the host to stop the service.
func (p *AudioPlayer) closePlayback() error {
	if handle, err := p.handles.Handle(); err == nil {
		if err := handle.StopPlayback(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop playback before closing")
		}
	} else if !errors.Is(err, binding.ErrNotBound) {
		return err
	}

	p.mu.Lock()
	host := p.host
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if host != nil {
		host.StopService()
	}
	return nil
}
