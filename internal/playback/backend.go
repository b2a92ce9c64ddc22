// Package playback provides the background player service and the host that
// creates, binds and restarts it.
package playback

import (
	"context"
	"errors"
)

// ServiceName is the descriptor name the player service is bound under.
const ServiceName = "stellar.player"

var (
	// ErrServiceNotFound is returned when binding a name the host does not serve.
	ErrServiceNotFound = errors.New("playback: service not found")

	// ErrHostClosed is returned when binding after the host was closed.
	ErrHostClosed = errors.New("playback: host closed")
)

// Backend is the MPD connection the service drives. *mpd.Client implements it.
type Backend interface {
	Connect() error
	Close() error
	Status() (map[string]string, error)
	CurrentSong() (map[string]string, error)
	Play(pos int) error
	Pause(pause bool) error
	Stop() error
	Next() error
	Previous() error
	Seek(pos int) error
	SetVolume(vol int) error
	Watch(ctx context.Context, subsystems ...string) (<-chan string, error)
}
