// Package mpd provides a wrapper around the gompd MPD client used as the
// playback backend of the player service.
package mpd

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// maxWatchErrors is how many consecutive watcher errors end a watch.
const maxWatchErrors = 3

// Client wraps the MPD client with reconnection logic.
type Client struct {
	mu       sync.RWMutex
	client   *mpd.Client
	host     string
	port     int
	password string
}

// NewClient creates a new MPD client wrapper. It does not connect.
func NewClient(host string, port int, password string) *Client {
	return &Client{
		host:     host,
		port:     port,
		password: password,
	}
}

func (c *Client) addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Connect establishes the connection to MPD.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked()
}

// connectLocked establishes connection (must hold lock).
func (c *Client) connectLocked() error {
	addr := c.addr()
	log.Info().Str("addr", addr).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to MPD: %w", err)
	}

	if c.password != "" {
		if err := client.Command("password %s", c.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	c.client = client
	log.Info().Msg("Connected to MPD")
	return nil
}

// ensureConnected pings the connection and redials once if it is gone.
func (c *Client) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.connectLocked()
	}

	if err := c.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting...")
		c.client.Close()
		c.client = nil
		return c.connectLocked()
	}

	return nil
}

// Close closes the MPD connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Ping checks if the connection is alive without reconnecting.
func (c *Client) Ping() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Ping()
}

// do runs fn against a live connection.
func (c *Client) do(fn func(*mpd.Client) error) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return fn(c.client)
}

// Status returns the current MPD status.
func (c *Client) Status() (map[string]string, error) {
	var attrs mpd.Attrs
	err := c.do(func(cl *mpd.Client) error {
		var err error
		attrs, err = cl.Status()
		return err
	})
	return attrs, err
}

// CurrentSong returns the currently playing song.
func (c *Client) CurrentSong() (map[string]string, error) {
	var attrs mpd.Attrs
	err := c.do(func(cl *mpd.Client) error {
		var err error
		attrs, err = cl.CurrentSong()
		return err
	})
	return attrs, err
}

// Play starts playback. If pos is negative, resumes the current track.
func (c *Client) Play(pos int) error {
	if pos < 0 {
		pos = -1
	}
	return c.do(func(cl *mpd.Client) error { return cl.Play(pos) })
}

// Pause sets the pause state.
func (c *Client) Pause(pause bool) error {
	return c.do(func(cl *mpd.Client) error { return cl.Pause(pause) })
}

// Stop stops playback.
func (c *Client) Stop() error {
	return c.do(func(cl *mpd.Client) error { return cl.Stop() })
}

// Next plays the next song.
func (c *Client) Next() error {
	return c.do(func(cl *mpd.Client) error { return cl.Next() })
}

// Previous plays the previous song.
func (c *Client) Previous() error {
	return c.do(func(cl *mpd.Client) error { return cl.Previous() })
}

// Seek seeks to position in the current song (seconds).
func (c *Client) Seek(pos int) error {
	return c.do(func(cl *mpd.Client) error {
		status, err := cl.Status()
		if err != nil {
			return err
		}
		songPos, err := strconv.Atoi(status["song"])
		if err != nil {
			return fmt.Errorf("no song playing")
		}
		return cl.Seek(songPos, pos)
	})
}

// SetVolume sets the volume, clamped to 0-100.
func (c *Client) SetVolume(vol int) error {
	if vol < 0 {
		vol = 0
	} else if vol > 100 {
		vol = 100
	}
	return c.do(func(cl *mpd.Client) error { return cl.SetVolume(vol) })
}

// Watch reports MPD subsystem changes on the returned channel. The channel is
// closed when ctx ends or when the watcher keeps failing; a close that was not
// caused by ctx means MPD went away.
func (c *Client) Watch(ctx context.Context, subsystems ...string) (<-chan string, error) {
	watcher, err := mpd.NewWatcher("tcp", c.addr(), c.password, subsystems...)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ch := make(chan string, 10)

	go func() {
		defer close(ch)
		defer watcher.Close()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case subsystem, ok := <-watcher.Event:
				if !ok {
					return
				}
				failures = 0
				select {
				case ch <- subsystem:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Error:
				if !ok {
					return
				}
				failures++
				log.Error().Err(err).Int("failures", failures).Msg("MPD watcher error")
				if failures >= maxWatchErrors {
					return
				}
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
