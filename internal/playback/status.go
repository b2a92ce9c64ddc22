package playback

import (
	"strconv"
	"strings"
	"time"
)

// Playback states.
const (
	StatePlay  = "play"
	StatePause = "pause"
	StateStop  = "stop"
)

// Status is a snapshot of the player.
type Status struct {
	State      string `json:"status"`
	Position   int    `json:"position"` // position in queue
	Seek       int    `json:"seek"`     // milliseconds into the track
	Duration   int    `json:"duration"` // seconds
	Volume     int    `json:"volume"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	URI        string `json:"uri"`
	TrackType  string `json:"trackType,omitempty"`
	SampleRate string `json:"samplerate,omitempty"`
	BitDepth   string `json:"bitdepth,omitempty"`
	Channels   string `json:"channels,omitempty"`
}

// Elapsed returns the seek position as a duration.
func (s Status) Elapsed() time.Duration {
	return time.Duration(s.Seek) * time.Millisecond
}

// IsPlaying reports whether the player is playing.
func (s Status) IsPlaying() bool {
	return s.State == StatePlay
}

// buildStatus converts MPD status and song attributes to a Status.
func buildStatus(status, song map[string]string) Status {
	st := Status{Volume: 100}

	switch status["state"] {
	case "play":
		st.State = StatePlay
	case "pause":
		st.State = StatePause
	default:
		st.State = StateStop
	}

	if pos, err := strconv.Atoi(status["song"]); err == nil {
		st.Position = pos
	}

	// MPD reports elapsed seconds with a fractional part
	if elapsed, err := strconv.ParseFloat(status["elapsed"], 64); err == nil {
		st.Seek = int(elapsed * 1000)
	}

	if duration, err := strconv.ParseFloat(status["duration"], 64); err == nil {
		st.Duration = int(duration)
	} else if duration, err := strconv.ParseFloat(song["Time"], 64); err == nil {
		st.Duration = int(duration)
	}

	if vol, err := strconv.Atoi(status["volume"]); err == nil {
		st.Volume = vol
	}

	file := song["file"]
	st.URI = file
	st.Title = song["Title"]
	if st.Title == "" && file != "" {
		parts := strings.Split(file, "/")
		st.Title = parts[len(parts)-1]
	}
	st.Artist = song["Artist"]
	st.Album = song["Album"]

	if idx := strings.LastIndex(file, "."); idx != -1 {
		st.TrackType = strings.ToLower(file[idx+1:])
	}

	// samplerate:bits:channels, e.g. "96000:24:2"
	if audio := status["audio"]; audio != "" {
		parts := strings.Split(audio, ":")
		if len(parts) >= 2 {
			st.SampleRate = parts[0]
			st.BitDepth = parts[1]
		}
		if len(parts) >= 3 {
			st.Channels = parts[2]
		}
	}

	return st
}
