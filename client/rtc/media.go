package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MediaAccessError means local capture was denied or unavailable. It is
// fatal to the call attempt.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access failed: %v", e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// LocalStream is the set of locally captured tracks attached to a session.
type LocalStream struct {
	ID     string
	Tracks []webrtc.TrackLocal

	stops []func()
}

// Stop releases every capture resource backing the stream. Safe to call
// repeatedly.
func (s *LocalStream) Stop() {
	if s == nil {
		return
	}
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
}

// RemoteStream is media received from the peer, grouped by stream id.
type RemoteStream struct {
	ID     string
	Tracks []*webrtc.TrackRemote
}

// MediaDevices abstracts local capture so hosts without capture hardware can
// supply a null implementation, selected at construction time.
type MediaDevices interface {
	// Capture acquires local audio, plus video when requested.
	Capture(video bool) (*LocalStream, error)
}

// SampleDevices produces pion sample tracks the hosting application feeds
// with captured media. Audio is always present; video only when requested.
type SampleDevices struct{}

// Capture implements MediaDevices.
func (SampleDevices) Capture(video bool) (*LocalStream, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "teamline-local",
	)
	if err != nil {
		return nil, &MediaAccessError{Err: err}
	}

	stream := &LocalStream{
		ID:     "teamline-local",
		Tracks: []webrtc.TrackLocal{audio},
	}

	if video {
		vtrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "teamline-local",
		)
		if err != nil {
			return nil, &MediaAccessError{Err: err}
		}
		stream.Tracks = append(stream.Tracks, vtrack)
	}

	return stream, nil
}

// NullDevices is the null-object implementation for hosts without capture
// hardware: it yields an empty local stream and never fails.
type NullDevices struct{}

// Capture implements MediaDevices.
func (NullDevices) Capture(bool) (*LocalStream, error) {
	return &LocalStream{ID: "null-local"}, nil
}
