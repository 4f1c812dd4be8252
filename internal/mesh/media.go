package mesh

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	MediaSilence = "silence"
	MediaNone    = "none"

	opusFrameDuration = 20 * time.Millisecond
)

// An Opus TOC byte for a 20ms CELT frame followed by a silent payload.
var opusSilenceFrame = []byte{0xf8, 0xff, 0xfe}

// LocalMedia is the locally captured stream, shared read-only by every
// session. Each track may be bound to any number of peer connections.
type LocalMedia struct {
	tracks []webrtc.TrackLocal

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Tracks returns the local tracks. The slice must not be modified.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	if m == nil {
		return nil
	}
	return m.tracks
}

// Close stops every source feeding the tracks.
func (m *LocalMedia) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

// AcquireMedia opens the named source. "silence" yields one Opus audio track
// fed with silent frames, "none" yields no tracks. Anything else fails with
// ErrMediaAcquisitionFailed.
func AcquireMedia(source, streamID string, logger *slog.Logger) (*LocalMedia, error) {
	m := &LocalMedia{stop: make(chan struct{})}

	switch source {
	case MediaNone:
		return m, nil

	case MediaSilence:
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID,
		)
		if err != nil {
			return nil, WrapError("acquire media", "", ErrMediaAcquisitionFailed, err.Error())
		}
		m.tracks = append(m.tracks, track)

		m.wg.Add(1)
		go m.feedSilence(track, logger)
		return m, nil
	}

	return nil, WrapError("acquire media", "", ErrMediaAcquisitionFailed, "unknown source "+source)
}

func (m *LocalMedia) feedSilence(track *webrtc.TrackLocalStaticSample, logger *slog.Logger) {
	defer m.wg.Done()

	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: opusSilenceFrame, Duration: opusFrameDuration}); err != nil {
				logger.Debug("Silence write failed", slog.Any("error", err))
			}
		}
	}
}
