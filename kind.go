package mediagraph

import (
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// MediaKind is the classification of a discovered elementary stream.
type MediaKind int

const (
	MediaKindUnrecognized MediaKind = iota // Well-formed but neither raw audio nor raw video
	MediaKindAudio                         // Raw audio
	MediaKindVideo                         // Raw video
)

// AttachableKinds lists the kinds that get a sink.
var AttachableKinds = []MediaKind{MediaKindAudio, MediaKindVideo}

func (k MediaKind) String() string {
	switch k {
	case MediaKindAudio:
		return "audio"
	case MediaKindVideo:
		return "video"
	default:
		return "unrecognized"
	}
}

// Attachable reports whether streams of this kind get a sink.
func (k MediaKind) Attachable() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

// SinkName is the name of the sink node created for this kind.
func (k MediaKind) SinkName() string {
	return k.String() + "-sink"
}

// RTPCodecType maps the kind onto pion's codec type.
func (k MediaKind) RTPCodecType() webrtc.RTPCodecType {
	switch k {
	case MediaKindAudio:
		return webrtc.RTPCodecTypeAudio
	case MediaKindVideo:
		return webrtc.RTPCodecTypeVideo
	default:
		return webrtc.RTPCodecTypeUnknown
	}
}

// ParseMediaKind parses "audio" or "video" (case-insensitive).
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio":
		return MediaKindAudio, nil
	case "video":
		return MediaKindVideo, nil
	default:
		return MediaKindUnrecognized, errors.Errorf("unknown media kind %q", s)
	}
}
