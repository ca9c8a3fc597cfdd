package mediagraph

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		caps *Caps
		want MediaKind
	}{
		{"raw audio", NewCaps("audio/x-raw", "format", "S16LE"), MediaKindAudio},
		{"raw audio bare", NewCaps("audio/x-raw"), MediaKindAudio},
		{"raw video", NewCaps("video/x-raw", "format", "I420"), MediaKindVideo},
		{"vp8", NewCaps("video/x-vp8"), MediaKindUnrecognized},
		{"opus", NewCaps("audio/x-opus"), MediaKindUnrecognized},
		{"rtp", NewCaps("application/x-rtp", "media", "video"), MediaKindUnrecognized},
		{"text", NewCaps("text/x-raw"), MediaKindUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := Classify(StreamDescriptor{Pad: "src_0", Caps: tt.caps})
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestClassifyIndeterminate(t *testing.T) {
	for _, caps := range []*Caps{nil, NewCaps(""), NewCaps("   ")} {
		kind, err := Classify(StreamDescriptor{Pad: "src_0", Caps: caps})
		assert.True(t, errors.Is(err, ErrIndeterminate), "caps %s", caps)
		assert.Equal(t, MediaKindUnrecognized, kind)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	desc := StreamDescriptor{Pad: "src_3", Caps: NewCaps("video/x-raw", "width", "32")}
	first, err := Classify(desc)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		kind, err := Classify(desc)
		require.NoError(t, err)
		assert.Equal(t, first, kind)
	}
}

func TestMediaKind(t *testing.T) {
	assert.Equal(t, "audio", MediaKindAudio.String())
	assert.Equal(t, "video", MediaKindVideo.String())
	assert.Equal(t, "unrecognized", MediaKindUnrecognized.String())

	assert.Equal(t, "audio-sink", MediaKindAudio.SinkName())
	assert.Equal(t, "video-sink", MediaKindVideo.SinkName())

	assert.True(t, MediaKindAudio.Attachable())
	assert.True(t, MediaKindVideo.Attachable())
	assert.False(t, MediaKindUnrecognized.Attachable())

	assert.Equal(t, webrtc.RTPCodecTypeAudio, MediaKindAudio.RTPCodecType())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, MediaKindVideo.RTPCodecType())

	kind, err := ParseMediaKind(" Video ")
	require.NoError(t, err)
	assert.Equal(t, MediaKindVideo, kind)

	_, err = ParseMediaKind("subtitles")
	assert.Error(t, err)
}

func TestCaps(t *testing.T) {
	caps := NewCaps("audio/x-raw", "format", "S16LE", "rate", "8000")
	assert.Equal(t, "audio/x-raw", caps.Name())
	assert.Equal(t, "audio/x-raw, format=S16LE, rate=8000", caps.String())

	rate, ok := caps.Field("rate")
	assert.True(t, ok)
	assert.Equal(t, "8000", rate)

	_, ok = caps.Field("channels")
	assert.False(t, ok)

	stereo := caps.With("channels", "2").With("rate", "48000")
	assert.Equal(t, "audio/x-raw, format=S16LE, channels=2, rate=48000", stereo.String())
	assert.Equal(t, "audio/x-raw, format=S16LE, rate=8000", caps.String(), "With must not modify the original")

	parsed, err := ParseCaps(stereo.String())
	require.NoError(t, err)
	assert.Equal(t, stereo.String(), parsed.String())

	_, err = ParseCaps(", rate=1")
	assert.Error(t, err)
	_, err = ParseCaps("audio/x-raw, rate")
	assert.Error(t, err)

	var none *Caps
	assert.Equal(t, "", none.Name())
	assert.Equal(t, "(none)", none.String())
	assert.False(t, none.HasPrefix("audio"))
}
