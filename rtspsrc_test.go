package mediagraph

import (
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTSPSourceSetURI(t *testing.T) {
	src := NewRTSPSource("source")
	require.NoError(t, src.SetURI("rtsp://camera.local:8554/stream"))
	assert.Equal(t, "rtsp://camera.local:8554/stream", src.URI())
	require.NoError(t, src.SetURI("rtsps://camera.local/stream"))

	for _, uri := range []string{"http://camera.local/stream", "rtmp://camera.local/live", "://"} {
		assert.ErrorIs(t, src.SetURI(uri), ErrInvalidURI, uri)
	}
	assert.Equal(t, "rtsps://camera.local/stream", src.URI(), "rejected uri leaves the old one")
}

func TestFormatCodec(t *testing.T) {
	forma := &format.H264{PayloadTyp: 96, PacketizationMode: 1}
	medi := &description.Media{Type: description.MediaTypeVideo, Formats: []format.Format{forma}}

	codec := formatCodec(medi, forma)
	require.NotNil(t, codec)
	assert.Equal(t, webrtc.MimeTypeH264, codec.MimeType)
	assert.EqualValues(t, 90000, codec.ClockRate)
	assert.Equal(t, "packetization-mode=1", codec.SDPFmtpLine)

	caps := encodedCaps(*codec)
	assert.Equal(t, "video/x-h264", caps.Name())
}
