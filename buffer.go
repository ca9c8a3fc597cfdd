package mediagraph

import (
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Input formats accepted by decodebin besides RTP.
const (
	CapsNameFLVTag = "application/x-flv-tag"
)

// FLV tag types carried in Buffer.Stream for CapsNameFLVTag buffers.
const (
	FLVTagAudio uint32 = 8
	FLVTagVideo uint32 = 9
)

// Buffer is a unit of media moving between nodes.
type Buffer struct {
	Data     []byte        // Payload (decoded samples once past the decoder)
	PTS      time.Duration // Presentation timestamp
	Duration time.Duration // Duration, 0 if unknown
	Key      bool          // Keyframe / sync point
	Caps     *Caps         // Format of Data

	// Multiplexed input only.
	RTP    *rtp.Packet                // Parsed RTP packet, Data unused
	Codec  *webrtc.RTPCodecCapability // Codec from the session description, if known
	Stream uint32                     // Elementary stream id for non-RTP input (FLV tag type)
}
