package mediagraph

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// Mime types without a pion constant.
const (
	MimeTypeL16      = "audio/L16"
	MimeTypeRawVideo = "video/raw"
	MimeTypeAAC      = "audio/mpeg4-generic"
	MimeTypeMP3      = "audio/mpeg"
	MimeTypeHEVC     = "video/H265"
	MimeTypeS16LE    = "audio/x-s16le" // Little-endian PCM as carried in FLV
)

// ParseCodec parses "type/encoding/clockrate[/channels]", for example
// "audio/opus/48000/2" or "video/VP8/90000".
func ParseCodec(s string) (webrtc.RTPCodecCapability, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] == "" || parts[1] == "" {
		return webrtc.RTPCodecCapability{}, errors.Errorf("codec %q: want type/encoding/clockrate[/channels]", s)
	}
	rate, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil || rate == 0 {
		return webrtc.RTPCodecCapability{}, errors.Errorf("codec %q: invalid clock rate", s)
	}
	codec := webrtc.RTPCodecCapability{
		MimeType:  parts[0] + "/" + parts[1],
		ClockRate: uint32(rate),
	}
	if len(parts) == 4 {
		ch, err := strconv.ParseUint(parts[3], 10, 16)
		if err != nil || ch == 0 {
			return webrtc.RTPCodecCapability{}, errors.Errorf("codec %q: invalid channel count", s)
		}
		codec.Channels = uint16(ch)
	}
	return codec, nil
}

// payloadRegistry maps RTP payload types to codecs for packets that arrive
// without a session description.
type payloadRegistry struct {
	codecs map[uint8]webrtc.RTPCodecCapability
	mu     sync.RWMutex
}

var globalPayloadRegistry = &payloadRegistry{
	codecs: map[uint8]webrtc.RTPCodecCapability{
		0:  {MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		8:  {MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1},
		9:  {MimeType: webrtc.MimeTypeG722, ClockRate: 8000, Channels: 1},
		10: {MimeType: MimeTypeL16, ClockRate: 44100, Channels: 2},
		11: {MimeType: MimeTypeL16, ClockRate: 44100, Channels: 1},
		14: {MimeType: MimeTypeMP3, ClockRate: 90000},
	},
}

// RegisterPayloadType maps a payload type to a codec. Dynamic payload types
// (96-127) have no meaning until registered.
func RegisterPayloadType(pt uint8, codec webrtc.RTPCodecCapability) {
	globalPayloadRegistry.mu.Lock()
	defer globalPayloadRegistry.mu.Unlock()
	globalPayloadRegistry.codecs[pt] = codec
}

// LookupPayloadType returns the codec registered for a payload type.
func LookupPayloadType(pt uint8) (webrtc.RTPCodecCapability, bool) {
	globalPayloadRegistry.mu.RLock()
	defer globalPayloadRegistry.mu.RUnlock()
	codec, ok := globalPayloadRegistry.codecs[pt]
	return codec, ok
}

// encodedCaps returns the caps of a stream that is passed through without
// decoding.
func encodedCaps(codec webrtc.RTPCodecCapability) *Caps {
	var caps *Caps
	switch strings.ToLower(codec.MimeType) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		caps = NewCaps("audio/x-opus")
	case strings.ToLower(webrtc.MimeTypePCMU):
		caps = NewCaps("audio/x-mulaw")
	case strings.ToLower(webrtc.MimeTypePCMA):
		caps = NewCaps("audio/x-alaw")
	case strings.ToLower(webrtc.MimeTypeG722):
		caps = NewCaps("audio/G722")
	case strings.ToLower(MimeTypeAAC):
		caps = NewCaps("audio/mpeg", "mpegversion", "4")
	case strings.ToLower(MimeTypeMP3):
		caps = NewCaps("audio/mpeg", "mpegversion", "1")
	case strings.ToLower(webrtc.MimeTypeVP8):
		caps = NewCaps("video/x-vp8")
	case strings.ToLower(webrtc.MimeTypeVP9):
		caps = NewCaps("video/x-vp9")
	case strings.ToLower(webrtc.MimeTypeH264):
		caps = NewCaps("video/x-h264")
	case strings.ToLower(webrtc.MimeTypeAV1):
		caps = NewCaps("video/x-av1")
	case strings.ToLower(MimeTypeHEVC):
		caps = NewCaps("video/x-h265")
	default:
		kind, enc, _ := strings.Cut(codec.MimeType, "/")
		caps = NewCaps("application/x-rtp", "media", strings.ToLower(kind), "encoding-name", strings.ToUpper(enc))
	}
	if codec.ClockRate > 0 {
		caps = caps.With("rate", strconv.FormatUint(uint64(codec.ClockRate), 10))
	}
	if codec.Channels > 0 {
		caps = caps.With("channels", strconv.FormatUint(uint64(codec.Channels), 10))
	}
	return caps
}

// fmtpValue extracts one parameter from an SDP fmtp line.
func fmtpValue(line, key string) (string, bool) {
	for _, p := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(k, key) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
