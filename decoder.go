package mediagraph

import (
	"encoding/binary"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// SampleDecoder turns the payload of one elementary stream into raw
// samples.
type SampleDecoder interface {
	// Caps returns the caps of the decoded output.
	Caps() *Caps

	// Decode decodes one payload. A nil result with nil error means the
	// decoder is buffering.
	Decode(payload []byte) ([]byte, error)

	Close() error
}

// DecoderFactory creates a decoder for a codec.
type DecoderFactory func(codec webrtc.RTPCodecCapability) (SampleDecoder, error)

// decoderRegistry holds decoder factories keyed by lower-case mime type.
type decoderRegistry struct {
	factories map[string]DecoderFactory
	mu        sync.RWMutex
}

var globalDecoderRegistry = &decoderRegistry{
	factories: make(map[string]DecoderFactory),
}

// RegisterDecoder registers a decoder factory for a mime type.
func RegisterDecoder(mimeType string, factory DecoderFactory) {
	globalDecoderRegistry.mu.Lock()
	defer globalDecoderRegistry.mu.Unlock()
	globalDecoderRegistry.factories[strings.ToLower(mimeType)] = factory
}

// IsDecoderAvailable checks if a decoder is registered for a mime type.
func IsDecoderAvailable(mimeType string) bool {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()
	_, ok := globalDecoderRegistry.factories[strings.ToLower(mimeType)]
	return ok
}

// NewSampleDecoder creates a decoder for codec. It fails with ErrNoDecoder
// when none is registered.
func NewSampleDecoder(codec webrtc.RTPCodecCapability) (SampleDecoder, error) {
	globalDecoderRegistry.mu.RLock()
	factory, ok := globalDecoderRegistry.factories[strings.ToLower(codec.MimeType)]
	globalDecoderRegistry.mu.RUnlock()

	if !ok {
		return nil, errors.Wrap(ErrNoDecoder, codec.MimeType)
	}
	return factory(codec)
}

// passthroughDecoder forwards payloads untouched under encoded caps.
type passthroughDecoder struct {
	caps *Caps
}

func newPassthroughDecoder(codec webrtc.RTPCodecCapability) *passthroughDecoder {
	return &passthroughDecoder{caps: encodedCaps(codec)}
}

func (d *passthroughDecoder) Caps() *Caps { return d.caps }

func (d *passthroughDecoder) Decode(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (d *passthroughDecoder) Close() error { return nil }

func rawAudioCaps(rate, channels int) *Caps {
	return NewCaps(RawAudioMarker,
		"format", "S16LE",
		"layout", "interleaved",
		"rate", strconv.Itoa(rate),
		"channels", strconv.Itoa(channels),
	)
}

func codecChannels(codec webrtc.RTPCodecCapability) int {
	if codec.Channels == 0 {
		return 1
	}
	return int(codec.Channels)
}

// l16Decoder converts network-order 16-bit PCM to little endian.
type l16Decoder struct {
	caps *Caps
}

func (d *l16Decoder) Caps() *Caps { return d.caps }

func (d *l16Decoder) Decode(payload []byte) ([]byte, error) {
	if len(payload)%2 != 0 {
		return nil, errors.Errorf("L16 payload has odd length %d", len(payload))
	}
	out := make([]byte, len(payload))
	for i := 0; i < len(payload); i += 2 {
		binary.LittleEndian.PutUint16(out[i:], binary.BigEndian.Uint16(payload[i:]))
	}
	return out, nil
}

func (d *l16Decoder) Close() error { return nil }

// s16leDecoder forwards PCM that is already little endian.
type s16leDecoder struct {
	caps *Caps
}

func (d *s16leDecoder) Caps() *Caps { return d.caps }

func (d *s16leDecoder) Decode(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (d *s16leDecoder) Close() error { return nil }

// rawVideoDecoder forwards complete I420 frames. Frame size comes from the
// width/height fmtp parameters.
type rawVideoDecoder struct {
	caps      *Caps
	frameSize int
}

func newRawVideoDecoder(codec webrtc.RTPCodecCapability) (SampleDecoder, error) {
	w, wok := fmtpValue(codec.SDPFmtpLine, "width")
	h, hok := fmtpValue(codec.SDPFmtpLine, "height")
	if !wok || !hok {
		return nil, errors.Errorf("raw video needs width and height, got fmtp %q", codec.SDPFmtpLine)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return nil, errors.Errorf("invalid raw video width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return nil, errors.Errorf("invalid raw video height %q", h)
	}
	return &rawVideoDecoder{
		caps:      NewCaps(RawVideoMarker, "format", "I420", "width", w, "height", h),
		frameSize: i420Size(width, height),
	}, nil
}

func (d *rawVideoDecoder) Caps() *Caps { return d.caps }

func (d *rawVideoDecoder) Decode(payload []byte) ([]byte, error) {
	if len(payload) != d.frameSize {
		return nil, errors.Errorf("raw video frame is %d bytes, want %d", len(payload), d.frameSize)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (d *rawVideoDecoder) Close() error { return nil }

// i420Size returns the size of an I420 frame.
func i420Size(width, height int) int {
	uvWidth := (width + 1) / 2
	uvHeight := (height + 1) / 2
	return width*height + 2*uvWidth*uvHeight
}

func init() {
	RegisterDecoder(webrtc.MimeTypePCMU, func(codec webrtc.RTPCodecCapability) (SampleDecoder, error) {
		return newG711Decoder(codec, ulawToLinear), nil
	})
	RegisterDecoder(webrtc.MimeTypePCMA, func(codec webrtc.RTPCodecCapability) (SampleDecoder, error) {
		return newG711Decoder(codec, alawToLinear), nil
	})
	RegisterDecoder(MimeTypeL16, func(codec webrtc.RTPCodecCapability) (SampleDecoder, error) {
		return &l16Decoder{caps: rawAudioCaps(int(codec.ClockRate), codecChannels(codec))}, nil
	})
	RegisterDecoder(MimeTypeS16LE, func(codec webrtc.RTPCodecCapability) (SampleDecoder, error) {
		return &s16leDecoder{caps: rawAudioCaps(int(codec.ClockRate), codecChannels(codec))}, nil
	})
	RegisterDecoder(MimeTypeRawVideo, newRawVideoDecoder)
}
