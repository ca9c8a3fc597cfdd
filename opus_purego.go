//go:build (darwin || linux) && !noopus

// Opus decoding via libstream_opus, loaded at runtime with purego.

package mediagraph

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

var (
	streamOpusOnce    sync.Once
	streamOpusHandle  uintptr
	streamOpusInitErr error
	streamOpusLoaded  bool
)

// libstream_opus function pointers
var (
	streamOpusDecoderCreate  func(sampleRate, channels int32) uint64
	streamOpusDecoderDecode  func(decoder uint64, data uintptr, dataLen int32, pcm uintptr, frameSize, decodeFEC int32) int32
	streamOpusDecoderDestroy func(decoder uint64)
	streamOpusGetError       func() uintptr
)

const opusSampleRate = 48000

// loadStreamOpus loads the libstream_opus shared library once.
func loadStreamOpus() error {
	streamOpusOnce.Do(func() {
		streamOpusInitErr = loadStreamOpusLib()
		if streamOpusInitErr == nil {
			streamOpusLoaded = true
		}
	})
	return streamOpusInitErr
}

func loadStreamOpusLib() error {
	var lastErr error
	for _, path := range nativeLibPaths("libstream_opus", "STREAM_OPUS_LIB_PATH") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		streamOpusHandle = handle
		if err := loadStreamOpusSymbols(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr != nil {
		return errors.Wrap(lastErr, "failed to load libstream_opus")
	}
	return errors.New("libstream_opus not found in any standard location")
}

func loadStreamOpusSymbols() (err error) {
	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("libstream_opus: %v", r)
		}
	}()
	purego.RegisterLibFunc(&streamOpusDecoderCreate, streamOpusHandle, "stream_opus_decoder_create")
	purego.RegisterLibFunc(&streamOpusDecoderDecode, streamOpusHandle, "stream_opus_decoder_decode")
	purego.RegisterLibFunc(&streamOpusDecoderDestroy, streamOpusHandle, "stream_opus_decoder_destroy")
	purego.RegisterLibFunc(&streamOpusGetError, streamOpusHandle, "stream_opus_get_error")
	return nil
}

// IsOpusAvailable reports whether libstream_opus could be loaded.
func IsOpusAvailable() bool {
	return loadStreamOpus() == nil && streamOpusLoaded
}

func getOpusError() string {
	if streamOpusGetError == nil {
		return "unknown error"
	}
	return goStringFromPtr(streamOpusGetError())
}

// opusDecoder decodes Opus payloads to 48 kHz S16LE.
type opusDecoder struct {
	handle    uint64
	channels  int
	caps      *Caps
	outputBuf []int16
	mu        sync.Mutex
}

func newOpusDecoder(codec webrtc.RTPCodecCapability) (SampleDecoder, error) {
	if err := loadStreamOpus(); err != nil {
		return nil, errors.Wrap(err, "Opus decoder not available")
	}

	channels := codecChannels(codec)
	if channels > 2 {
		return nil, errors.Errorf("Opus supports max 2 channels, got %d", channels)
	}

	handle := streamOpusDecoderCreate(opusSampleRate, int32(channels))
	if handle == 0 {
		return nil, errors.Errorf("failed to create Opus decoder: %s", getOpusError())
	}

	// 120ms is the longest Opus frame.
	maxSamples := opusSampleRate * 120 / 1000 * channels
	return &opusDecoder{
		handle:    handle,
		channels:  channels,
		caps:      rawAudioCaps(opusSampleRate, channels),
		outputBuf: make([]int16, maxSamples),
	}, nil
}

func (d *opusDecoder) Caps() *Caps { return d.caps }

func (d *opusDecoder) Decode(payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, errors.New("decoder not initialized")
	}

	var dataPtr uintptr
	dataLen := int32(0)
	if len(payload) > 0 {
		dataPtr = uintptr(unsafe.Pointer(&payload[0]))
		dataLen = int32(len(payload))
	}

	result := streamOpusDecoderDecode(
		d.handle,
		dataPtr,
		dataLen,
		uintptr(unsafe.Pointer(&d.outputBuf[0])),
		int32(len(d.outputBuf)/d.channels),
		0,
	)
	if result < 0 {
		return nil, errors.Errorf("decode failed: %s", getOpusError())
	}

	numSamples := int(result) * d.channels
	out := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(d.outputBuf[i]))
	}
	return out, nil
}

func (d *opusDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != 0 {
		streamOpusDecoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

func init() {
	RegisterDecoder(webrtc.MimeTypeOpus, newOpusDecoder)
}
