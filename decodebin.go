package mediagraph

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DecodeBin demultiplexes its input into elementary streams and decodes
// each one. A pad is announced per stream when its first buffer arrives.
//
// RTP input is split by SSRC. The codec comes from Buffer.Codec, or from
// the payload type registry. FLV tag input is split by tag type and the
// codec is read from the tag header. Streams whose codec cannot be
// determined get a pad without caps. Codecs without a registered decoder
// pass through with encoded caps.
type DecodeBin struct {
	name   string
	logger zerolog.Logger

	mu      sync.Mutex
	streams map[streamKey]*decodeStream
	padSeq  int

	cbMu     sync.RWMutex
	padAdded []func(*Pad)

	posterMu sync.RWMutex
	poster   Poster

	state atomic.Int32
}

type streamKey struct {
	rtp bool
	id  uint32
}

type decodeStream struct {
	pad     *Pad
	decoder SampleDecoder // nil when the codec is unknown
	failed  atomic.Uint64
}

// NewDecodeBin creates a decodebin element.
func NewDecodeBin(name string) *DecodeBin {
	d := &DecodeBin{
		name:    name,
		logger:  newLogger(nil, "decodebin").With().Str("element", name).Logger(),
		streams: make(map[streamKey]*decodeStream),
	}
	d.state.Store(int32(StateNull))
	return d
}

// OnPadAdded registers a callback for new pads.
func (d *DecodeBin) OnPadAdded(cb func(pad *Pad)) {
	d.cbMu.Lock()
	d.padAdded = append(d.padAdded, cb)
	d.cbMu.Unlock()
}

// SetPoster sets where warnings are posted.
func (d *DecodeBin) SetPoster(p Poster) {
	d.posterMu.Lock()
	d.poster = p
	d.posterMu.Unlock()
}

func (d *DecodeBin) post(ev Event) {
	d.posterMu.RLock()
	p := d.poster
	d.posterMu.RUnlock()
	if p != nil {
		p.Post(ev)
	}
}

// Pads returns the announced pads.
func (d *DecodeBin) Pads() []*Pad {
	d.mu.Lock()
	defer d.mu.Unlock()
	pads := make([]*Pad, 0, len(d.streams))
	for _, s := range d.streams {
		pads = append(pads, s.pad)
	}
	return pads
}

// SetState changes the element state. Streams are dropped on StateNull.
func (d *DecodeBin) SetState(state ExecState) error {
	d.state.Store(int32(state))
	if state == StateNull {
		d.reset()
	}
	return nil
}

// Close releases all decoders.
func (d *DecodeBin) Close() error {
	d.state.Store(int32(StateNull))
	d.reset()
	return nil
}

func (d *DecodeBin) reset() {
	d.mu.Lock()
	streams := d.streams
	d.streams = make(map[streamKey]*decodeStream)
	d.mu.Unlock()

	for _, s := range streams {
		s.pad.Unlink()
		if s.decoder != nil {
			s.decoder.Close()
		}
	}
}

// Consume demultiplexes and decodes one input buffer.
func (d *DecodeBin) Consume(buf *Buffer) error {
	if ExecState(d.state.Load()) < StatePaused {
		return ErrFlushing
	}

	key, codec, payload, err := d.demux(buf)
	if err != nil {
		return err
	}

	s, created := d.stream(key, codec)
	if created {
		d.emitPadAdded(s.pad)
	}
	if s.decoder == nil {
		return nil
	}

	out, err := s.decoder.Decode(payload)
	if err != nil {
		if s.failed.Add(1) == 1 {
			d.post(WarningEvent{
				Source: d.name,
				Err:    errors.Wrapf(err, "decode %s", s.pad.Name()),
				Debug:  fmt.Sprintf("caps %s", s.pad.Caps()),
			})
		}
		d.logger.Debug().Err(err).Str("pad", s.pad.Name()).Msg("decode failed")
		return nil
	}
	if out == nil {
		return nil
	}

	err = s.pad.Push(&Buffer{
		Data:     out,
		PTS:      buf.PTS,
		Duration: buf.Duration,
		Key:      buf.Key,
		Caps:     s.pad.Caps(),
	})
	if errors.Is(err, ErrNotLinked) || errors.Is(err, ErrFlushing) {
		return nil
	}
	return err
}

// demux returns the stream a buffer belongs to, its codec if known, and
// the elementary payload.
func (d *DecodeBin) demux(buf *Buffer) (streamKey, *webrtc.RTPCodecCapability, []byte, error) {
	if buf.RTP != nil {
		key := streamKey{rtp: true, id: buf.RTP.SSRC}
		if buf.Codec != nil {
			return key, buf.Codec, buf.RTP.Payload, nil
		}
		if codec, ok := LookupPayloadType(buf.RTP.PayloadType); ok {
			return key, &codec, buf.RTP.Payload, nil
		}
		return key, nil, buf.RTP.Payload, nil
	}

	if buf.Caps.Name() == CapsNameFLVTag {
		key := streamKey{id: buf.Stream}
		codec, header, err := flvCodec(buf.Stream, buf.Data)
		if err != nil {
			return key, nil, nil, err
		}
		return key, codec, buf.Data[header:], nil
	}

	return streamKey{}, nil, nil, errors.Errorf("%s: unsupported input %s", d.name, buf.Caps)
}

// stream returns the stream for key, creating it on first sight.
func (d *DecodeBin) stream(key streamKey, codec *webrtc.RTPCodecCapability) (*decodeStream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.streams[key]; ok {
		return s, false
	}

	s := &decodeStream{}
	var caps *Caps
	if codec != nil {
		dec, err := NewSampleDecoder(*codec)
		if err != nil {
			if !errors.Is(err, ErrNoDecoder) {
				d.logger.Warn().Err(err).Str("codec", codec.MimeType).Msg("decoder unavailable, passing through")
			}
			dec = newPassthroughDecoder(*codec)
		}
		s.decoder = dec
		caps = dec.Caps()
	}

	s.pad = NewPad(d.name, fmt.Sprintf("src_%d", d.padSeq), caps)
	d.padSeq++
	d.streams[key] = s

	d.logger.Debug().
		Str("pad", s.pad.Name()).
		Str("caps", caps.String()).
		Msg("new stream")
	return s, true
}

func (d *DecodeBin) emitPadAdded(pad *Pad) {
	d.cbMu.RLock()
	cbs := slices.Clone(d.padAdded)
	d.cbMu.RUnlock()

	for _, cb := range cbs {
		d.callPadAdded(cb, pad)
	}
}

func (d *DecodeBin) callPadAdded(cb func(*Pad), pad *Pad) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("pad", pad.Name()).Msg("pad-added callback panicked")
		}
	}()
	cb(pad)
}

var flvSoundRates = [4]uint32{5512, 11025, 22050, 44100}

// flvCodec reads the codec from an FLV audio or video tag header. It
// returns a nil codec for formats it does not know, and the header length
// to skip.
func flvCodec(tag uint32, data []byte) (*webrtc.RTPCodecCapability, int, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("empty flv tag")
	}

	switch tag {
	case FLVTagAudio:
		format := data[0] >> 4
		rate := flvSoundRates[(data[0]>>2)&0x03]
		channels := uint16(1 + data[0]&0x01)
		switch format {
		case 3:
			if data[0]&0x02 == 0 {
				return nil, 1, nil // 8-bit PCM
			}
			return &webrtc.RTPCodecCapability{MimeType: MimeTypeS16LE, ClockRate: rate, Channels: channels}, 1, nil
		case 2:
			return &webrtc.RTPCodecCapability{MimeType: MimeTypeMP3, ClockRate: rate, Channels: channels}, 1, nil
		case 7:
			return &webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1}, 1, nil
		case 8:
			return &webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1}, 1, nil
		case 10:
			if len(data) < 2 {
				return nil, 0, errors.New("short aac tag")
			}
			return &webrtc.RTPCodecCapability{MimeType: MimeTypeAAC, ClockRate: rate, Channels: channels}, 2, nil
		}
		return nil, 1, nil

	case FLVTagVideo:
		switch data[0] & 0x0F {
		case 7:
			if len(data) < 5 {
				return nil, 0, errors.New("short avc tag")
			}
			return &webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}, 5, nil
		case 12:
			if len(data) < 5 {
				return nil, 0, errors.New("short hevc tag")
			}
			return &webrtc.RTPCodecCapability{MimeType: MimeTypeHEVC, ClockRate: 90000}, 5, nil
		}
		return nil, 1, nil
	}

	return nil, 0, errors.Errorf("unknown flv tag type %d", tag)
}

func init() {
	RegisterElement("decodebin", func(name string) (Element, error) {
		return NewDecodeBin(name), nil
	})
}
