package mediagraph

import (
	"encoding/binary"

	"github.com/pion/webrtc/v4"
)

// G.711 (ITU-T) companding.

const (
	g711Bias = 0x84
	g711Clip = 32635
)

func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + g711Bias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(g711Bias - t)
	}
	return int16(t - g711Bias)
}

func linearToUlaw(sample int16) byte {
	pcm := int(sample)
	var sign byte
	if pcm < 0 {
		sign = 0x80
		pcm = -pcm
	}
	if pcm > g711Clip {
		pcm = g711Clip
	}
	pcm += g711Bias

	exponent := 7
	for mask := 0x4000; pcm&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (pcm >> (exponent + 3)) & 0x0F
	return ^(sign | byte(exponent<<4) | byte(mantissa))
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

// g711Decoder expands 8-bit companded samples to S16LE.
type g711Decoder struct {
	caps   *Caps
	expand func(byte) int16
}

func newG711Decoder(codec webrtc.RTPCodecCapability, expand func(byte) int16) *g711Decoder {
	rate := int(codec.ClockRate)
	if rate == 0 {
		rate = 8000
	}
	return &g711Decoder{
		caps:   rawAudioCaps(rate, codecChannels(codec)),
		expand: expand,
	}
}

func (d *g711Decoder) Caps() *Caps { return d.caps }

func (d *g711Decoder) Decode(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(d.expand(b)))
	}
	return out, nil
}

func (d *g711Decoder) Close() error { return nil }
