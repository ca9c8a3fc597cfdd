package mediagraph

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    webrtc.RTPCodecCapability
		wantErr bool
	}{
		{"audio/opus/48000/2", webrtc.RTPCodecCapability{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}, false},
		{"video/VP8/90000", webrtc.RTPCodecCapability{MimeType: "video/VP8", ClockRate: 90000}, false},
		{" audio/PCMU/8000 ", webrtc.RTPCodecCapability{MimeType: "audio/PCMU", ClockRate: 8000}, false},
		{"video/VP8", webrtc.RTPCodecCapability{}, true},
		{"video/VP8/fast", webrtc.RTPCodecCapability{}, true},
		{"video/VP8/0", webrtc.RTPCodecCapability{}, true},
		{"audio/opus/48000/0", webrtc.RTPCodecCapability{}, true},
		{"/opus/48000", webrtc.RTPCodecCapability{}, true},
		{"a/b/1/2/3", webrtc.RTPCodecCapability{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCodec(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCodec(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && (got.MimeType != tt.want.MimeType || got.ClockRate != tt.want.ClockRate || got.Channels != tt.want.Channels) {
				t.Errorf("ParseCodec(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPayloadRegistry(t *testing.T) {
	codec, ok := LookupPayloadType(0)
	if !ok || codec.MimeType != webrtc.MimeTypePCMU || codec.ClockRate != 8000 {
		t.Errorf("static payload type 0 = %+v, %v", codec, ok)
	}
	codec, ok = LookupPayloadType(8)
	if !ok || codec.MimeType != webrtc.MimeTypePCMA {
		t.Errorf("static payload type 8 = %+v, %v", codec, ok)
	}

	if _, ok := LookupPayloadType(111); ok {
		t.Fatal("dynamic payload type 111 should be unregistered")
	}
	RegisterPayloadType(111, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2})
	codec, ok = LookupPayloadType(111)
	if !ok || codec.MimeType != webrtc.MimeTypeOpus {
		t.Errorf("payload type 111 = %+v, %v", codec, ok)
	}
}

func TestEncodedCaps(t *testing.T) {
	tests := []struct {
		codec webrtc.RTPCodecCapability
		want  string
	}{
		{webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video/x-vp8, rate=90000"},
		{webrtc.RTPCodecCapability{MimeType: "video/vp9"}, "video/x-vp9"},
		{webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}, "video/x-h264, rate=90000"},
		{webrtc.RTPCodecCapability{MimeType: MimeTypeHEVC}, "video/x-h265"},
		{webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio/x-opus, rate=48000, channels=2"},
		{webrtc.RTPCodecCapability{MimeType: MimeTypeAAC, ClockRate: 44100}, "audio/mpeg, mpegversion=4, rate=44100"},
		{webrtc.RTPCodecCapability{MimeType: "video/theora"}, "application/x-rtp, media=video, encoding-name=THEORA"},
	}

	for _, tt := range tests {
		t.Run(tt.codec.MimeType, func(t *testing.T) {
			got := encodedCaps(tt.codec)
			if got.String() != tt.want {
				t.Errorf("encodedCaps(%s) = %q, want %q", tt.codec.MimeType, got, tt.want)
			}
			if kind, err := Classify(StreamDescriptor{Caps: got}); err != nil || kind != MediaKindUnrecognized {
				t.Errorf("encoded caps classify as %s, %v", kind, err)
			}
		})
	}
}

func TestFmtpValue(t *testing.T) {
	line := "width=32; height=24;profile-level-id=42e01f"
	if v, ok := fmtpValue(line, "height"); !ok || v != "24" {
		t.Errorf("height = %q, %v", v, ok)
	}
	if v, ok := fmtpValue(line, "Profile-Level-Id"); !ok || v != "42e01f" {
		t.Errorf("profile-level-id = %q, %v", v, ok)
	}
	if _, ok := fmtpValue(line, "depth"); ok {
		t.Error("depth should be missing")
	}
}
