package mediagraph

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Synthetic streams produced by testsrc.
const (
	TestAudioSSRC   uint32 = 0x1111
	TestVideoSSRC   uint32 = 0x2222
	TestOpaqueSSRC  uint32 = 0x3333
	TestUnknownSSRC uint32 = 0x4444

	testAudioPT   = 0
	testVideoPT   = 98
	testOpaquePT  = 96
	testUnknownPT = 120

	testVideoWidth  = 32
	testVideoHeight = 24
	testToneHz      = 440
)

// TestSourceConfig configures the synthetic RTP session of testsrc.
type TestSourceConfig struct {
	Audio      bool          // PCMU sine tone, classifies as audio once decoded
	Video      bool          // Raw I420 colour bars, classifies as video
	Opaque     bool          // VP8 without a decoder, classifies as unrecognized
	Unknown    bool          // Payload type without a codec, indeterminate
	NumBuffers int           // Ticks before end of stream, 0 for unlimited
	Interval   time.Duration // Time between ticks (default: 20ms)
}

// DefaultTestSourceConfig returns audio and video without end of stream.
func DefaultTestSourceConfig() TestSourceConfig {
	return TestSourceConfig{
		Audio:    true,
		Video:    true,
		Interval: 20 * time.Millisecond,
	}
}

// ParseTestSourceURI parses
// test://?audio=1&video=1&opaque=0&unknown=0&num-buffers=N&interval=20ms.
// Omitted keys keep their defaults.
func ParseTestSourceURI(uri string) (TestSourceConfig, error) {
	cfg := DefaultTestSourceConfig()

	u, err := url.Parse(uri)
	if err != nil {
		return cfg, errors.Wrapf(ErrInvalidURI, "%s: %v", uri, err)
	}
	if u.Scheme != "test" {
		return cfg, errors.Wrapf(ErrInvalidURI, "%s: scheme must be test", uri)
	}

	q := u.Query()
	flags := map[string]*bool{
		"audio":   &cfg.Audio,
		"video":   &cfg.Video,
		"opaque":  &cfg.Opaque,
		"unknown": &cfg.Unknown,
	}
	for key, dst := range flags {
		if !q.Has(key) {
			continue
		}
		v, err := strconv.ParseBool(q.Get(key))
		if err != nil {
			return cfg, errors.Wrapf(ErrInvalidURI, "%s: %s=%q", uri, key, q.Get(key))
		}
		*dst = v
	}
	if q.Has("num-buffers") {
		n, err := strconv.Atoi(q.Get("num-buffers"))
		if err != nil || n < 0 {
			return cfg, errors.Wrapf(ErrInvalidURI, "%s: num-buffers=%q", uri, q.Get("num-buffers"))
		}
		cfg.NumBuffers = n
	}
	if q.Has("interval") {
		d, err := time.ParseDuration(q.Get("interval"))
		if err != nil || d <= 0 {
			return cfg, errors.Wrapf(ErrInvalidURI, "%s: interval=%q", uri, q.Get("interval"))
		}
		cfg.Interval = d
	}
	return cfg, nil
}

type testStream struct {
	ssrc      uint32
	pt        uint8
	codec     *webrtc.RTPCodecCapability
	clockRate uint32
	seq       uint16
	payload   func(tick uint64) []byte
}

// TestSource emits a synthetic multiplexed RTP session.
type TestSource struct {
	name   string
	logger zerolog.Logger

	mu         sync.Mutex
	uri        string
	config     TestSourceConfig
	downstream Consumer
	poster     Poster
	cancel     context.CancelFunc
	done       chan struct{}

	ticks atomic.Uint64
}

// NewTestSource creates a testsrc element with the default configuration.
func NewTestSource(name string) *TestSource {
	return &TestSource{
		name:   name,
		logger: newLogger(nil, "testsrc").With().Str("element", name).Logger(),
		config: DefaultTestSourceConfig(),
	}
}

// SetURI configures the source from a test:// URI.
func (s *TestSource) SetURI(uri string) error {
	cfg, err := ParseTestSourceURI(uri)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.uri = uri
	s.config = cfg
	s.mu.Unlock()
	return nil
}

// URI returns the configured URI.
func (s *TestSource) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// Config returns the source configuration.
func (s *TestSource) Config() TestSourceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Ticks returns the number of ticks emitted so far.
func (s *TestSource) Ticks() uint64 {
	return s.ticks.Load()
}

// SetDownstream sets the consumer of the session.
func (s *TestSource) SetDownstream(c Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downstream != nil {
		return errors.New("already linked")
	}
	s.downstream = c
	return nil
}

// SetPoster sets where end of stream and errors are posted.
func (s *TestSource) SetPoster(p Poster) {
	s.mu.Lock()
	s.poster = p
	s.mu.Unlock()
}

// SetState starts the generator in StatePlaying and stops it otherwise.
func (s *TestSource) SetState(state ExecState) error {
	if state == StatePlaying {
		return s.start()
	}
	s.stop()
	return nil
}

// Close stops the generator.
func (s *TestSource) Close() error {
	s.stop()
	return nil
}

func (s *TestSource) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}
	if s.downstream == nil {
		return errors.Wrap(ErrNotLinked, s.name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.generateLoop(ctx, s.config, s.downstream, s.poster, s.done)
	return nil
}

// stop cancels the generator and waits for it to exit.
func (s *TestSource) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *TestSource) streams(cfg TestSourceConfig) []*testStream {
	var streams []*testStream
	if cfg.Audio {
		samples := int(8000 * cfg.Interval / time.Second)
		if samples < 1 {
			samples = 1
		}
		streams = append(streams, &testStream{
			ssrc:      TestAudioSSRC,
			pt:        testAudioPT,
			codec:     &webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
			clockRate: 8000,
			payload: func(tick uint64) []byte {
				return ulawTone(tick*uint64(samples), samples)
			},
		})
	}
	if cfg.Video {
		frame := colorBarsI420(testVideoWidth, testVideoHeight)
		streams = append(streams, &testStream{
			ssrc: TestVideoSSRC,
			pt:   testVideoPT,
			codec: &webrtc.RTPCodecCapability{
				MimeType:    MimeTypeRawVideo,
				ClockRate:   90000,
				SDPFmtpLine: "width=" + strconv.Itoa(testVideoWidth) + ";height=" + strconv.Itoa(testVideoHeight),
			},
			clockRate: 90000,
			payload:   func(uint64) []byte { return frame },
		})
	}
	if cfg.Opaque {
		streams = append(streams, &testStream{
			ssrc:      TestOpaqueSSRC,
			pt:        testOpaquePT,
			codec:     &webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			clockRate: 90000,
			payload:   func(uint64) []byte { return []byte{0x10, 0x00, 0x9d, 0x01, 0x2a} },
		})
	}
	if cfg.Unknown {
		streams = append(streams, &testStream{
			ssrc:      TestUnknownSSRC,
			pt:        testUnknownPT,
			clockRate: 90000,
			payload:   func(tick uint64) []byte { return []byte{byte(tick)} },
		})
	}
	return streams
}

func (s *TestSource) generateLoop(ctx context.Context, cfg TestSourceConfig, downstream Consumer, poster Poster, done chan struct{}) {
	defer close(done)

	streams := s.streams(cfg)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	s.logger.Debug().Int("streams", len(streams)).Msg("started generating")

	var tick uint64
	for {
		for _, st := range streams {
			pts := time.Duration(tick) * cfg.Interval
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         true,
					PayloadType:    st.pt,
					SequenceNumber: st.seq,
					Timestamp:      uint32(uint64(pts) * uint64(st.clockRate) / uint64(time.Second)),
					SSRC:           st.ssrc,
				},
				Payload: st.payload(tick),
			}
			st.seq++

			err := downstream.Consume(&Buffer{
				PTS:      pts,
				Duration: cfg.Interval,
				Key:      true,
				RTP:      pkt,
				Codec:    st.codec,
			})
			if err != nil && !errors.Is(err, ErrFlushing) {
				if poster != nil {
					poster.Post(ErrorEvent{Source: s.name, Err: err, Debug: "internal data stream error"})
				}
				s.logger.Error().Err(err).Msg("downstream refused buffer")
				return
			}
		}
		tick++
		s.ticks.Store(tick)

		if cfg.NumBuffers > 0 && tick >= uint64(cfg.NumBuffers) {
			if poster != nil {
				poster.Post(EOSEvent{Source: s.name})
			}
			s.logger.Debug().Uint64("ticks", tick).Msg("end of stream")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ulawTone encodes n samples of a sine tone starting at sample offset.
func ulawTone(offset uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		t := float64(offset+uint64(i)) / 8000
		out[i] = linearToUlaw(int16(8000 * math.Sin(2*math.Pi*testToneHz*t)))
	}
	return out
}

// SMPTE colour bars, 75%.
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

// colorBarsI420 renders one I420 frame of colour bars.
func colorBarsI420(w, h int) []byte {
	uvW, uvH := (w+1)/2, (h+1)/2
	frame := make([]byte, i420Size(w, h))
	yPlane := frame[:w*h]
	uPlane := frame[w*h : w*h+uvW*uvH]
	vPlane := frame[w*h+uvW*uvH:]

	barWidth := w / 8
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bar := x / barWidth
			if bar > 7 {
				bar = 7
			}
			rgb := colorBarsRGB[bar]
			yv, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
			yPlane[y*w+x] = yv
			if x%2 == 0 && y%2 == 0 {
				i := (y/2)*uvW + x/2
				uPlane[i] = u
				vPlane[i] = v
			}
		}
	}
	return frame
}

// rgbToYUV converts with BT.601 coefficients.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(math.Min(math.Max(yf, 16), 235))
	u = uint8(math.Min(math.Max(uf, 16), 240))
	v = uint8(math.Min(math.Max(vf, 16), 240))
	return
}

func init() {
	RegisterElement("testsrc", func(name string) (Element, error) {
		return NewTestSource(name), nil
	})
}
