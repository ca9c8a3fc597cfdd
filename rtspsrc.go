package mediagraph

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RTSPSource pulls a session from an RTSP server and forwards every RTP
// packet with the codec announced in the session description.
//
// The connection is set up in the background once the source is playing.
// Connection failures are posted as errors.
type RTSPSource struct {
	name   string
	logger zerolog.Logger

	mu         sync.Mutex
	uri        string
	url        *base.URL
	downstream Consumer
	poster     Poster
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewRTSPSource creates an rtspsrc element.
func NewRTSPSource(name string) *RTSPSource {
	return &RTSPSource{
		name:   name,
		logger: newLogger(nil, "rtspsrc").With().Str("element", name).Logger(),
	}
}

// SetURI sets the rtsp:// or rtsps:// location.
func (s *RTSPSource) SetURI(uri string) error {
	u, err := base.ParseURL(uri)
	if err != nil {
		return errors.Wrapf(ErrInvalidURI, "%s: %v", uri, err)
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return errors.Wrapf(ErrInvalidURI, "%s: scheme must be rtsp or rtsps", uri)
	}
	s.mu.Lock()
	s.uri = uri
	s.url = u
	s.mu.Unlock()
	return nil
}

// URI returns the configured URI.
func (s *RTSPSource) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// SetDownstream sets the consumer of the session.
func (s *RTSPSource) SetDownstream(c Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downstream != nil {
		return errors.New("already linked")
	}
	s.downstream = c
	return nil
}

// SetPoster sets where errors are posted.
func (s *RTSPSource) SetPoster(p Poster) {
	s.mu.Lock()
	s.poster = p
	s.mu.Unlock()
}

// SetState connects in StatePlaying and disconnects otherwise.
func (s *RTSPSource) SetState(state ExecState) error {
	if state == StatePlaying {
		return s.start()
	}
	s.stop()
	return nil
}

// Close disconnects.
func (s *RTSPSource) Close() error {
	s.stop()
	return nil
}

func (s *RTSPSource) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}
	if s.downstream == nil {
		return errors.Wrap(ErrNotLinked, s.name)
	}
	if s.url == nil {
		return errors.Wrap(ErrInvalidURI, "no uri set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.url, s.downstream, s.poster, s.done)
	return nil
}

func (s *RTSPSource) stop() {
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

func (s *RTSPSource) run(ctx context.Context, u *base.URL, downstream Consumer, poster Poster, done chan struct{}) {
	defer close(done)

	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Str("url", u.String()).Msg("rtsp session failed")
		if poster != nil {
			poster.Post(ErrorEvent{Source: s.name, Err: err, Debug: u.String()})
		}
	}

	c := &gortsplib.Client{}
	if err := c.Start(u.Scheme, u.Host); err != nil {
		fail(errors.Wrap(err, "connect"))
		return
	}
	stopClose := context.AfterFunc(ctx, c.Close)
	defer func() {
		if stopClose() {
			c.Close()
		}
	}()

	desc, _, err := c.Describe(u)
	if err != nil {
		fail(errors.Wrap(err, "describe"))
		return
	}
	if err := c.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		fail(errors.Wrap(err, "setup"))
		return
	}

	codecs := make(map[format.Format]*webrtc.RTPCodecCapability)
	for _, medi := range desc.Medias {
		for _, forma := range medi.Formats {
			codecs[forma] = formatCodec(medi, forma)
			s.logger.Debug().
				Str("media", string(medi.Type)).
				Str("codec", forma.Codec()).
				Uint8("pt", forma.PayloadType()).
				Msg("track")
		}
	}

	var failed sync.Once
	c.OnPacketRTPAny(func(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
		err := downstream.Consume(&Buffer{RTP: pkt, Codec: codecs[forma], Key: pkt.Marker})
		if err != nil && !errors.Is(err, ErrFlushing) {
			failed.Do(func() { fail(err) })
		}
	})

	if _, err := c.Play(nil); err != nil {
		fail(errors.Wrap(err, "play"))
		return
	}
	s.logger.Info().Str("url", u.String()).Int("medias", len(desc.Medias)).Msg("playing")

	if err := c.Wait(); err != nil {
		fail(errors.Wrap(err, "session"))
	}
}

// formatCodec converts an SDP format to a codec capability. Formats
// without an rtpmap yield nil.
func formatCodec(medi *description.Media, forma format.Format) *webrtc.RTPCodecCapability {
	rtpMap := forma.RTPMap()
	if rtpMap == "" {
		return nil
	}
	parts := strings.Split(rtpMap, "/")
	codec := &webrtc.RTPCodecCapability{
		MimeType:  string(medi.Type) + "/" + parts[0],
		ClockRate: uint32(forma.ClockRate()),
	}
	if len(parts) == 3 {
		if ch, err := strconv.ParseUint(parts[2], 10, 16); err == nil {
			codec.Channels = uint16(ch)
		}
	}
	if fmtp := forma.FMTP(); len(fmtp) > 0 {
		keys := make([]string, 0, len(fmtp))
		for k := range fmtp {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		params := make([]string, 0, len(keys))
		for _, k := range keys {
			params = append(params, k+"="+fmtp[k])
		}
		codec.SDPFmtpLine = strings.Join(params, ";")
	}
	return codec
}

func init() {
	RegisterElement("rtspsrc", func(name string) (Element, error) {
		return NewRTSPSource(name), nil
	})
}
