package mediagraph

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const rtpReadBufferSize = 1500

// RTPSourceConfig is the parsed form of an rtpsrc URI.
type RTPSourceConfig struct {
	Addr         string                              // Listen address, host:port
	PayloadTypes map[uint8]webrtc.RTPCodecCapability // Session payload map
}

// ParseRTPSourceURI parses udp://host:port?pt96=video/VP8/90000&pt97=...
// Payload types not in the query fall back to the global registry.
func ParseRTPSourceURI(uri string) (RTPSourceConfig, error) {
	cfg := RTPSourceConfig{PayloadTypes: make(map[uint8]webrtc.RTPCodecCapability)}

	u, err := url.Parse(uri)
	if err != nil {
		return cfg, errors.Wrapf(ErrInvalidURI, "%s: %v", uri, err)
	}
	if u.Scheme != "udp" && u.Scheme != "rtp" {
		return cfg, errors.Wrapf(ErrInvalidURI, "%s: scheme must be udp or rtp", uri)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return cfg, errors.Wrapf(ErrInvalidURI, "%s: %v", uri, err)
	}
	cfg.Addr = u.Host

	for key, values := range u.Query() {
		if !strings.HasPrefix(key, "pt") || len(values) == 0 {
			continue
		}
		pt, err := strconv.ParseUint(strings.TrimPrefix(key, "pt"), 10, 7)
		if err != nil {
			return cfg, errors.Wrapf(ErrInvalidURI, "%s: payload type %q", uri, key)
		}
		codec, err := ParseCodec(values[0])
		if err != nil {
			return cfg, errors.Wrapf(ErrInvalidURI, "%s: %v", uri, err)
		}
		cfg.PayloadTypes[uint8(pt)] = codec
	}
	return cfg, nil
}

// RTPSource receives a multiplexed RTP session over UDP.
type RTPSource struct {
	name   string
	logger zerolog.Logger

	mu         sync.Mutex
	uri        string
	config     RTPSourceConfig
	downstream Consumer
	poster     Poster
	conn       net.PacketConn
	done       chan struct{}
}

// NewRTPSource creates an rtpsrc element.
func NewRTPSource(name string) *RTPSource {
	return &RTPSource{
		name:   name,
		logger: newLogger(nil, "rtpsrc").With().Str("element", name).Logger(),
	}
}

// SetURI sets the listen address and payload map.
func (s *RTPSource) SetURI(uri string) error {
	cfg, err := ParseRTPSourceURI(uri)
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
func (s *RTPSource) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// LocalAddr returns the bound address while the source is playing.
func (s *RTPSource) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// SetDownstream sets the consumer of the session.
func (s *RTPSource) SetDownstream(c Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downstream != nil {
		return errors.New("already linked")
	}
	s.downstream = c
	return nil
}

// SetPoster sets where errors are posted.
func (s *RTPSource) SetPoster(p Poster) {
	s.mu.Lock()
	s.poster = p
	s.mu.Unlock()
}

// SetState binds the socket in StatePlaying and releases it otherwise.
func (s *RTPSource) SetState(state ExecState) error {
	if state == StatePlaying {
		return s.start()
	}
	s.stop()
	return nil
}

// Close releases the socket.
func (s *RTPSource) Close() error {
	s.stop()
	return nil
}

func (s *RTPSource) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	if s.downstream == nil {
		return errors.Wrap(ErrNotLinked, s.name)
	}
	if s.config.Addr == "" {
		return errors.Wrap(ErrInvalidURI, "no uri set")
	}

	conn, err := net.ListenPacket("udp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.config.Addr)
	}
	s.conn = conn
	s.done = make(chan struct{})

	s.logger.Info().Str("addr", conn.LocalAddr().String()).Msg("listening")
	go s.readLoop(conn, s.config.PayloadTypes, s.downstream, s.poster, s.done)
	return nil
}

func (s *RTPSource) stop() {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	<-done
}

func (s *RTPSource) readLoop(conn net.PacketConn, payloads map[uint8]webrtc.RTPCodecCapability, downstream Consumer, poster Poster, done chan struct{}) {
	defer close(done)

	buf := make([]byte, rtpReadBufferSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Err(err).Msg("read failed")
				if poster != nil {
					poster.Post(ErrorEvent{Source: s.name, Err: errors.Wrap(err, "udp read"), Debug: conn.LocalAddr().String()})
				}
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			s.logger.Debug().Err(err).Int("size", n).Msg("dropping non-rtp datagram")
			continue
		}

		out := &Buffer{RTP: pkt, Key: pkt.Marker}
		if codec, ok := payloads[pkt.PayloadType]; ok {
			out.Codec = &codec
		}

		if err := downstream.Consume(out); err != nil && !errors.Is(err, ErrFlushing) {
			s.logger.Error().Err(err).Msg("downstream refused buffer")
			if poster != nil {
				poster.Post(ErrorEvent{Source: s.name, Err: err, Debug: "internal data stream error"})
			}
			return
		}
	}
}

func init() {
	RegisterElement("rtpsrc", func(name string) (Element, error) {
		return NewRTPSource(name), nil
	})
}
