package mediagraph

import (
	"bytes"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

var flvTagCaps = NewCaps(CapsNameFLVTag)

// RTMPSource listens for an RTMP publisher and forwards its FLV audio and
// video tags. The URI is rtmp://host:port/app/key; when key is set only a
// publisher using that stream key is accepted. One publisher at a time.
// End of stream is posted when the publisher disconnects.
type RTMPSource struct {
	name   string
	logger zerolog.Logger

	mu         sync.Mutex
	uri        string
	addr       string
	app        string
	key        string
	downstream Consumer
	poster     Poster
	listener   net.Listener
	server     *rtmp.Server
	conns      map[net.Conn]struct{}
	done       chan struct{}

	publishing atomic.Bool
}

// NewRTMPSource creates an rtmpsrc element.
func NewRTMPSource(name string) *RTMPSource {
	return &RTMPSource{
		name:   name,
		logger: newLogger(nil, "rtmpsrc").With().Str("element", name).Logger(),
		conns:  make(map[net.Conn]struct{}),
	}
}

// SetURI sets the listen address and expected stream key.
func (s *RTMPSource) SetURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return errors.Wrapf(ErrInvalidURI, "%s: %v", uri, err)
	}
	if u.Scheme != "rtmp" {
		return errors.Wrapf(ErrInvalidURI, "%s: scheme must be rtmp", uri)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "1935")
	}
	app, key, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")

	s.mu.Lock()
	s.uri = uri
	s.addr = addr
	s.app = app
	s.key = key
	s.mu.Unlock()
	return nil
}

// URI returns the configured URI.
func (s *RTMPSource) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// Addr returns the listen address while the source is playing.
func (s *RTMPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SetDownstream sets the consumer of the tags.
func (s *RTMPSource) SetDownstream(c Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downstream != nil {
		return errors.New("already linked")
	}
	s.downstream = c
	return nil
}

// SetPoster sets where end of stream and errors are posted.
func (s *RTMPSource) SetPoster(p Poster) {
	s.mu.Lock()
	s.poster = p
	s.mu.Unlock()
}

// SetState listens in StatePlaying and shuts the server down otherwise.
func (s *RTMPSource) SetState(state ExecState) error {
	if state == StatePlaying {
		return s.start()
	}
	s.stop()
	return nil
}

// Close shuts the server down.
func (s *RTMPSource) Close() error {
	s.stop()
	return nil
}

func (s *RTMPSource) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	if s.downstream == nil {
		return errors.Wrap(ErrNotLinked, s.name)
	}
	if s.addr == "" {
		return errors.Wrap(ErrInvalidURI, "no uri set")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.addr)
	}
	s.listener = ln
	s.done = make(chan struct{})

	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			s.track(conn)
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpPublishHandler{src: s, conn: conn},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})

	s.server = srv

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("rtmp listening")
	go func(done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil {
			s.logger.Debug().Err(err).Msg("rtmp server stopped")
		}
	}(s.done)
	return nil
}

func (s *RTMPSource) stop() {
	s.mu.Lock()
	ln, srv, done := s.listener, s.server, s.done
	s.listener, s.server, s.done = nil, nil, nil
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	if ln == nil {
		return
	}
	// Serve retries Accept until the server itself is closed.
	srv.Close()
	ln.Close()
	for conn := range conns {
		conn.Close()
	}
	<-done
}

func (s *RTMPSource) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
}

func (s *RTMPSource) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *RTMPSource) sinks() (Consumer, Poster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downstream, s.poster
}

func (s *RTMPSource) push(tag uint32, timestamp uint32, payload io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return nil
	}

	downstream, poster := s.sinks()
	data := buf.Bytes()
	err := downstream.Consume(&Buffer{
		Data:   data,
		PTS:    time.Duration(timestamp) * time.Millisecond,
		Key:    tag == FLVTagAudio || data[0]>>4 == 1,
		Caps:   flvTagCaps,
		Stream: tag,
	})
	if err != nil && !errors.Is(err, ErrFlushing) {
		s.logger.Warn().Err(err).Uint32("tag", tag).Msg("downstream refused tag")
		if poster != nil {
			poster.Post(WarningEvent{Source: s.name, Err: err})
		}
	}
	return nil
}

// rtmpPublishHandler handles one RTMP connection.
type rtmpPublishHandler struct {
	rtmp.DefaultHandler
	src        *RTMPSource
	conn       net.Conn
	publishing bool
}

func (h *rtmpPublishHandler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	h.src.mu.Lock()
	app, key := h.src.app, h.src.key
	h.src.mu.Unlock()

	if key != "" && cmd.PublishingName != key {
		return errors.Errorf("unknown stream key %q", cmd.PublishingName)
	}
	if !h.src.publishing.CompareAndSwap(false, true) {
		return errors.New("already publishing")
	}
	h.publishing = true
	h.src.logger.Info().Str("name", cmd.PublishingName).Str("remote", h.conn.RemoteAddr().String()).Str("app", app).Msg("publishing")
	return nil
}

func (h *rtmpPublishHandler) OnAudio(timestamp uint32, payload io.Reader) error {
	if !h.publishing {
		return nil
	}
	return h.src.push(FLVTagAudio, timestamp, payload)
}

func (h *rtmpPublishHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	if !h.publishing {
		return nil
	}
	return h.src.push(FLVTagVideo, timestamp, payload)
}

func (h *rtmpPublishHandler) OnClose() {
	h.src.untrack(h.conn)
	if !h.publishing {
		return
	}
	h.publishing = false
	h.src.publishing.Store(false)
	h.src.logger.Info().Msg("publisher disconnected")

	if _, poster := h.src.sinks(); poster != nil {
		poster.Post(EOSEvent{Source: h.src.name})
	}
}

func init() {
	RegisterElement("rtmpsrc", func(name string) (Element, error) {
		return NewRTMPSource(name), nil
	})
}
