package mediagraph

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// within fails the test if fn does not return in d.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return within %v", what, d)
	}
}

func TestSourceForURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"rtsp://camera.local:554/stream1", "rtspsrc"},
		{"rtsps://camera.local/stream1", "rtspsrc"},
		{"rtmp://0.0.0.0:1935/live/key", "rtmpsrc"},
		{"udp://127.0.0.1:5004", "rtpsrc"},
		{"rtp://:5004?pt96=video/VP8/90000", "rtpsrc"},
		{"test://?audio=1", "testsrc"},
		{"RTSP://camera.local/stream1", "rtspsrc"},
	}
	for _, tt := range tests {
		got, err := SourceForURI(tt.uri)
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.want, got, tt.uri)
	}

	for _, uri := range []string{"ftp://host/file", "camera.local/stream", "://"} {
		_, err := SourceForURI(uri)
		assert.True(t, errors.Is(err, ErrInvalidURI), uri)
	}
}

func TestNewControllerMissingCapability(t *testing.T) {
	tests := []struct {
		name       string
		cfg        ControllerConfig
		capability string
	}{
		{"source", ControllerConfig{URI: "mock://x", Source: "nosuchsrc"}, "nosuchsrc"},
		{"decoder", ControllerConfig{URI: "mock://x", Source: "mocksrc", Decoder: "nosuchdecoder"}, "nosuchdecoder"},
		{"static decoder", ControllerConfig{URI: "mock://x", Source: "mocksrc", Decoder: "staticdecoder"}, "staticdecoder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = nopLogger()
			c, err := NewController(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, c)

			var cerr *ConstructionError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, ReasonMissingCapability, cerr.Reason)
			assert.Equal(t, tt.capability, cerr.Capability)
			assert.True(t, errors.Is(err, ErrMissingCapability))
			assert.False(t, errors.Is(err, ErrLinkFailure))
			assert.Contains(t, err.Error(), tt.capability)
		})
	}
}

func TestNewControllerLinkFailure(t *testing.T) {
	c, err := NewController(ControllerConfig{URI: "mock://x", Source: "deadendsrc", Decoder: "mockdecoder", Logger: nopLogger()})
	require.Error(t, err)
	assert.Nil(t, c)

	var cerr *ConstructionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ReasonLinkFailure, cerr.Reason)
	assert.True(t, errors.Is(err, ErrLinkFailure))
	assert.Contains(t, err.Error(), "failed to link source to decoder")
}

func TestNewControllerInvalidURI(t *testing.T) {
	for _, cfg := range []ControllerConfig{
		{URI: ""},
		{URI: "ftp://host/file"},
		{URI: "mock://bad", Source: "mocksrc", Decoder: "mockdecoder"},
		{URI: "test://?num-buffers=many"},
		{URI: "udp://nohostport"},
	} {
		cfg.Logger = nopLogger()
		c, err := NewController(cfg)
		assert.Nil(t, c, cfg.URI)

		var cerr *ConstructionError
		require.True(t, errors.As(err, &cerr), cfg.URI)
		assert.Equal(t, ReasonInvalidURI, cerr.Reason, cfg.URI)
		assert.True(t, errors.Is(err, ErrInvalidURI), cfg.URI)
	}
}

func TestControllerMockEndToEnd(t *testing.T) {
	for _, order := range [][]string{{"audio", "video"}, {"video", "audio"}} {
		c, _, dec := newMockController(t, ControllerConfig{})
		assert.Equal(t, StatePlaying, c.State())
		assert.NotEmpty(t, c.ID())

		_, ok := c.Stream(MediaKindAudio)
		assert.False(t, ok, "nothing discovered yet")

		for _, label := range order {
			dec.emit(testCaps[label])
		}

		audio, ok := c.Stream(MediaKindAudio)
		require.True(t, ok)
		video, ok := c.Stream(MediaKindVideo)
		require.True(t, ok)
		assert.Equal(t, MediaKindAudio, audio.Kind())
		assert.Equal(t, MediaKindVideo, video.Kind())

		dec.emit(testCaps["audio"])
		again, ok := c.Stream(MediaKindAudio)
		require.True(t, ok)
		assert.Same(t, audio, again)
		assert.Len(t, c.Streams(), 2)
	}
}

func TestControllerFatalBeforeDiscovery(t *testing.T) {
	obs := &recordingObserver{}
	c, src, _ := newMockController(t, ControllerConfig{Observer: obs})

	src.post(ErrorEvent{Source: "source", Err: errors.New("could not connect"), Debug: "connection refused"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not connect")

	_, ok := c.Stream(MediaKindAudio)
	assert.False(t, ok)
	_, ok = c.Stream(MediaKindVideo)
	assert.False(t, ok)
	assert.Equal(t, StateNull, c.State())
	assert.True(t, c.Monitor().Halted())
	assert.Equal(t, MonitorStopped, c.Monitor().State())
}

func TestControllerCloseEndsStreams(t *testing.T) {
	c, _, dec := newMockController(t, ControllerConfig{SinkBuffers: 8})
	dec.emit(testCaps["audio"])

	stream, ok := c.Stream(MediaKindAudio)
	require.True(t, ok)
	assert.False(t, stream.Closed())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, stream.Closed())

	_, err := stream.Pull(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, MonitorStopped, c.Monitor().State())
}

func TestControllerTestSource(t *testing.T) {
	c, err := NewController(ControllerConfig{URI: "test://?interval=5ms&opaque=1&unknown=1", Logger: nopLogger()})
	require.NoError(t, err)
	defer c.Close()

	assert.Eventually(t, func() bool {
		return len(c.Streams()) == 2 && c.DiscoveryStats().Discovered == 4
	}, 2*time.Second, 5*time.Millisecond)

	stats := c.DiscoveryStats()
	assert.Equal(t, uint64(2), stats.Attached)
	assert.Equal(t, uint64(1), stats.Unrecognized)
	assert.Equal(t, uint64(1), stats.Indeterminate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	audio, _ := c.Stream(MediaKindAudio)
	buf, err := audio.Pull(ctx)
	require.NoError(t, err)
	assert.True(t, buf.Caps.HasPrefix(RawAudioMarker))
	assert.Len(t, buf.Data, 2*40, "5ms of 8kHz mono S16LE")

	video, _ := c.Stream(MediaKindVideo)
	buf, err = video.Pull(ctx)
	require.NoError(t, err)
	assert.True(t, buf.Caps.HasPrefix(RawVideoMarker))
	assert.Len(t, buf.Data, i420Size(testVideoWidth, testVideoHeight))

	names := []string{}
	for _, n := range c.Graph().Nodes() {
		names = append(names, n.Name())
	}
	assert.ElementsMatch(t, []string{"source", "decoder", "audio-sink", "video-sink"}, names)
}

func TestControllerEndOfStream(t *testing.T) {
	c, err := NewController(ControllerConfig{URI: "test://?interval=2ms&num-buffers=5", Logger: nopLogger()})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	assert.Equal(t, MonitorStopped, c.Monitor().State())
	assert.False(t, c.Monitor().Halted())
	assert.Equal(t, StatePlaying, c.State(), "end of stream does not halt the graph")

	audio, ok := c.Stream(MediaKindAudio)
	require.True(t, ok)
	assert.Equal(t, uint64(5), audio.Stats().BuffersReceived)
}

func TestControllerCloseFromFatalCallback(t *testing.T) {
	var ctrl atomic.Pointer[Controller]
	closed := make(chan error, 1)

	c, src, _ := newMockController(t, ControllerConfig{
		Observer: ObserverFuncs{OnFatal: func(ErrorEvent) {
			closed <- ctrl.Load().Close()
		}},
	})
	ctrl.Store(c)

	src.post(ErrorEvent{Source: "source", Err: errors.New("connection lost")})

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close from the fatal callback did not return")
	}
	within(t, 2*time.Second, "monitor", func() { <-c.Monitor().Done() })

	assert.Nil(t, c.Graph())
	assert.Equal(t, StateNull, c.State())
	assert.True(t, c.Monitor().Halted())
	within(t, time.Second, "second Close", func() { c.Close() })
}

func TestControllerCloseReenteredFromStateCallback(t *testing.T) {
	var ctrl atomic.Pointer[Controller]
	var reentered atomic.Bool

	c, _, _ := newMockController(t, ControllerConfig{
		Observer: ObserverFuncs{OnStateChanged: func(ev StateChangedEvent) {
			if c := ctrl.Load(); c != nil && ev.New == StateNull {
				c.Close()
				reentered.Store(true)
			}
		}},
	})
	ctrl.Store(c)

	within(t, 2*time.Second, "Close", func() { assert.NoError(t, c.Close()) })
	within(t, 2*time.Second, "monitor", func() { <-c.Monitor().Done() })
	assert.True(t, reentered.Load())
}

func TestControllerRTMPClose(t *testing.T) {
	c, err := NewController(ControllerConfig{URI: "rtmp://127.0.0.1:0/live/key", Logger: nopLogger()})
	require.NoError(t, err)

	src, ok := c.Graph().Node("source")
	require.True(t, ok)
	require.NotNil(t, src.Element().(*RTMPSource).Addr())

	within(t, 2*time.Second, "Close", func() { assert.NoError(t, c.Close()) })
	assert.Equal(t, StateNull, c.State())
}

func TestControllerRTMPFatalHalts(t *testing.T) {
	c, err := NewController(ControllerConfig{URI: "rtmp://127.0.0.1:0/live/key", Logger: nopLogger()})
	require.NoError(t, err)
	defer c.Close()

	c.Graph().Bus().Post(ErrorEvent{Source: "decoder", Err: errors.New("bad stream")})

	within(t, 2*time.Second, "monitor", func() { <-c.Monitor().Done() })
	assert.True(t, c.Monitor().Halted())
	assert.Error(t, c.Monitor().Err())
	within(t, 2*time.Second, "Close", func() { c.Close() })
}
