package mediagraph

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTMPSourceSetURI(t *testing.T) {
	src := NewRTMPSource("source")
	require.NoError(t, src.SetURI("rtmp://127.0.0.1/live/secret"))
	assert.Equal(t, "rtmp://127.0.0.1/live/secret", src.URI())
	assert.Equal(t, "127.0.0.1:1935", src.addr)
	assert.Equal(t, "live", src.app)
	assert.Equal(t, "secret", src.key)

	require.NoError(t, src.SetURI("rtmp://0.0.0.0:19350/app"))
	assert.Equal(t, "0.0.0.0:19350", src.addr)
	assert.Empty(t, src.key)

	assert.ErrorIs(t, src.SetURI("rtsp://127.0.0.1/live"), ErrInvalidURI)
	assert.Nil(t, src.Addr())
}

func TestRTMPSourceListens(t *testing.T) {
	src := NewRTMPSource("source")
	require.NoError(t, src.SetURI("rtmp://127.0.0.1:0/live/key"))
	require.NoError(t, src.SetDownstream(&collector{}))
	require.NoError(t, src.SetState(StatePlaying))
	t.Cleanup(func() { src.Close() })

	require.NotNil(t, src.Addr())
	within(t, 2*time.Second, "stop", func() { assert.NoError(t, src.SetState(StateNull)) })
	assert.Nil(t, src.Addr())

	require.NoError(t, src.SetState(StatePlaying))
	require.NotNil(t, src.Addr(), "listens again after a stop")
	within(t, 2*time.Second, "Close", func() { assert.NoError(t, src.Close()) })
}

func TestRTMPSourceStopClosesClients(t *testing.T) {
	src := NewRTMPSource("source")
	require.NoError(t, src.SetURI("rtmp://127.0.0.1:0/live/key"))
	require.NoError(t, src.SetDownstream(&collector{}))
	require.NoError(t, src.SetState(StatePlaying))

	conn, err := net.Dial("tcp", src.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	within(t, 2*time.Second, "Close", func() { assert.NoError(t, src.Close()) })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "client connection is closed")
}

func TestRTMPSourcePushesTags(t *testing.T) {
	src := NewRTMPSource("source")
	out := &collector{}
	require.NoError(t, src.SetDownstream(out))

	require.NoError(t, src.push(FLVTagAudio, 40, bytes.NewReader([]byte{0x82, 0xFF})))

	bufs := out.Buffers()
	require.Len(t, bufs, 1)
	assert.Equal(t, CapsNameFLVTag, bufs[0].Caps.Name())
	assert.Equal(t, FLVTagAudio, bufs[0].Stream)
	assert.Equal(t, []byte{0x82, 0xFF}, bufs[0].Data)
	assert.EqualValues(t, 40_000_000, bufs[0].PTS)
}
