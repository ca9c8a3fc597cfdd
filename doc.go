// Package mediagraph runs a media graph that grows while it plays: a
// network source feeds a demultiplexing decoder whose elementary streams
// are only known at runtime. Each discovered stream is classified, gets a
// sink attached and is published to callers once per media kind.
//
// Key pieces include:
//   - Controller: owns the graph and exposes Stream(kind)
//   - Graph, Node, Pad and a small element registry (source, decodebin, appsink)
//   - Classify: raw audio / raw video / unrecognized / indeterminate
//   - SinkRegistry: first discovery of a kind wins
//   - LifecycleMonitor: consumes the graph bus and halts the graph on error
//   - StreamHandle: pull-based sequence of decoded buffers
//
// # Architecture
//
//	source (rtspsrc|rtmpsrc|rtpsrc|testsrc) -> decodebin -> src_N pads
//	src_N (raw audio) -> audio-sink (appsink) -> StreamHandle
//	src_N (raw video) -> video-sink (appsink) -> StreamHandle
//
// Discovery callbacks run on the source goroutine and hold only weak
// handles to the graph. Closing a controller makes every in-flight or
// later callback abort instead of touching a half-destroyed graph.
//
// # Sources
//
//	rtsp://host/path              RTSP client (gortsplib)
//	rtmp://host:port/app/key      RTMP listener for one publisher (go-rtmp)
//	udp://host:port?pt96=video/VP8/90000
//	                              plain RTP over UDP
//	test://?audio=1&video=1       synthetic session for tests and demos
//
// # Native Libraries
//
// Opus decoding loads libstream_opus with purego. Set STREAM_OPUS_LIB_PATH
// or STREAM_SDK_LIB_PATH to its location. Without it Opus streams pass
// through undecoded and are not attached. The noopus build tag disables
// the loader.
//
// # Supported Codecs
//
// Decoded: PCMU, PCMA, L16, little-endian PCM, raw I420 video, Opus.
// Everything else is passed through with encoded caps.
package mediagraph
