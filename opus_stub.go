//go:build !(darwin || linux) || noopus

package mediagraph

// IsOpusAvailable reports whether libstream_opus could be loaded. Opus
// streams pass through undecoded on this build.
func IsOpusAvailable() bool {
	return false
}
