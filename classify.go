package mediagraph

// Media type prefixes of decoded streams. Checked in order, first match wins.
const (
	RawAudioMarker = "audio/x-raw"
	RawVideoMarker = "video/x-raw"
)

var rawMarkers = []struct {
	prefix string
	kind   MediaKind
}{
	{RawAudioMarker, MediaKindAudio},
	{RawVideoMarker, MediaKindVideo},
}

// Classify determines the media kind of a discovered stream from its caps.
// It returns ErrIndeterminate when the descriptor has no media type at all.
func Classify(desc StreamDescriptor) (MediaKind, error) {
	name := desc.Caps.Name()
	if name == "" {
		return MediaKindUnrecognized, ErrIndeterminate
	}
	for _, m := range rawMarkers {
		if desc.Caps.HasPrefix(m.prefix) {
			return m.kind, nil
		}
	}
	return MediaKindUnrecognized, nil
}
