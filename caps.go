package mediagraph

import (
	"strings"

	"github.com/pkg/errors"
)

type capsField struct {
	key   string
	value string
}

// Caps describes the negotiated format of a stream: a media type name such
// as "audio/x-raw" plus ordered key=value fields. Caps values are immutable.
type Caps struct {
	name   string
	fields []capsField
}

// NewCaps builds caps from a name and alternating key/value pairs.
// A trailing key without a value is ignored.
func NewCaps(name string, kv ...string) *Caps {
	c := &Caps{name: strings.TrimSpace(name)}
	for i := 0; i+1 < len(kv); i += 2 {
		c.fields = append(c.fields, capsField{key: kv[i], value: kv[i+1]})
	}
	return c
}

// ParseCaps parses the string form produced by Caps.String, for example
// "audio/x-raw, format=S16LE, rate=8000".
func ParseCaps(s string) (*Caps, error) {
	parts := strings.Split(s, ",")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return nil, errors.Errorf("caps %q: empty media type", s)
	}
	c := &Caps{name: name}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.Errorf("caps %q: malformed field %q", s, p)
		}
		c.fields = append(c.fields, capsField{key: strings.TrimSpace(key), value: strings.TrimSpace(value)})
	}
	return c, nil
}

// Name returns the media type name. Nil caps have an empty name.
func (c *Caps) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Field returns the value of a field.
func (c *Caps) Field(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, f := range c.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return "", false
}

// With returns a copy of c with key set to value.
func (c *Caps) With(key, value string) *Caps {
	out := &Caps{name: c.Name()}
	if c != nil {
		out.fields = make([]capsField, 0, len(c.fields)+1)
		for _, f := range c.fields {
			if f.key != key {
				out.fields = append(out.fields, f)
			}
		}
	}
	out.fields = append(out.fields, capsField{key: key, value: value})
	return out
}

// HasPrefix reports whether the media type name starts with prefix.
func (c *Caps) HasPrefix(prefix string) bool {
	return strings.HasPrefix(c.Name(), prefix)
}

func (c *Caps) String() string {
	if c == nil {
		return "(none)"
	}
	var b strings.Builder
	b.WriteString(c.name)
	for _, f := range c.fields {
		b.WriteString(", ")
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(f.value)
	}
	return b.String()
}

// StreamDescriptor is the snapshot of a newly discovered stream taken when
// its pad is announced.
type StreamDescriptor struct {
	Pad  string // Pad name on the decoder
	Caps *Caps  // Current caps, nil if negotiation has not completed
}
