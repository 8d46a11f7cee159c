package savedata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// ErrInvalidName is returned for names that cannot be stored as a single
// file directly under SaveRoot.
var ErrInvalidName = errors.New("invalid save file name")

// LegacyKeyToName strips the legacy prefix. ok is false for keys that do
// not belong to the save namespace.
func LegacyKeyToName(key string) (name string, ok bool) {
	if !strings.HasPrefix(key, LegacyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, LegacyPrefix), true
}

// NameToLegacyKey returns the legacy store key for a save file name.
func NameToLegacyKey(name string) string {
	return LegacyPrefix + name
}

// VersionedPathToName strips SaveRoot and the separator. ok is false for
// paths outside SaveRoot and for the root itself.
func VersionedPathToName(path string) (name string, ok bool) {
	rest, found := strings.CutPrefix(path, SaveRoot+"/")
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}

// NameToVersionedPath returns the fully qualified path of a save file.
func NameToVersionedPath(name string) string {
	return SaveRoot + "/" + name
}

// ValidateName rejects names that would not map to a regular file directly
// under SaveRoot.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.Contains(name, "/"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

// Content is the body of a save file. Structured content holds compacted
// JSON object or array text; anything else is opaque text.
type Content struct {
	text       string
	structured bool
}

// TextContent wraps s as opaque text.
func TextContent(s string) Content {
	return Content{text: s}
}

// JSONContent wraps raw JSON. Objects and arrays become structured content;
// scalars are kept as their text so that encoding stays lossless.
func JSONContent(raw []byte) (Content, error) {
	if !json.Valid(raw) {
		return Content{}, fmt.Errorf("invalid json content")
	}
	return ParseContent(string(raw)), nil
}

// ParseContent classifies a stored value. Malformed JSON is not an error:
// it is returned as opaque text.
func ParseContent(s string) Content {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return TextContent(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return TextContent(s)
	}
	return Content{text: buf.String(), structured: true}
}

// String returns the encoded text form of the content.
func (c Content) String() string { return c.text }

// Bytes returns the encoded text form as bytes.
func (c Content) Bytes() []byte { return []byte(c.text) }

// IsStructured reports whether the content is a JSON object or array.
func (c Content) IsStructured() bool { return c.structured }

// Decode unmarshals structured content into v.
func (c Content) Decode(v any) error {
	if !c.structured {
		return fmt.Errorf("content is not structured")
	}
	return json.Unmarshal([]byte(c.text), v)
}

// MarshalJSON emits structured content inline and text as a JSON string.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.structured {
		return []byte(c.text), nil
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts either a JSON string (text) or any other JSON value.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = TextContent(s)
		return nil
	}
	parsed, err := JSONContent(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// EncodeEnvelope builds the versioned-store representation of content.
func EncodeEnvelope(c Content, timestamp int64) Envelope {
	return Envelope{
		Timestamp: timestamp,
		Mode:      FileMode,
		Contents:  c.Bytes(),
	}
}

// DecodeContents turns stored file contents back into text. Invalid UTF-8
// sequences are replaced rather than rejected.
func DecodeContents(contents []byte) (Content, error) {
	text, err := unicode.UTF8.NewDecoder().Bytes(contents)
	if err != nil {
		return Content{}, fmt.Errorf("decode contents: %w", err)
	}
	return TextContent(string(text)), nil
}
