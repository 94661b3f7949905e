// Package codec converts application values to and from the bytes stored in
// a backend.
//
// Raw byte slices pass through untouched and are tagged TagRaw. Everything
// else is encoded as JSON and tagged TagJSON, so booleans, numbers, strings,
// null, objects and arrays keep their type across a round trip.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Tag marks how stored bytes are encoded.
type Tag string

const (
	// TagJSON marks JSON text.
	TagJSON Tag = "json"
	// TagRaw marks raw bytes.
	TagRaw Tag = "raw"
)

// Extension returns the key suffix conventionally used for the tag.
func (t Tag) Extension() string {
	if t == TagRaw {
		return ".bin"
	}
	return ".json"
}

// TagOf infers the tag from a key's suffix. Keys ending in ".bin" hold raw
// bytes; everything else is treated as JSON.
func TagOf(key string) Tag {
	if strings.HasSuffix(key, TagRaw.Extension()) {
		return TagRaw
	}
	return TagJSON
}

// ErrCodec is matched by every *Error.
var ErrCodec = errors.New("codec error")

// Error reports a value that cannot be encoded, or bytes that don't decode
// under their declared tag.
type Error struct {
	Tag Tag
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec: %s value: %v", e.Tag, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCodec) hold for every *Error.
func (e *Error) Is(target error) bool { return target == ErrCodec }

// Encode serializes v. A []byte is returned as-is with TagRaw.
func Encode(v any) ([]byte, Tag, error) {
	if b, ok := v.([]byte); ok {
		return b, TagRaw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, "", &Error{Tag: TagJSON, Err: fmt.Errorf("cannot encode %T: %w", v, err)}
	}
	return b, TagJSON, nil
}

// Decode deserializes b according to tag. JSON numbers decode to float64,
// objects to map[string]any and arrays to []any.
func Decode(b []byte, tag Tag) (any, error) {
	switch tag {
	case TagRaw:
		return b, nil
	case TagJSON:
		var v any
		if err := DecodeInto(b, TagJSON, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, &Error{Tag: tag, Err: fmt.Errorf("unknown tag %q", tag)}
	}
}

// DecodeInto decodes b into dst. For TagRaw, dst must be a *[]byte.
func DecodeInto(b []byte, tag Tag, dst any) error {
	if tag == TagRaw {
		p, ok := dst.(*[]byte)
		if !ok {
			return &Error{Tag: tag, Err: fmt.Errorf("raw value needs *[]byte, got %T", dst)}
		}
		*p = b
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(dst); err != nil {
		return &Error{Tag: tag, Err: err}
	}
	// Trailing garbage after a valid document is still malformed.
	if dec.More() {
		return &Error{Tag: tag, Err: errors.New("unexpected data after JSON value")}
	}
	return nil
}

const binaryTextPrefix = "base64:"

// EncodeBinaryText renders raw bytes as text for backends that only store
// strings.
func EncodeBinaryText(b []byte) string {
	return binaryTextPrefix + base64.StdEncoding.EncodeToString(b)
}

// DecodeBinaryText reverses EncodeBinaryText.
func DecodeBinaryText(s string) ([]byte, error) {
	if !strings.HasPrefix(s, binaryTextPrefix) {
		return nil, &Error{Tag: TagRaw, Err: errors.New("missing base64 prefix")}
	}
	b, err := base64.StdEncoding.DecodeString(s[len(binaryTextPrefix):])
	if err != nil {
		return nil, &Error{Tag: TagRaw, Err: err}
	}
	return b, nil
}
