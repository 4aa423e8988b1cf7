package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Payload is an opaque JSON object carried by install, exec and migrate
// messages. Values are kept exactly as the caller sent them; only
// insignificant whitespace is dropped.
type Payload []byte

// EmptyPayload returns the empty object.
func EmptyPayload() Payload { return Payload("{}") }

// ParsePayload checks that data holds a single JSON object and returns it in
// compact form. An empty input yields the empty object and a JSON null yields
// a nil Payload, meaning no payload was supplied.
func ParsePayload(data []byte) (Payload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return EmptyPayload(), nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	switch data[0] {
	case '{':
	case 'n':
		return nil, nil
	default:
		return nil, fmt.Errorf("parse payload: must be a JSON object, got %s", jsonKind(data[0]))
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return Payload(buf.Bytes()), nil
}

func jsonKind(first byte) string {
	switch first {
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}

// MustPayload is like ParsePayload but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPayload(s string) Payload {
	p, err := ParsePayload([]byte(s))
	if err != nil {
		panic(err)
	}
	return p
}

// IsEmpty reports whether p is nil or the empty object.
func (p Payload) IsEmpty() bool {
	return len(p) == 0 || string(p) == "{}"
}

func (p Payload) String() string {
	if len(p) == 0 {
		return "{}"
	}
	return string(p)
}

// MarshalJSON emits the stored bytes unchanged.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return []byte(p), nil
}

// UnmarshalJSON accepts an object or null, which leaves p nil.
func (p *Payload) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePayload(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalCanonical produces RFC 8785 canonical JSON.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping
//  3. Strings are NFC normalized
//  4. No floats and no null (returns error)
//  5. Payload values are embedded verbatim, so caller data is never rewritten
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case Payload:
		buf.WriteString(val.String())
	case string:
		return writeCanonicalString(buf, val)
	case ModuleID:
		return writeCanonicalString(buf, string(val))
	case Addr:
		return writeCanonicalString(buf, string(val))
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case json.Number:
		if strings.ContainsAny(val.String(), ".eE") {
			return fmt.Errorf("floats are forbidden in canonical JSON: %s", val)
		}
		n, err := val.Int64()
		if err != nil {
			return fmt.Errorf("integer out of range in canonical JSON: %s", val)
		}
		buf.WriteString(strconv.FormatInt(n, 10))
	case float32, float64:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case []string:
		elems := make([]any, len(val))
		for i, s := range val {
			elems[i] = s
		}
		return writeCanonical(buf, elems)
	case map[string]any:
		buf.WriteByte('{')
		for i, k := range sortedKeys(val) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeCanonicalString writes a JSON string with NFC normalization and
// without HTML escaping.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// sortedKeys orders object keys by UTF-16 code units per RFC 8785.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
	})
	return keys
}
