// Package canonical produces the deterministic JSON form governance
// events are hashed over. Two semantically equal events yield
// bit-identical canonical bytes regardless of key order or producer
// platform, which is what makes content-addressed dedup and tamper
// detection possible across independent producers.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrEncode reports a value that cannot be serialized to JSON.
var ErrEncode = errors.New("canonical: encode error")

// DefaultExcludedKeys are the top-level fields stripped before
// canonicalization. hash and signature are derived from the canonical
// form and cannot be part of it; receivedAt is server-assigned and not
// known to the producer.
var DefaultExcludedKeys = []string{"hash", "signature", "receivedAt"}

type options struct {
	excluded map[string]bool
}

// Option adjusts canonicalization behavior.
type Option func(*options)

// WithExcludedKeys replaces the default excluded key set.
func WithExcludedKeys(keys ...string) Option {
	return func(o *options) {
		o.excluded = make(map[string]bool, len(keys))
		for _, k := range keys {
			o.excluded[k] = true
		}
	}
}

// WithoutExclusions keeps every top-level key.
func WithoutExclusions() Option {
	return func(o *options) {
		o.excluded = map[string]bool{}
	}
}

func buildOptions(opts []Option) options {
	o := options{excluded: make(map[string]bool, len(DefaultExcludedKeys))}
	for _, k := range DefaultExcludedKeys {
		o.excluded[k] = true
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Canonicalize returns the canonical JSON form of v: top-level excluded
// keys removed, mapping keys sorted by UTF-8 byte order at every depth,
// compact output, no HTML escaping, numeric literals preserved as they
// round-trip. Arrays keep their element order.
//
// v is first marshaled through encoding/json so struct tags are
// honored, then re-read with json.Number to keep numeric literals
// intact before the ordered emit.
func Canonicalize(v interface{}, opts ...Option) ([]byte, error) {
	o := buildOptions(opts)

	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	if m, ok := generic.(map[string]interface{}); ok && len(o.excluded) > 0 {
		for k := range o.excluded {
			delete(m, k)
		}
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToMap round-trips v through encoding/json into a raw map with number
// literals preserved, the same shape Canonicalize works over. It is how
// typed events re-enter the validation path without losing fidelity.
func ToMap(v interface{}) (map[string]interface{}, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	m, ok := generic.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: value is not an object", ErrEncode)
	}
	return m, nil
}

// CanonicalString is Canonicalize returning a string.
func CanonicalString(v interface{}, opts ...Option) (string, error) {
	b, err := Canonicalize(v, opts...)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writeCanonical emits one canonical value into buf. Input is the
// generic shape produced by json.Decoder with UseNumber, so the type
// switch below is exhaustive for well-formed documents.
func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return writeJSONString(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrEncode, v)
	}
	return nil
}

// writeJSONString escapes s per JSON without HTML escaping.
func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	// json.Encoder appends a newline; canonical form has none.
	buf.Truncate(buf.Len() - 1)
	return nil
}
