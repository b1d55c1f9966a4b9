// Package properties encodes the recursive LogEvent.Properties variant into
// the JSON text stored in the Properties column. The output is a
// diagnostic dump, not a parseable protocol: round-tripping back into
// event.Property is not supported or required.
package properties

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/loglayer/sqlitesink/internal/event"
)

// keyValueTagPrefixes are the stringly-typed hooks the host pipeline uses
// to flag a structured value as a key/value pair rather than an arbitrary
// record. Honoured verbatim, since the host controls the tag text.
var keyValueTagPrefixes = []string{"DictionaryEntry", "KeyValuePair"}

// Encode renders a properties map as a JSON object. An empty map encodes
// to the empty string, matching the StoredRow.Properties contract.
func Encode(props map[string]event.Property) (string, error) {
	if len(props) == 0 {
		return "", nil
	}

	out := make(map[string]interface{}, len(props))
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		out[name] = encodeValue(props[name])
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encodeValue recursively converts a Property into a plain Go value that
// encoding/json can render, applying the key/value-pair special case for
// structured values whose TypeTag starts with DictionaryEntry or
// KeyValuePair.
func encodeValue(p event.Property) interface{} {
	switch p.Kind {
	case event.KindScalar:
		return p.Scalar

	case event.KindSequence:
		seq := make([]interface{}, len(p.Sequence))
		for i, elem := range p.Sequence {
			seq[i] = encodeValue(elem)
		}
		return seq

	case event.KindMapping:
		m := make(map[string]interface{}, len(p.Mapping))
		for k, v := range p.Mapping {
			m[k] = encodeValue(v)
		}
		return m

	case event.KindStructured:
		if isKeyValueTag(p.TypeTag) && len(p.Structured) >= 1 {
			key := scalarKeyString(p.Structured[0].Value)
			var value interface{}
			if len(p.Structured) >= 2 {
				value = encodeValue(p.Structured[1].Value)
			}
			return map[string]interface{}{key: value}
		}

		m := make(map[string]interface{}, len(p.Structured))
		for _, np := range p.Structured {
			m[np.Name] = encodeValue(np.Value)
		}
		return m

	default:
		return nil
	}
}

// isKeyValueTag reports whether a structured type tag marks a key/value
// pair shape.
func isKeyValueTag(typeTag string) bool {
	for _, prefix := range keyValueTagPrefixes {
		if strings.HasPrefix(typeTag, prefix) {
			return true
		}
	}
	return false
}

// scalarKeyString renders the first nested property of a key/value pair
// as the JSON object key. Non-scalar keys fall back to their encoded
// value's string form via a best-effort conversion, since JSON object
// keys must be strings.
func scalarKeyString(p event.Property) string {
	if p.Kind == event.KindScalar {
		if s, ok := p.Scalar.(string); ok {
			return s
		}
		b, err := json.Marshal(p.Scalar)
		if err == nil {
			return string(b)
		}
	}
	b, err := json.Marshal(encodeValue(p))
	if err != nil {
		return ""
	}
	return string(b)
}
