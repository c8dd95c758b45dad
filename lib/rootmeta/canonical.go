// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package rootmeta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON encodes a value as canonical JSON: object keys in
// lexicographic order, no insignificant whitespace, numbers preserved
// exactly as their original literals. Signatures are computed over
// this encoding, so it must be byte-stable across runs, platforms,
// and implementations.
func CanonicalJSON(value any) ([]byte, error) {
	// Round-trip through encoding/json to reduce the value to JSON
	// primitives. UseNumber keeps integer literals intact instead of
	// collapsing them through float64.
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := writeCanonical(&out, decoded); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeCanonical(out *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		out.WriteString("null")

	case bool:
		if v {
			out.WriteString("true")
		} else {
			out.WriteString("false")
		}

	case json.Number:
		out.WriteString(v.String())

	case string:
		// encoding/json escaping is deterministic.
		escaped, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out.Write(escaped)

	case []any:
		out.WriteByte('[')
		for i, element := range v {
			if i > 0 {
				out.WriteByte(',')
			}
			if err := writeCanonical(out, element); err != nil {
				return err
			}
		}
		out.WriteByte(']')

	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		out.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				out.WriteByte(',')
			}
			escaped, err := json.Marshal(key)
			if err != nil {
				return err
			}
			out.Write(escaped)
			out.WriteByte(':')
			if err := writeCanonical(out, v[key]); err != nil {
				return err
			}
		}
		out.WriteByte('}')

	default:
		return fmt.Errorf("rootmeta: cannot canonicalize %T", value)
	}
	return nil
}
