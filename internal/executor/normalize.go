package executor

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

// decodeItems splits a raw items payload into its elements. Anything other
// than a JSON array is rejected.
func decodeItems(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("items must be an array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, errors.Wrap(err, "items must be an array")
	}
	return items, nil
}

// decodeRecord decodes a single element into its raw text form and
// normalizes it with NormalizeRecord.
func decodeRecord(raw json.RawMessage) (protocol.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.Errorf("expected an object, got %.32s", trimmed)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, errors.Wrap(err, "decoding record")
	}

	record := make(protocol.Record, len(fields))
	for k, v := range fields {
		text, err := renderValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", k)
		}
		record[k] = text
	}
	return NormalizeRecord(record), nil
}

// renderValue turns a decoded JSON value into its text form. Nested
// structures are kept as compact JSON.
func renderValue(v any) (*string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &t, nil
	case json.Number:
		s := t.String()
		return &s, nil
	case bool:
		s := strconv.FormatBool(t)
		return &s, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		s := string(b)
		return &s, nil
	}
}

func trimToNull(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

// NormalizeRecord trims every key and value and turns empty values into null.
// Keys that collide after trimming resolve to the lexically last raw key.
// Applying it twice gives the same result as applying it once.
func NormalizeRecord(r protocol.Record) protocol.Record {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(protocol.Record, len(r))
	for _, k := range keys {
		out[strings.TrimSpace(k)] = trimToNull(r[k])
	}
	return out
}

// IsValid reports whether r carries a usable primary key.
func IsValid(r protocol.Record, primaryKey, nullMarker string) bool {
	v, ok := r[primaryKey]
	return ok && v != nil && *v != nullMarker
}
