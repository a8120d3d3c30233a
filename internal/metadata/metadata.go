// Package metadata encodes and decodes the Upload-Metadata string: a comma
// separated list of "key base64(value)" pairs.
package metadata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMalformed = errors.New("malformed upload metadata")

// Pair is one metadata entry. An empty Value is encoded as the bare key.
type Pair struct {
	Key   string
	Value []byte
}

// Metadata keeps pairs in the order the caller added them. Consumers must not
// attach meaning to that order.
type Metadata []Pair

// FromMap builds Metadata with keys sorted so the encoding is stable.
func FromMap(m map[string]string) Metadata {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	md := make(Metadata, 0, len(keys))
	for _, k := range keys {
		md = append(md, Pair{Key: k, Value: []byte(m[k])})
	}
	return md
}

func (md Metadata) Get(key string) ([]byte, bool) {
	for _, p := range md {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of key or appends a new pair.
func (md *Metadata) Set(key string, value []byte) {
	for i := range *md {
		if (*md)[i].Key == key {
			(*md)[i].Value = value
			return
		}
	}
	*md = append(*md, Pair{Key: key, Value: value})
}

func (md Metadata) Keys() []string {
	out := make([]string, 0, len(md))
	for _, p := range md {
		out = append(out, p.Key)
	}
	return out
}

func (md Metadata) Map() map[string]string {
	out := make(map[string]string, len(md))
	for _, p := range md {
		out[p.Key] = string(p.Value)
	}
	return out
}

func validKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, " ,\t\r\n")
}

// Encode renders md as an Upload-Metadata string.
func Encode(md Metadata) (string, error) {
	seen := make(map[string]struct{}, len(md))
	parts := make([]string, 0, len(md))
	for _, p := range md {
		if !validKey(p.Key) {
			return "", fmt.Errorf("%w: invalid key %q", ErrMalformed, p.Key)
		}
		if _, dup := seen[p.Key]; dup {
			return "", fmt.Errorf("%w: duplicate key %q", ErrMalformed, p.Key)
		}
		seen[p.Key] = struct{}{}

		if len(p.Value) == 0 {
			parts = append(parts, p.Key)
			continue
		}
		parts = append(parts, p.Key+" "+base64.StdEncoding.EncodeToString(p.Value))
	}
	return strings.Join(parts, ","), nil
}

// Decode parses an Upload-Metadata string. An empty or blank string yields
// empty metadata.
func Decode(s string) (Metadata, error) {
	if strings.TrimSpace(s) == "" {
		return Metadata{}, nil
	}

	elems := strings.Split(s, ",")
	md := make(Metadata, 0, len(elems))
	seen := make(map[string]struct{}, len(elems))
	for i, elem := range elems {
		fields := strings.Fields(elem)
		switch {
		case len(fields) == 0:
			return nil, fmt.Errorf("%w: empty pair at position %d", ErrMalformed, i)
		case len(fields) > 2:
			return nil, fmt.Errorf("%w: pair %d has %d fields", ErrMalformed, i, len(fields))
		}

		key := fields[0]
		if !validKey(key) {
			return nil, fmt.Errorf("%w: invalid key %q", ErrMalformed, key)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrMalformed, key)
		}
		seen[key] = struct{}{}

		var value []byte
		if len(fields) == 2 {
			v, err := base64.StdEncoding.DecodeString(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w: key %q: %v", ErrMalformed, key, err)
			}
			value = v
		}
		md = append(md, Pair{Key: key, Value: value})
	}
	return md, nil
}

// Validate reports whether s decodes cleanly.
func Validate(s string) error {
	_, err := Decode(s)
	return err
}
