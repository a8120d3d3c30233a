package storage

import (
	"sort"
	"strings"
)

// Extension names an optional tus protocol capability.
type Extension string

const (
	ExtCreation            Extension = "creation"
	ExtCreationDeferLength Extension = "creation-defer-length"
	ExtCreationWithUpload  Extension = "creation-with-upload"
	ExtTermination         Extension = "termination"
	ExtChecksum            Extension = "checksum"
	// ExtConcatenation lets clients upload parts concurrently and join them.
	ExtConcatenation Extension = "concatenation"
	ExtExpiration    Extension = "expiration"
)

// canonical order for the Tus-Extension header
var knownExtensions = []Extension{
	ExtCreation,
	ExtCreationWithUpload,
	ExtCreationDeferLength,
	ExtTermination,
	ExtChecksum,
	ExtConcatenation,
	ExtExpiration,
}

// ExtensionSet is fixed when a backend is constructed. The zero value is empty.
type ExtensionSet struct {
	m map[Extension]struct{}
}

func NewExtensionSet(exts ...Extension) ExtensionSet {
	s := ExtensionSet{m: make(map[Extension]struct{}, len(exts))}
	for _, e := range exts {
		s.m[e] = struct{}{}
	}
	return s
}

// Has is a plain lookup; unknown names report false.
func (s ExtensionSet) Has(name string) bool {
	_, ok := s.m[Extension(name)]
	return ok
}

// Without returns a copy of s minus the given extensions.
func (s ExtensionSet) Without(exts ...Extension) ExtensionSet {
	out := NewExtensionSet()
	for e := range s.m {
		out.m[e] = struct{}{}
	}
	for _, e := range exts {
		delete(out.m, e)
	}
	return out
}

// List returns the members, known extensions first in canonical order.
func (s ExtensionSet) List() []Extension {
	out := make([]Extension, 0, len(s.m))
	seen := make(map[Extension]struct{}, len(s.m))
	for _, e := range knownExtensions {
		if _, ok := s.m[e]; ok {
			out = append(out, e)
			seen[e] = struct{}{}
		}
	}
	var rest []string
	for e := range s.m {
		if _, ok := seen[e]; !ok {
			rest = append(rest, string(e))
		}
	}
	sort.Strings(rest)
	for _, e := range rest {
		out = append(out, Extension(e))
	}
	return out
}

func (s ExtensionSet) Len() int { return len(s.m) }

// String renders the Tus-Extension header value.
func (s ExtensionSet) String() string {
	list := s.List()
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = string(e)
	}
	return strings.Join(parts, ",")
}
