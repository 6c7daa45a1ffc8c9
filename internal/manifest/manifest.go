// Package manifest turns bundler output into the ordered module graph the
// runtime loader consumes: one entry per tracked module with its binding
// selector, its full dependency set, its priority tier and its trigger.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"esmloader/internal/index"
)

// DefaultName is the file name of the persisted manifest.
const DefaultName = "graph.json"

// Selector is a binding selector. It serializes as a string, or as false
// when the module declares none.
type Selector string

// MarshalJSON implements json.Marshaler.
func (s Selector) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("false"), nil
	}
	return marshalNoEscape(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Selector) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("false")) || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("selector must be a string or false: %w", err)
	}
	*s = Selector(v)
	return nil
}

// GraphEntry is the analysis result for one output module.
type GraphEntry struct {
	Selector     Selector           `json:"selector"`
	ModuleFile   string             `json:"moduleFile"`
	Dependencies []string           `json:"dependencies"`
	Priority     index.Priority     `json:"priority"`
	LoadingPoint index.LoadingPoint `json:"loadingPoint"`
}

// Manifest is the ordered, persisted collection of entries.
type Manifest []GraphEntry

// SortByPriority groups entries into very-high, high and low tiers. Order
// inside a tier is the input order. Entries with an unknown tier are dropped.
func SortByPriority(entries []GraphEntry) Manifest {
	out := make(Manifest, 0, len(entries))
	for _, tier := range index.Priorities {
		for _, e := range entries {
			if e.Priority == tier {
				out = append(out, e)
			}
		}
	}
	return out
}

// Marshal serializes the manifest as compact JSON without HTML escaping, so
// selectors such as "nav > a" survive verbatim.
func (m Manifest) Marshal() ([]byte, error) {
	out := make(Manifest, len(m))
	copy(out, m)
	for i := range out {
		if out[i].Dependencies == nil {
			out[i].Dependencies = []string{}
		}
	}
	return marshalNoEscape(out)
}

// Unmarshal parses manifest JSON.
func Unmarshal(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return m, nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
