package dispatcher

import (
	"encoding/json"
	"fmt"
	"sort"

	"esmloader/internal/index"
)

// LoadingMap is the runtime input: for each trigger type, binding selector to
// import key. A nil map means the trigger is inactive on this page.
type LoadingMap struct {
	OnClick        map[string]string `json:"onClick,omitempty"`
	OnFocusIn      map[string]string `json:"onFocusIn,omitempty"`
	OnIntersection map[string]string `json:"onIntersection,omitempty"`
	OnInjection    map[string]string `json:"onInjection,omitempty"`
	OnComplete     map[string]string `json:"onComplete,omitempty"`
}

// Triggers lists the lazy trigger types in the order they are bound.
var Triggers = []index.LoadingPoint{
	index.OnClick,
	index.OnFocusIn,
	index.OnIntersection,
	index.OnInjection,
	index.OnComplete,
}

func (lm *LoadingMap) slot(trigger index.LoadingPoint) *map[string]string {
	switch trigger {
	case index.OnClick:
		return &lm.OnClick
	case index.OnFocusIn:
		return &lm.OnFocusIn
	case index.OnIntersection:
		return &lm.OnIntersection
	case index.OnInjection:
		return &lm.OnInjection
	case index.OnComplete:
		return &lm.OnComplete
	}
	return nil
}

// For returns the selector map for trigger, nil when inactive.
func (lm LoadingMap) For(trigger index.LoadingPoint) map[string]string {
	if s := lm.slot(trigger); s != nil {
		return *s
	}
	return nil
}

// Add binds selector to key under trigger. It returns false, leaving the map
// unchanged, when the selector is already bound for that trigger.
func (lm *LoadingMap) Add(trigger index.LoadingPoint, selector, key string) (bool, error) {
	s := lm.slot(trigger)
	if s == nil {
		return false, fmt.Errorf("%q is not a lazy trigger", trigger)
	}
	if *s == nil {
		*s = make(map[string]string)
	}
	if _, dup := (*s)[selector]; dup {
		return false, nil
	}
	(*s)[selector] = key
	return true, nil
}

// Selectors returns the selectors bound under trigger in lexical order.
func (lm LoadingMap) Selectors(trigger index.LoadingPoint) []string {
	m := lm.For(trigger)
	out := make([]string, 0, len(m))
	for sel := range m {
		out = append(out, sel)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether no trigger is active.
func (lm LoadingMap) Empty() bool {
	for _, t := range Triggers {
		if len(lm.For(t)) > 0 {
			return false
		}
	}
	return true
}

// ParseLoadingMap decodes the JSON payload embedded in a page.
func ParseLoadingMap(data []byte) (LoadingMap, error) {
	var lm LoadingMap
	if err := json.Unmarshal(data, &lm); err != nil {
		return LoadingMap{}, fmt.Errorf("invalid loading map: %w", err)
	}
	return lm, nil
}
