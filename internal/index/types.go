// Package index loads and validates the module index: the author-supplied
// declaration of which source modules are built, their priority tier and the
// trigger that loads them at runtime.
package index

import (
	"fmt"
	"strings"
)

// Priority is the coarse ordering tier of a module in the manifest.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityHigh     Priority = "high"
	PriorityVeryHigh Priority = "very-high"
)

// Priorities lists the tiers in manifest order.
var Priorities = []Priority{PriorityVeryHigh, PriorityHigh, PriorityLow}

// ParsePriority validates s against the known tiers.
func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%q is not a valid priority", s)
}

// LoadingPoint is the trigger type that activates a module.
type LoadingPoint string

const (
	Static         LoadingPoint = "static"
	OnClick        LoadingPoint = "onClick"
	OnFocusIn      LoadingPoint = "onFocusIn"
	OnIntersection LoadingPoint = "onIntersection"
	OnInjection    LoadingPoint = "onInjection"
	OnComplete     LoadingPoint = "onComplete"
)

// LoadingPoints lists every recognized trigger type.
var LoadingPoints = []LoadingPoint{Static, OnClick, OnFocusIn, OnIntersection, OnInjection, OnComplete}

// ParseLoadingPoint validates s against the known trigger types.
func ParseLoadingPoint(s string) (LoadingPoint, error) {
	for _, lp := range LoadingPoints {
		if string(lp) == s {
			return lp, nil
		}
	}
	return "", fmt.Errorf("%q is not a valid loadingPoint", s)
}

// IsLazy reports whether modules on this trigger are loaded dynamically.
func (lp LoadingPoint) IsLazy() bool {
	return lp != Static && lp != ""
}

// ModuleConfig is the static declaration of one source module.
type ModuleConfig struct {
	Priority     Priority     `json:"priority"`
	LoadingPoint LoadingPoint `json:"loadingPoint"`
	// Selector, when set, is the binding selector and takes precedence over
	// anything found in the compiled source.
	Selector string `json:"selector,omitempty"`
}

// Defaults fills unset fields with low/static.
func (c ModuleConfig) Defaults() ModuleConfig {
	if c.Priority == "" {
		c.Priority = PriorityLow
	}
	if c.LoadingPoint == "" {
		c.LoadingPoint = Static
	}
	return c
}

// Option names accepted in an index entry.
const (
	OptionPriority     = "priority"
	OptionLoadingPoint = "loadingPoint"
	OptionSelector     = "selector"
)

// Extensions are the module key suffixes the bundler accepts as entry points.
var Extensions = []string{".js", ".mjs", ".jsx", ".ts", ".tsx"}

// HasModuleExtension reports whether key ends in a recognized extension.
func HasModuleExtension(key string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(key, ext) {
			return true
		}
	}
	return false
}
