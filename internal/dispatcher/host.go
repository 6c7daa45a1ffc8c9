package dispatcher

import "context"

// Scope is where a listener is attached.
type Scope string

const (
	ScopeDocument Scope = "document"
	ScopeWindow   Scope = "window"
)

// ReadyState mirrors document.readyState.
type ReadyState string

const (
	ReadyLoading     ReadyState = "loading"
	ReadyInteractive ReadyState = "interactive"
	ReadyComplete    ReadyState = "complete"
)

// Element is a node of the host page.
type Element interface {
	// Matches reports whether the element itself matches selector.
	Matches(selector string) bool
	// Closest returns the element or its nearest ancestor matching
	// selector, which may be a comma-separated list, or nil.
	Closest(selector string) Element
	// TagName returns the upper-case tag name.
	TagName() string
}

// Event is a dispatched DOM event.
type Event interface {
	Type() string
	Target() Element
	StopImmediatePropagation()
	PreventDefault()
}

// Listener handles events delivered to a scope.
type Listener func(Event)

// IntersectionEntry reports one observed element's visibility change.
type IntersectionEntry struct {
	Target         Element
	IsIntersecting bool
}

// IntersectionObserver watches elements entering the viewport.
type IntersectionObserver interface {
	Observe(Element)
	Unobserve(Element)
	Disconnect()
}

// Host is the page environment the dispatcher binds to.
type Host interface {
	// AddEventListener attaches listener and returns a function detaching it.
	AddEventListener(scope Scope, eventType string, listener Listener) (remove func())
	// QuerySelector returns the first element matching selector, or nil.
	QuerySelector(selector string) Element
	NewIntersectionObserver(callback func(entries []IntersectionEntry)) IntersectionObserver
	ReadyState() ReadyState
	// Replay dispatches an event equivalent to ev at ev's original target.
	Replay(ev Event)
	// Post schedules fn on the host's event loop. Loads settle on their own
	// goroutines; work that runs page listeners, such as a click replay, is
	// posted so the host decides where it executes.
	Post(fn func())
}

// ModuleLoader performs a dynamic import by key.
type ModuleLoader interface {
	Load(ctx context.Context, key string) error
}

// LoaderFunc adapts a function to ModuleLoader.
type LoaderFunc func(ctx context.Context, key string) error

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, key string) error {
	return f(ctx, key)
}
