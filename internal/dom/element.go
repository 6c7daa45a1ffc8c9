package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"esmloader/internal/dispatcher"
)

// Element wraps an element node. The wrapper for a node is unique within its
// document, so elements compare by identity.
type Element struct {
	node *html.Node
	doc  *Document
}

// Matches implements dispatcher.Element. An unparsable selector matches
// nothing.
func (e *Element) Matches(sel string) bool {
	group, err := compile(sel)
	if err != nil {
		return false
	}
	return group.Match(e.node)
}

// Closest implements dispatcher.Element.
func (e *Element) Closest(sel string) dispatcher.Element {
	if el := e.closest(sel); el != nil {
		return el
	}
	return nil
}

func (e *Element) closest(sel string) *Element {
	group, err := compile(sel)
	if err != nil {
		return nil
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && group.Match(n) {
			return e.doc.wrap(n)
		}
	}
	return nil
}

// TagName implements dispatcher.Element.
func (e *Element) TagName() string {
	return strings.ToUpper(e.node.Data)
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Parent returns the parent element, or nil at the root.
func (e *Element) Parent() *Element {
	for n := e.node.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			return e.doc.wrap(n)
		}
	}
	return nil
}

// Find returns the first descendant matching sel.
func (e *Element) Find(sel string) *Element {
	group, err := compile(sel)
	if err != nil {
		return nil
	}
	return e.doc.wrap(cascadia.Query(e.node, group))
}

// AddEventListener attaches fn to events reaching this element.
func (e *Element) AddEventListener(eventType string, fn dispatcher.Listener) func() {
	return e.doc.addListener(e.node, eventType, fn)
}

// OuterHTML renders the element.
func (e *Element) OuterHTML() string {
	var b strings.Builder
	_ = html.Render(&b, e.node)
	return b.String()
}

// AppendHTML parses markup in the context of e and appends the result. It
// returns the top-level elements that were added.
func (e *Element) AppendHTML(markup string) ([]*Element, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.node)
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}
	var added []*Element
	for _, n := range nodes {
		e.node.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, e.doc.wrap(n))
		}
	}
	return added, nil
}

// Event is a simulated DOM event.
type Event struct {
	typ              string
	target           *Element
	stopped          bool
	immediateStopped bool
	defaultPrevented bool
	replayed         bool
}

// NewEvent creates an event of eventType targeted at target.
func NewEvent(eventType string, target *Element) *Event {
	return &Event{typ: eventType, target: target}
}

// Type implements dispatcher.Event.
func (ev *Event) Type() string { return ev.typ }

// Target implements dispatcher.Event.
func (ev *Event) Target() dispatcher.Element {
	if ev.target == nil {
		return nil
	}
	return ev.target
}

// StopPropagation stops delivery after the current listener set.
func (ev *Event) StopPropagation() { ev.stopped = true }

// StopImmediatePropagation implements dispatcher.Event.
func (ev *Event) StopImmediatePropagation() {
	ev.stopped = true
	ev.immediateStopped = true
}

// PreventDefault implements dispatcher.Event.
func (ev *Event) PreventDefault() { ev.defaultPrevented = true }

// DefaultPrevented reports whether a listener called PreventDefault.
func (ev *Event) DefaultPrevented() bool { return ev.defaultPrevented }

// Replayed reports whether the event was re-dispatched after a lazy load.
func (ev *Event) Replayed() bool { return ev.replayed }

// Click dispatches a click at el and returns the event.
func (d *Document) Click(el *Element) *Event {
	ev := NewEvent("click", el)
	d.Dispatch(ev)
	return ev
}

// FocusIn dispatches a focusin at el and returns the event.
func (d *Document) FocusIn(el *Element) *Event {
	ev := NewEvent("focusin", el)
	d.Dispatch(ev)
	return ev
}
