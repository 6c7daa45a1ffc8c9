// Package dom is a headless page environment for the trigger dispatcher. It
// parses HTML with x/net/html, matches CSS selectors with cascadia and
// simulates the pieces of a browser the dispatcher depends on: bubbling
// events, intersection observers, the load event and markup injection.
package dom

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"esmloader/internal/dispatcher"
	"esmloader/internal/eventbus"
)

// Document is a parsed page. It implements dispatcher.Host.
type Document struct {
	root *html.Node

	mu        sync.Mutex
	elements  map[*html.Node]*Element
	listeners map[any]map[string][]*listener
	observers []*Observer
	ready     dispatcher.ReadyState

	postMu sync.Mutex
}

type listener struct {
	fn      dispatcher.Listener
	removed bool
}

var selectorCache sync.Map // string -> compiledSelector

type compiledSelector struct {
	group cascadia.SelectorGroup
	err   error
}

func compile(sel string) (cascadia.SelectorGroup, error) {
	if v, ok := selectorCache.Load(sel); ok {
		c := v.(compiledSelector)
		return c.group, c.err
	}
	group, err := cascadia.ParseGroup(sel)
	selectorCache.Store(sel, compiledSelector{group: group, err: err})
	return group, err
}

// Parse reads an HTML page. The document starts in the loading state.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return &Document{
		root:      root,
		elements:  make(map[*html.Node]*Element),
		listeners: make(map[any]map[string][]*listener),
		ready:     dispatcher.ReadyLoading,
	}, nil
}

// ParseString parses page markup.
func ParseString(page string) (*Document, error) {
	return Parse(strings.NewReader(page))
}

// Render writes the page as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[n]; ok {
		return el
	}
	el := &Element{node: n, doc: d}
	d.elements[n] = el
	return el
}

// Find returns the first element matching sel, or nil.
func (d *Document) Find(sel string) *Element {
	group, err := compile(sel)
	if err != nil {
		return nil
	}
	return d.wrap(cascadia.Query(d.root, group))
}

// FindAll returns every element matching sel in document order.
func (d *Document) FindAll(sel string) []*Element {
	group, err := compile(sel)
	if err != nil {
		return nil
	}
	var out []*Element
	for _, n := range cascadia.QueryAll(d.root, group) {
		out = append(out, d.wrap(n))
	}
	return out
}

// QuerySelector implements dispatcher.Host.
func (d *Document) QuerySelector(sel string) dispatcher.Element {
	if el := d.Find(sel); el != nil {
		return el
	}
	return nil
}

// AddEventListener implements dispatcher.Host.
func (d *Document) AddEventListener(scope dispatcher.Scope, eventType string, fn dispatcher.Listener) func() {
	return d.addListener(scope, eventType, fn)
}

func (d *Document) addListener(key any, eventType string, fn dispatcher.Listener) func() {
	l := &listener{fn: fn}

	d.mu.Lock()
	byType, ok := d.listeners[key]
	if !ok {
		byType = make(map[string][]*listener)
		d.listeners[key] = byType
	}
	byType[eventType] = append(byType[eventType], l)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			l.removed = true
			list := d.listeners[key][eventType]
			for i, other := range list {
				if other == l {
					d.listeners[key][eventType] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// ListenerCount returns the number of listeners of eventType on scope.
func (d *Document) ListenerCount(scope dispatcher.Scope, eventType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[scope][eventType])
}

func (d *Document) snapshot(key any, eventType string) []*listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*listener(nil), d.listeners[key][eventType]...)
}

func (d *Document) isRemoved(l *listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return l.removed
}

// Dispatch delivers ev along its propagation path: the target, its
// ancestors, the document and the window. It returns false if a listener
// prevented the default action.
func (d *Document) Dispatch(ev *Event) bool {
	var path []any
	if ev.target != nil {
		for n := ev.target.node; n != nil; n = n.Parent {
			if n.Type == html.ElementNode {
				path = append(path, n)
			}
		}
		path = append(path, dispatcher.ScopeDocument)
	}
	path = append(path, dispatcher.ScopeWindow)
	d.deliver(ev, path)
	return !ev.defaultPrevented
}

func (d *Document) deliver(ev *Event, path []any) {
	for _, key := range path {
		for _, l := range d.snapshot(key, ev.typ) {
			if d.isRemoved(l) {
				continue
			}
			l.fn(ev)
			if ev.immediateStopped {
				return
			}
		}
		if ev.stopped {
			return
		}
	}
}

// Replay implements dispatcher.Host by dispatching a fresh event of the same
// type at the original target.
func (d *Document) Replay(ev dispatcher.Event) {
	var target *Element
	if t := ev.Target(); t != nil {
		target, _ = t.(*Element)
	}
	d.Dispatch(&Event{typ: ev.Type(), target: target, replayed: true})
}

// Post implements dispatcher.Host. The document has no event loop of its
// own: fn runs immediately on the calling goroutine, one posted task at a
// time.
func (d *Document) Post(fn func()) {
	d.postMu.Lock()
	defer d.postMu.Unlock()
	fn()
}

// ReadyState implements dispatcher.Host.
func (d *Document) ReadyState() dispatcher.ReadyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// SetReadyState moves the document to state. Reaching complete fires the
// window load event once.
func (d *Document) SetReadyState(state dispatcher.ReadyState) {
	d.mu.Lock()
	prev := d.ready
	d.ready = state
	d.mu.Unlock()

	if state == dispatcher.ReadyComplete && prev != dispatcher.ReadyComplete {
		d.deliver(&Event{typ: "load"}, []any{dispatcher.ScopeWindow})
	}
}

// Inject parses markup, appends it to the element matching parentSel and
// publishes it on the bus the way a page script announces new content.
func (d *Document) Inject(ctx context.Context, bus *eventbus.Bus, parentSel, markup string) ([]*Element, error) {
	parent := d.Find(parentSel)
	if parent == nil {
		return nil, fmt.Errorf("no element matches %q", parentSel)
	}
	added, err := parent.AppendHTML(markup)
	if err != nil {
		return nil, err
	}
	if bus != nil {
		if err := bus.Publish(ctx, eventbus.TopicHTMLInjected, eventbus.InjectedContent{HTML: markup}); err != nil {
			return added, err
		}
	}
	return added, nil
}

func newElementNode(tag atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: tag, Data: tag.String(), Attr: attrs}
}
