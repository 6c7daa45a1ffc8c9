package dom

import (
	"sync"

	"esmloader/internal/dispatcher"
)

// Observer is a simulated IntersectionObserver. Visibility is driven by the
// caller through Document.Intersect.
type Observer struct {
	doc      *Document
	callback func([]dispatcher.IntersectionEntry)

	mu           sync.Mutex
	targets      []*Element
	disconnected bool
}

// NewIntersectionObserver implements dispatcher.Host.
func (d *Document) NewIntersectionObserver(callback func([]dispatcher.IntersectionEntry)) dispatcher.IntersectionObserver {
	o := &Observer{doc: d, callback: callback}
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
	return o
}

// Observe starts watching el. Elements from another host are ignored.
func (o *Observer) Observe(el dispatcher.Element) {
	e, ok := el.(*Element)
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disconnected {
		return
	}
	for _, t := range o.targets {
		if t == e {
			return
		}
	}
	o.targets = append(o.targets, e)
}

// Unobserve stops watching el.
func (o *Observer) Unobserve(el dispatcher.Element) {
	e, ok := el.(*Element)
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, t := range o.targets {
		if t == e {
			o.targets = append(o.targets[:i:i], o.targets[i+1:]...)
			return
		}
	}
}

// Disconnect stops watching everything. The observer cannot be reused.
func (o *Observer) Disconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.targets = nil
	o.disconnected = true
}

// Observing reports whether el is currently watched.
func (o *Observer) Observing(el *Element) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.targets {
		if t == el {
			return true
		}
	}
	return false
}

// Disconnected reports whether Disconnect was called.
func (o *Observer) Disconnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disconnected
}

func (o *Observer) entries(els []*Element) []dispatcher.IntersectionEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []dispatcher.IntersectionEntry
	for _, el := range els {
		for _, t := range o.targets {
			if t == el {
				out = append(out, dispatcher.IntersectionEntry{Target: el, IsIntersecting: true})
				break
			}
		}
	}
	return out
}

// Intersect reports els as having entered the viewport. Every observer
// watching at least one of them receives a single batch of entries. An
// element listed twice yields two entries.
func (d *Document) Intersect(els ...*Element) {
	d.mu.Lock()
	observers := append([]*Observer(nil), d.observers...)
	d.mu.Unlock()

	for _, o := range observers {
		if entries := o.entries(els); len(entries) > 0 {
			o.callback(entries)
		}
	}
}

// Observers returns every observer created on the document.
func (d *Document) Observers() []*Observer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Observer(nil), d.observers...)
}
