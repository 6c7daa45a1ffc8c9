// Package dispatcher binds lazily-loaded modules to their runtime triggers.
//
// Each trigger type owns a pending set of selectors. When a trigger fires,
// the matching selectors are removed from the set before their modules are
// loaded, so a selector is loaded at most once no matter how often or how
// concurrently the trigger fires again. When a set empties, its listener is
// removed. Failed loads are reported and never retried.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"

	ckerrors "esmloader/internal/errors"
	"esmloader/internal/eventbus"
	"esmloader/internal/index"
	"esmloader/internal/selector"
	"esmloader/internal/slogutil"
)

// LoadErrorFunc receives a rejected load.
type LoadErrorFunc func(trigger index.LoadingPoint, selector, key string, err error)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// OnLoadError replaces the default handling of rejected loads, which is to
// log them at error level.
func OnLoadError(fn LoadErrorFunc) Option {
	return func(d *Dispatcher) {
		d.onLoadError = fn
	}
}

// Dispatcher is the runtime trigger dispatcher for one page.
type Dispatcher struct {
	host        Host
	loader      ModuleLoader
	bus         *eventbus.Bus
	lm          LoadingMap
	logger      *slog.Logger
	onLoadError LoadErrorFunc

	mu      sync.Mutex
	ctx     context.Context
	started bool
	pending map[index.LoadingPoint][]string

	removeClick   func()
	removeFocusIn func()
	removeLoad    func()
	observer      IntersectionObserver
	observed      map[Element][]string
	injection     *eventbus.Subscription

	loads conc.WaitGroup
}

// New creates a dispatcher. Nothing is bound until Start.
func New(host Host, loader ModuleLoader, bus *eventbus.Bus, lm LoadingMap, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		host:    host,
		loader:  loader,
		bus:     bus,
		lm:      lm,
		logger:  slogutil.NewDiscardLogger(),
		pending: make(map[index.LoadingPoint][]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.onLoadError == nil {
		d.onLoadError = func(trigger index.LoadingPoint, sel, key string, err error) {
			d.logger.Error("Module load failed", "trigger", trigger, "selector", sel, "key", key, "error", err)
		}
	}
	return d
}

// Start binds a listener for every trigger present in the loading map. ctx
// is passed to every load.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.ctx = ctx

	if sels := d.lm.Selectors(index.OnClick); len(sels) > 0 {
		d.pending[index.OnClick] = sels
		d.removeClick = d.host.AddEventListener(ScopeDocument, "click", d.handleClick)
	}
	if sels := d.lm.Selectors(index.OnFocusIn); len(sels) > 0 {
		d.pending[index.OnFocusIn] = sels
		d.removeFocusIn = d.host.AddEventListener(ScopeWindow, "focusin", d.handleFocusIn)
	}
	if sels := d.lm.Selectors(index.OnIntersection); len(sels) > 0 {
		d.bindIntersection(sels)
	}
	if sels := d.lm.Selectors(index.OnInjection); len(sels) > 0 {
		if d.bus == nil {
			d.logger.Warn("No event bus, injection trigger disabled", "selectors", len(sels))
		} else {
			d.pending[index.OnInjection] = sels
			d.injection = d.bus.Subscribe(eventbus.TopicHTMLInjected, d.handleInjection)
		}
	}
	if sels := d.lm.Selectors(index.OnComplete); len(sels) > 0 {
		d.pending[index.OnComplete] = sels
		if d.host.ReadyState() == ReadyComplete {
			d.completeLocked()
		} else {
			d.removeLoad = d.host.AddEventListener(ScopeWindow, "load", func(Event) { d.handleComplete() })
		}
	}
	return nil
}

func (d *Dispatcher) bindIntersection(sels []string) {
	d.observed = make(map[Element][]string)
	var live []string
	for _, sel := range sels {
		el := d.host.QuerySelector(sel)
		if el == nil {
			d.logger.Debug("Intersection selector not on page", "selector", sel)
			continue
		}
		d.observed[el] = append(d.observed[el], sel)
		live = append(live, sel)
	}
	if len(live) == 0 {
		return
	}
	d.pending[index.OnIntersection] = live
	d.observer = d.host.NewIntersectionObserver(d.handleIntersection)
	for el := range d.observed {
		d.observer.Observe(el)
	}
}

// closestMatch reports whether el or one of its ancestors matches sel.
func closestMatch(el Element, sel string) bool {
	return el.Matches(sel) || el.Closest(sel) != nil
}

// take removes the selectors accepted by match from trigger's pending set
// and returns them. Must be called with d.mu held.
func (d *Dispatcher) take(trigger index.LoadingPoint, match func(string) bool) []string {
	pending := d.pending[trigger]
	var taken, kept []string
	for _, sel := range pending {
		if match(sel) {
			taken = append(taken, sel)
		} else {
			kept = append(kept, sel)
		}
	}
	if len(taken) == 0 {
		return nil
	}
	if len(kept) == 0 {
		delete(d.pending, trigger)
		d.teardown(trigger)
	} else {
		d.pending[trigger] = kept
	}
	return taken
}

// teardown detaches trigger's listener. Must be called with d.mu held.
func (d *Dispatcher) teardown(trigger index.LoadingPoint) {
	switch trigger {
	case index.OnClick:
		if d.removeClick != nil {
			d.removeClick()
			d.removeClick = nil
		}
	case index.OnFocusIn:
		if d.removeFocusIn != nil {
			d.removeFocusIn()
			d.removeFocusIn = nil
		}
	case index.OnIntersection:
		if d.observer != nil {
			d.observer.Disconnect()
			d.observer = nil
		}
		d.observed = nil
	case index.OnInjection:
		if d.injection != nil {
			d.injection.Unsubscribe()
			d.injection = nil
		}
	case index.OnComplete:
		if d.removeLoad != nil {
			d.removeLoad()
			d.removeLoad = nil
		}
	}
	d.logger.Debug("Trigger exhausted", "trigger", trigger)
}

func (d *Dispatcher) handleClick(ev Event) {
	target := ev.Target()
	if target == nil {
		return
	}

	d.mu.Lock()
	pending := d.pending[index.OnClick]
	if len(pending) == 0 {
		d.mu.Unlock()
		return
	}
	effective := target.Closest(strings.Join(pending, ","))
	if effective == nil {
		d.mu.Unlock()
		return
	}
	ev.StopImmediatePropagation()
	if strings.EqualFold(effective.TagName(), "A") {
		ev.PreventDefault()
	}
	taken := d.take(index.OnClick, func(sel string) bool { return closestMatch(effective, sel) })
	d.mu.Unlock()

	d.load(index.OnClick, taken, func() {
		d.host.Post(func() { d.host.Replay(ev) })
	})
}

func (d *Dispatcher) handleFocusIn(ev Event) {
	target := ev.Target()
	if target == nil {
		return
	}

	d.mu.Lock()
	pending := d.pending[index.OnFocusIn]
	if len(pending) == 0 {
		d.mu.Unlock()
		return
	}
	effective := target.Closest(strings.Join(pending, ","))
	if effective == nil {
		d.mu.Unlock()
		return
	}
	taken := d.take(index.OnFocusIn, func(sel string) bool { return closestMatch(effective, sel) })
	d.mu.Unlock()

	d.load(index.OnFocusIn, taken, nil)
}

func (d *Dispatcher) handleIntersection(entries []IntersectionEntry) {
	d.mu.Lock()
	if len(d.pending[index.OnIntersection]) == 0 {
		d.mu.Unlock()
		return
	}

	hit := make(map[string]bool)
	for _, entry := range entries {
		if !entry.IsIntersecting || entry.Target == nil {
			continue
		}
		sels, ok := d.observed[entry.Target]
		if !ok {
			continue
		}
		for _, sel := range sels {
			hit[sel] = true
		}
		delete(d.observed, entry.Target)
		d.observer.Unobserve(entry.Target)
	}
	taken := d.take(index.OnIntersection, func(sel string) bool { return hit[sel] })
	d.mu.Unlock()

	d.load(index.OnIntersection, taken, nil)
}

func (d *Dispatcher) handleInjection(_ context.Context, payload any) error {
	html, ok := eventbus.HTMLOf(payload)
	if !ok {
		d.logger.Debug("Ignoring injection payload without markup")
		return nil
	}

	d.mu.Lock()
	taken := d.take(index.OnInjection, func(sel string) bool { return selector.ContainedIn(sel, html) })
	d.mu.Unlock()

	d.load(index.OnInjection, taken, nil)
	return nil
}

func (d *Dispatcher) handleComplete() {
	d.mu.Lock()
	d.completeLocked()
	d.mu.Unlock()
}

// completeLocked loads every onComplete module. Must be called with d.mu held.
func (d *Dispatcher) completeLocked() {
	taken := d.take(index.OnComplete, func(string) bool { return true })
	d.load(index.OnComplete, taken, nil)
}

// load imports the modules bound to sels concurrently. then runs once all of
// them have loaded successfully.
func (d *Dispatcher) load(trigger index.LoadingPoint, sels []string, then func()) {
	if len(sels) == 0 {
		return
	}
	keys := d.lm.For(trigger)
	ctx := d.ctx

	d.loads.Go(func() {
		var wg conc.WaitGroup
		var mu sync.Mutex
		failed := false
		for _, sel := range sels {
			key := keys[sel]
			wg.Go(func() {
				if err := d.loader.Load(ctx, key); err != nil {
					mu.Lock()
					failed = true
					mu.Unlock()
					d.onLoadError(trigger, sel, key, ckerrors.New(ckerrors.LoadFailed, "failed to load "+key, err))
					return
				}
				d.logger.Debug("Module loaded", "trigger", trigger, "selector", sel, "key", key)
			})
		}
		wg.Wait()
		if then != nil && !failed {
			then()
		}
	})
}

// Wait blocks until every load issued so far has settled.
func (d *Dispatcher) Wait() {
	d.loads.Wait()
}

// Stop detaches every remaining listener. Pending selectors stay pending
// but can no longer fire.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, trigger := range Triggers {
		if _, ok := d.pending[trigger]; ok {
			d.teardown(trigger)
		}
	}
}

// Pending returns a snapshot of trigger's pending selectors, sorted.
func (d *Dispatcher) Pending(trigger index.LoadingPoint) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]string(nil), d.pending[trigger]...)
	sort.Strings(out)
	return out
}

// Exhausted reports whether nothing is left pending for trigger. Triggers
// absent from the loading map are always exhausted.
func (d *Dispatcher) Exhausted(trigger index.LoadingPoint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[trigger]
	return !ok
}
