package dispatcher_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esmloader/internal/dispatcher"
	"esmloader/internal/dom"
	ckerrors "esmloader/internal/errors"
	"esmloader/internal/eventbus"
	"esmloader/internal/index"
)

const page = `<html><head></head><body>
<div class="a b" id="both"><a href="/next" id="link"><em id="deep">x</em></a></div>
<input id="search">
<section id="gallery"></section>
<aside id="twin" class="twin"></aside>
<div id="host"></div>
</body></html>`

type fakeLoader struct {
	mu      sync.Mutex
	loaded  []string
	fail    map[string]bool
	release chan struct{}
}

func (f *fakeLoader) Load(ctx context.Context, key string) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, key)
	if f.fail[key] {
		return errors.New("network error")
	}
	return nil
}

func (f *fakeLoader) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.loaded...)
	sort.Strings(out)
	return out
}

func setup(t *testing.T, lm dispatcher.LoadingMap, opts ...dispatcher.Option) (*dom.Document, *fakeLoader, *eventbus.Bus, *dispatcher.Dispatcher) {
	t.Helper()
	doc, err := dom.ParseString(page)
	require.NoError(t, err)
	loader := &fakeLoader{fail: map[string]bool{}}
	bus := eventbus.New()
	d := dispatcher.New(doc, loader, bus, lm, opts...)
	return doc, loader, bus, d
}

func loadingMap(t *testing.T, trigger index.LoadingPoint, pairs ...string) dispatcher.LoadingMap {
	t.Helper()
	var lm dispatcher.LoadingMap
	for i := 0; i+1 < len(pairs); i += 2 {
		ok, err := lm.Add(trigger, pairs[i], pairs[i+1])
		require.NoError(t, err)
		require.True(t, ok)
	}
	return lm
}

func TestClickLoadsEverySatisfiedSelectorOnce(t *testing.T) {
	lm := loadingMap(t, index.OnClick, ".a", "/js/m1.js", ".b", "/js/m2.js")
	doc, loader, _, d := setup(t, lm)
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 1, doc.ListenerCount(dispatcher.ScopeDocument, "click"))

	var replayed []*dom.Event
	doc.AddEventListener(dispatcher.ScopeWindow, "click", func(ev dispatcher.Event) {
		replayed = append(replayed, ev.(*dom.Event))
	})

	ev := doc.Click(doc.Find("#deep"))
	d.Wait()

	assert.Equal(t, []string{"/js/m1.js", "/js/m2.js"}, loader.keys())
	assert.True(t, d.Exhausted(index.OnClick))
	assert.Empty(t, d.Pending(index.OnClick))
	assert.Equal(t, 0, doc.ListenerCount(dispatcher.ScopeDocument, "click"))
	assert.False(t, ev.DefaultPrevented(), "the matched element is a div, not a link")

	require.Len(t, replayed, 1, "the original click is stopped, only the replay reaches the window")
	assert.True(t, replayed[0].Replayed())
	assert.Same(t, doc.Find("#deep"), replayed[0].Target())

	doc.Click(doc.Find("#deep"))
	d.Wait()
	assert.Len(t, loader.keys(), 2, "exhausted trigger loads nothing")
	assert.Len(t, replayed, 2, "a plain click after exhaustion propagates normally")
	assert.False(t, replayed[1].Replayed())
}

// queuedHost holds posted tasks until the test goroutine runs them, like a
// browser event loop would.
type queuedHost struct {
	*dom.Document
	mu    sync.Mutex
	tasks []func()
}

func (h *queuedHost) Post(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, fn)
}

func (h *queuedHost) drain() int {
	h.mu.Lock()
	tasks := h.tasks
	h.tasks = nil
	h.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

func TestClickReplayRunsOnHostLoop(t *testing.T) {
	doc, err := dom.ParseString(page)
	require.NoError(t, err)
	host := &queuedHost{Document: doc}
	loader := &fakeLoader{fail: map[string]bool{}}
	d := dispatcher.New(host, loader, eventbus.New(), loadingMap(t, index.OnClick, ".a", "/js/m1.js"))
	require.NoError(t, d.Start(context.Background()))

	var replayed []*dom.Event
	doc.AddEventListener(dispatcher.ScopeWindow, "click", func(ev dispatcher.Event) {
		replayed = append(replayed, ev.(*dom.Event))
	})

	doc.Click(doc.Find("#deep"))
	d.Wait()
	assert.Equal(t, []string{"/js/m1.js"}, loader.keys())
	assert.Empty(t, replayed, "the replay waits for the host loop")

	assert.Equal(t, 1, host.drain())
	require.Len(t, replayed, 1)
	assert.True(t, replayed[0].Replayed())
	assert.Equal(t, 0, host.drain())
}

func TestClickOnLinkPreventsNavigation(t *testing.T) {
	lm := loadingMap(t, index.OnClick, "#link", "/js/link.js", "#search", "/js/search.js")
	doc, loader, _, d := setup(t, lm)
	require.NoError(t, d.Start(context.Background()))

	var later []string
	doc.AddEventListener(dispatcher.ScopeDocument, "click", func(ev dispatcher.Event) {
		later = append(later, ev.Type())
	})

	ev := doc.Click(doc.Find("#deep"))
	d.Wait()

	assert.True(t, ev.DefaultPrevented())
	assert.Equal(t, []string{"/js/link.js"}, loader.keys())
	assert.Equal(t, []string{"#search"}, d.Pending(index.OnClick))
	assert.False(t, d.Exhausted(index.OnClick))
	assert.Len(t, later, 1, "the stale listener only sees the replay")

	doc.Click(doc.Find("#gallery"))
	d.Wait()
	assert.Len(t, loader.keys(), 1, "unrelated clicks load nothing")
	assert.Len(t, later, 2)
}

func TestPendingSetShrinksBeforeLoadSettles(t *testing.T) {
	lm := loadingMap(t, index.OnClick, ".a", "/js/m1.js")
	doc, loader, _, d := setup(t, lm)
	loader.release = make(chan struct{})
	require.NoError(t, d.Start(context.Background()))

	doc.Click(doc.Find("#both"))
	assert.True(t, d.Exhausted(index.OnClick), "selector is removed before the import resolves")
	doc.Click(doc.Find("#both"))

	close(loader.release)
	d.Wait()
	assert.Equal(t, []string{"/js/m1.js"}, loader.keys())
}

func TestFailedLoadIsNotRetriedOrReplayed(t *testing.T) {
	lm := loadingMap(t, index.OnClick, ".a", "/js/m1.js", ".b", "/js/m2.js")

	var mu sync.Mutex
	var reported []error
	doc, loader, _, d := setup(t, lm, dispatcher.OnLoadError(func(trigger index.LoadingPoint, sel, key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, index.OnClick, trigger)
		reported = append(reported, err)
	}))
	loader.fail["/js/m2.js"] = true
	require.NoError(t, d.Start(context.Background()))

	replays := 0
	doc.AddEventListener(dispatcher.ScopeWindow, "click", func(dispatcher.Event) { replays++ })

	doc.Click(doc.Find("#both"))
	d.Wait()

	require.Len(t, reported, 1)
	assert.True(t, ckerrors.IsCode(reported[0], ckerrors.LoadFailed))
	assert.Equal(t, 0, replays)
	assert.True(t, d.Exhausted(index.OnClick), "a rejected selector is not put back")

	doc.Click(doc.Find("#both"))
	d.Wait()
	assert.Equal(t, []string{"/js/m1.js", "/js/m2.js"}, loader.keys())
}

func TestFocusIn(t *testing.T) {
	lm := loadingMap(t, index.OnFocusIn, "#search", "/js/search.js", "#link", "/js/link.js")
	doc, loader, _, d := setup(t, lm)
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 1, doc.ListenerCount(dispatcher.ScopeWindow, "focusin"))

	doc.FocusIn(doc.Find("#search"))
	d.Wait()
	assert.Equal(t, []string{"/js/search.js"}, loader.keys())
	assert.Equal(t, 1, doc.ListenerCount(dispatcher.ScopeWindow, "focusin"))

	ev := doc.FocusIn(doc.Find("#deep"))
	d.Wait()
	assert.False(t, ev.DefaultPrevented())
	assert.Equal(t, []string{"/js/link.js", "/js/search.js"}, loader.keys())
	assert.Equal(t, 0, doc.ListenerCount(dispatcher.ScopeWindow, "focusin"))
	assert.True(t, d.Exhausted(index.OnFocusIn))
}

func TestIntersectionUnobservesMatchedElement(t *testing.T) {
	lm := loadingMap(t, index.OnIntersection,
		"#gallery", "/js/gallery.js",
		"#twin", "/js/twin.js",
		".twin", "/js/twin-class.js",
		"#absent", "/js/absent.js",
	)
	doc, loader, _, d := setup(t, lm)
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, []string{"#gallery", "#twin", ".twin"}, d.Pending(index.OnIntersection), "selectors without an element are dropped")

	observers := doc.Observers()
	require.Len(t, observers, 1)
	obs := observers[0]
	gallery := doc.Find("#gallery")
	twin := doc.Find("#twin")

	doc.Intersect(gallery, gallery)
	d.Wait()
	assert.Equal(t, []string{"/js/gallery.js"}, loader.keys())
	assert.False(t, obs.Observing(gallery))
	assert.True(t, obs.Observing(twin))

	doc.Intersect(gallery)
	d.Wait()
	assert.Len(t, loader.keys(), 1, "a later entry for the same element loads nothing")

	doc.Intersect(doc.Find("#deep"))
	d.Wait()
	assert.Len(t, loader.keys(), 1, "descendants and unobserved elements do not match")

	doc.Intersect(twin)
	d.Wait()
	assert.Equal(t, []string{"/js/gallery.js", "/js/twin-class.js", "/js/twin.js"}, loader.keys())
	assert.True(t, obs.Disconnected())
	assert.True(t, d.Exhausted(index.OnIntersection))
}

func TestIntersectionWithNothingOnPage(t *testing.T) {
	lm := loadingMap(t, index.OnIntersection, "#absent", "/js/absent.js")
	doc, _, _, d := setup(t, lm)
	require.NoError(t, d.Start(context.Background()))
	assert.Empty(t, doc.Observers())
	assert.True(t, d.Exhausted(index.OnIntersection))
}

func TestInjection(t *testing.T) {
	lm := loadingMap(t, index.OnInjection, ".x", "/js/x.js", "[data-y]", "/js/y.js")
	doc, loader, bus, d := setup(t, lm)
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 1, bus.Count(eventbus.TopicHTMLInjected))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, eventbus.TopicHTMLInjected, map[string]any{"html": "<div class='x'>"}))
	d.Wait()
	assert.Equal(t, []string{"/js/x.js"}, loader.keys())

	require.NoError(t, bus.Publish(ctx, eventbus.TopicHTMLInjected, map[string]any{"html": "<div class='x'>"}))
	d.Wait()
	assert.Equal(t, []string{"/js/x.js"}, loader.keys(), "republishing the same markup has no effect")

	_, err := doc.Inject(ctx, bus, "#host", `<span data-y="1"></span>`)
	require.NoError(t, err)
	d.Wait()
	assert.Equal(t, []string{"/js/x.js", "/js/y.js"}, loader.keys())
	assert.Equal(t, 0, bus.Count(eventbus.TopicHTMLInjected), "subscription is dropped once exhausted")
}

func TestCompleteAfterLoad(t *testing.T) {
	lm := loadingMap(t, index.OnComplete, "body", "/js/late.js", "#host", "/js/host.js")
	doc, loader, _, d := setup(t, lm)
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 1, doc.ListenerCount(dispatcher.ScopeWindow, "load"))
	assert.Empty(t, loader.keys())

	doc.SetReadyState(dispatcher.ReadyComplete)
	d.Wait()
	assert.Equal(t, []string{"/js/host.js", "/js/late.js"}, loader.keys())
	assert.Equal(t, 0, doc.ListenerCount(dispatcher.ScopeWindow, "load"))
	assert.True(t, d.Exhausted(index.OnComplete))
}

func TestCompleteWhenAlreadyLoaded(t *testing.T) {
	lm := loadingMap(t, index.OnComplete, "body", "/js/late.js")
	doc, loader, _, d := setup(t, lm)
	doc.SetReadyState(dispatcher.ReadyComplete)

	require.NoError(t, d.Start(context.Background()))
	d.Wait()
	assert.Equal(t, []string{"/js/late.js"}, loader.keys())
	assert.Equal(t, 0, doc.ListenerCount(dispatcher.ScopeWindow, "load"))
}

func TestStopDetachesEverything(t *testing.T) {
	var lm dispatcher.LoadingMap
	for _, b := range []struct {
		trigger index.LoadingPoint
		sel     string
	}{
		{index.OnClick, ".a"},
		{index.OnFocusIn, "#search"},
		{index.OnIntersection, "#gallery"},
		{index.OnInjection, ".x"},
		{index.OnComplete, "body"},
	} {
		_, err := lm.Add(b.trigger, b.sel, "/js/"+string(b.trigger)+".js")
		require.NoError(t, err)
	}
	doc, loader, bus, d := setup(t, lm)
	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()), "a dispatcher starts once")

	d.Stop()
	assert.Equal(t, 0, doc.ListenerCount(dispatcher.ScopeDocument, "click"))
	assert.Equal(t, 0, doc.ListenerCount(dispatcher.ScopeWindow, "focusin"))
	assert.Equal(t, 0, doc.ListenerCount(dispatcher.ScopeWindow, "load"))
	assert.Equal(t, 0, bus.Count(eventbus.TopicHTMLInjected))
	assert.True(t, doc.Observers()[0].Disconnected())

	doc.Click(doc.Find("#both"))
	doc.SetReadyState(dispatcher.ReadyComplete)
	d.Wait()
	assert.Empty(t, loader.keys())
	assert.Equal(t, []string{".a"}, d.Pending(index.OnClick), "stopped selectors stay pending")
}

func TestEmptyLoadingMapBindsNothing(t *testing.T) {
	doc, _, bus, d := setup(t, dispatcher.LoadingMap{})
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 0, doc.ListenerCount(dispatcher.ScopeDocument, "click"))
	assert.Equal(t, 0, bus.Count(eventbus.TopicHTMLInjected))
	for _, trigger := range dispatcher.Triggers {
		assert.True(t, d.Exhausted(trigger), string(trigger))
	}
}
