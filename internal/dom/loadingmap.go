package dom

import (
	"encoding/json"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"esmloader/internal/dispatcher"
	"esmloader/internal/index"
)

// LoadingMapID is the id of the script element carrying the loading map.
const LoadingMapID = "esm-loading-map"

const loadingMapSelector = "script#" + LoadingMapID

// LoadingMap decodes the embedded loading map. The second result is false
// when the page carries none.
func (d *Document) LoadingMap() (dispatcher.LoadingMap, bool, error) {
	el := d.Find(loadingMapSelector)
	if el == nil {
		return dispatcher.LoadingMap{}, false, nil
	}
	lm, err := dispatcher.ParseLoadingMap([]byte(textOf(el.node)))
	if err != nil {
		return dispatcher.LoadingMap{}, true, err
	}
	return lm, true, nil
}

// EmbedLoadingMap writes lm into the page head, replacing a previously
// embedded map.
func (d *Document) EmbedLoadingMap(lm dispatcher.LoadingMap) error {
	// json.Marshal escapes <, > and &, so the payload cannot close the script.
	data, err := json.Marshal(lm)
	if err != nil {
		return err
	}

	if old := d.Find(loadingMapSelector); old != nil && old.node.Parent != nil {
		old.node.Parent.RemoveChild(old.node)
	}

	head := d.Find("head")
	if head == nil {
		return fmt.Errorf("page has no head element")
	}
	script := newElementNode(atom.Script,
		html.Attribute{Key: "type", Val: "application/json"},
		html.Attribute{Key: "id", Val: LoadingMapID},
	)
	script.AppendChild(&html.Node{Type: html.TextNode, Data: string(data)})
	head.node.AppendChild(script)
	return nil
}

// FilterLoadingMap returns the part of lm that can fire on this page as
// parsed. onClick, onFocusIn and onIntersection selectors with no matching
// element are dropped, including ones whose elements would only be injected
// later. onInjection and onComplete entries are always kept: injected
// elements arrive later and onComplete loads unconditionally.
func (d *Document) FilterLoadingMap(lm dispatcher.LoadingMap) dispatcher.LoadingMap {
	var out dispatcher.LoadingMap
	for _, trigger := range dispatcher.Triggers {
		keys := lm.For(trigger)
		for _, sel := range lm.Selectors(trigger) {
			if keepAlways(trigger) || d.Find(sel) != nil {
				// Selectors are unique per trigger in lm, Add cannot fail here.
				_, _ = out.Add(trigger, sel, keys[sel])
			}
		}
	}
	return out
}

func keepAlways(trigger index.LoadingPoint) bool {
	return trigger == index.OnInjection || trigger == index.OnComplete
}

func textOf(n *html.Node) string {
	var s string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			s += c.Data
		}
	}
	return s
}
