// Package eventbus is a small synchronous topic bus. It decouples whoever
// injects markup into a page from the loader that reacts to it.
package eventbus

import (
	"context"
	"fmt"
	"sync"
)

// TopicHTMLInjected is published after markup has been inserted into the page.
const TopicHTMLInjected = "html-injected"

// Handler receives a published payload. A returned error stops delivery to
// the handlers after it.
type Handler func(ctx context.Context, payload any) error

// Subscription identifies one registered handler. Registering the same
// function twice yields two subscriptions.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler
	bus     *Bus
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes this subscription from its bus.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.bus != nil {
		s.bus.Unsubscribe(s)
	}
}

// Bus is a topic to handlers registry. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*Subscription
	nextID uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]*Subscription)}
}

// Subscribe appends handler to the topic's handlers.
func (b *Bus) Subscribe(topic string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, topic: topic, handler: handler, bus: b}
	b.topics[topic] = append(b.topics[topic], sub)
	return sub
}

// Unsubscribe removes sub. Unknown topics and subscriptions are ignored.
// The topic's slice is replaced rather than edited so that a publish already
// iterating keeps its own view.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	kept := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != sub.id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.topics, sub.topic)
		return
	}
	b.topics[sub.topic] = kept
}

// Publish calls the topic's handlers in subscription order on the calling
// goroutine. Changes to the subscriber list made while publishing apply to
// the next publish. The first handler error is returned and the rest of the
// handlers are skipped.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	subs := b.topics[topic]
	b.mu.RUnlock()

	for i, s := range subs {
		if err := s.handler(ctx, payload); err != nil {
			return fmt.Errorf("handler %d of %q failed: %w", i, topic, err)
		}
	}
	return nil
}

// Count returns the number of handlers subscribed to topic.
func (b *Bus) Count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// InjectedContent is the payload of TopicHTMLInjected.
type InjectedContent struct {
	HTML string `json:"html"`
}

// HTMLOf extracts the markup from an injection payload. Besides
// InjectedContent it accepts a bare string and a map with an "html" key.
func HTMLOf(payload any) (string, bool) {
	switch p := payload.(type) {
	case InjectedContent:
		return p.HTML, true
	case *InjectedContent:
		if p == nil {
			return "", false
		}
		return p.HTML, true
	case string:
		return p, true
	case map[string]any:
		s, ok := p["html"].(string)
		return s, ok
	case map[string]string:
		s, ok := p["html"]
		return s, ok
	}
	return "", false
}
