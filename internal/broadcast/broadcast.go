// Package broadcast provides the per-race pub/sub fan-out. Every connection
// session subscribes to its race's group on connect; accepted mutations are
// published as events delivered to all current subscribers, including the
// originating connection.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/liverace/backend/internal/model"
)

// EventType discriminates the group event union.
type EventType string

const (
	EventChatMessage EventType = "chat.message"
	EventError       EventType = "error"
	EventRaceData    EventType = "race.data"
	EventRaceRenders EventType = "race.renders"
)

// Event is one group event. Exactly the fields for its type are set; every
// event carries enough for a session to update its cached state and emit a
// frame without re-querying persistence.
type Event struct {
	Type    EventType
	Message *model.ChatEntry
	Errors  []string
	Race    json.RawMessage
	Renders json.RawMessage
	Version int64
}

// subscriptionBuffer is the per-subscriber event backlog. A subscriber that
// falls this far behind is closed rather than blocking publishers.
const subscriptionBuffer = 256

// Subscription is one subscriber's handle on a group. Close it (or have the
// group unsubscribe it) exactly once on session teardown.
type Subscription struct {
	group  *Group
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// C returns the channel events are delivered on. It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription from its group.
func (s *Subscription) Close() {
	s.group.Unsubscribe(s)
}

func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		// Backlog full: the subscriber is not keeping up.
		s.closeLocked()
		return false
	}
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// Group is the multicast channel for one race identifier.
type Group struct {
	raceID string
	mu     sync.RWMutex
	subs   map[*Subscription]bool
}

// NewGroup creates an empty group for the given race.
func NewGroup(raceID string) *Group {
	return &Group{
		raceID: raceID,
		subs:   make(map[*Subscription]bool),
	}
}

// RaceID returns the race identifier this group fans out for.
func (g *Group) RaceID() string {
	return g.raceID
}

// Subscribe registers a new subscriber and returns its handle.
func (g *Group) Subscribe() *Subscription {
	sub := &Subscription{
		group: g,
		ch:    make(chan Event, subscriptionBuffer),
	}
	g.mu.Lock()
	g.subs[sub] = true
	g.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (g *Group) Unsubscribe(sub *Subscription) {
	g.mu.Lock()
	delete(g.subs, sub)
	g.mu.Unlock()
	sub.markClosed()
}

// Publish delivers an event to all current subscribers. Delivery is
// at-least-once and preserves this publisher's ordering; it is never
// deduplicated.
func (g *Group) Publish(ev Event) {
	g.mu.RLock()
	subs := make([]*Subscription, 0, len(g.subs))
	for sub := range g.subs {
		subs = append(subs, sub)
	}
	g.mu.RUnlock()

	for _, sub := range subs {
		if !sub.deliver(ev) {
			g.Unsubscribe(sub)
		}
	}
}

// SubscriberCount returns the number of current subscribers.
func (g *Group) SubscriberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subs)
}

// Registry manages the groups for all races. The first subscriber to a race
// creates its group implicitly; idle groups are cheap and never reaped.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*Group
}

// NewRegistry creates an empty group registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]*Group),
	}
}

// Get returns the group for the race, creating it if needed.
func (r *Registry) Get(raceID string) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.groups[raceID]; ok {
		return g
	}
	g := NewGroup(raceID)
	r.groups[raceID] = g
	return g
}

// Publish delivers an event to all subscribers of the race's group.
func (r *Registry) Publish(raceID string, ev Event) {
	r.Get(raceID).Publish(ev)
}
