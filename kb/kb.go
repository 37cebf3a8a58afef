package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/orrery/model"
)

var (
	ErrBodyExists    = errors.New("body already exists")
	ErrBodyNotFound  = errors.New("body not found")
	ErrBodyInvalid   = errors.New("invalid body")
	ErrUnknownParent = errors.New("parent body not found")
	ErrCycle         = errors.New("parent chain forms a cycle")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventBodyAdded EventType = iota
	EventBodyRemoved
)

// Event is emitted to subscribers when the set of bodies changes.
type Event struct {
	Type EventType
	Body model.BodyDefinition
}

// KnowledgeBase is an in-memory, thread-safe store of body definitions.
// Insertion order is preserved so that the derived update order is stable.
type KnowledgeBase struct {
	mu sync.RWMutex

	bodies map[string]*model.BodyDefinition
	ids    []string

	subs   []subscription
	nextID int
}

type subscription struct {
	id int
	fn func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		bodies: make(map[string]*model.BodyDefinition),
	}
}

// AddBody adds a new body. Parents may be added after their children; the
// relationship is only resolved by Order.
func (kb *KnowledgeBase) AddBody(b *model.BodyDefinition) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("%w: nil body or empty ID", ErrBodyInvalid)
	}
	if b.ParentID == b.ID {
		return fmt.Errorf("%w: body %q is its own parent", ErrCycle, b.ID)
	}

	kb.mu.Lock()
	if _, exists := kb.bodies[b.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyExists, b.ID)
	}
	kb.bodies[b.ID] = b
	kb.ids = append(kb.ids, b.ID)
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventBodyAdded, Body: *b})
	return nil
}

// RemoveBody deletes a body. It fails while other bodies still name it as
// their parent.
func (kb *KnowledgeBase) RemoveBody(id string) error {
	kb.mu.Lock()
	b, ok := kb.bodies[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	for _, other := range kb.bodies {
		if other.ParentID == id {
			kb.mu.Unlock()
			return fmt.Errorf("%w: %q is the parent of %q", ErrBodyInvalid, id, other.ID)
		}
	}
	delete(kb.bodies, id)
	for i, existing := range kb.ids {
		if existing == id {
			kb.ids = append(kb.ids[:i], kb.ids[i+1:]...)
			break
		}
	}
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventBodyRemoved, Body: *b})
	return nil
}

// GetBody returns the body with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetBody(id string) *model.BodyDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.bodies[id]
}

// ListBodies returns a snapshot of all bodies in insertion order.
func (kb *KnowledgeBase) ListBodies() []*model.BodyDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.BodyDefinition, 0, len(kb.ids))
	for _, id := range kb.ids {
		res = append(res, kb.bodies[id])
	}
	return res
}

// Len returns the number of stored bodies.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.ids)
}

// Order returns body IDs so that every parent precedes its children.
// Siblings keep their insertion order. The result is meant to be computed
// once at setup and iterated every tick.
func (kb *KnowledgeBase) Order() ([]string, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	children := make(map[string][]string, len(kb.ids))
	pending := make(map[string]int, len(kb.ids))
	var queue []string

	for _, id := range kb.ids {
		parent := kb.bodies[id].ParentID
		if parent == "" {
			queue = append(queue, id)
			continue
		}
		if _, ok := kb.bodies[parent]; !ok {
			return nil, fmt.Errorf("%w: %q (parent of %q)", ErrUnknownParent, parent, id)
		}
		children[parent] = append(children[parent], id)
		pending[id] = 1
	}

	order := make([]string, 0, len(kb.ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, child := range children[id] {
			pending[child]--
			if pending[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(kb.ids) {
		for _, id := range kb.ids {
			if pending[id] > 0 {
				return nil, fmt.Errorf("%w: involving %q", ErrCycle, id)
			}
		}
		return nil, ErrCycle
	}
	return order, nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.nextID++
	id := kb.nextID
	kb.subs = append(kb.subs, subscription{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, s := range kb.subs {
			if s.id == id {
				kb.subs = append(kb.subs[:i], kb.subs[i+1:]...)
				return
			}
		}
	}
}

func (kb *KnowledgeBase) snapshotSubsLocked() []subscription {
	return append([]subscription(nil), kb.subs...)
}

// notify runs outside the lock to avoid deadlocks with subscribers that
// read the KB.
func notify(subs []subscription, e Event) {
	for _, s := range subs {
		s.fn(e)
	}
}
