package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/signalsfoundry/orrery/model"
)

func TestAddAndGetBody(t *testing.T) {
	store := NewKnowledgeBase()
	b := &model.BodyDefinition{ID: "earth", Name: "Earth"}
	if err := store.AddBody(b); err != nil {
		t.Fatalf("AddBody error: %v", err)
	}
	got := store.GetBody("earth")
	if got == nil || got.Name != "Earth" {
		t.Fatalf("GetBody returned %#v, want name Earth", got)
	}
}

func TestAddBodyDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddBody(&model.BodyDefinition{ID: "b1"}); err != nil {
		t.Fatalf("first AddBody error: %v", err)
	}
	if err := store.AddBody(&model.BodyDefinition{ID: "b1"}); !errors.Is(err, ErrBodyExists) {
		t.Fatalf("duplicate AddBody error = %v, want ErrBodyExists", err)
	}
}

func TestAddBodyRejectsSelfParent(t *testing.T) {
	store := NewKnowledgeBase()
	err := store.AddBody(&model.BodyDefinition{ID: "loop", ParentID: "loop"})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("AddBody self parent error = %v, want ErrCycle", err)
	}
}

func TestOrderPlacesParentsFirst(t *testing.T) {
	store := NewKnowledgeBase()
	// Children are inserted before their parents on purpose.
	for _, b := range []*model.BodyDefinition{
		{ID: "moon", ParentID: "earth"},
		{ID: "phobos", ParentID: "mars"},
		{ID: "earth", ParentID: "sun"},
		{ID: "sun"},
		{ID: "mars", ParentID: "sun"},
	} {
		if err := store.AddBody(b); err != nil {
			t.Fatalf("AddBody %s: %v", b.ID, err)
		}
	}

	order, err := store.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if len(order) != 5 {
		t.Fatalf("Order len=%d, want 5", len(order))
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, b := range store.ListBodies() {
		if b.ParentID == "" {
			continue
		}
		if pos[b.ParentID] >= pos[b.ID] {
			t.Fatalf("parent %s at %d not before child %s at %d (order %v)", b.ParentID, pos[b.ParentID], b.ID, pos[b.ID], order)
		}
	}
	if order[0] != "sun" {
		t.Fatalf("order[0] = %s, want sun", order[0])
	}
}

func TestOrderUnknownParent(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddBody(&model.BodyDefinition{ID: "moon", ParentID: "missing"}); err != nil {
		t.Fatalf("AddBody: %v", err)
	}
	if _, err := store.Order(); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("Order error = %v, want ErrUnknownParent", err)
	}
}

func TestOrderDetectsCycle(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.AddBody(&model.BodyDefinition{ID: "a", ParentID: "b"})
	_ = store.AddBody(&model.BodyDefinition{ID: "b", ParentID: "a"})
	_ = store.AddBody(&model.BodyDefinition{ID: "root"})
	if _, err := store.Order(); !errors.Is(err, ErrCycle) {
		t.Fatalf("Order error = %v, want ErrCycle", err)
	}
}

func TestRemoveBody(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.AddBody(&model.BodyDefinition{ID: "sun"})
	_ = store.AddBody(&model.BodyDefinition{ID: "earth", ParentID: "sun"})

	if err := store.RemoveBody("sun"); !errors.Is(err, ErrBodyInvalid) {
		t.Fatalf("RemoveBody parent error = %v, want ErrBodyInvalid", err)
	}
	if err := store.RemoveBody("earth"); err != nil {
		t.Fatalf("RemoveBody earth: %v", err)
	}
	if err := store.RemoveBody("earth"); !errors.Is(err, ErrBodyNotFound) {
		t.Fatalf("second RemoveBody error = %v, want ErrBodyNotFound", err)
	}
	if got := store.Len(); got != 1 {
		t.Fatalf("Len()=%d, want 1", got)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase()

	var events []Event
	unsubscribe := store.Subscribe(func(e Event) {
		events = append(events, e)
	})

	if err := store.AddBody(&model.BodyDefinition{ID: "b1", Name: "One"}); err != nil {
		t.Fatalf("AddBody error: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventBodyAdded || events[0].Body.Name != "One" {
		t.Fatalf("got events %#v, want one EventBodyAdded for One", events)
	}

	unsubscribe()
	if err := store.AddBody(&model.BodyDefinition{ID: "b2"}); err != nil {
		t.Fatalf("AddBody error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after unsubscribe, want 1", len(events))
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddBody(&model.BodyDefinition{ID: "sun"}); err != nil {
		t.Fatalf("AddBody error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.GetBody("sun")
			_, _ = store.Order()
		}()
		go func() {
			defer wg.Done()
			_ = store.AddBody(&model.BodyDefinition{ID: fmt.Sprintf("p-%d", i), ParentID: "sun"})
		}()
	}
	wg.Wait()

	if got := store.Len(); got != 11 {
		t.Fatalf("Len()=%d, want 11", got)
	}
}
