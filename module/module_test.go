package module

import (
	"testing"

	"github.com/bfte-project/bfte/consensus"
)

// counterModule accepts every item and emits an Effect that increments its
// own Total by the item's ModuleInput, interpreted as a single byte count.
type counterModule struct {
	id    consensus.ModuleId
	Total int
}

func (m *counterModule) ID() consensus.ModuleId { return m.id }

func (m *counterModule) Process(item consensus.CItem) (bool, []Effect, error) {
	if len(item.ModuleInput) != 1 {
		return false, nil, nil
	}
	return true, []Effect{{ModuleId: m.id, Payload: item.ModuleInput}}, nil
}

func (m *counterModule) ApplyEffect(e Effect) error {
	m.Total += int(e.Payload[0])
	return nil
}

func TestRouterDeliversAcceptedEffectsInOrder(t *testing.T) {
	counter := &counterModule{id: 7}
	r := NewRouter(counter)

	items := []consensus.CItem{
		{ModuleId: 7, ModuleInput: []byte{2}},
		{ModuleId: 7, ModuleInput: []byte{3}},
	}
	effects, err := r.Deliver(items)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(effects) != 2 {
		t.Fatalf("expected 2 effects, got %d", len(effects))
	}
	if effects[0].Payload[0] != 2 || effects[1].Payload[0] != 3 {
		t.Fatalf("effects out of item order: %v", effects)
	}
	if counter.Total != 5 {
		t.Fatalf("expected total 5, got %d", counter.Total)
	}
}

func TestRouterRejectsUnacceptedItems(t *testing.T) {
	counter := &counterModule{id: 7}
	r := NewRouter(counter)

	items := []consensus.CItem{{ModuleId: 7, ModuleInput: []byte{1, 2, 3}}}
	effects, err := r.Deliver(items)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(effects) != 0 || counter.Total != 0 {
		t.Fatalf("a rejected item must produce no effects")
	}
}

func TestRouterUnknownModuleErrors(t *testing.T) {
	r := NewRouter(&counterModule{id: 7})
	_, _, err := r.Process(consensus.CItem{ModuleId: 99})
	if err == nil {
		t.Fatalf("expected an error for an unregistered module id")
	}
}
