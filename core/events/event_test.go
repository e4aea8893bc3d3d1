package events

import (
	"testing"

	"spazaescrow/core/types"
)

type testEvent struct{ evt *types.Event }

func (t testEvent) EventType() string   { return t.evt.Type }
func (t testEvent) Event() *types.Event { return t.evt }

func TestMultiEmitterFansOut(t *testing.T) {
	first := &Recorder{}
	second := &Recorder{}
	multi := MultiEmitter{first, nil, second, NoopEmitter{}}

	multi.Emit(testEvent{evt: &types.Event{Type: "escrow.created"}})
	multi.Emit(testEvent{evt: &types.Event{Type: "escrow.funded"}})

	for i, rec := range []*Recorder{first, second} {
		got := rec.Types()
		if len(got) != 2 || got[0] != "escrow.created" || got[1] != "escrow.funded" {
			t.Fatalf("recorder %d: unexpected events %v", i, got)
		}
	}
}

func TestRecorderReset(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(testEvent{evt: &types.Event{Type: "escrow.created"}})
	rec.Emit(nil)
	if len(rec.Events()) != 1 {
		t.Fatalf("expected a single recorded event")
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("expected recorder to be empty after reset")
	}
}

func TestEventAttr(t *testing.T) {
	var nilEvent *types.Event
	if nilEvent.Attr("id") != "" {
		t.Fatalf("expected empty attribute on nil event")
	}
	evt := &types.Event{Type: "x", Attributes: map[string]string{"id": "42"}}
	if evt.Attr("id") != "42" {
		t.Fatalf("unexpected attribute value %q", evt.Attr("id"))
	}
}
