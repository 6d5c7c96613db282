package events

import (
	"testing"
	"time"
)

func TestBus_EmitDispatchesToHandler(t *testing.T) {
	b := New()
	got := make(chan Event, 1)
	b.On(TaskQueued, func(e Event) { got <- e })

	b.Emit(TaskQueued, "task-1")

	select {
	case e := <-got:
		if e.Name != TaskQueued || e.Payload != "task-1" {
			t.Errorf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestBus_HandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	b := New()
	got := make(chan struct{}, 1)
	b.On(TaskFailed, func(Event) { panic("boom") })
	b.On(TaskFailed, func(Event) { got <- struct{}{} })

	b.Emit(TaskFailed, nil)

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("sibling handler never ran after panic in the first")
	}
}

func TestBus_UnregisteredTopicIsNoop(t *testing.T) {
	b := New()
	b.Emit("nothing-is-listening", nil) // must not panic or block
}

func TestBus_OffStopsDelivery(t *testing.T) {
	b := New()
	got := make(chan struct{}, 1)
	id := b.On(TaskCompleted, func(Event) { got <- struct{}{} })
	b.Off(TaskCompleted, id)

	b.Emit(TaskCompleted, nil)

	select {
	case <-got:
		t.Fatal("handler ran after being unsubscribed")
	case <-time.After(100 * time.Millisecond):
	}
}
