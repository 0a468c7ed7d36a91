package mcptransport

import (
	"testing"
)

func TestNotificationHubOrderAndUnsubscribe(t *testing.T) {
	t.Parallel()

	hub := NewNotificationHub()
	var got []string
	unsubA := hub.Subscribe(func(m *Message) { got = append(got, "a:"+m.Method) })
	hub.Subscribe(func(m *Message) { got = append(got, "b:"+m.Method) })

	hub.Dispatch(&Message{Method: "one"})
	unsubA()
	unsubA()
	hub.Dispatch(&Message{Method: "two"})

	want := []string{"a:one", "b:one", "b:two"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if hub.Len() != 1 {
		t.Fatalf("hub.Len() = %d, want 1", hub.Len())
	}
}

func TestPendingTableRejectsDuplicateAndFailsAll(t *testing.T) {
	t.Parallel()

	p := newPendingTable()
	ch, ok := p.register("a")
	if !ok {
		t.Fatalf("first register failed")
	}
	if _, ok := p.register("a"); ok {
		t.Fatalf("duplicate register accepted")
	}
	p.failAll(ErrClosed)
	r := <-ch
	if r.err != ErrClosed {
		t.Fatalf("failAll delivered %v", r.err)
	}
	if p.resolve("a", &Message{}) {
		t.Fatalf("resolve succeeded after failAll")
	}
	if p.len() != 0 {
		t.Fatalf("table not empty")
	}
}
