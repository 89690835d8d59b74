// +build debug

package debug

import "testing"

func TestHookFiresAndCanBeRemoved(t *testing.T) {
	var got interface{}
	Hook("arraywriter.flush", func(ctx interface{}) { got = ctx })
	defer RemoveHook("arraywriter.flush")

	RunHook("arraywriter.flush", 2)
	if got != 2 {
		t.Fatalf("expected hook to observe 2, got %v", got)
	}

	RemoveHook("arraywriter.flush")
	got = nil
	RunHook("arraywriter.flush", 3)
	if got != nil {
		t.Fatalf("expected removed hook not to fire, got %v", got)
	}
}

func TestUnregisteredHookIsNoop(t *testing.T) {
	RunHook("no.such.hook", "anything")
}
