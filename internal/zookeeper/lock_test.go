package zookeeper

import "testing"

func TestPredecessorOfOrdersBySequence(t *testing.T) {
	children := []string{
		"_c_ffff-lock-0000000003",
		"_c_0000-lock-0000000001",
		"_c_aaaa-lock-0000000002",
	}

	prev, err := predecessorOf(children, "_c_ffff-lock-0000000003")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev != "_c_aaaa-lock-0000000002" {
		t.Fatalf("unexpected predecessor %q", prev)
	}

	prev, err = predecessorOf(children, "_c_0000-lock-0000000001")
	if err != nil || prev != "" {
		t.Fatalf("lowest node should own the lock, got %q %v", prev, err)
	}

	if _, err := predecessorOf(children, "_c_dead-lock-0000000009"); err == nil {
		t.Fatal("expected error for a missing node")
	}
}
