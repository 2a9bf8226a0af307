package redis

import (
	"testing"

	"github.com/agentcore/agentcore/memory"
)

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Fatal("expected error when client is nil")
	}
}

func TestBlockFields_PreservesInsertionOrder(t *testing.T) {
	b := memory.NewBlock("persona", 1024)
	b.Set("b", "2")
	b.Set("a", "1")

	keys, values := blockFields(b)
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Errorf("expected insertion order [b a], got %v", keys)
	}
	if values["a"] != "1" || values["b"] != "2" {
		t.Errorf("unexpected values: %v", values)
	}
}

func TestBlockFields_EmptyBlock(t *testing.T) {
	b := memory.NewBlock("empty", 1024)
	keys, values := blockFields(b)
	if len(keys) != 0 || len(values) != 0 {
		t.Errorf("expected no fields, got keys=%v values=%v", keys, values)
	}
}
