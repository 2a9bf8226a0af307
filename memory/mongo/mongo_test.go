package mongo

import (
	"testing"

	"github.com/agentcore/agentcore/memory"
)

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

func TestToBlock_RoundTrips(t *testing.T) {
	doc := blockDoc{
		Name:    "persona",
		MaxSize: 512,
		Keys:    []string{"b", "a"},
		Values:  map[string]string{"a": "1", "b": "2"},
	}
	b := toBlock(doc)
	want := "[persona]\nb: 2\na: 1\n"
	if got := b.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRegexQuote_EscapesMetacharacters(t *testing.T) {
	got := regexQuote("a.b*c?")
	want := `a\.b\*c\?`
	if got != want {
		t.Errorf("regexQuote() = %q, want %q", got, want)
	}
}

func TestRegexQuote_LeavesPlainTextUnchanged(t *testing.T) {
	got := regexQuote("hello world")
	if got != "hello world" {
		t.Errorf("regexQuote() = %q, want unchanged", got)
	}
}

func TestToMessage_CarriesToolCalls(t *testing.T) {
	doc := messageDoc{
		SessionID: "s1",
		Seq:       0,
		Role:      string(memory.RoleAssistant),
		Content:   "",
		ToolCalls: []toolCallDoc{{ID: "tc1", Name: "search", Arguments: map[string]any{"q": "x"}}},
	}
	msg := toMessage(doc)
	if msg.Role != memory.RoleAssistant {
		t.Errorf("expected role assistant, got %v", msg.Role)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "search" {
		t.Errorf("unexpected tool calls: %+v", msg.ToolCalls)
	}
}

// New, PutBlock/Block, AddMessage/History, and Archive/SearchArchive
// round-trip through a live *mongo.Client and are exercised by
// mongo_integration_test.go (build tag "integration") rather than here;
// CoreBlocks and the session trio are not covered by either file. This is the same boundary the
// teacher's store_test.go draws between its fake-collection unit tests and
// its container-backed ones.
