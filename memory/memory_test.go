package memory

import "testing"

func TestMemoryBlock_RenderOrdersKeysByInsertion(t *testing.T) {
	b := NewBlock("persona", 1024)
	b.Set("name", "Aria")
	b.Set("role", "assistant")
	b.Set("name", "Aria v2")

	want := "[persona]\nname: Aria v2\nrole: assistant\n"
	if got := b.Render(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMemoryBlock_ReplaceDropsUnlistedKeys(t *testing.T) {
	b := NewBlock("persona", 1024)
	b.Set("name", "Aria")
	b.Set("role", "assistant")

	b.Replace(map[string]string{"name": "Nova"}, []string{"name"})

	want := "[persona]\nname: Nova\n"
	if got := b.Render(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMemoryBlock_CloneIsIndependent(t *testing.T) {
	b := NewBlock("persona", 1024)
	b.Set("name", "Aria")

	clone := b.Clone()
	clone.Set("name", "Mutated")

	if got := b.Render(); got != "[persona]\nname: Aria\n" {
		t.Errorf("original block mutated via clone: %q", got)
	}
}

func TestMatchesSubstring_BlankQueryMatchesEverything(t *testing.T) {
	if !MatchesSubstring("anything", "") {
		t.Error("expected blank query to match")
	}
	if !MatchesSubstring("anything", "   ") {
		t.Error("expected whitespace-only query to match")
	}
}

func TestMatchesSubstring_CaseInsensitive(t *testing.T) {
	if !MatchesSubstring("Hello World", "world") {
		t.Error("expected case-insensitive match")
	}
	if MatchesSubstring("Hello World", "xyz") {
		t.Error("expected no match")
	}
}

func TestUnknownBlock_Error(t *testing.T) {
	err := &UnknownBlock{Name: "missing"}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}
