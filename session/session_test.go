package session

import "testing"

func TestNew_GeneratesSessionIDWhenAbsent(t *testing.T) {
	c := New("hello")
	if c.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if c.UserInput != "hello" {
		t.Errorf("unexpected user input %q", c.UserInput)
	}
}

func TestNew_HonorsExplicitSessionID(t *testing.T) {
	c := New("hello", WithSessionID("fixed-id"))
	if c.SessionID != "fixed-id" {
		t.Errorf("expected fixed-id, got %q", c.SessionID)
	}
}

func TestNew_AppliesAllOptions(t *testing.T) {
	c := New("hi",
		WithUserID("u1"),
		WithPromptVars(map[string]string{"topic": "go"}),
		WithMetadata(map[string]string{"channel": "slack"}),
	)
	if c.UserID != "u1" {
		t.Errorf("unexpected user id %q", c.UserID)
	}
	if c.PromptVars["topic"] != "go" {
		t.Errorf("unexpected prompt vars %+v", c.PromptVars)
	}
	if c.Metadata["channel"] != "slack" {
		t.Errorf("unexpected metadata %+v", c.Metadata)
	}
}

func TestNew_DistinctSessionsGetDistinctIDs(t *testing.T) {
	a := New("hi")
	b := New("hi")
	if a.SessionID == b.SessionID {
		t.Error("expected distinct session ids across separate New calls")
	}
}
