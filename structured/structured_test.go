package structured

import (
	"errors"
	"testing"
)

type weatherReport struct {
	City  string `json:"city"`
	TempC int    `json:"tempC"`
}

func TestParse_DirectJSON(t *testing.T) {
	s := NewOutputSchema[weatherReport]()
	got, err := s.Parse(`{"city":"Paris","tempC":21}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.City != "Paris" || got.TempC != 21 {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestParse_StripsJSONFence(t *testing.T) {
	s := NewOutputSchema[weatherReport]()
	got, err := s.Parse("```json\n{\"city\":\"Rome\",\"tempC\":30}\n```")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.City != "Rome" || got.TempC != 30 {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestParse_StripsBareFence(t *testing.T) {
	s := NewOutputSchema[weatherReport]()
	got, err := s.Parse("```\n{\"city\":\"Oslo\",\"tempC\":5}\n```")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.City != "Oslo" {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestParse_UnrecoverableContentFails(t *testing.T) {
	s := NewOutputSchema[weatherReport]()
	_, err := s.Parse("not json at all")
	if err == nil {
		t.Fatal("expected a parse failure")
	}
	var pf *ParseFailure
	if !errors.As(err, &pf) {
		t.Fatalf("expected *ParseFailure, got %T", err)
	}
	if pf.Content != "not json at all" {
		t.Errorf("unexpected content %q", pf.Content)
	}
}

func TestSchema_ReflectsFieldNames(t *testing.T) {
	s := NewOutputSchema[weatherReport]()
	doc, err := s.Schema()
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	if len(doc) == 0 {
		t.Fatal("expected a non-empty schema document")
	}
}
