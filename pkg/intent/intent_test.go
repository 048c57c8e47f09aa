package intent

import (
	"errors"
	"testing"
)

func TestValidateOK(t *testing.T) {
	it := New("search_case_law", "lead_lawyer", "precedent_db", "find bail precedents", "case-42")
	if err := it.Validate(); err != nil {
		t.Fatalf("expected valid intent, got %v", err)
	}
	if it.ID == "" {
		t.Fatal("expected generated ID")
	}
	if it.Delegated() {
		t.Fatal("lead intent must not report delegated")
	}
}

func TestValidateEmptyAction(t *testing.T) {
	it := New("", "lead_lawyer", "t", "c", "case-1")
	err := it.Validate()
	if !errors.Is(err, ErrMalformedIntent) {
		t.Fatalf("expected ErrMalformedIntent, got %v", err)
	}
}

func TestValidateEmptyInitiator(t *testing.T) {
	it := New("draft_document", "", "t", "c", "case-1")
	if !errors.Is(it.Validate(), ErrMalformedIntent) {
		t.Fatal("expected ErrMalformedIntent")
	}
}

func TestValidateSelfDelegation(t *testing.T) {
	it := NewDelegated("search_case_law", "research_agent", "research_agent", "t", "c", "case-1")
	if !errors.Is(it.Validate(), ErrMalformedIntent) {
		t.Fatal("self-delegation must be malformed")
	}
}

func TestDelegated(t *testing.T) {
	it := NewDelegated("search_case_law", "research_agent", "lead_lawyer", "t", "c", "case-1")
	if err := it.Validate(); err != nil {
		t.Fatalf("expected valid delegated intent, got %v", err)
	}
	if !it.Delegated() {
		t.Fatal("expected delegated intent")
	}
}
