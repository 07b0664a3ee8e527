package idgen

import (
	"regexp"
	"testing"
)

func TestNewRequestID_PrefixAndLength(t *testing.T) {
	id, err := NewRequestID()
	if err != nil {
		t.Fatalf("NewRequestID() error: %v", err)
	}
	wantLen := len(RequestPrefix) + Length
	if len(id) != wantLen {
		t.Errorf("NewRequestID() length = %d, want %d (id=%q)", len(id), wantLen, id)
	}
	if id[:len(RequestPrefix)] != RequestPrefix {
		t.Errorf("NewRequestID() = %q, want prefix %q", id, RequestPrefix)
	}
}

func TestGenerateWithPrefix_Charset(t *testing.T) {
	pattern := regexp.MustCompile(`^sess-[a-zA-Z0-9]+$`)
	for i := 0; i < 100; i++ {
		id, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("NewSessionID() = %q, does not match expected charset pattern", id)
		}
	}
}

func TestGenerateWithPrefix_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := GenerateWithPrefix(SubscriptionPrefix)
		if err != nil {
			t.Fatalf("GenerateWithPrefix() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
