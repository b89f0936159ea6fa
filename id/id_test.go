package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/syncforge/syncforge/id"
)

func TestNew_PrefixRoundTrip(t *testing.T) {
	tests := []struct {
		prefix id.Prefix
	}{
		{id.PrefixTask},
		{id.PrefixGroup},
		{id.PrefixReservation},
		{id.PrefixWorker},
		{id.PrefixContent},
		{id.PrefixArtifact},
		{id.PrefixLink},
	}

	for _, tt := range tests {
		generated := id.New(tt.prefix)
		if generated.IsNil() {
			t.Errorf("New(%q) returned nil ID", tt.prefix)
		}
		if generated.Prefix() != tt.prefix {
			t.Errorf("Prefix() = %q, want %q", generated.Prefix(), tt.prefix)
		}
		if !strings.HasPrefix(generated.String(), string(tt.prefix)+"_") {
			t.Errorf("String() = %q, want prefix %q_", generated.String(), tt.prefix)
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	original := id.NewTaskID()

	parsed, err := id.Parse(original.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", original.String(), err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round trip: got %q, want %q", parsed.String(), original.String())
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("Parse(\"\") should fail")
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	taskID := id.NewTaskID()

	if _, err := id.ParseWorkerID(taskID.String()); err == nil {
		t.Error("ParseWorkerID should reject a task-prefixed ID")
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	original := id.NewContentID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded id.ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.String() != original.String() {
		t.Errorf("JSON round trip: got %q, want %q", decoded.String(), original.String())
	}
}

func TestNil_IsNil(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
}

func TestID_KSortable(t *testing.T) {
	// UUIDv7-based IDs generated in sequence must sort in generation order.
	a := id.NewTaskID()
	b := id.NewTaskID()
	if !(a.String() < b.String()) {
		t.Errorf("expected %q < %q", a.String(), b.String())
	}
}
