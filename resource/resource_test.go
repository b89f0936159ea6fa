package resource_test

import (
	"testing"

	"github.com/syncforge/syncforge/resource"
)

func TestNewKey_OrderIndependent(t *testing.T) {
	a := resource.NewKey("repositories", "rpm-main")
	b := resource.NewKey("rpm-main", "repositories")
	if a != b {
		t.Errorf("NewKey is order-dependent: %q != %q", a, b)
	}
}

func TestNewKey_TrimsEmpty(t *testing.T) {
	k := resource.NewKey("  repo  ", "", "remote")
	if k != resource.Key("remote/repo") {
		t.Errorf("NewKey = %q, want %q", k, "remote/repo")
	}
}

func TestKey_LockIDStable(t *testing.T) {
	k := resource.NewKey("repositories", "abc")
	if k.LockID() != k.LockID() {
		t.Error("LockID is not stable for the same key")
	}

	other := resource.NewKey("repositories", "def")
	if k.LockID() == other.LockID() {
		t.Error("distinct keys should not collide in a unit test sample")
	}
}

func TestNewSet_CanonicalOrder(t *testing.T) {
	s := resource.NewSet("c", "a", "b", "a")
	want := resource.Set{"a", "b", "c"}
	if len(s) != len(want) {
		t.Fatalf("len = %d, want %d", len(s), len(want))
	}
	for i := range want {
		if s[i] != want[i] {
			t.Errorf("s[%d] = %q, want %q", i, s[i], want[i])
		}
	}
}

func TestSet_Overlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b resource.Set
		want bool
	}{
		{"shared key", resource.NewSet("a", "b"), resource.NewSet("b", "c"), true},
		{"disjoint", resource.NewSet("a"), resource.NewSet("b"), false},
		{"empty", resource.NewSet(), resource.NewSet("a"), false},
		{"identical", resource.NewSet("x"), resource.NewSet("x"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps (reversed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSet_Superset(t *testing.T) {
	s := resource.NewSet("a", "b", "c")
	if !s.Superset(resource.NewSet("a", "c")) {
		t.Error("expected superset")
	}
	if s.Superset(resource.NewSet("a", "d")) {
		t.Error("did not expect superset")
	}
}

func TestSet_LockIDsSorted(t *testing.T) {
	s := resource.NewSet("zulu", "alpha", "mike", "echo")
	ids := s.LockIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Fatalf("lock ids not sorted: %v", ids)
		}
	}
}

func TestFromStrings_RoundTrip(t *testing.T) {
	s := resource.NewSet("b", "a")
	back := resource.FromStrings(s.Strings())
	if len(back) != 2 || back[0] != "a" || back[1] != "b" {
		t.Errorf("round trip = %v", back)
	}
}
