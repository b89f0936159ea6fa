// Package resource defines resource keys — the unit of mutual exclusion for
// task scheduling. A key canonically identifies something that must not be
// concurrently mutated by two tasks (a repository, a remote, ...).
package resource

import (
	"hash/fnv"
	"sort"
	"strings"
)

// Key is a canonical, normalized identifier derived from one or more opaque
// resource names. Construction is order-independent: the same names in any
// order produce the same Key.
type Key string

// NewKey builds a Key from opaque resource names. Names are trimmed,
// lowercased on the type tag side only by the caller's convention, sorted,
// and joined, so NewKey("a", "b") == NewKey("b", "a").
func NewKey(names ...string) Key {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		parts = append(parts, n)
	}
	sort.Strings(parts)
	return Key(strings.Join(parts, "/"))
}

// LockID hashes the key to a fixed-width advisory lock id (FNV-1a 64-bit,
// reinterpreted as int64 to match the advisory-lock key space).
func (k Key) LockID() int64 {
	h := fnv.New64a()
	h.Write([]byte(k)) //nolint:errcheck // fnv Write never fails
	return int64(h.Sum64())
}

// String returns the key's canonical string form.
func (k Key) String() string { return string(k) }

// Set is a canonical set of resource keys: sorted, deduplicated. Sets are
// always processed in this canonical order before locking, so two tasks with
// overlapping sets acquire shared keys in the same order and cannot deadlock.
type Set []Key

// NewSet builds a canonical Set from keys. Duplicates collapse and the
// result is sorted.
func NewSet(keys ...Key) Set {
	seen := make(map[Key]struct{}, len(keys))
	s := make(Set, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		s = append(s, k)
	}
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}

// Contains reports whether the set holds the given key.
func (s Set) Contains(k Key) bool {
	for _, have := range s {
		if have == k {
			return true
		}
	}
	return false
}

// Overlaps reports whether the two sets share any key.
func (s Set) Overlaps(other Set) bool {
	// Both sets are sorted; walk them in step.
	i, j := 0, 0
	for i < len(s) && j < len(other) {
		switch {
		case s[i] == other[j]:
			return true
		case s[i] < other[j]:
			i++
		default:
			j++
		}
	}
	return false
}

// Superset reports whether the set contains every key of other.
func (s Set) Superset(other Set) bool {
	for _, k := range other {
		if !s.Contains(k) {
			return false
		}
	}
	return true
}

// LockIDs returns the advisory lock ids of all keys, sorted ascending.
// Locking ids in this order, one at a time, prevents deadlock between two
// callers whose resource sets overlap partially.
func (s Set) LockIDs() []int64 {
	ids := make([]int64, len(s))
	for i, k := range s {
		ids[i] = k.LockID()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Strings returns the keys as plain strings in canonical order.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, k := range s {
		out[i] = string(k)
	}
	return out
}

// FromStrings rebuilds a canonical Set from plain strings (e.g., a stored
// row's key column).
func FromStrings(keys []string) Set {
	ks := make([]Key, len(keys))
	for i, s := range keys {
		ks[i] = Key(s)
	}
	return NewSet(ks...)
}
