// Package id provides prefix-qualified identifiers for every persisted
// syncforge entity: tasks, groups, reservations, workers, content units,
// artifacts, and remote links.
//
// Identifiers are TypeIDs, a short entity prefix joined to a UUIDv7
// suffix ("task_01h2xcejqtf2nbrexx3vqjhp41"). The UUIDv7 suffix makes
// IDs sortable by creation time, which the claim path leans on for its
// FIFO ordering.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the entity tag encoded at the front of an ID.
type Prefix string

const (
	PrefixTask        Prefix = "task"
	PrefixGroup       Prefix = "tg"
	PrefixReservation Prefix = "rsv"
	PrefixWorker      Prefix = "wkr"
	PrefixContent     Prefix = "cnt"
	PrefixArtifact    Prefix = "art"
	PrefixLink        Prefix = "lnk"
)

// ID pairs a TypeID with a validity bit so the zero value is a usable
// "no ID" sentinel. Nil IDs render as the empty string and store as SQL
// NULL, which is what optional foreign keys (group, worker, artifact)
// rely on.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse converts a "prefix_suffix" string into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and rejects IDs carrying a different entity
// prefix, so a task ID cannot slip in where a worker ID is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is Parse that panics, for fixed IDs in tests.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// Entity-specific names for call sites. These are aliases, not distinct
// types: nullable foreign keys and store scan targets all share the one
// Scanner/Valuer implementation below.
type (
	TaskID        = ID
	GroupID       = ID
	ReservationID = ID
	WorkerID      = ID
	ContentID     = ID
	ArtifactID    = ID
	LinkID        = ID
)

func NewTaskID() ID        { return New(PrefixTask) }
func NewGroupID() ID       { return New(PrefixGroup) }
func NewReservationID() ID { return New(PrefixReservation) }
func NewWorkerID() ID      { return New(PrefixWorker) }
func NewContentID() ID     { return New(PrefixContent) }
func NewArtifactID() ID    { return New(PrefixArtifact) }
func NewLinkID() ID        { return New(PrefixLink) }

func ParseTaskID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixTask) }
func ParseGroupID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixGroup) }
func ParseReservationID(s string) (ID, error) { return ParseWithPrefix(s, PrefixReservation) }
func ParseWorkerID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixWorker) }
func ParseContentID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixContent) }
func ParseArtifactID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixArtifact) }
func ParseLinkID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixLink) }

// String renders the "prefix_suffix" form, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the entity tag, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields
// Nil rather than an error, mirroring MarshalText.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil stores as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner. NULL and empty text scan to Nil.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil
		return nil
	}
	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil
			return nil
		}
		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil
			return nil
		}
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
