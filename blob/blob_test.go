package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/syncforge/syncforge"
)

func TestMemoryPutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "sha256:abc", strings.NewReader("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := m.Get(ctx, "sha256:abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("got %q", data)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "sha256:missing")
	if !errors.Is(err, syncforge.ErrBlobNotFound) {
		t.Errorf("err = %v, want ErrBlobNotFound", err)
	}
}

func TestMemoryPutIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "sha256:abc", strings.NewReader("bytes")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := m.Put(ctx, "sha256:abc", strings.NewReader("bytes")); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestMemoryExistsAndDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.Exists(ctx, "sha256:abc")
	if err != nil || ok {
		t.Errorf("Exists before Put = %v, %v", ok, err)
	}

	m.Put(ctx, "sha256:abc", strings.NewReader("x"))

	ok, err = m.Exists(ctx, "sha256:abc")
	if err != nil || !ok {
		t.Errorf("Exists after Put = %v, %v", ok, err)
	}

	if err := m.Delete(ctx, "sha256:abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Deleting a missing digest is not an error.
	if err := m.Delete(ctx, "sha256:abc"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	ok, _ = m.Exists(ctx, "sha256:abc")
	if ok {
		t.Error("blob still exists after Delete")
	}
}
