package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTempUpload(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.tmp")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp upload: %v", err)
	}
	return path
}

func TestLocalBlobStoreRoundTrip(t *testing.T) {
	store := NewLocalBlobStore(t.TempDir())
	source := writeTempUpload(t, "binary payload")

	handle, err := store.Put(context.Background(), source, "photo.JPG", "image/jpeg", "abc123")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if handle != "abc123.jpg" {
		t.Fatalf("expected handle abc123.jpg, got %q", handle)
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatalf("expected source temp file consumed, stat err: %v", err)
	}

	reader, info, err := store.Open(context.Background(), handle)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()
	contents, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(contents) != "binary payload" {
		t.Fatalf("unexpected blob contents %q", contents)
	}
	if info.Size != int64(len("binary payload")) {
		t.Fatalf("expected size %d, got %d", len("binary payload"), info.Size)
	}

	if err := store.Delete(context.Background(), handle); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Open(context.Background(), handle); err == nil {
		t.Fatalf("expected Open to fail after delete")
	}
}

func TestLocalBlobStoreDeleteMissingIsNoOp(t *testing.T) {
	store := NewLocalBlobStore(t.TempDir())
	if err := store.Delete(context.Background(), "nothing.bin"); err != nil {
		t.Fatalf("expected missing blob delete to succeed, got %v", err)
	}
}

func TestBlobHandleFallsBackToBin(t *testing.T) {
	if handle := blobHandle("key", "noextension"); handle != "key.bin" {
		t.Fatalf("expected key.bin, got %q", handle)
	}
}
