package mmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestMapFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dat")

	data := []byte("MapFile test data content")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	m, err := MapFile(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if !bytes.Equal(m.Data(), data) {
		t.Errorf("mmap data mismatch: got %q, want %q", m.Data(), data)
	}
	if m.Size() != int64(len(data)) {
		t.Errorf("size mismatch: got %d, want %d", m.Size(), len(data))
	}
	if m.Writable() {
		t.Error("read-only mapping reported writable")
	}
}

func TestMapFileEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.dat")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := MapFile(path, false); err != ErrEmptyFile {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestRemapGrow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow.dat")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.Truncate(4096); err != nil {
		t.Fatal(err)
	}

	m, err := New(int(f.Fd()), 0, 4096, true)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	copy(m.Data(), "persist across remap")

	if err := f.Truncate(8192); err != nil {
		t.Fatal(err)
	}
	if err := m.Remap(8192); err != nil {
		t.Fatal(err)
	}

	if m.Size() != 8192 {
		t.Errorf("size after remap: got %d, want 8192", m.Size())
	}
	if !bytes.Equal(m.Data()[:20], []byte("persist across remap")) {
		t.Error("data lost across remap")
	}
}
