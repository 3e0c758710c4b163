package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_ReadDirAndExists(t *testing.T) {
	dir := t.TempDir()
	osfs := OSFileSystem{}

	if err := osfs.MkdirAll(filepath.Join(dir, "seq"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range []string{"b.ply", "a.ply"} {
		if err := osfs.WriteFile(filepath.Join(dir, "seq", name), []byte("ply\n"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	entries, err := osfs.ReadDir(filepath.Join(dir, "seq"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 || entries[0].Name() != "a.ply" {
		t.Errorf("entries = %v", entries)
	}
	if !osfs.Exists(filepath.Join(dir, "seq", "a.ply")) {
		t.Error("expected a.ply to exist")
	}
	if osfs.Exists(filepath.Join(dir, "missing")) {
		t.Error("expected missing path to not exist")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	data := []byte("hello, world")
	if err := mfs.WriteFile("/frames/f0.ply", data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data[0] = 'H'

	got, err := mfs.ReadFile("/frames/f0.ply")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello, world" {
		t.Errorf("got %q, stored data must be a copy", got)
	}
	if !mfs.Exists("/frames") {
		t.Error("parent directory not created")
	}

	f, err := mfs.Open("/frames/f0.ply")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	all, err := io.ReadAll(f)
	if err != nil || string(all) != "hello, world" {
		t.Errorf("Open read %q, %v", all, err)
	}
	info, _ := f.Stat()
	if info.Size() != int64(len(all)) || info.Name() != "f0.ply" {
		t.Errorf("stat = %s/%d", info.Name(), info.Size())
	}
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	mfs := NewMemoryFileSystem()
	for _, name := range []string{"seq/frame_10.ply", "seq/frame_2.ply", "seq/lod/frame_0.codec", "other/x.ply"} {
		if err := mfs.WriteFile(name, []byte{1}, 0o644); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
	}

	entries, err := mfs.ReadDir("seq")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"frame_10.ply", "frame_2.ply", "lod"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if !entries[2].IsDir() {
		t.Error("lod should be a directory")
	}
}

func TestMemoryFileSystem_Missing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.ReadFile("nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile = %v, want ErrNotExist", err)
	}
	if _, err := mfs.Open("nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open = %v, want ErrNotExist", err)
	}
	if _, err := mfs.ReadDir("nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadDir = %v, want ErrNotExist", err)
	}
}

func TestMemoryFileSystem_MkdirOverFile(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.WriteFile("a", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mfs.MkdirAll("a", 0o755); !errors.Is(err, fs.ErrExist) {
		t.Errorf("MkdirAll over file = %v, want ErrExist", err)
	}
}
