package diskfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return fs
}

func TestCreateWriteAndSave(t *testing.T) {
	fs := newTestFS(t)

	h, err := fs.Create("sce_sys/package/head.bin")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := h.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(fs.Root, "sce_sys/package/head.bin"))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("file contents = %q, want %q", got, "hello")
	}

	if !fs.Exists("sce_sys/package/head.bin") {
		t.Error("Exists() = false, want true")
	}

	if err := fs.Save("sce_sys/package/stat.bin", []byte("stat")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err = os.ReadFile(filepath.Join(fs.Root, "sce_sys/package/stat.bin"))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(got) != "stat" {
		t.Errorf("stat.bin contents = %q, want %q", got, "stat")
	}
}

func TestOpenAppendContinuesExistingFile(t *testing.T) {
	fs := newTestFS(t)

	h, err := fs.Create("TEST.BIN")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := h.Write([]byte("01234")); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	a, err := fs.OpenAppend("TEST.BIN")
	if err != nil {
		t.Fatalf("OpenAppend() error: %v", err)
	}
	if err := a.Write([]byte("56789")); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(fs.Root, "TEST.BIN"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123456789" {
		t.Errorf("file contents = %q, want %q", got, "0123456789")
	}
}

func TestOpenAppendMissingFile(t *testing.T) {
	fs := newTestFS(t)
	if _, err := fs.OpenAppend("does/not/exist.bin"); err == nil {
		t.Error("OpenAppend() on a missing file should fail, got nil error")
	}
}

func TestMkdirsAndRemove(t *testing.T) {
	fs := newTestFS(t)

	if err := fs.Mkdirs("USRDIR/nested"); err != nil {
		t.Fatalf("Mkdirs() error: %v", err)
	}
	info, err := os.Stat(filepath.Join(fs.Root, "USRDIR/nested"))
	if err != nil || !info.IsDir() {
		t.Fatalf("USRDIR/nested was not created as a directory: %v", err)
	}

	if err := fs.Save("USRDIR/nested/file.bin", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Remove("USRDIR/nested/file.bin"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if fs.Exists("USRDIR/nested/file.bin") {
		t.Error("Exists() = true after Remove()")
	}

	// Removing an already-absent path must succeed, not error.
	if err := fs.Remove("USRDIR/nested/file.bin"); err != nil {
		t.Errorf("Remove() of an absent path returned %v, want nil", err)
	}
}

func TestExistsFalseForMissingPath(t *testing.T) {
	fs := newTestFS(t)
	if fs.Exists("nope.bin") {
		t.Error("Exists() = true for a path never created")
	}
}

// A PKG item name containing ".." must never let Create/Save escape Root,
// since item names come from decrypted, attacker-controllable PKG bytes.
func TestPathTraversalContainedWithinRoot(t *testing.T) {
	fs := newTestFS(t)

	h, err := fs.Create("../../../../etc/escaped.bin")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := h.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	resolved, err := fs.resolve("../../../../etc/escaped.bin")
	if err != nil {
		t.Fatalf("resolve() error: %v", err)
	}
	if !strings.HasPrefix(resolved, fs.Root) {
		t.Fatalf("resolved path %q escaped root %q", resolved, fs.Root)
	}
	if _, err := os.Stat(filepath.Join("/etc", "escaped.bin")); err == nil {
		t.Fatal("traversal escaped the staging root onto the real filesystem")
	}
}
