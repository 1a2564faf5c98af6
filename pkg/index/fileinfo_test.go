package index_test

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/downfa11-org/bookie/pkg/index"
	"github.com/downfa11-org/bookie/pkg/types"
)

// newIndexFile creates an index file at path holding data and returns it open.
func newIndexFile(t *testing.T, path string, key, data []byte) *index.FileInfo {
	t.Helper()
	fi := index.NewFileInfo(path, key)
	if err := fi.Open(true); err != nil {
		t.Fatalf("Open(create): %v", err)
	}
	if len(data) > 0 {
		if _, err := fi.Write([][]byte{data}, 0); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	t.Cleanup(func() { _ = fi.Close(false) })
	return fi
}

func TestFileInfoCreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0", "1.idx")
	key := []byte("secret")

	fi := newIndexFile(t, path, key, nil)
	n, err := fi.Write([][]byte{[]byte("hello "), []byte("world")}, 0)
	if err != nil || n != 11 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if err := fi.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != index.HeaderSize+11 {
		t.Errorf("file size = %d; want %d", st.Size(), index.HeaderSize+11)
	}

	// An empty key adopts the stored one.
	reopened := index.NewFileInfo(path, nil)
	defer func() { _ = reopened.Close(false) }()

	size, err := reopened.Size()
	if err != nil || size != 11 {
		t.Fatalf("Size = %d, %v; want 11", size, err)
	}
	stored, err := reopened.MasterKey()
	if err != nil || !bytes.Equal(stored, key) {
		t.Fatalf("MasterKey = %q, %v", stored, err)
	}

	buf := make([]byte, 11)
	if _, err := reopened.ReadAt(buf, 0, false); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello world" {
		t.Errorf("data = %q", buf)
	}
}

func TestFileInfoMissingWithoutCreate(t *testing.T) {
	fi := index.NewFileInfo(filepath.Join(t.TempDir(), "missing.idx"), []byte("k"))

	if err := fi.Open(false); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Open(false) error = %v; want ErrNotFound", err)
	}
	if _, err := fi.Size(); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Size error = %v; want ErrNotFound", err)
	}
	if fi.State() != index.StateUnopened {
		t.Errorf("state = %v; want unopened", fi.State())
	}
}

func TestFileInfoMasterKeyMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.idx")
	fi := newIndexFile(t, path, []byte("abc"), nil)
	if err := fi.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}

	other := index.NewFileInfo(path, []byte("abd"))
	if err := other.Open(false); !errors.Is(err, types.ErrMasterKeyMismatch) {
		t.Fatalf("Open error = %v; want ErrMasterKeyMismatch", err)
	}
}

func TestFileInfoMasterKeyTooLong(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.idx")
	fi := index.NewFileInfo(path, bytes.Repeat([]byte{1}, index.MaxMasterKeyLen+1))

	if err := fi.Open(true); !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("Open error = %v; want ErrInvalidArgument", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("index file left behind: %v", err)
	}
}

func TestFileInfoCorruptHeader(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(b []byte) []byte
	}{
		{"bad signature", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"flipped key byte", func(b []byte) []byte { b[25] ^= 0xff; return b }},
		{"bad checksum", func(b []byte) []byte { b[index.HeaderSize-1] ^= 0xff; return b }},
		{"truncated", func(b []byte) []byte { return b[:100] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.idx")
			fi := newIndexFile(t, path, []byte("abc"), []byte("data"))
			if err := fi.Close(true); err != nil {
				t.Fatalf("Close: %v", err)
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if err := os.WriteFile(path, tt.corrupt(raw), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}

			reopened := index.NewFileInfo(path, []byte("abc"))
			if err := reopened.Open(false); !errors.Is(err, types.ErrCorruptHeader) {
				t.Fatalf("Open error = %v; want ErrCorruptHeader", err)
			}
		})
	}
}

func TestFileInfoReadAt(t *testing.T) {
	fi := newIndexFile(t, filepath.Join(t.TempDir(), "r.idx"), []byte("abc"), []byte("0123456789"))

	tests := []struct {
		name       string
		bufLen     int
		nilBuf     bool
		position   int64
		bestEffort bool
		want       string
		wantErr    error
	}{
		{name: "full", bufLen: 10, position: 0, want: "0123456789"},
		{name: "middle", bufLen: 3, position: 4, want: "456"},
		{name: "partial best effort", bufLen: 10, position: 5, bestEffort: true, want: "56789"},
		{name: "partial strict", bufLen: 10, position: 5, wantErr: types.ErrShortRead},
		{name: "at end best effort", bufLen: 4, position: 10, bestEffort: true, want: ""},
		{name: "past end strict", bufLen: 4, position: 20, wantErr: types.ErrShortRead},
		{name: "negative", bufLen: 4, position: -1, wantErr: types.ErrNegativePosition},
		{name: "overflowing", bufLen: 4, position: math.MaxInt64, wantErr: types.ErrNegativePosition},
		{name: "empty buffer", bufLen: 0, position: -5, want: ""},
		{name: "nil buffer", nilBuf: true, position: math.MaxInt64, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf []byte
			if !tt.nilBuf {
				buf = make([]byte, tt.bufLen)
			}

			n, err := fi.ReadAt(buf, tt.position, tt.bestEffort)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadAt error = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadAt: %v", err)
			}
			if got := string(buf[:n]); got != tt.want {
				t.Errorf("ReadAt = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestFileInfoShortReadWrapsEOF(t *testing.T) {
	fi := newIndexFile(t, filepath.Join(t.TempDir(), "s.idx"), nil, []byte("abc"))

	_, err := fi.ReadAt(make([]byte, 8), 0, false)
	if !errors.Is(err, types.ErrShortRead) || !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt error = %v; want ErrShortRead wrapping io.EOF", err)
	}
}

func TestFileInfoWriteExtendsSize(t *testing.T) {
	fi := newIndexFile(t, filepath.Join(t.TempDir(), "w.idx"), nil, nil)

	if _, err := fi.Write([][]byte{[]byte("xy")}, 8); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if size, _ := fi.Size(); size != 10 {
		t.Errorf("Size = %d; want 10", size)
	}
	if _, err := fi.Write([][]byte{[]byte("ab")}, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if size, _ := fi.Size(); size != 10 {
		t.Errorf("Size after overwrite = %d; want 10", size)
	}
	if _, err := fi.Write([][]byte{[]byte("z")}, -1); !errors.Is(err, types.ErrNegativePosition) {
		t.Errorf("Write error = %v; want ErrNegativePosition", err)
	}
}

func TestFileInfoClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.idx")
	fi := newIndexFile(t, path, nil, []byte("abc"))

	if err := fi.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fi.Close(false); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if fi.State() != index.StateClosed {
		t.Fatalf("state = %v; want closed", fi.State())
	}

	if _, err := fi.ReadAt(make([]byte, 1), 0, false); !errors.Is(err, types.ErrClosed) {
		t.Errorf("ReadAt error = %v; want ErrClosed", err)
	}
	if err := fi.Open(true); !errors.Is(err, types.ErrClosed) {
		t.Errorf("Open error = %v; want ErrClosed", err)
	}
	if err := fi.MoveToNewLocation(path+".new", 3); !errors.Is(err, types.ErrClosed) {
		t.Errorf("MoveToNewLocation error = %v; want ErrClosed", err)
	}
}

func TestFileInfoFenced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.idx")
	fi := newIndexFile(t, path, []byte("k"), nil)

	changed, err := fi.SetFenced()
	if err != nil || !changed {
		t.Fatalf("SetFenced = %v, %v; want true", changed, err)
	}
	changed, err = fi.SetFenced()
	if err != nil || changed {
		t.Fatalf("second SetFenced = %v, %v; want false", changed, err)
	}
	if err := fi.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := index.NewFileInfo(path, []byte("k"))
	defer func() { _ = reopened.Close(false) }()
	fenced, err := reopened.IsFenced()
	if err != nil || !fenced {
		t.Fatalf("IsFenced after reopen = %v, %v", fenced, err)
	}
}

func TestFileInfoIsSameFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "same.idx")
	fi := newIndexFile(t, path, nil, nil)

	link := filepath.Join(dir, "link.idx")
	if err := os.Symlink(path, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{path, true},
		{filepath.Join(dir, ".", "same.idx"), true},
		{link, true},
		{filepath.Join(dir, "other.idx"), false},
		{"", false},
	}
	for _, tt := range tests {
		if got := fi.IsSameFile(tt.path); got != tt.want {
			t.Errorf("IsSameFile(%q) = %v; want %v", tt.path, got, tt.want)
		}
	}
}

func TestFileInfoDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.idx")
	fi := newIndexFile(t, path, nil, []byte("abc"))

	if err := fi.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists: %v", err)
	}
	if fi.State() != index.StateClosed {
		t.Errorf("state = %v; want closed", fi.State())
	}
}

func TestFileInfoReadAtBadPositionLeavesFileUnopened(t *testing.T) {
	for _, pos := range []int64{-1, math.MaxInt64} {
		fi := index.NewFileInfo(filepath.Join(t.TempDir(), "missing.idx"), []byte("k"))

		_, err := fi.ReadAt(make([]byte, 4), pos, false)
		if !errors.Is(err, types.ErrNegativePosition) {
			t.Errorf("ReadAt(%d) error = %v; want ErrNegativePosition", pos, err)
		}
		if fi.State() != index.StateUnopened {
			t.Errorf("ReadAt(%d) left state %v; want unopened", pos, fi.State())
		}
	}
}

func TestFileInfoEmptyFileHeaderPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.idx")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	fi := index.NewFileInfo(path, []byte("first"))
	if err := fi.Open(false); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := fi.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if st, err := os.Stat(path); err != nil || st.Size() != index.HeaderSize {
		t.Fatalf("file after open = %v, %v; want %d bytes", st, err, index.HeaderSize)
	}
	other := index.NewFileInfo(path, []byte("second"))
	defer func() { _ = other.Close(false) }()
	if err := other.Open(false); !errors.Is(err, types.ErrMasterKeyMismatch) {
		t.Fatalf("Open with another key error = %v; want ErrMasterKeyMismatch", err)
	}
}
