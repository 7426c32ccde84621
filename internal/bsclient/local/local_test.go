package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bleepstore/mantagw/internal/bsclient"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func TestPutAndGet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	content := "hello, mantagw"
	md5Hex, err := b.Put(ctx, "/bucket/key.txt", strings.NewReader(content), bsclient.PutOptions{
		ContentType:  "text/plain",
		Durability:   2,
		UserMetadata: map[string]string{"owner": "alice"},
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if md5Hex == "" {
		t.Fatal("Put returned empty content-MD5")
	}

	r, info, err := b.Get(ctx, "/bucket/key.txt")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading object body: %v", err)
	}
	if string(data) != content {
		t.Errorf("Get body = %q, want %q", data, content)
	}
	if info.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want text/plain", info.ContentType)
	}
	if info.ContentMD5 != md5Hex {
		t.Errorf("Get ContentMD5 = %q, want %q (from Put)", info.ContentMD5, md5Hex)
	}
	if info.UserMetadata["owner"] != "alice" {
		t.Errorf("UserMetadata[owner] = %q, want alice", info.UserMetadata["owner"])
	}
	if info.Durability != 2 {
		t.Errorf("Durability = %d, want 2", info.Durability)
	}
}

func TestPutCreatesMissingParents(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.Put(ctx, "/bucket/a/b/c.txt", strings.NewReader("x"), bsclient.PutOptions{}); err != nil {
		t.Fatalf("Put with missing parents failed: %v", err)
	}

	info, err := b.Info(ctx, "/bucket/a/b")
	if err != nil {
		t.Fatalf("Info on implicitly-created parent failed: %v", err)
	}
	if !info.IsDir {
		t.Error("implicitly-created parent is not reported as a directory")
	}
}

func TestGetNotFound(t *testing.T) {
	b := newTestBackend(t)
	_, _, err := b.Get(context.Background(), "/bucket/missing.txt")
	if !errors.Is(err, bsclient.ErrNotFound) {
		t.Errorf("Get on missing key error = %v, want ErrNotFound", err)
	}
}

func TestMkdirIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Mkdir(ctx, "/bucket"); err != nil {
		t.Fatalf("first Mkdir failed: %v", err)
	}
	if err := b.Mkdir(ctx, "/bucket"); err != nil {
		t.Errorf("second Mkdir on existing directory should be a no-op success, got: %v", err)
	}
}

func TestMkdirMissingParentFails(t *testing.T) {
	b := newTestBackend(t)
	err := b.Mkdir(context.Background(), "/no-such-parent/child")
	if !errors.Is(err, bsclient.ErrNotFound) {
		t.Errorf("Mkdir with missing parent error = %v, want ErrNotFound", err)
	}
}

func TestUnlinkRemovesFileAndEmptyParents(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Mkdir(ctx, "/bucket"); err != nil {
		t.Fatalf("Mkdir bucket: %v", err)
	}
	if _, err := b.Put(ctx, "/bucket/sub/key.txt", strings.NewReader("x"), bsclient.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := b.Unlink(ctx, "/bucket/sub/key.txt"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}

	if _, err := b.Info(ctx, "/bucket/sub"); !errors.Is(err, bsclient.ErrNotFound) {
		t.Errorf("expected empty parent directory to be cleaned up, Info error = %v", err)
	}
	// the bucket root itself is never climbed past and removed.
	if _, err := b.Info(ctx, "/bucket"); err != nil {
		t.Errorf("bucket root was unexpectedly removed: %v", err)
	}
}

func TestUnlinkNotFound(t *testing.T) {
	b := newTestBackend(t)
	err := b.Unlink(context.Background(), "/bucket/missing.txt")
	if !errors.Is(err, bsclient.ErrNotFound) {
		t.Errorf("Unlink on missing key error = %v, want ErrNotFound", err)
	}
}

func TestRmdirEmptyAndNonEmpty(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Mkdir(ctx, "/bucket"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := b.Put(ctx, "/bucket/key.txt", strings.NewReader("x"), bsclient.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := b.Rmdir(ctx, "/bucket"); !errors.Is(err, bsclient.ErrNotEmpty) {
		t.Errorf("Rmdir on non-empty directory error = %v, want ErrNotEmpty", err)
	}

	if err := b.Unlink(ctx, "/bucket/key.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := b.Rmdir(ctx, "/bucket"); err != nil {
		t.Errorf("Rmdir on now-empty directory failed: %v", err)
	}
}

func TestLnHardLinksAndCopiesMetadata(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.Put(ctx, "/bucket/src.txt", strings.NewReader("linked"), bsclient.PutOptions{
		ContentType: "text/plain",
	}); err != nil {
		t.Fatalf("Put src: %v", err)
	}

	if err := b.Ln(ctx, "/bucket/src.txt", "/bucket/dst.txt", bsclient.PutOptions{
		ContentType: "application/octet-stream",
		Durability:  1,
	}); err != nil {
		t.Fatalf("Ln failed: %v", err)
	}

	r, info, err := b.Get(ctx, "/bucket/dst.txt")
	if err != nil {
		t.Fatalf("Get on link destination: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "linked" {
		t.Errorf("linked content = %q, want %q", data, "linked")
	}
	if info.ContentType != "application/octet-stream" {
		t.Errorf("link destination ContentType = %q, want the Ln-supplied value", info.ContentType)
	}
	if info.Durability != 1 {
		t.Errorf("link destination Durability = %d, want 1", info.Durability)
	}
}

func TestLnSourceNotFound(t *testing.T) {
	b := newTestBackend(t)
	err := b.Ln(context.Background(), "/bucket/missing.txt", "/bucket/dst.txt", bsclient.PutOptions{})
	if !errors.Is(err, bsclient.ErrNotFound) {
		t.Errorf("Ln with missing source error = %v, want ErrNotFound", err)
	}
}

func TestLsListsDirectChildrenOnly(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Mkdirp(ctx, "/bucket/sub"); err != nil {
		t.Fatalf("Mkdirp: %v", err)
	}
	if _, err := b.Put(ctx, "/bucket/top.txt", strings.NewReader("x"), bsclient.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := b.Put(ctx, "/bucket/sub/nested.txt", strings.NewReader("y"), bsclient.PutOptions{}); err != nil {
		t.Fatalf("Put nested: %v", err)
	}

	entries, err := b.Ls(ctx, "/bucket")
	if err != nil {
		t.Fatalf("Ls failed: %v", err)
	}

	var files, dirs []string
	sawEnd := false
	for e := range entries {
		switch e.Kind {
		case bsclient.EntryFile:
			files = append(files, e.Info.Path)
		case bsclient.EntryDir:
			dirs = append(dirs, e.Info.Path)
		case bsclient.EntryEnd:
			sawEnd = true
		case bsclient.EntryError:
			t.Fatalf("unexpected listing error: %v", e.Err)
		}
	}

	if !sawEnd {
		t.Error("Ls stream never emitted EntryEnd")
	}
	if len(files) != 1 || files[0] != "/bucket/top.txt" {
		t.Errorf("Ls files = %v, want [/bucket/top.txt]", files)
	}
	if len(dirs) != 1 || dirs[0] != "/bucket/sub" {
		t.Errorf("Ls dirs = %v, want [/bucket/sub]", dirs)
	}
}

func TestLsNotFound(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Ls(context.Background(), "/no-such-bucket")
	if !errors.Is(err, bsclient.ErrNotFound) {
		t.Errorf("Ls on missing directory error = %v, want ErrNotFound", err)
	}
}

func TestPutOverwritesExisting(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.Put(ctx, "/bucket/key.txt", strings.NewReader("first"), bsclient.PutOptions{}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if _, err := b.Put(ctx, "/bucket/key.txt", strings.NewReader("second"), bsclient.PutOptions{}); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	r, _, err := b.Get(ctx, "/bucket/key.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if !bytes.Equal(data, []byte("second")) {
		t.Errorf("Get after overwrite = %q, want %q", data, "second")
	}
}

func TestPutRejectsSidecarShapedKey(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Put(ctx, "/bucket/.data.bsmeta", strings.NewReader("evil"), bsclient.PutOptions{})
	if !errors.Is(err, bsclient.ErrReservedName) {
		t.Errorf("Put with sidecar-shaped key error = %v, want ErrReservedName", err)
	}
}

func TestLnRejectsSidecarShapedDestination(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.Put(ctx, "/bucket/data", strings.NewReader("payload"), bsclient.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	err := b.Ln(ctx, "/bucket/data", "/bucket/.other.bsmeta", bsclient.PutOptions{})
	if !errors.Is(err, bsclient.ErrReservedName) {
		t.Errorf("Ln with sidecar-shaped destination error = %v, want ErrReservedName", err)
	}
}
