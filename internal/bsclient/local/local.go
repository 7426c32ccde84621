// Package local implements internal/bsclient.Client over the real local
// filesystem: directories are real directories, files are real files, and
// links are hard links. It is the default/dev backend and needs no cloud
// credentials, so it is also the backend exercised by internal/gateway's
// tests.
//
// Grounded on the teacher's internal/storage.LocalBackend atomic-write
// pattern (temp file + fsync + rename via internal/uid for temp names),
// extended with a sidecar ".bsmeta" JSON file recording the header bag
// (durability, content-type, user metadata, content-MD5) a plain file
// cannot hold natively.
package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/metrics"
	"github.com/bleepstore/mantagw/internal/uid"
)

// Backend is a bsclient.Client backed by the local filesystem, rooted at
// RootDir.
type Backend struct {
	RootDir string
}

// New creates the root directory (and its ".tmp" scratch directory for
// atomic writes) if they do not already exist, and returns a Backend
// rooted there.
func New(rootDir string) (*Backend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backing store root %q: %w", rootDir, err)
	}
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &Backend{RootDir: rootDir}, nil
}

var _ bsclient.Client = (*Backend)(nil)

// sidecarMeta is the on-disk shape of a file's ".bsmeta" sidecar.
type sidecarMeta struct {
	ContentType  string            `json:"content_type"`
	Durability   int               `json:"durability"`
	UserMetadata map[string]string `json:"user_metadata"`
	ContentMD5   string            `json:"content_md5"`
}

func (b *Backend) fsPath(path string) string {
	return filepath.Join(b.RootDir, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

func metaPath(fsPath string) string {
	dir, name := filepath.Split(fsPath)
	return filepath.Join(dir, "."+name+".bsmeta")
}

// isSidecarOf reports whether name is the ".<base>.bsmeta" sidecar of a
// data file called base that also exists in the same directory (siblings
// being the name set of every entry in that directory). A name that merely
// has the sidecar shape but whose implied base file does not exist is a
// real data file in its own right and must not be hidden from listings.
func isSidecarOf(name string, siblings map[string]bool) bool {
	if !hasSidecarShape(name) {
		return false
	}
	base := strings.TrimSuffix(strings.TrimPrefix(name, "."), ".bsmeta")
	return siblings[base]
}

// hasSidecarShape reports whether name could be metaPath's output for some
// base name, regardless of whether that base actually exists.
func hasSidecarShape(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".bsmeta")
}

// rejectIfSidecarShaped returns bsclient.ErrReservedName when the final path
// segment has the shape metaPath gives a sidecar file (".<name>.bsmeta"):
// writing a data file there would either corrupt another object's sidecar or
// be permanently hidden from Ls by isSidecarOf once its own sidecar exists.
func rejectIfSidecarShaped(fsPath string) error {
	if hasSidecarShape(filepath.Base(fsPath)) {
		return bsclient.ErrReservedName
	}
	return nil
}

func (b *Backend) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uid.New())
}

// Info stats path, reading back its sidecar metadata for files.
func (b *Backend) Info(ctx context.Context, path string) (result bsclient.Info, err error) {
	defer func() { metrics.RecordBSCall("Info", err) }()

	fsPath := b.fsPath(path)
	st, err := os.Stat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return bsclient.Info{}, bsclient.ErrNotFound
		}
		return bsclient.Info{}, fmt.Errorf("stat %q: %w", path, err)
	}

	info := bsclient.Info{
		Path:         path,
		IsDir:        st.IsDir(),
		Size:         st.Size(),
		LastModified: st.ModTime().Unix(),
	}
	if st.IsDir() {
		return info, nil
	}

	meta, err := readSidecar(metaPath(fsPath))
	if err == nil {
		info.Durability = meta.Durability
		info.ContentType = meta.ContentType
		info.UserMetadata = meta.UserMetadata
		info.ContentMD5 = meta.ContentMD5
	}
	return info, nil
}

// Mkdir creates a single directory node. Existing-directory is a no-op
// success; existing-file at path is an error.
func (b *Backend) Mkdir(ctx context.Context, path string) (err error) {
	defer func() { metrics.RecordBSCall("Mkdir", err) }()

	fsPath := b.fsPath(path)
	if st, err := os.Stat(fsPath); err == nil {
		if !st.IsDir() {
			return fmt.Errorf("mkdir %q: %w", path, bsclient.ErrIsDirectory)
		}
		return nil
	}
	parent := filepath.Dir(fsPath)
	if _, err := os.Stat(parent); err != nil {
		if os.IsNotExist(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("stat parent of %q: %w", path, err)
	}
	if err := os.Mkdir(fsPath, 0o755); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("mkdir %q: %w", path, err)
	}
	return nil
}

// Mkdirp creates path and any missing ancestor directories.
func (b *Backend) Mkdirp(ctx context.Context, path string) (err error) {
	defer func() { metrics.RecordBSCall("Mkdirp", err) }()

	fsPath := b.fsPath(path)
	if err := os.MkdirAll(fsPath, 0o755); err != nil {
		return fmt.Errorf("mkdirp %q: %w", path, err)
	}
	return nil
}

// Put streams r into path via the crash-only atomic write pattern: write
// to a temp file while hashing, fsync, rename. Ancestor directories are
// created first so that ObjectOps' implicit-parent-creation guarantee
// holds. The header bag in opts is persisted to a sidecar file alongside
// the data file.
func (b *Backend) Put(ctx context.Context, path string, r io.Reader, opts bsclient.PutOptions) (result string, err error) {
	defer func() { metrics.RecordBSCall("Put", err) }()

	fsPath := b.fsPath(path)
	if err := rejectIfSidecarShaped(fsPath); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directories for %q: %w", path, err)
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	h := md5.New()
	tee := io.TeeReader(r, h)

	if _, err := io.Copy(tmpFile, readerWithContext(ctx, tee)); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing object data for %q: %w", path, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing temp file for %q: %w", path, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file for %q: %w", path, err)
	}
	if err := os.Rename(tmpPath, fsPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming temp file into place for %q: %w", path, err)
	}

	contentMD5 := hex.EncodeToString(h.Sum(nil))
	meta := sidecarMeta{
		ContentType:  opts.ContentType,
		Durability:   opts.Durability,
		UserMetadata: opts.UserMetadata,
		ContentMD5:   contentMD5,
	}
	if err := writeSidecar(metaPath(fsPath), meta); err != nil {
		return "", fmt.Errorf("writing sidecar metadata for %q: %w", path, err)
	}

	return contentMD5, nil
}

// Get opens path for streaming read.
func (b *Backend) Get(ctx context.Context, path string) (stream io.ReadCloser, meta bsclient.Info, err error) {
	defer func() { metrics.RecordBSCall("Get", err) }()

	fsPath := b.fsPath(path)
	st, err := os.Stat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bsclient.Info{}, bsclient.ErrNotFound
		}
		return nil, bsclient.Info{}, fmt.Errorf("stat %q: %w", path, err)
	}
	if st.IsDir() {
		return nil, bsclient.Info{}, bsclient.ErrIsDirectory
	}

	file, err := os.Open(fsPath)
	if err != nil {
		return nil, bsclient.Info{}, fmt.Errorf("opening %q: %w", path, err)
	}

	info := bsclient.Info{
		Path:         path,
		IsDir:        false,
		Size:         st.Size(),
		LastModified: st.ModTime().Unix(),
	}
	if meta, err := readSidecar(metaPath(fsPath)); err == nil {
		info.Durability = meta.Durability
		info.ContentType = meta.ContentType
		info.UserMetadata = meta.UserMetadata
		info.ContentMD5 = meta.ContentMD5
	}
	return file, info, nil
}

// Unlink removes a single file, and its sidecar, then climbs the parent
// chain removing directories left empty by the removal (mirroring the
// teacher's cleanEmptyParents behavior) without ever touching the bucket
// root directory itself.
func (b *Backend) Unlink(ctx context.Context, path string) (err error) {
	defer func() { metrics.RecordBSCall("Unlink", err) }()

	fsPath := b.fsPath(path)
	st, err := os.Stat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("stat %q: %w", path, err)
	}
	if st.IsDir() {
		return bsclient.ErrIsDirectory
	}

	if err := os.Remove(fsPath); err != nil {
		return fmt.Errorf("removing %q: %w", path, err)
	}
	os.Remove(metaPath(fsPath))

	dir := filepath.Dir(fsPath)
	for dir != b.RootDir && filepath.Dir(dir) != b.RootDir && strings.HasPrefix(dir, b.RootDir) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// Rmdir removes a single empty directory node.
func (b *Backend) Rmdir(ctx context.Context, path string) (err error) {
	defer func() { metrics.RecordBSCall("Rmdir", err) }()

	fsPath := b.fsPath(path)
	st, err := os.Stat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("stat %q: %w", path, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("rmdir %q: not a directory", path)
	}

	if err := os.Remove(fsPath); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) {
			return bsclient.ErrNotEmpty
		}
		return fmt.Errorf("removing directory %q: %w", path, err)
	}
	return nil
}

// Ln copies the file at src to dst (hard link where possible, falling
// back to a full copy across devices), applying opts as dst's header bag.
func (b *Backend) Ln(ctx context.Context, src, dst string, opts bsclient.PutOptions) (err error) {
	defer func() { metrics.RecordBSCall("Ln", err) }()

	srcPath := b.fsPath(src)
	st, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("stat %q: %w", src, err)
	}
	if st.IsDir() {
		return bsclient.ErrIsDirectory
	}

	dstPath := b.fsPath(dst)
	if err := rejectIfSidecarShaped(dstPath); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %q: %w", dst, err)
	}

	os.Remove(dstPath)
	if err := os.Link(srcPath, dstPath); err != nil {
		srcFile, openErr := os.Open(srcPath)
		if openErr != nil {
			return fmt.Errorf("opening source %q: %w", src, openErr)
		}
		defer srcFile.Close()
		if _, err := b.Put(ctx, dst, srcFile, opts); err != nil {
			return fmt.Errorf("copying %q to %q: %w", src, dst, err)
		}
		return nil
	}

	meta := sidecarMeta{
		ContentType:  opts.ContentType,
		Durability:   opts.Durability,
		UserMetadata: opts.UserMetadata,
	}
	if srcMeta, err := readSidecar(metaPath(srcPath)); err == nil {
		meta.ContentMD5 = srcMeta.ContentMD5
	}
	if err := writeSidecar(metaPath(dstPath), meta); err != nil {
		return fmt.Errorf("writing sidecar metadata for %q: %w", dst, err)
	}
	return nil
}

// Ls streams the direct children of dir over the returned channel,
// skipping sidecar and temp-scratch entries, ending with EntryEnd or
// EntryError. The producing goroutine exits as soon as ctx is done; a
// caller that stops reading early (the listing cap) cancels ctx so it
// does not stay blocked on a send.
func (b *Backend) Ls(ctx context.Context, dir string) (stream <-chan bsclient.Entry, err error) {
	defer func() { metrics.RecordBSCall("Ls", err) }()

	fsDir := b.fsPath(dir)
	st, err := os.Stat(fsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bsclient.ErrNotFound
		}
		return nil, fmt.Errorf("stat %q: %w", dir, err)
	}
	if !st.IsDir() {
		return nil, bsclient.ErrIsDirectory
	}

	entries, err := os.ReadDir(fsDir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	names := make(map[string]bool, len(entries))
	for _, de := range entries {
		names[de.Name()] = true
	}

	out := make(chan bsclient.Entry)
	go func() {
		defer close(out)
		for _, de := range entries {
			name := de.Name()
			// A sidecar is only skipped if it is actually the sidecar of
			// a data file present in this same directory -- matching by
			// shape alone would also hide a real object whose sanitized
			// key happens to look like "<name>.bsmeta".
			if name == ".tmp" || isSidecarOf(name, names) {
				continue
			}

			childFsPath := filepath.Join(fsDir, name)
			childPath := strings.TrimSuffix(dir, "/") + "/" + name

			fi, err := de.Info()
			if err != nil {
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryError, Err: err}:
				case <-ctx.Done():
				}
				return
			}

			info := bsclient.Info{
				Path:         childPath,
				IsDir:        de.IsDir(),
				Size:         fi.Size(),
				LastModified: fi.ModTime().Unix(),
			}
			if !de.IsDir() {
				if meta, err := readSidecar(metaPath(childFsPath)); err == nil {
					info.Durability = meta.Durability
					info.ContentType = meta.ContentType
					info.UserMetadata = meta.UserMetadata
					info.ContentMD5 = meta.ContentMD5
				}
			}

			kind := bsclient.EntryFile
			if de.IsDir() {
				kind = bsclient.EntryDir
			}

			select {
			case out <- bsclient.Entry{Kind: kind, Info: info}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- bsclient.Entry{Kind: bsclient.EntryEnd}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// User returns a fixed local identity; the filesystem backend has no
// notion of authenticated users.
func (b *Backend) User(ctx context.Context) (string, error) {
	metrics.RecordBSCall("User", nil)
	return "local", nil
}

func readSidecar(path string) (sidecarMeta, error) {
	var meta sidecarMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func writeSidecar(path string, meta sidecarMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// readerWithContext wraps r so that Read returns ctx.Err() once ctx is
// done, letting a client disconnect unwind the copy loop inside Put
// promptly instead of blocking on a slow or stalled source.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
