// Package gcsbs implements internal/bsclient.Client by proxying to an
// upstream Google Cloud Storage bucket via cloud.google.com/go/storage.
//
// Grounded on the teacher's internal/storage/gcp.go GCPGatewayBackend:
// same Application-Default-Credentials client construction via
// gcs.NewClient, same reachability probe at startup (a bounded list call
// against an unlikely prefix), and the same errors.Is(gcs.ErrObjectNotExist)
// classification. Like awsbs, directories are modeled as zero-byte
// marker objects with a trailing "/" key, since GCS is flat the same way
// S3 is. Diverges from the teacher's PutObject on the write path: the
// teacher reads the whole body into memory before writing; Put here
// streams directly into the GCS object writer, which itself streams to
// the backend in chunks, computing MD5 through an io.TeeReader as bytes
// pass through instead of buffering first.
package gcsbs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/config"
)

const durabilityMetaKey = "bs-durability"

// Backend is a bsclient.Client backed by a single upstream GCS bucket.
type Backend struct {
	bucket *gcs.BucketHandle
	name   string
}

var _ bsclient.Client = (*Backend)(nil)

// New constructs a GCS client using Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, or the metadata server),
// and verifies cfg.Bucket is reachable with a bounded listing call.
func New(ctx context.Context, cfg config.GCPConfig) (*Backend, error) {
	var opts []gcsClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, withCredentialsFile(cfg.CredentialsFile))
	}

	client, err := newGCSClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	bucket := client.Bucket(cfg.Bucket)

	it := bucket.Objects(ctx, &gcs.Query{Prefix: "\x00mantagw-probe\x00"})
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return nil, fmt.Errorf("cannot access upstream GCS bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("gcp backing store initialized", "bucket", cfg.Bucket, "project", cfg.Project)

	return &Backend{bucket: bucket, name: cfg.Bucket}, nil
}

func key(path string) string {
	return strings.TrimPrefix(path, "/")
}

func dirMarkerKey(path string) string {
	k := key(path)
	if k == "" {
		return ""
	}
	return strings.TrimSuffix(k, "/") + "/"
}

func (b *Backend) Info(ctx context.Context, path string) (bsclient.Info, error) {
	if key(path) == "" {
		return bsclient.Info{Path: "/", IsDir: true}, nil
	}

	attrs, err := b.bucket.Object(key(path)).Attrs(ctx)
	if err == nil {
		return infoFromAttrs(path, attrs), nil
	}
	if !isGCSNotFound(err) {
		return bsclient.Info{}, fmt.Errorf("stat %q: %w", path, err)
	}

	isDir, lastModified, err := b.probeDirectory(ctx, path)
	if err != nil {
		return bsclient.Info{}, err
	}
	if !isDir {
		return bsclient.Info{}, bsclient.ErrNotFound
	}
	return bsclient.Info{Path: path, IsDir: true, LastModified: lastModified}, nil
}

func (b *Backend) probeDirectory(ctx context.Context, path string) (isDir bool, lastModified int64, err error) {
	marker := dirMarkerKey(path)
	if attrs, err := b.bucket.Object(marker).Attrs(ctx); err == nil {
		return true, attrs.Updated.Unix(), nil
	} else if !isGCSNotFound(err) {
		return false, 0, fmt.Errorf("stat directory marker %q: %w", path, err)
	}

	it := b.bucket.Objects(ctx, &gcs.Query{Prefix: marker})
	_, err = it.Next()
	if errors.Is(err, iterator.Done) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("probing %q: %w", path, err)
	}
	return true, 0, nil
}

func infoFromAttrs(path string, attrs *gcs.ObjectAttrs) bsclient.Info {
	info := bsclient.Info{
		Path:         path,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated.Unix(),
		ContentMD5:   hex.EncodeToString(attrs.MD5),
	}
	info.UserMetadata, info.Durability = splitMetadata(attrs.Metadata)
	return info
}

func splitMetadata(raw map[string]string) (map[string]string, int) {
	durability := 0
	user := make(map[string]string, len(raw))
	for k, v := range raw {
		if strings.EqualFold(k, durabilityMetaKey) {
			durability, _ = strconv.Atoi(v)
			continue
		}
		user[k] = v
	}
	return user, durability
}

func (b *Backend) Mkdir(ctx context.Context, path string) error {
	w := b.bucket.Object(dirMarkerKey(path)).NewWriter(ctx)
	if err := w.Close(); err != nil {
		return fmt.Errorf("mkdir %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Mkdirp(ctx context.Context, path string) error {
	return b.Mkdir(ctx, path)
}

func (b *Backend) Put(ctx context.Context, path string, r io.Reader, opts bsclient.PutOptions) (string, error) {
	h := md5.New()
	tee := io.TeeReader(r, h)

	w := b.bucket.Object(key(path)).NewWriter(ctx)
	w.ContentType = opts.ContentType
	metadata := make(map[string]string, len(opts.UserMetadata)+1)
	for k, v := range opts.UserMetadata {
		metadata[k] = v
	}
	metadata[durabilityMetaKey] = strconv.Itoa(opts.Durability)
	w.Metadata = metadata

	if _, err := io.Copy(w, tee); err != nil {
		w.Close()
		return "", fmt.Errorf("writing %q: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing writer for %q: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (b *Backend) Get(ctx context.Context, path string) (io.ReadCloser, bsclient.Info, error) {
	obj := b.bucket.Object(key(path))
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			isDir, _, probeErr := b.probeDirectory(ctx, path)
			if probeErr != nil {
				return nil, bsclient.Info{}, probeErr
			}
			if isDir {
				return nil, bsclient.Info{}, bsclient.ErrIsDirectory
			}
			return nil, bsclient.Info{}, bsclient.ErrNotFound
		}
		return nil, bsclient.Info{}, fmt.Errorf("stat %q: %w", path, err)
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, bsclient.Info{}, bsclient.ErrNotFound
		}
		return nil, bsclient.Info{}, fmt.Errorf("opening %q: %w", path, err)
	}

	return r, infoFromAttrs(path, attrs), nil
}

func (b *Backend) Unlink(ctx context.Context, path string) error {
	if err := b.bucket.Object(key(path)).Delete(ctx); err != nil {
		if isGCSNotFound(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("deleting %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	marker := dirMarkerKey(path)

	it := b.bucket.Objects(ctx, &gcs.Query{Prefix: marker})
	markerExists := false
	childCount := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("listing %q before rmdir: %w", path, err)
		}
		if attrs.Name == marker {
			markerExists = true
			continue
		}
		childCount++
		if childCount > 0 {
			break
		}
	}
	if !markerExists && childCount == 0 {
		return bsclient.ErrNotFound
	}
	if childCount > 0 {
		return bsclient.ErrNotEmpty
	}

	if err := b.bucket.Object(marker).Delete(ctx); err != nil {
		return fmt.Errorf("removing directory marker %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Ln(ctx context.Context, src, dst string, opts bsclient.PutOptions) error {
	srcObj := b.bucket.Object(key(src))
	if _, err := srcObj.Attrs(ctx); err != nil {
		if isGCSNotFound(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("stat source %q: %w", src, err)
	}

	dstObj := b.bucket.Object(key(dst))
	copier := dstObj.CopierFrom(srcObj)
	copier.ContentType = opts.ContentType
	metadata := make(map[string]string, len(opts.UserMetadata)+1)
	for k, v := range opts.UserMetadata {
		metadata[k] = v
	}
	metadata[durabilityMetaKey] = strconv.Itoa(opts.Durability)
	copier.Metadata = metadata

	if _, err := copier.Run(ctx); err != nil {
		if isGCSNotFound(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("copying %q to %q: %w", src, dst, err)
	}
	return nil
}

// Ls streams the direct children of dir. The GCS client library's
// ObjectIterator already supports Delimiter-based pagination, so no
// manual continuation-token bookkeeping is needed the way awsbs needs it.
func (b *Backend) Ls(ctx context.Context, dir string) (<-chan bsclient.Entry, error) {
	prefix := dirMarkerKey(dir)

	out := make(chan bsclient.Entry)
	go func() {
		defer close(out)

		it := b.bucket.Objects(ctx, &gcs.Query{Prefix: prefix, Delimiter: "/"})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryError, Err: fmt.Errorf("listing %q: %w", dir, err)}:
				case <-ctx.Done():
				}
				return
			}

			if attrs.Prefix != "" {
				childPath := "/" + strings.TrimSuffix(attrs.Prefix, "/")
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryDir, Info: bsclient.Info{Path: childPath, IsDir: true}}:
				case <-ctx.Done():
					return
				}
				continue
			}

			if attrs.Name == prefix {
				continue
			}

			info := bsclient.Info{
				Path:         "/" + attrs.Name,
				Size:         attrs.Size,
				ContentType:  attrs.ContentType,
				LastModified: attrs.Updated.Unix(),
				ContentMD5:   hex.EncodeToString(attrs.MD5),
			}
			select {
			case out <- bsclient.Entry{Kind: bsclient.EntryFile, Info: info}:
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

// User returns a diagnostic identity string. GCS's Go client has no
// single-call "who am I" surface comparable to AWS STS; the bucket name
// is sufficient for the health-check's purposes.
func (b *Backend) User(ctx context.Context) (string, error) {
	return "gcp:" + b.name, nil
}

// isGCSNotFound classifies a not-found error from the GCS client,
// matching the teacher's errors.Is(gcs.ErrObjectNotExist) check.
func isGCSNotFound(err error) bool {
	return errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist)
}
