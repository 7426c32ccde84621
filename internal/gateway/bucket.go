package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/s3err"
	"github.com/bleepstore/mantagw/internal/xmlutil"
)

// ListBuckets handles GET /. It lists the immediate children of the BS
// root, consuming the entire listing stream (tolerating BS-level
// pagination transparently) before responding, matching spec.md §4.3.
func (g *Gateway) ListBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := g.BS.Ls(ctx, g.Cfg.BucketPath)
	if err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.RenderListBuckets(w, xmlutil.Owner{ID: g.OwnerID, DisplayName: g.OwnerDisplay}, nil)
			return
		}
		slog.Error("ListBuckets: BS listing failed", "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	var buckets []xmlutil.Bucket
	for entry := range entries {
		switch entry.Kind {
		case bsclient.EntryDir:
			buckets = append(buckets, xmlutil.Bucket{
				Name:         baseName(entry.Info.Path),
				CreationDate: xmlutil.FormatTimeS3(time.Unix(entry.Info.LastModified, 0)),
			})
		case bsclient.EntryEnd:
		case bsclient.EntryError:
			slog.Error("ListBuckets: BS listing stream error", "error", entry.Err)
			g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
			return
		}
	}

	g.XML.RenderListBuckets(w, xmlutil.Owner{ID: g.OwnerID, DisplayName: g.OwnerDisplay}, buckets)
}

// CreateBucket handles PUT /{B}. mkdir is idempotent: an existing bucket
// of the same name succeeds with 200, matching spec.md's BucketOps state
// machine (no BucketAlreadyExists distinction unless the BS itself
// distinguishes, which this gateway's bsclient.Client contract does not).
func (g *Gateway) CreateBucket(w http.ResponseWriter, r *http.Request) {
	bucket, _ := parsePath(r.URL.Path)

	if msg := validateBucketName(bucket); msg != "" {
		g.XML.WriteErrorResponse(w, r, s3err.ErrInvalidBucketName)
		return
	}

	ctx := r.Context()
	if err := g.BS.Mkdir(ctx, g.bucketDir(bucket)); err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			slog.Error("CreateBucket: BS root missing", "bucket", bucket)
			g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
			return
		}
		slog.Error("CreateBucket: mkdir failed", "bucket", bucket, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

// DeleteBucket handles DELETE /{B}. It probes the bucket directory with a
// bounded (one-entry) listing before removal, per spec.md's resolved open
// question on BucketNotEmpty.
func (g *Gateway) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	bucket, _ := parsePath(r.URL.Path)
	ctx := r.Context()

	nonEmpty, err := g.hasAnyChild(ctx, g.bucketDir(bucket))
	if err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		}
		slog.Error("DeleteBucket: listing probe failed", "bucket", bucket, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if nonEmpty {
		g.XML.WriteErrorResponse(w, r, s3err.ErrBucketNotEmpty)
		return
	}

	if err := g.BS.Rmdir(ctx, g.bucketDir(bucket)); err != nil {
		switch {
		case errors.Is(err, bsclient.ErrNotFound):
			g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		case errors.Is(err, bsclient.ErrNotEmpty):
			// a child was created between the probe above and this call;
			// report the same conflict the probe would have caught.
			g.XML.WriteErrorResponse(w, r, s3err.ErrBucketNotEmpty)
			return
		default:
			slog.Error("DeleteBucket: rmdir failed", "bucket", bucket, "error", err)
			g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// HeadBucket handles HEAD /{B}.
func (g *Gateway) HeadBucket(w http.ResponseWriter, r *http.Request) {
	bucket, _ := parsePath(r.URL.Path)
	ctx := r.Context()

	info, err := g.BS.Info(ctx, g.bucketDir(bucket))
	if err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		}
		slog.Error("HeadBucket: info failed", "bucket", bucket, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if !info.IsDir {
		g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// hasAnyChild performs a bounded listing probe of dir, draining the
// producer goroutine as soon as a single entry (or the end marker) is
// seen.
func (g *Gateway) hasAnyChild(ctx context.Context, dir string) (bool, error) {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries, err := g.BS.Ls(probeCtx, dir)
	if err != nil {
		return false, err
	}

	for entry := range entries {
		switch entry.Kind {
		case bsclient.EntryFile, bsclient.EntryDir:
			return true, nil
		case bsclient.EntryError:
			return false, entry.Err
		case bsclient.EntryEnd:
			return false, nil
		}
	}
	return false, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
