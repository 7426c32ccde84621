package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/metacodec"
	"github.com/bleepstore/mantagw/internal/pathcodec"
	"github.com/bleepstore/mantagw/internal/s3err"
	"github.com/bleepstore/mantagw/internal/xmlutil"
)

const defaultMaxKeys = 1000

// PutObject handles PUT /{B}/{K} without a copy-source header: the
// streaming upload pipe of spec.md §4.4.1. The request body is copied
// directly into the BS write path; no intermediate buffering.
func (g *Gateway) PutObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := parsePath(r.URL.Path)
	ctx := r.Context()

	sanitized, err := pathcodec.Sanitize(key, g.Cfg.MaxFilenameLength)
	if err != nil {
		g.XML.WriteErrorResponse(w, r, s3err.ErrInvalidKey)
		return
	}

	objPath := pathcodec.JoinObject(g.Cfg.BucketPath, bucket, sanitized)
	if len(objPath) > g.Cfg.MaxFilenameLength {
		g.XML.WriteErrorResponse(w, r, s3err.ErrKeyTooLong)
		return
	}

	if _, err := g.BS.Info(ctx, g.bucketDir(bucket)); err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		}
		slog.Error("PutObject: bucket info failed", "bucket", bucket, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	parentDir := parentOf(objPath)
	if err := g.BS.Mkdirp(ctx, parentDir); err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		}
		slog.Error("PutObject: mkdirp failed", "path", parentDir, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrAllAccessDisabled)
		return
	}

	bsHeaders := metacodec.RequestHeadersToBSHeaders(r.Header, g.DurMap)
	opts := bsclient.PutOptions{
		ContentType:  r.Header.Get("Content-Type"),
		Durability:   g.DurMap.ToDurability(r.Header.Get("x-amz-storage-class")),
		UserMetadata: extractUserMetadata(bsHeaders),
	}

	contentMD5, err := g.BS.Put(ctx, objPath, r.Body, opts)
	if err != nil {
		if errors.Is(err, bsclient.ErrReservedName) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrInvalidKey)
			return
		}
		slog.Error("PutObject: BS put failed", "path", objPath, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.Header().Set("ETag", `"`+contentMD5+`"`)
	w.WriteHeader(http.StatusOK)
}

// GetObject handles GET /{B}/{K}: the streaming download pipe of
// spec.md §4.4.2.
func (g *Gateway) GetObject(w http.ResponseWriter, r *http.Request) {
	g.getOrHeadObject(w, r, true)
}

// HeadObject handles HEAD /{B}/{K}, sharing GetObject's lookup and
// header-translation logic but never writing a body.
func (g *Gateway) HeadObject(w http.ResponseWriter, r *http.Request) {
	g.getOrHeadObject(w, r, false)
}

func (g *Gateway) getOrHeadObject(w http.ResponseWriter, r *http.Request, withBody bool) {
	bucket, key := parsePath(r.URL.Path)
	ctx := r.Context()

	if _, err := g.BS.Info(ctx, g.bucketDir(bucket)); err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		}
		slog.Error("GetObject: bucket info failed", "bucket", bucket, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	sanitized, err := pathcodec.Sanitize(key, g.Cfg.MaxFilenameLength)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	objPath := pathcodec.JoinObject(g.Cfg.BucketPath, bucket, sanitized)

	if !withBody {
		info, err := g.BS.Info(ctx, objPath)
		if err != nil || info.IsDir {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeObjectHeaders(w, info, g.DurMap)
		w.WriteHeader(http.StatusOK)
		return
	}

	body, info, err := g.BS.Get(ctx, objPath)
	if err != nil {
		// a directory retrieved by key is never an object, per spec.md
		// §4.4.2 step 2 -- ErrIsDirectory is treated the same as
		// ErrNotFound here, matching ErrNotFound on the HEAD path above.
		if errors.Is(err, bsclient.ErrNotFound) || errors.Is(err, bsclient.ErrIsDirectory) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		slog.Error("GetObject: BS get failed", "path", objPath, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	defer body.Close()

	writeObjectHeaders(w, info, g.DurMap)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("GetObject: stream to client interrupted", "path", objPath, "error", err)
	}
}

func writeObjectHeaders(w http.ResponseWriter, info bsclient.Info, durMap metacodec.DurabilityMap) {
	h := w.Header()
	h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ContentType != "" {
		h.Set("Content-Type", info.ContentType)
	}
	h.Set("x-amz-storage-class", durMap.ToStorageClass(info.Durability))
	if info.ContentMD5 != "" {
		h.Set("ETag", `"`+info.ContentMD5+`"`)
	}
	for k, v := range info.UserMetadata {
		h.Set("x-amz-meta-"+k, v)
	}
	h.Set("Last-Modified", time.Unix(info.LastModified, 0).UTC().Format(http.TimeFormat))
}

// DeleteObject handles DELETE /{B}/{K}.
func (g *Gateway) DeleteObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := parsePath(r.URL.Path)
	ctx := r.Context()

	sanitized, err := pathcodec.Sanitize(key, g.Cfg.MaxFilenameLength)
	if err != nil {
		g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}
	objPath := pathcodec.JoinObject(g.Cfg.BucketPath, bucket, sanitized)

	if err := g.BS.Unlink(ctx, objPath); err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
			return
		}
		slog.Error("DeleteObject: unlink failed", "path", objPath, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.Header().Set("x-amz-delete-marker", "false")
	w.WriteHeader(http.StatusNoContent)
}

// CopyObject handles PUT /{B}/{K} when the x-amz-copy-source header is
// present, per spec.md §4.4.4.
func (g *Gateway) CopyObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := parsePath(r.URL.Path)
	ctx := r.Context()

	copySourceHeader := r.Header.Get("x-amz-copy-source")
	srcBucket, srcKey, ok := parseCopySource(copySourceHeader)
	if !ok {
		g.XML.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	sanitizedSrcKey, err := pathcodec.Sanitize(srcKey, g.Cfg.MaxFilenameLength)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	srcPath := pathcodec.JoinObject(g.Cfg.BucketPath, srcBucket, sanitizedSrcKey)

	srcInfo, err := g.BS.Info(ctx, srcPath)
	if err != nil || srcInfo.IsDir {
		// source-not-found is terminal: no further writes are attempted
		// once the source HEAD fails (spec.md §9's resolved open question).
		w.WriteHeader(http.StatusNotFound)
		return
	}

	sanitizedDstKey, err := pathcodec.Sanitize(key, g.Cfg.MaxFilenameLength)
	if err != nil {
		g.XML.WriteErrorResponse(w, r, s3err.ErrInvalidKey)
		return
	}
	dstPath := pathcodec.JoinObject(g.Cfg.BucketPath, bucket, sanitizedDstKey)

	if _, err := g.BS.Info(ctx, g.bucketDir(bucket)); err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		}
		slog.Error("CopyObject: destination bucket info failed", "bucket", bucket, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if err := g.BS.Mkdirp(ctx, parentOf(dstPath)); err != nil {
		slog.Error("CopyObject: mkdirp failed", "path", dstPath, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrAllAccessDisabled)
		return
	}

	linkOpts := bsclient.PutOptions{
		ContentType:  srcInfo.ContentType,
		Durability:   srcInfo.Durability,
		UserMetadata: srcInfo.UserMetadata,
	}
	if err := g.BS.Ln(ctx, srcPath, dstPath, linkOpts); err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if errors.Is(err, bsclient.ErrReservedName) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrInvalidKey)
			return
		}
		slog.Error("CopyObject: ln failed", "src", srcPath, "dst", dstPath, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	etag := ""
	if srcInfo.ContentMD5 != "" {
		etag = `"` + srcInfo.ContentMD5 + `"`
	}

	g.XML.RenderCopyObject(w, &xmlutil.CopyObjectResult{
		LastModified: xmlutil.FormatTimeS3(time.Unix(srcInfo.LastModified, 0)),
		ETag:         etag,
	})
}

// ListObjects handles GET /{B}?prefix=...&max-keys=..., the
// prefix/delimiter listing algorithm of spec.md §4.4.5.
func (g *Gateway) ListObjects(w http.ResponseWriter, r *http.Request) {
	bucket, _ := parsePath(r.URL.Path)
	ctx := r.Context()

	q := r.URL.Query()
	prefix := q.Get("prefix")
	marker := q.Get("marker")

	if strings.Contains(prefix, "//") {
		g.XML.RenderListObjects(w, &xmlutil.ListBucketResult{
			Name:      bucket,
			Prefix:    prefix,
			Marker:    marker,
			MaxKeys:   defaultMaxKeys,
			Delimiter: "/",
		})
		return
	}

	maxKeysSupplied := q.Has("max-keys")
	maxKeys := defaultMaxKeys
	if maxKeysSupplied {
		if v, err := strconv.Atoi(q.Get("max-keys")); err == nil && v >= 0 {
			maxKeys = v
		}
	}

	subdir, searchPrefix := pathcodec.SplitPrefix(prefix)
	listDir := g.bucketDir(bucket)
	if subdir != "" {
		listDir = listDir + "/" + subdir
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries, err := g.BS.Ls(listCtx, listDir)
	if err != nil {
		if errors.Is(err, bsclient.ErrNotFound) {
			g.XML.WriteErrorResponse(w, r, s3err.ErrAllAccessDisabled)
			return
		}
		slog.Error("ListObjects: BS listing failed", "bucket", bucket, "error", err)
		g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.ListBucketResult{
		Name:      bucket,
		Prefix:    prefix,
		Marker:    marker,
		Delimiter: "/",
	}

	objectCount := 0
	resultSetSize := 0
	truncated := false

	for entry := range entries {
		switch entry.Kind {
		case bsclient.EntryFile:
			resultSetSize++
			relKey := pathcodec.Relativize(bucket, parentOf(entry.Info.Path), baseName(entry.Info.Path))
			if searchPrefix != "" && !strings.HasPrefix(relKey, searchPrefix) {
				continue
			}
			// cap policy uses > rather than >= (spec.md §9's preserved
			// off-by-one) for max-keys >= 1: the entry that crosses the cap
			// is still emitted. max-keys=0 is a named boundary (spec.md §8)
			// that must return zero Contents, so it's excluded from the
			// off-by-one leniency rather than letting one entry through.
			if maxKeysSupplied && (maxKeys == 0 || objectCount > maxKeys) {
				truncated = true
				cancel()
				continue
			}
			result.Contents = append(result.Contents, xmlutil.Object{
				Key:          relKey,
				LastModified: xmlutil.FormatTimeS3(time.Unix(entry.Info.LastModified, 0)),
				ETag:         "",
				Size:         entry.Info.Size,
				StorageClass: g.DurMap.ToStorageClass(entry.Info.Durability),
				Owner:        &xmlutil.Owner{ID: g.OwnerID, DisplayName: g.OwnerDisplay},
			})
			objectCount++
		case bsclient.EntryDir:
			resultSetSize++
			relKey := pathcodec.Relativize(bucket, parentOf(entry.Info.Path), baseName(entry.Info.Path))
			if searchPrefix != "" && !strings.HasPrefix(relKey, searchPrefix) {
				continue
			}
			if maxKeysSupplied && (maxKeys == 0 || objectCount > maxKeys) {
				truncated = true
				cancel()
				continue
			}
			result.CommonPrefixes = append(result.CommonPrefixes, xmlutil.CommonPrefix{Prefix: relKey + "/"})
			objectCount++
		case bsclient.EntryEnd:
		case bsclient.EntryError:
			slog.Error("ListObjects: BS listing stream error", "bucket", bucket, "error", entry.Err)
			g.XML.WriteErrorResponse(w, r, s3err.ErrInternalError)
			return
		}
	}

	if maxKeysSupplied {
		result.MaxKeys = maxKeys
		result.IsTruncated = truncated
	} else {
		if objectCount > defaultMaxKeys {
			result.MaxKeys = objectCount
		} else {
			result.MaxKeys = defaultMaxKeys
		}
		result.IsTruncated = resultSetSize > objectCount && searchPrefix == ""
	}

	g.XML.RenderListObjects(w, result)
}

// GetAcl handles GET /{B}/{K}?acl with a fixed response: this gateway
// reports full control to the store user, never real ACLs.
func (g *Gateway) GetAcl(w http.ResponseWriter, r *http.Request) {
	g.XML.RenderAccessControlPolicy(w, &xmlutil.AccessControlPolicy{
		Owner: xmlutil.Owner{ID: g.OwnerID, DisplayName: g.OwnerDisplay},
		AccessControlList: xmlutil.ACL{
			Grants: []xmlutil.Grant{
				{
					Grantee: xmlutil.Grantee{
						Type:        "CanonicalUser",
						ID:          g.OwnerID,
						DisplayName: g.OwnerDisplay,
					},
					Permission: "FULL_CONTROL",
				},
			},
		},
	})
}

// PutAcl handles PUT /{B}/{K}?acl: accepted with no side effect.
func (g *Gateway) PutAcl(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ListMultipartUploads handles GET /{B}?uploads with a fixed empty
// response, since true multipart upload is an explicit non-goal.
func (g *Gateway) ListMultipartUploads(w http.ResponseWriter, r *http.Request) {
	bucket, _ := parsePath(r.URL.Path)
	g.XML.RenderListMultipartUploads(w, &xmlutil.ListMultipartUploadsResult{
		Bucket:      bucket,
		MaxUploads:  1000,
		IsTruncated: false,
	})
}

func parentOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[:idx]
}

func extractUserMetadata(bsHeaders map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range bsHeaders {
		if strings.HasPrefix(strings.ToLower(k), "m-") {
			out[k[2:]] = v
		}
	}
	return out
}
