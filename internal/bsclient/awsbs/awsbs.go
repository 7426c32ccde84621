// Package awsbs implements internal/bsclient.Client by proxying to an
// upstream AWS S3 bucket via the AWS SDK for Go v2.
//
// S3 has no native directory nodes, so the hierarchical semantics
// bsclient.Client requires are modeled the way most S3-backed filesystem
// shims do it: a "directory" is a zero-byte object whose key ends in "/"
// (a marker), and Ls/Info additionally recognize a directory implied by
// the mere existence of objects under a prefix, even without a marker, so
// that trees built purely by Put/Mkdirp still list correctly.
//
// Grounded on the teacher's internal/storage/aws.go AWSGatewayBackend:
// same S3API client-subset interface for mockability, same
// LoadDefaultConfig-with-optional-static-credentials construction, same
// HeadBucket reachability check at startup, and the same
// smithy.APIError-based isAWSNotFound classification. Diverges from the
// teacher on the write path: the teacher buffers the whole object into
// memory with io.ReadAll before computing MD5 and calling PutObject; Put
// here streams through manager.Uploader with an io.TeeReader computing
// MD5 as the bytes pass through, so no object is ever held in memory in
// full.
package awsbs

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/config"
)

// durabilityMetaKey is the S3 user-metadata key (without the SDK's
// implicit "x-amz-meta-" prefix) Put stores a node's durability level
// under. The translation between S3 storage-class strings and durability
// levels happens one layer up in internal/gateway; this backend treats
// the integer as an opaque value to round-trip, exactly as
// bsclient/local's sidecar file does.
const durabilityMetaKey = "bs-durability"
const contentMD5MetaKey = "bs-content-md5"

// S3API is the subset of the AWS SDK v2 S3 client this backend uses,
// narrow enough to be satisfied by a hand-rolled fake in tests. It embeds
// manager.UploadAPIClient's method set (UploadPart/CreateMultipartUpload/
// CompleteMultipartUpload/AbortMultipartUpload) because manager.NewUploader
// requires its client argument to satisfy that interface statically, even
// though a small test payload never actually drives the multipart path.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Backend is a bsclient.Client backed by a single upstream S3 bucket.
type Backend struct {
	bucket   string
	client   S3API
	uploader *manager.Uploader
}

var _ bsclient.Client = (*Backend)(nil)

// New loads AWS credentials via the standard chain (optionally overridden
// by static keys in cfg), constructs an S3 client against cfg.Bucket, and
// verifies it is reachable with a HeadBucket call before returning.
func New(ctx context.Context, cfg config.AWSConfig) (*Backend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("cannot access upstream S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("aws backing store initialized", "bucket", cfg.Bucket, "region", cfg.Region)

	return &Backend{
		bucket:   cfg.Bucket,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// WithClient builds a Backend around a pre-constructed S3API, bypassing
// credential loading and the HeadBucket check. Used by tests with a fake
// client.
func WithClient(bucket string, client S3API) *Backend {
	return &Backend{bucket: bucket, client: client, uploader: manager.NewUploader(client)}
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

	if head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(path)),
	}); err == nil {
		return infoFromHead(path, head), nil
	} else if !isAWSNotFound(err) {
		return bsclient.Info{}, fmt.Errorf("head %q: %w", path, err)
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

// probeDirectory reports whether path is a directory: either it has an
// explicit zero-byte marker object, or at least one object exists under
// its prefix (an implicit directory created only by Mkdirp-via-Put).
func (b *Backend) probeDirectory(ctx context.Context, path string) (isDir bool, lastModified int64, err error) {
	marker := dirMarkerKey(path)
	if head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(marker),
	}); err == nil {
		lm := int64(0)
		if head.LastModified != nil {
			lm = head.LastModified.Unix()
		}
		return true, lm, nil
	} else if !isAWSNotFound(err) {
		return false, 0, fmt.Errorf("head directory marker %q: %w", path, err)
	}

	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(marker),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, 0, fmt.Errorf("probing %q: %w", path, err)
	}
	return len(out.Contents) > 0, 0, nil
}

func infoFromHead(path string, head *s3.HeadObjectOutput) bsclient.Info {
	info := bsclient.Info{
		Path:        path,
		ContentType: aws.ToString(head.ContentType),
	}
	if head.ContentLength != nil {
		info.Size = *head.ContentLength
	}
	if head.LastModified != nil {
		info.LastModified = head.LastModified.Unix()
	}
	var storedMD5 string
	info.UserMetadata, info.Durability, storedMD5 = splitMetadata(head.Metadata)
	if storedMD5 != "" {
		info.ContentMD5 = storedMD5
	} else {
		info.ContentMD5 = strings.Trim(aws.ToString(head.ETag), `"`)
	}
	return info
}

// splitMetadata separates the internal bookkeeping keys this backend stamps
// onto every object (durability, content-MD5) from the caller-supplied user
// metadata. The content-MD5 return is empty for objects that predate this
// key or were written by another tool; callers should fall back to ETag.
func splitMetadata(raw map[string]string) (user map[string]string, durability int, storedMD5 string) {
	user = make(map[string]string, len(raw))
	for k, v := range raw {
		switch {
		case strings.EqualFold(k, durabilityMetaKey):
			fmt.Sscanf(v, "%d", &durability)
		case strings.EqualFold(k, contentMD5MetaKey):
			storedMD5 = v
		default:
			user[k] = v
		}
	}
	return user, durability, storedMD5
}

// Mkdir writes a zero-byte directory-marker object at path. S3 has no
// real parent/child enforcement, so unlike bsclient/local this never
// returns ErrNotFound for a missing parent; the marker is written
// unconditionally, matching the flat nature of the upstream store.
func (b *Backend) Mkdir(ctx context.Context, path string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(dirMarkerKey(path)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("mkdir %q: %w", path, err)
	}
	return nil
}

// Mkdirp is identical to Mkdir: S3's flat key space needs no ancestor
// directories created along the way.
func (b *Backend) Mkdirp(ctx context.Context, path string) error {
	return b.Mkdir(ctx, path)
}

// Put streams r to path via manager.Uploader, which itself streams in
// bounded-size parts rather than buffering the whole body, computing
// content-MD5 locally through an io.TeeReader the way bsclient/local
// does, since S3's own ETag is not guaranteed to be the MD5 once
// server-side encryption or multipart upload is involved. The MD5 is only
// known once the body has fully streamed through, so it can't be part of
// the initial PutObject/multipart metadata; it is stamped on afterward via
// a self-CopyObject, the same MetadataDirectiveReplace idiom Ln uses,
// since S3 has no API to update metadata on an object in place.
func (b *Backend) Put(ctx context.Context, path string, r io.Reader, opts bsclient.PutOptions) (string, error) {
	h := md5.New()
	tee := io.TeeReader(r, h)

	metadata := make(map[string]string, len(opts.UserMetadata)+1)
	for k, v := range opts.UserMetadata {
		metadata[k] = v
	}
	metadata[durabilityMetaKey] = fmt.Sprintf("%d", opts.Durability)

	input := &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key(path)),
		Body:     tee,
		Metadata: metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("uploading %q: %w", path, err)
	}

	contentMD5 := hex.EncodeToString(h.Sum(nil))
	metadata[contentMD5MetaKey] = contentMD5

	copyInput := &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(key(path)),
		CopySource:        aws.String(b.bucket + "/" + key(path)),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	}
	if opts.ContentType != "" {
		copyInput.ContentType = aws.String(opts.ContentType)
	}
	if _, err := b.client.CopyObject(ctx, copyInput); err != nil {
		// The object itself is already durably written at this point; failing
		// Put here would tell the caller the write didn't happen when it did.
		// Leave the object as uploaded, without the content-md5 stamp; a
		// later Get/Info falls back to its ETag-derived value for it.
		slog.Warn("put: stamping content-md5 metadata failed, object still written", "path", path, "error", err)
	}

	return contentMD5, nil
}

func (b *Backend) Get(ctx context.Context, path string) (io.ReadCloser, bsclient.Info, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(path)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			isDir, _, probeErr := b.probeDirectory(ctx, path)
			if probeErr != nil {
				return nil, bsclient.Info{}, probeErr
			}
			if isDir {
				return nil, bsclient.Info{}, bsclient.ErrIsDirectory
			}
			return nil, bsclient.Info{}, bsclient.ErrNotFound
		}
		return nil, bsclient.Info{}, fmt.Errorf("getting %q: %w", path, err)
	}

	info := bsclient.Info{Path: path, ContentType: aws.ToString(out.ContentType)}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		info.LastModified = out.LastModified.Unix()
	}
	var storedMD5 string
	info.UserMetadata, info.Durability, storedMD5 = splitMetadata(out.Metadata)
	if storedMD5 != "" {
		info.ContentMD5 = storedMD5
	} else {
		info.ContentMD5 = strings.Trim(aws.ToString(out.ETag), `"`)
	}

	return out.Body, info, nil
}

func (b *Backend) Unlink(ctx context.Context, path string) error {
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(path)),
	}); err != nil {
		if isAWSNotFound(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("head %q before unlink: %w", path, err)
	}

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(path)),
	}); err != nil {
		return fmt.Errorf("deleting %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	marker := dirMarkerKey(path)

	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(marker),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return fmt.Errorf("listing %q before rmdir: %w", path, err)
	}

	markerExists := false
	childCount := 0
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) == marker {
			markerExists = true
			continue
		}
		childCount++
	}
	if !markerExists && childCount == 0 {
		return bsclient.ErrNotFound
	}
	if childCount > 0 {
		return bsclient.ErrNotEmpty
	}

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(marker),
	}); err != nil {
		return fmt.Errorf("removing directory marker %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Ln(ctx context.Context, src, dst string, opts bsclient.PutOptions) error {
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(src)),
	}); err != nil {
		if isAWSNotFound(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("head source %q: %w", src, err)
	}

	metadata := make(map[string]string, len(opts.UserMetadata)+1)
	for k, v := range opts.UserMetadata {
		metadata[k] = v
	}
	metadata[durabilityMetaKey] = fmt.Sprintf("%d", opts.Durability)

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(key(dst)),
		CopySource:        aws.String(b.bucket + "/" + key(src)),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := b.client.CopyObject(ctx, input); err != nil {
		if isAWSNotFound(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("copying %q to %q: %w", src, dst, err)
	}
	return nil
}

// Ls streams the direct children of dir, paginating ListObjectsV2 with a
// "/" delimiter so CommonPrefixes give us subdirectories without a
// recursive walk. The producing goroutine stops as soon as ctx is done; a
// caller that abandons the channel mid-page without cancelling ctx leaves
// it blocked on a send.
func (b *Backend) Ls(ctx context.Context, dir string) (<-chan bsclient.Entry, error) {
	prefix := dirMarkerKey(dir)

	out := make(chan bsclient.Entry)
	go func() {
		defer close(out)

		var token *string
		for {
			page, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(b.bucket),
				Prefix:            aws.String(prefix),
				Delimiter:         aws.String("/"),
				ContinuationToken: token,
			})
			if err != nil {
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryError, Err: fmt.Errorf("listing %q: %w", dir, err)}:
				case <-ctx.Done():
				}
				return
			}

			for _, cp := range page.CommonPrefixes {
				childPath := "/" + strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
				info := bsclient.Info{Path: childPath, IsDir: true}
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryDir, Info: info}:
				case <-ctx.Done():
					return
				}
			}

			for _, obj := range page.Contents {
				k := aws.ToString(obj.Key)
				if k == prefix {
					continue
				}
				info := bsclient.Info{
					Path:       "/" + k,
					ContentMD5: strings.Trim(aws.ToString(obj.ETag), `"`),
				}
				if obj.Size != nil {
					info.Size = *obj.Size
				}
				if obj.LastModified != nil {
					info.LastModified = obj.LastModified.Unix()
				}
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryFile, Info: info}:
				case <-ctx.Done():
					return
				}
			}

			if !aws.ToBool(page.IsTruncated) {
				break
			}
			token = page.NextContinuationToken
		}

		select {
		case out <- bsclient.Entry{Kind: bsclient.EntryEnd}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// User returns a diagnostic identity string; S3 does not expose a notion
// of "the user this connection is authenticating as" outside of STS,
// which this backend does not call since nothing in the gateway needs it
// beyond a human-readable label.
func (b *Backend) User(ctx context.Context) (string, error) {
	return "aws:" + b.bucket, nil
}

// isAWSNotFound classifies a 404/NoSuchKey/NotFound/NoSuchBucket error
// from the S3 API, following the teacher's layered check: a typed
// smithy.APIError code first, then the typed types.NoSuchKey, then a
// generic HTTP-status-code fallback for transports that don't surface a
// typed error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404", "NoSuchBucket":
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}
