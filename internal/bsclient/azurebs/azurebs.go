// Package azurebs implements internal/bsclient.Client by proxying to an
// upstream Azure Blob Storage container via the Azure SDK for Go.
//
// Grounded on the teacher's internal/storage/azure.go and
// azure_client.go: the same connection-string / managed-identity /
// DefaultAzureCredential selection order when constructing the client,
// the same BlobExists-on-a-sentinel-name reachability probe at startup,
// and the same substring-based isAzureNotFound classification (the Azure
// SDK does not expose a single typed not-found sentinel the way
// smithy.APIError or gcs.ErrObjectNotExist do). Directories are modeled
// as zero-byte marker blobs with a trailing "/" name, matching awsbs and
// gcsbs. Put streams through UploadStream, which chunks internally,
// rather than the teacher's UploadBuffer (whole-body-in-memory) call.
package azurebs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/config"
)

const durabilityMetaKey = "bsdurability"

// Backend is a bsclient.Client backed by a single upstream Azure Blob
// container.
type Backend struct {
	client    *azblob.Client
	container string
}

var _ bsclient.Client = (*Backend)(nil)

// New constructs an Azure Blob client following the teacher's
// credential-selection order (connection string, then managed identity,
// then DefaultAzureCredential), and verifies cfg.Container is reachable.
func New(ctx context.Context, cfg config.AzureConfig) (*Backend, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}

	b := &Backend{client: client, container: cfg.Container}

	if _, err := b.blobExists(ctx, "\x00mantagw-probe\x00"); err != nil {
		return nil, fmt.Errorf("cannot access upstream Azure container %q: %w", cfg.Container, err)
	}

	slog.Info("azure backing store initialized", "container", cfg.Container, "account", cfg.AccountURL)
	return b, nil
}

func newAzureClient(cfg config.AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	if cfg.UseManagedIdentity {
		cred, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating managed identity credential: %w", err)
		}
		return azblob.NewClient(cfg.AccountURL, cred, nil)
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating default Azure credential: %w", err)
	}
	return azblob.NewClient(cfg.AccountURL, cred, nil)
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

func (b *Backend) blobExists(ctx context.Context, name string) (bool, error) {
	_, err := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Backend) Info(ctx context.Context, path string) (bsclient.Info, error) {
	if key(path) == "" {
		return bsclient.Info{Path: "/", IsDir: true}, nil
	}

	props, err := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(key(path)).GetProperties(ctx, nil)
	if err == nil {
		return infoFromProperties(path, props.ContentLength, props.ContentType, props.LastModified, props.ETag, props.Metadata), nil
	}
	if !isAzureNotFound(err) {
		return bsclient.Info{}, fmt.Errorf("getting properties for %q: %w", path, err)
	}

	isDir, err := b.probeDirectory(ctx, path)
	if err != nil {
		return bsclient.Info{}, err
	}
	if !isDir {
		return bsclient.Info{}, bsclient.ErrNotFound
	}
	return bsclient.Info{Path: path, IsDir: true}, nil
}

func (b *Backend) probeDirectory(ctx context.Context, path string) (bool, error) {
	marker := dirMarkerKey(path)
	if exists, err := b.blobExists(ctx, marker); err != nil {
		return false, fmt.Errorf("checking directory marker %q: %w", path, err)
	} else if exists {
		return true, nil
	}

	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{
		Prefix: &marker,
	})
	if pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return false, fmt.Errorf("probing %q: %w", path, err)
		}
		return len(page.Segment.BlobItems) > 0, nil
	}
	return false, nil
}

func infoFromProperties(path string, contentLength *int64, contentType *string, lastModified *time.Time, etag *azcore.ETag, metadata map[string]*string) bsclient.Info {
	info := bsclient.Info{Path: path}
	if contentLength != nil {
		info.Size = *contentLength
	}
	if contentType != nil {
		info.ContentType = *contentType
	}
	if lastModified != nil {
		info.LastModified = lastModified.Unix()
	}
	if etag != nil {
		info.ContentMD5 = strings.Trim(string(*etag), `"`)
	}
	info.UserMetadata, info.Durability = splitMetadata(metadata)
	return info
}

func splitMetadata(raw map[string]*string) (map[string]string, int) {
	durability := 0
	user := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		if strings.EqualFold(k, durabilityMetaKey) {
			durability, _ = strconv.Atoi(*v)
			continue
		}
		user[k] = *v
	}
	return user, durability
}

func (b *Backend) Mkdir(ctx context.Context, path string) error {
	_, err := b.client.UploadBuffer(ctx, b.container, dirMarkerKey(path), nil, nil)
	if err != nil {
		return fmt.Errorf("mkdir %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Mkdirp(ctx context.Context, path string) error {
	return b.Mkdir(ctx, path)
}

// Put streams r into the blob via UploadStream, which chunks internally
// into block-blob stages rather than buffering the full body, computing
// content-MD5 locally through an io.TeeReader as the bytes pass through.
func (b *Backend) Put(ctx context.Context, path string, r io.Reader, opts bsclient.PutOptions) (string, error) {
	h := md5.New()
	tee := io.TeeReader(r, h)

	metadata := make(map[string]*string, len(opts.UserMetadata)+1)
	for k, v := range opts.UserMetadata {
		val := v
		metadata[k] = &val
	}
	durabilityVal := strconv.Itoa(opts.Durability)
	metadata[durabilityMetaKey] = &durabilityVal

	uploadOpts := &azblob.UploadStreamOptions{Metadata: metadata}
	if opts.ContentType != "" {
		ct := opts.ContentType
		uploadOpts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &ct}
	}

	if _, err := b.client.UploadStream(ctx, b.container, key(path), tee, uploadOpts); err != nil {
		return "", fmt.Errorf("uploading %q: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (b *Backend) Get(ctx context.Context, path string) (io.ReadCloser, bsclient.Info, error) {
	props, err := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(key(path)).GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			isDir, probeErr := b.probeDirectory(ctx, path)
			if probeErr != nil {
				return nil, bsclient.Info{}, probeErr
			}
			if isDir {
				return nil, bsclient.Info{}, bsclient.ErrIsDirectory
			}
			return nil, bsclient.Info{}, bsclient.ErrNotFound
		}
		return nil, bsclient.Info{}, fmt.Errorf("getting properties for %q: %w", path, err)
	}

	resp, err := b.client.DownloadStream(ctx, b.container, key(path), nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, bsclient.Info{}, bsclient.ErrNotFound
		}
		return nil, bsclient.Info{}, fmt.Errorf("downloading %q: %w", path, err)
	}

	info := infoFromProperties(path, props.ContentLength, props.ContentType, props.LastModified, props.ETag, props.Metadata)
	return resp.Body, info, nil
}

func (b *Backend) Unlink(ctx context.Context, path string) error {
	exists, err := b.blobExists(ctx, key(path))
	if err != nil {
		return fmt.Errorf("checking %q before unlink: %w", path, err)
	}
	if !exists {
		return bsclient.ErrNotFound
	}

	if _, err := b.client.DeleteBlob(ctx, b.container, key(path), nil); err != nil {
		return fmt.Errorf("deleting %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	marker := dirMarkerKey(path)

	markerExists, err := b.blobExists(ctx, marker)
	if err != nil {
		return fmt.Errorf("checking directory marker %q: %w", path, err)
	}

	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{Prefix: &marker})
	childCount := 0
	if pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing %q before rmdir: %w", path, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil && *item.Name != marker {
				childCount++
			}
		}
	}

	if !markerExists && childCount == 0 {
		return bsclient.ErrNotFound
	}
	if childCount > 0 {
		return bsclient.ErrNotEmpty
	}

	if _, err := b.client.DeleteBlob(ctx, b.container, marker, nil); err != nil {
		return fmt.Errorf("removing directory marker %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Ln(ctx context.Context, src, dst string, opts bsclient.PutOptions) error {
	exists, err := b.blobExists(ctx, key(src))
	if err != nil {
		return fmt.Errorf("checking source %q: %w", src, err)
	}
	if !exists {
		return bsclient.ErrNotFound
	}

	srcURL := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(key(src)).URL()
	dstBlob := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(key(dst))

	resp, err := dstBlob.StartCopyFromURL(ctx, srcURL, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return bsclient.ErrNotFound
		}
		return fmt.Errorf("copying %q to %q: %w", src, dst, err)
	}

	// Blob-to-blob copy is asynchronous server-side; StartCopyFromURL only
	// kicks it off. Poll GetProperties until the copy leaves the pending
	// state so Ln's caller sees the destination fully populated, matching
	// every other backend's synchronous Ln contract.
	getStatus := func(ctx context.Context) (*blob.CopyStatusType, error) {
		props, err := dstBlob.GetProperties(ctx, nil)
		if err != nil {
			return nil, err
		}
		return props.CopyStatus, nil
	}
	if err := awaitCopyCompletion(ctx, resp.CopyStatus, getStatus, 200*time.Millisecond); err != nil {
		return fmt.Errorf("copying %q to %q: %w", src, dst, err)
	}
	return nil
}

// awaitCopyCompletion polls getStatus until a blob copy leaves the pending
// state, sleeping pollInterval between polls. initial is the copy status
// reported synchronously by StartCopyFromURL, which may already be terminal
// for a same-account copy of a small blob. Factored out of Ln so the
// polling logic can be exercised without a real Azure client.
func awaitCopyCompletion(ctx context.Context, initial *blob.CopyStatusType, getStatus func(context.Context) (*blob.CopyStatusType, error), pollInterval time.Duration) error {
	status := initial
	for status != nil && *status == blob.CopyStatusTypePending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
		next, err := getStatus(ctx)
		if err != nil {
			return fmt.Errorf("polling copy status: %w", err)
		}
		status = next
	}
	if status != nil && *status != blob.CopyStatusTypeSuccess {
		return fmt.Errorf("copy ended with status %q", *status)
	}
	return nil
}

// Ls streams the direct children of dir using the container client's
// hierarchy pager with a "/" delimiter: its BlobPrefixes become directory
// entries and its BlobItems become file entries.
func (b *Backend) Ls(ctx context.Context, dir string) (<-chan bsclient.Entry, error) {
	prefix := dirMarkerKey(dir)

	out := make(chan bsclient.Entry)
	go func() {
		defer close(out)

		containerClient := b.client.ServiceClient().NewContainerClient(b.container)
		pager := containerClient.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
			Prefix: &prefix,
		})

		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryError, Err: fmt.Errorf("listing %q: %w", dir, err)}:
				case <-ctx.Done():
				}
				return
			}

			for _, p := range page.Segment.BlobPrefixes {
				if p.Name == nil {
					continue
				}
				childPath := "/" + strings.TrimSuffix(*p.Name, "/")
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryDir, Info: bsclient.Info{Path: childPath, IsDir: true}}:
				case <-ctx.Done():
					return
				}
			}

			for _, item := range page.Segment.BlobItems {
				if item.Name == nil || *item.Name == prefix {
					continue
				}
				info := bsclient.Info{Path: "/" + *item.Name}
				if item.Properties != nil {
					if item.Properties.ContentLength != nil {
						info.Size = *item.Properties.ContentLength
					}
					if item.Properties.LastModified != nil {
						info.LastModified = item.Properties.LastModified.Unix()
					}
					if item.Properties.ETag != nil {
						info.ContentMD5 = strings.Trim(string(*item.Properties.ETag), `"`)
					}
				}
				select {
				case out <- bsclient.Entry{Kind: bsclient.EntryFile, Info: info}:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case out <- bsclient.Entry{Kind: bsclient.EntryEnd}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// User returns a diagnostic identity string; Azure Blob has no
// equivalent of AWS STS GetCallerIdentity reachable from this client.
func (b *Backend) User(ctx context.Context) (string, error) {
	return "azure:" + b.container, nil
}

// isAzureNotFound classifies a not-found error by substring match, since
// the Azure SDK surfaces container/blob-not-found as an *azcore.ResponseError
// whose ErrorCode string varies by operation rather than a single typed
// sentinel, mirroring the teacher's approach.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "404") ||
		strings.Contains(msg, "blobnotfound") ||
		strings.Contains(msg, "containernotfound") ||
		strings.Contains(msg, "the specified blob does not exist") ||
		strings.Contains(msg, "the specified container does not exist")
}
